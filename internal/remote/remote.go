package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Common errors.
var (
	ErrNotFound          = errors.New("remote: item not found")
	ErrForbidden         = errors.New("remote: access forbidden")
	ErrUnauthorized      = errors.New("remote: unauthorized")
	ErrServerError       = errors.New("remote: server error")
	ErrRangeNotSupported = errors.New("remote: server does not support range requests")
	ErrSourceChanged     = errors.New("remote: source changed since plan was built")
	ErrTwoFactorDenied   = errors.New("remote: two-factor verification failed")
)

// Item describes a file or directory on the remote side. Items are read
// fresh on every run and treated as read-only input by the engine.
type Item struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
	Dir     bool      `json:"dir"`
	ETag    string    `json:"etag,omitempty"`
}

// Fingerprint derives the change-detection value for an item: the server's
// ETag when present, otherwise size and modification time. A checkpoint is
// only trusted while the fingerprint it was built against still matches.
func (it Item) Fingerprint() string {
	if it.ETag != "" {
		return it.ETag
	}
	return fmt.Sprintf("%d-%d", it.Size, it.ModTime.Unix())
}

// Session is the remote collaborator contract the transfer engine depends on.
type Session interface {
	// Authenticate establishes the session. It must be called before any
	// other method and may invoke a two-factor challenge callback.
	Authenticate(ctx context.Context) error

	// ListChildren enumerates the direct children of a remote directory.
	ListChildren(ctx context.Context, path string) ([]Item, error)

	// Stat returns current metadata for a single remote path.
	Stat(ctx context.Context, path string) (Item, error)

	// OpenRange opens one byte range [offset, offset+length) of a remote
	// file. The expected fingerprint guards against the source changing
	// mid-transfer; a mismatch returns ErrSourceChanged.
	OpenRange(ctx context.Context, item Item, offset, length int64) (io.ReadCloser, error)
}

// IsTransient reports whether an error is worth retrying: network blips,
// timeouts and server-side errors. Everything else is treated as fatal for
// the task that hit it.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServerError) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Truncated range bodies read as unexpected EOF.
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// IsFatal reports whether an error means retrying cannot help for this item.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrSourceChanged) ||
		errors.Is(err, ErrRangeNotSupported)
}
