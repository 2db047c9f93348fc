package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Options configures the HTTP client.
type Options struct {
	// BaseURL is the remote server root, e.g. "https://files.example.com".
	BaseURL string

	// Username and Password are the login credentials. Password may come
	// from the IFETCH_PASSWORD environment variable (resolved by the CLI).
	Username string
	Password string

	// TwoFactor is invoked when the server demands a second factor.
	// Returning an error aborts authentication. Optional.
	TwoFactor func() (string, error)

	// Timeout for individual requests.
	// Default: 30s
	Timeout time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int
}

// DefaultOptions returns options with sensible defaults. BaseURL and
// credentials must still be filled in.
func DefaultOptions() Options {
	return Options{
		Timeout:             30 * time.Second,
		MaxIdleConnsPerHost: 100,
	}
}

// Client implements Session over HTTP.
type Client struct {
	client *http.Client
	opts   Options

	mu       sync.Mutex
	token    string
	tokenExp time.Time
	authOnce bool
}

// NewClient creates a new HTTP session client.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxIdleConnsPerHost == 0 {
		opts.MaxIdleConnsPerHost = 100
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // raw bytes for range requests
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: Options{
			BaseURL:             strings.TrimSuffix(opts.BaseURL, "/"),
			Username:            opts.Username,
			Password:            opts.Password,
			TwoFactor:           opts.TwoFactor,
			Timeout:             opts.Timeout,
			MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		},
	}
}

// tokenResponse is the body of POST /auth/token.
type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authenticate logs in, handling a single two-factor challenge round.
func (c *Client) Authenticate(ctx context.Context) error {
	resp, err := c.requestToken(ctx, "")
	if err != nil {
		return err
	}

	if resp == nil { // challenge issued
		if c.opts.TwoFactor == nil {
			return fmt.Errorf("authenticate: %w: no two-factor callback configured", ErrUnauthorized)
		}
		code, err := c.opts.TwoFactor()
		if err != nil {
			return fmt.Errorf("authenticate: %w: %v", ErrTwoFactorDenied, err)
		}
		resp, err = c.requestToken(ctx, code)
		if err != nil {
			return err
		}
		if resp == nil {
			return fmt.Errorf("authenticate: %w", ErrTwoFactorDenied)
		}
	}

	c.mu.Lock()
	c.token = resp.Token
	c.tokenExp = tokenExpiry(resp)
	c.authOnce = true
	c.mu.Unlock()
	return nil
}

// requestToken posts credentials and returns the token response, or nil when
// the server answered with a two-factor challenge.
func (c *Client) requestToken(ctx context.Context, code string) (*tokenResponse, error) {
	payload := map[string]string{
		"username": c.opts.Username,
		"password": c.opts.Password,
	}
	if code != "" {
		payload["code"] = code
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if resp.Header.Get("X-Ifetch-Challenge") != "" && code == "" {
			io.Copy(io.Discard, resp.Body)
			return nil, nil
		}
		return nil, fmt.Errorf("authenticate: %w", ErrUnauthorized)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("authenticate: %w: %d %s", ErrServerError, resp.StatusCode, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authenticate: unexpected status code: %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if tr.Token == "" {
		return nil, fmt.Errorf("authenticate: empty token")
	}
	return &tr, nil
}

// tokenExpiry prefers the server-declared expiry, falling back to the JWT
// exp claim. The signature is not verified here; the server does that.
func tokenExpiry(tr *tokenResponse) time.Time {
	if !tr.ExpiresAt.IsZero() {
		return tr.ExpiresAt
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tr.Token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Time{}
}

// ensureToken re-authenticates when the token is missing or about to expire.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	ok := c.authOnce && (c.tokenExp.IsZero() || time.Until(c.tokenExp) > 30*time.Second)
	c.mu.Unlock()
	if ok {
		return nil
	}
	return c.Authenticate(ctx)
}

func (c *Client) authorize(req *http.Request) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// ListChildren enumerates the direct children of a remote directory.
func (c *Client) ListChildren(ctx context.Context, path string) ([]Item, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	listURL := c.opts.BaseURL + "/api/list?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	var items []Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("parse listing for %s: %w", path, err)
	}
	for i := range items {
		items[i].ETag = cleanETag(items[i].ETag)
	}
	return items, nil
}

// Stat fetches current metadata for a single remote file.
func (c *Client) Stat(ctx context.Context, path string) (Item, error) {
	if err := c.ensureToken(ctx); err != nil {
		return Item{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.fileURL(path), nil)
	if err != nil {
		return Item{}, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return Item{}, fmt.Errorf("stat %s: %w", path, err)
	}
	resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode); err != nil {
		// Directories have no file entry; a listable path is a directory.
		if errors.Is(err, ErrNotFound) {
			if _, listErr := c.ListChildren(ctx, path); listErr == nil {
				return Item{
					Name: path[strings.LastIndex(path, "/")+1:],
					Path: path,
					Dir:  true,
				}, nil
			}
		}
		return Item{}, fmt.Errorf("stat %s: %w", path, err)
	}

	if resp.ContentLength < 0 {
		return Item{}, fmt.Errorf("stat %s: server omitted Content-Length", path)
	}

	item := Item{
		Name: path[strings.LastIndex(path, "/")+1:],
		Path: path,
		Size: resp.ContentLength,
		ETag: cleanETag(resp.Header.Get("ETag")),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			item.ModTime = t
		}
	}
	return item, nil
}

// OpenRange opens one byte range of a remote file. startByte..endByte is
// inclusive on the wire (HTTP Range header); callers pass offset and length.
func (c *Client) OpenRange(ctx context.Context, item Item, offset, length int64) (io.ReadCloser, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(item.Path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open range %s: %w", item.Path, err)
	}

	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, fmt.Errorf("open range %s: %w: %d %s", item.Path, ErrServerError, resp.StatusCode, resp.Status)
	}
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if err := checkStatusCode(resp.StatusCode); err != nil {
			return nil, fmt.Errorf("open range %s: %w", item.Path, err)
		}
		return nil, fmt.Errorf("open range %s: unexpected status code: %d", item.Path, resp.StatusCode)
	}

	// A 200 without Content-Range means the server ignored the Range header.
	if resp.StatusCode == http.StatusOK && resp.Header.Get("Content-Range") == "" {
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	}

	// The item may have been replaced between planning and this read.
	if etag := cleanETag(resp.Header.Get("ETag")); etag != "" && item.ETag != "" && etag != item.ETag {
		resp.Body.Close()
		return nil, fmt.Errorf("open range %s: %w (etag %s != %s)", item.Path, ErrSourceChanged, etag, item.ETag)
	}

	if cr := resp.Header.Get("Content-Range"); cr != "" {
		start, end, _, err := parseContentRange(cr)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("open range %s: %w", item.Path, err)
		}
		if start != offset || end != offset+length-1 {
			resp.Body.Close()
			return nil, fmt.Errorf("open range %s: server returned bytes %d-%d, want %d-%d",
				item.Path, start, end, offset, offset+length-1)
		}
	}

	return resp.Body, nil
}

func (c *Client) fileURL(path string) string {
	return c.opts.BaseURL + "/files/" + strings.TrimPrefix(path, "/")
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return fmt.Errorf("%w: %d", ErrServerError, code)
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// cleanETag removes quotes and weak-validator prefixes from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}

// parseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func parseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
