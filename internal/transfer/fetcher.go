package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/roshanlam/iFetch/internal/checkpoint"
	"github.com/roshanlam/iFetch/internal/chunk"
	"github.com/roshanlam/iFetch/internal/remote"
)

// Task is one chunk fetch unit. A task is owned by exactly one worker at a
// time and is discarded once it reaches a terminal state.
type Task struct {
	Item     remote.Item
	DestRel  string // checkpoint key, relative to the destination root
	Spec     chunk.Spec
	Attempts int
}

// StorageError wraps a local disk failure. It is never retried; the file it
// belongs to is aborted and surfaced to the coordinator.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Fetcher downloads single chunks with retry and exponential backoff. It is
// the unit of retry: transient failures never propagate past it until the
// attempt budget is exhausted.
type Fetcher struct {
	session    remote.Session
	store      *checkpoint.Store
	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *zap.Logger
}

// NewFetcher creates a fetcher. retries is the maximum number of attempts
// per chunk; backoff is the initial delay, doubled per attempt up to
// maxBackoff.
func NewFetcher(session remote.Session, store *checkpoint.Store, retries int, backoff, maxBackoff time.Duration, logger *zap.Logger) *Fetcher {
	if retries <= 0 {
		retries = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		session:    session,
		store:      store,
		retries:    retries,
		backoff:    backoff,
		maxBackoff: maxBackoff,
		logger:     logger,
	}
}

// Fetch downloads one chunk and writes it at its offset in out. On success
// the chunk's commit is durably recorded before Fetch returns, making the
// chunk resumable. Transient failures are retried with backoff; fatal ones
// fail the task immediately.
func (f *Fetcher) Fetch(ctx context.Context, task *Task, out *os.File) error {
	var lastErr error

	for task.Attempts < f.retries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		task.Attempts++

		err := f.attempt(ctx, task, out)
		if err == nil {
			if err := f.store.Commit(ctx, task.DestRel, task.Spec.Offset); err != nil {
				return &StorageError{Op: "commit chunk " + task.DestRel, Err: err}
			}
			return nil
		}

		var storageErr *StorageError
		if errors.As(err, &storageErr) {
			return err
		}
		if remote.IsFatal(err) || ctx.Err() != nil {
			return err
		}
		if !remote.IsTransient(err) {
			return err
		}

		lastErr = err
		if task.Attempts >= f.retries {
			break
		}

		wait := f.wait(task.Attempts)
		f.logger.Warn("chunk retry",
			zap.String("item", task.Item.Path),
			zap.Int("chunk", task.Spec.Index),
			zap.Int("attempt", task.Attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("chunk %d of %s failed after %d attempts: %w",
		task.Spec.Index, task.Item.Path, f.retries, lastErr)
}

// attempt performs a single fetch-and-write of the chunk.
func (f *Fetcher) attempt(ctx context.Context, task *Task, out *os.File) error {
	body, err := f.session.OpenRange(ctx, task.Item, task.Spec.Offset, task.Spec.Length)
	if err != nil {
		return err
	}
	defer body.Close()

	w := io.NewOffsetWriter(out, task.Spec.Offset)
	n, err := io.Copy(w, io.LimitReader(body, task.Spec.Length))
	if err != nil {
		if remote.IsTransient(err) {
			return err
		}
		return &StorageError{Op: fmt.Sprintf("write chunk %d of %s", task.Spec.Index, task.Item.Path), Err: err}
	}
	if n != task.Spec.Length {
		// Short body: the connection dropped mid-range.
		return fmt.Errorf("chunk %d of %s: short read %d of %d bytes: %w",
			task.Spec.Index, task.Item.Path, n, task.Spec.Length, io.ErrUnexpectedEOF)
	}
	return nil
}

// wait returns the backoff before the next attempt: base * 2^(attempt-1)
// capped at maxBackoff, with jitter between 0.5x and 1.5x.
func (f *Fetcher) wait(attempt int) time.Duration {
	backoff := f.backoff * time.Duration(1<<uint(attempt-1))
	if backoff > f.maxBackoff {
		backoff = f.maxBackoff
	}
	return time.Duration(float64(backoff) * (0.5 + rand.Float64()))
}
