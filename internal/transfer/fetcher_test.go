package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/roshanlam/iFetch/internal/checkpoint"
	"github.com/roshanlam/iFetch/internal/chunk"
	"github.com/roshanlam/iFetch/internal/remote"
)

// rangeSession serves OpenRange from an in-memory byte slice, optionally
// failing the first few calls.
type rangeSession struct {
	content   []byte
	failFirst int
	failWith  error
	truncate  bool // serve fewer bytes than requested
	calls     int
}

func (s *rangeSession) Authenticate(context.Context) error { return nil }

func (s *rangeSession) ListChildren(context.Context, string) ([]remote.Item, error) {
	return nil, nil
}

func (s *rangeSession) Stat(context.Context, string) (remote.Item, error) {
	return remote.Item{}, nil
}

func (s *rangeSession) OpenRange(_ context.Context, _ remote.Item, offset, length int64) (io.ReadCloser, error) {
	s.calls++
	if s.calls <= s.failFirst {
		return nil, s.failWith
	}
	end := offset + length
	if s.truncate {
		end--
	}
	return io.NopCloser(strings.NewReader(string(s.content[offset:end]))), nil
}

func newTestStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	return checkpoint.New(bucket, "")
}

func tempOut(t *testing.T, size int64) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "out.bin"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return f
}

func testTask(size, offset, length int64, index int) *Task {
	return &Task{
		Item:    remote.Item{Path: "/f.bin", Size: size, ModTime: time.Unix(1700000000, 0)},
		DestRel: "f.bin",
		Spec:    chunk.Spec{Index: index, Offset: offset, Length: length},
	}
}

func TestFetchWritesAndCommits(t *testing.T) {
	ctx := context.Background()
	content := []byte("0123456789abcdef")
	session := &rangeSession{content: content}
	store := newTestStore(t)
	if err := store.Begin(ctx, "f.bin", "fp", int64(len(content))); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	out := tempOut(t, int64(len(content)))
	fetcher := NewFetcher(session, store, 3, time.Millisecond, 10*time.Millisecond, nil)

	if err := fetcher.Fetch(ctx, testTask(16, 4, 8, 1), out); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	buf := make([]byte, 8)
	if _, err := out.ReadAt(buf, 4); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(buf) != "456789ab" {
		t.Errorf("expected chunk bytes at offset, got %q", buf)
	}

	cp, err := store.Load(ctx, "f.bin")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cp.Committed) != 1 || cp.Committed[0] != 4 {
		t.Errorf("expected committed offset 4, got %v", cp.Committed)
	}
}

func TestFetchRetriesTransient(t *testing.T) {
	ctx := context.Background()
	content := []byte("0123456789")
	session := &rangeSession{content: content, failFirst: 2, failWith: remote.ErrServerError}
	store := newTestStore(t)
	if err := store.Begin(ctx, "f.bin", "fp", 10); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	out := tempOut(t, 10)

	fetcher := NewFetcher(session, store, 3, time.Millisecond, 10*time.Millisecond, nil)
	task := testTask(10, 0, 10, 0)
	if err := fetcher.Fetch(ctx, task, out); err != nil {
		t.Fatalf("expected success after transient failures, got %v", err)
	}
	if session.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", session.calls)
	}
	if task.Attempts != 3 {
		t.Errorf("expected task to record 3 attempts, got %d", task.Attempts)
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	session := &rangeSession{failFirst: 100, failWith: remote.ErrServerError}
	store := newTestStore(t)
	if err := store.Begin(ctx, "f.bin", "fp", 10); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	out := tempOut(t, 10)

	fetcher := NewFetcher(session, store, 3, time.Millisecond, 10*time.Millisecond, nil)
	err := fetcher.Fetch(ctx, testTask(10, 0, 10, 0), out)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, remote.ErrServerError) {
		t.Errorf("expected wrapped last error, got %v", err)
	}
	if session.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", session.calls)
	}

	cp, _ := store.Load(ctx, "f.bin")
	if len(cp.Committed) != 0 {
		t.Errorf("failed chunk must not commit, got %v", cp.Committed)
	}
}

func TestFetchFatalNoRetry(t *testing.T) {
	ctx := context.Background()
	session := &rangeSession{failFirst: 100, failWith: remote.ErrNotFound}
	store := newTestStore(t)
	if err := store.Begin(ctx, "f.bin", "fp", 10); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	out := tempOut(t, 10)

	fetcher := NewFetcher(session, store, 3, time.Millisecond, 10*time.Millisecond, nil)
	err := fetcher.Fetch(ctx, testTask(10, 0, 10, 0), out)
	if !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if session.calls != 1 {
		t.Errorf("fatal errors must not retry, got %d attempts", session.calls)
	}
}

func TestFetchShortReadRetries(t *testing.T) {
	ctx := context.Background()
	content := []byte("0123456789")
	session := &rangeSession{content: content, truncate: true}
	store := newTestStore(t)
	if err := store.Begin(ctx, "f.bin", "fp", 10); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	out := tempOut(t, 10)

	fetcher := NewFetcher(session, store, 3, time.Millisecond, 10*time.Millisecond, nil)
	err := fetcher.Fetch(ctx, testTask(10, 0, 10, 0), out)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected short reads to surface as unexpected EOF, got %v", err)
	}
	if session.calls != 3 {
		t.Errorf("short reads are transient and should retry, got %d attempts", session.calls)
	}
}

func TestFetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := &rangeSession{content: []byte("0123456789")}
	store := newTestStore(t)
	out := tempOut(t, 10)

	fetcher := NewFetcher(session, store, 3, time.Millisecond, 10*time.Millisecond, nil)
	err := fetcher.Fetch(ctx, testTask(10, 0, 10, 0), out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if session.calls != 0 {
		t.Errorf("cancelled fetch must not open ranges, got %d", session.calls)
	}
}
