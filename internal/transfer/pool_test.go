package transfer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roshanlam/iFetch/internal/event"
)

func TestPoolZeroChunkHandleIsDone(t *testing.T) {
	pool := NewPool(2, nil, event.NewBus(nil), nil)
	handle := pool.NewFileHandle(nil, 0)

	select {
	case <-handle.Done():
	default:
		t.Fatal("handle with no tasks must be done immediately")
	}
	if handle.Failed() != 0 || handle.Err() != nil {
		t.Errorf("empty handle must be clean, got %d failures, err %v", handle.Failed(), handle.Err())
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	const workers = 3

	var inFlight, peak atomic.Int32
	session := &gatedSession{
		inFlight: &inFlight,
		peak:     &peak,
		delay:    5 * time.Millisecond,
	}

	store := newTestStore(t)
	if err := store.Begin(ctx, "f.bin", "fp", 320); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	out := tempOut(t, 320)

	fetcher := NewFetcher(session, store, 1, time.Millisecond, time.Millisecond, nil)
	pool := NewPool(workers, fetcher, event.NewBus(nil), nil)
	pool.Start(ctx)

	const chunks = 32
	handle := pool.NewFileHandle(out, chunks)
	for i := 0; i < chunks; i++ {
		pool.Submit(testTask(320, int64(i)*10, 10, i), handle)
	}
	pool.Close()
	pool.Wait()
	<-handle.Done()

	if handle.Err() != nil {
		t.Fatalf("unexpected error: %v", handle.Err())
	}
	if got := peak.Load(); got > workers {
		t.Errorf("expected at most %d concurrent fetches, observed %d", workers, got)
	}
	if got := handle.Downloaded(); got != 320 {
		t.Errorf("expected 320 bytes downloaded, got %d", got)
	}
}
