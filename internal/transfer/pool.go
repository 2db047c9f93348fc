package transfer

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/roshanlam/iFetch/internal/event"
)

// FileHandle tracks the chunk tasks of one file moving through the pool and
// signals when every one of them has reached a terminal state.
type FileHandle struct {
	out        *os.File
	remaining  atomic.Int32
	failed     atomic.Int32
	downloaded atomic.Int64

	mu       sync.Mutex
	firstErr error

	done chan struct{}
}

// Done is closed once all submitted tasks for the file are terminal.
func (h *FileHandle) Done() <-chan struct{} { return h.done }

// Failed returns the number of permanently failed chunks.
func (h *FileHandle) Failed() int { return int(h.failed.Load()) }

// Downloaded returns the bytes committed through this handle.
func (h *FileHandle) Downloaded() int64 { return h.downloaded.Load() }

// Err returns the first terminal error, if any.
func (h *FileHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.firstErr
}

func (h *FileHandle) recordErr(err error) {
	h.failed.Add(1)
	h.mu.Lock()
	if h.firstErr == nil {
		h.firstErr = err
	}
	h.mu.Unlock()
}

// poolTask pairs a chunk task with the file it belongs to.
type poolTask struct {
	task *Task
	file *FileHandle
}

// Pool is a bounded worker pool shared by every file in a run. At most W
// tasks execute fetches concurrently; tasks of different files interleave
// freely and chunks of one file may run in parallel.
type Pool struct {
	workers int
	fetcher *Fetcher
	bus     *event.Bus
	logger  *zap.Logger

	tasks chan poolTask
	wg    sync.WaitGroup
}

// NewPool creates a pool with the given worker count (default 4).
func NewPool(workers int, fetcher *Fetcher, bus *event.Bus, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		workers: workers,
		fetcher: fetcher,
		bus:     bus,
		logger:  logger,
		tasks:   make(chan poolTask, workers),
	}
}

// Start launches the workers. Tasks submitted after Close are rejected by a
// panic on the closed channel, so callers must submit before Close.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for pt := range p.tasks {
				p.run(ctx, pt)
			}
		}()
	}
}

// NewFileHandle registers a file with n pending chunk tasks writing to out.
// When n is zero the handle is born done.
func (p *Pool) NewFileHandle(out *os.File, n int) *FileHandle {
	h := &FileHandle{out: out, done: make(chan struct{})}
	h.remaining.Store(int32(n))
	if n == 0 {
		close(h.done)
	}
	return h
}

// Submit queues one chunk task. It blocks while all workers are busy and
// the queue is full.
func (p *Pool) Submit(task *Task, file *FileHandle) {
	p.tasks <- poolTask{task: task, file: file}
}

// Close stops intake. Call after every Submit for the run has returned.
func (p *Pool) Close() {
	close(p.tasks)
}

// Wait blocks until all workers have drained the queue and exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// run executes one task to a terminal state and updates its file handle.
// A failed task never cancels sibling tasks of the same file.
func (p *Pool) run(ctx context.Context, pt poolTask) {
	err := p.fetcher.Fetch(ctx, pt.task, pt.file.out)
	if err != nil {
		pt.file.recordErr(err)
		p.logger.Error("chunk failed",
			zap.String("item", pt.task.Item.Path),
			zap.Int("chunk", pt.task.Spec.Index),
			zap.Int("attempts", pt.task.Attempts),
			zap.Error(err),
		)
	} else {
		downloaded := pt.file.downloaded.Add(pt.task.Spec.Length)
		p.bus.Dispatch(event.Event{
			Type:       event.TypeProgress,
			Item:       pt.task.Item,
			Dest:       pt.task.DestRel,
			Success:    true,
			Bytes:      pt.task.Spec.Length,
			Downloaded: downloaded,
			Total:      pt.task.Item.Size,
		})
	}

	if pt.file.remaining.Add(-1) == 0 {
		close(pt.file.done)
	}
}
