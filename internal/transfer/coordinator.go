package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roshanlam/iFetch/internal/archive"
	"github.com/roshanlam/iFetch/internal/checkpoint"
	"github.com/roshanlam/iFetch/internal/chunk"
	"github.com/roshanlam/iFetch/internal/event"
	"github.com/roshanlam/iFetch/internal/profile"
	"github.com/roshanlam/iFetch/internal/remote"
)

// ErrPartial is returned by Run when at least one file failed while others
// succeeded. The report still covers every file.
var ErrPartial = errors.New("transfer: some files failed")

// Options configures a Coordinator.
type Options struct {
	Session  remote.Session
	Store    *checkpoint.Store
	Archiver *archive.Archiver // nil disables version archiving
	Bus      *event.Bus
	Filter   *profile.Filter // nil includes everything
	Logger   *zap.Logger

	Workers    int
	ChunkSize  int64
	Force      bool // discard checkpoints and refetch everything
	Retries    int
	Backoff    time.Duration // initial retry delay, doubled per attempt
	MaxBackoff time.Duration
	Totals     func(files int, bytes int64) // called once after the tree walk
}

// Coordinator drives one full transfer run: authenticate, walk the remote
// tree, plan and schedule chunk tasks, and assemble the run report.
type Coordinator struct {
	opts    Options
	planner chunk.Planner
	fetcher *Fetcher
	logger  *zap.Logger

	archiveMu sync.Mutex
	reportMu  sync.Mutex

	storageMu  sync.Mutex
	storageErr error
}

// NewCoordinator wires a coordinator from options, applying the same
// defaults as the individual components.
func NewCoordinator(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1 << 20
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus(logger)
	}
	return &Coordinator{
		opts:    opts,
		planner: chunk.Planner{ChunkSize: opts.ChunkSize},
		fetcher: NewFetcher(opts.Session, opts.Store, opts.Retries,
			opts.Backoff, opts.MaxBackoff, logger),
		logger: logger,
	}
}

// Run transfers the remote tree rooted at remotePath into destRoot. Every
// file gets a result in the returned report even when Run also returns an
// error. Cancelling ctx stops scheduling promptly; chunks already committed
// stay committed and resume on the next run.
func (c *Coordinator) Run(ctx context.Context, remotePath, destRoot string) (*Report, error) {
	if err := c.opts.Session.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	c.opts.Bus.Dispatch(event.Event{Type: event.TypeAuth, Success: true})

	files, err := c.walk(ctx, remotePath)
	if err != nil {
		return nil, err
	}

	var totalBytes int64
	for _, f := range files {
		totalBytes += f.item.Size
	}
	if c.opts.Totals != nil {
		c.opts.Totals(len(files), totalBytes)
	}
	c.logger.Info("transfer starting",
		zap.String("source", remotePath),
		zap.String("dest", destRoot),
		zap.Int("files", len(files)),
		zap.Int64("bytes", totalBytes),
	)

	report := newReport(remotePath, destRoot)
	pool := NewPool(c.opts.Workers, c.fetcher, c.opts.Bus, c.logger)
	pool.Start(ctx)

	var wg sync.WaitGroup
	for _, f := range files {
		wg.Add(1)
		go func(it remote.Item, rel string) {
			defer wg.Done()
			result := c.transferFile(ctx, pool, it, rel, destRoot, false)
			c.reportMu.Lock()
			report.add(result)
			c.reportMu.Unlock()
		}(f.item, f.rel)
	}
	wg.Wait()
	pool.Close()
	pool.Wait()

	if err := report.Write(destRoot); err != nil {
		c.logger.Warn("report write failed", zap.Error(err))
	}

	if report.Failed > 0 {
		c.storageMu.Lock()
		serr := c.storageErr
		c.storageMu.Unlock()
		if serr != nil {
			return report, serr
		}
		return report, fmt.Errorf("%w: %d of %d", ErrPartial, report.Failed, len(files))
	}
	return report, nil
}

type walkedFile struct {
	item remote.Item
	rel  string
}

// walk enumerates the files under remotePath, depth first, applying the
// profile filter to file paths. Directories are always descended into.
func (c *Coordinator) walk(ctx context.Context, remotePath string) ([]walkedFile, error) {
	root, err := c.opts.Session.Stat(ctx, remotePath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", remotePath, err)
	}
	if !root.Dir {
		return []walkedFile{{item: root, rel: path.Base(root.Path)}}, nil
	}

	var files []walkedFile
	var descend func(dir remote.Item, rel string) error
	descend = func(dir remote.Item, rel string) error {
		children, err := c.opts.Session.ListChildren(ctx, dir.Path)
		if err != nil {
			return fmt.Errorf("list %s: %w", dir.Path, err)
		}
		for _, child := range children {
			childRel := path.Join(rel, child.Name)
			if child.Dir {
				if !c.opts.Filter.ShouldDescend(childRel) {
					c.logger.Debug("subtree filtered out", zap.String("path", childRel))
					continue
				}
				if err := descend(child, childRel); err != nil {
					return err
				}
				continue
			}
			if !c.opts.Filter.ShouldInclude(childRel) {
				c.logger.Debug("filtered out", zap.String("path", childRel))
				continue
			}
			files = append(files, walkedFile{item: child, rel: childRel})
		}
		return nil
	}
	if err := descend(root, ""); err != nil {
		return nil, err
	}
	return files, nil
}

// transferFile runs one file to a terminal state and returns its result.
// replanned guards the single re-plan allowed after ErrSourceChanged.
func (c *Coordinator) transferFile(ctx context.Context, pool *Pool, item remote.Item, rel, destRoot string, replanned bool) FileResult {
	result := FileResult{Path: item.Path, Dest: rel, Size: item.Size}
	dest := filepath.Join(destRoot, filepath.FromSlash(rel))

	fail := func(err error) FileResult {
		result.Error = err.Error()
		var storageErr *StorageError
		if errors.As(err, &storageErr) {
			c.storageMu.Lock()
			if c.storageErr == nil {
				c.storageErr = err
			}
			c.storageMu.Unlock()
		}
		c.opts.Bus.Dispatch(event.Event{
			Type: event.TypeComplete, Item: item, Dest: rel, Err: err,
		})
		return result
	}

	fingerprint := item.Fingerprint()
	cp, err := c.opts.Store.Load(ctx, rel)
	if err != nil {
		return fail(err)
	}

	committed := map[int64]bool{}
	fresh := true
	if cp != nil {
		switch {
		case c.opts.Force && !replanned:
			c.logger.Info("force refetch, discarding checkpoint", zap.String("dest", rel))
			if err := c.opts.Store.Invalidate(ctx, rel); err != nil {
				return fail(err)
			}
		case cp.Fingerprint != fingerprint || cp.Size != item.Size:
			c.logger.Info("source changed, discarding checkpoint",
				zap.String("dest", rel), zap.String("fingerprint", fingerprint))
			if err := c.opts.Store.Invalidate(ctx, rel); err != nil {
				return fail(err)
			}
		case cp.State == checkpoint.StateComplete:
			if _, statErr := os.Stat(dest); statErr == nil {
				result.Skipped = true
				c.opts.Bus.Dispatch(event.Event{
					Type: event.TypeComplete, Item: item, Dest: rel, Success: true,
				})
				return result
			}
			// Destination vanished under a complete checkpoint.
			if err := c.opts.Store.Invalidate(ctx, rel); err != nil {
				return fail(err)
			}
		default:
			if _, statErr := os.Stat(dest); statErr != nil {
				// Destination vanished under an in-progress checkpoint.
				// The committed bytes went with it, so the offsets must
				// not be trusted.
				if err := c.opts.Store.Invalidate(ctx, rel); err != nil {
					return fail(err)
				}
			} else {
				committed = cp.CommittedSet()
				fresh = false
				result.Resumed = true
			}
		}
	}

	plan, err := c.planner.Plan(item.Size, committed)
	if err != nil {
		return fail(err)
	}
	result.Chunks = len(plan.Specs)

	if fresh {
		// A replanned pass already archived or resumed the genuine prior
		// version; the half-overwritten destination is not one.
		if c.opts.Archiver != nil && !replanned {
			_, statErr := os.Stat(dest)
			existed := statErr == nil
			c.archiveMu.Lock()
			err := c.opts.Archiver.Archive(rel)
			c.archiveMu.Unlock()
			if err != nil {
				return fail(err)
			}
			result.Archived = existed
		}
		if err := c.opts.Store.Begin(ctx, rel, fingerprint, item.Size); err != nil {
			return fail(err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fail(&StorageError{Op: "create dir for " + rel, Err: err})
	}
	out, err := os.OpenFile(dest, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fail(&StorageError{Op: "open " + rel, Err: err})
	}
	if err := out.Truncate(item.Size); err != nil {
		out.Close()
		return fail(&StorageError{Op: "truncate " + rel, Err: err})
	}

	pending := plan.Pending()
	handle := pool.NewFileHandle(out, len(pending))
	for i := range pending {
		pool.Submit(&Task{Item: item, DestRel: rel, Spec: pending[i]}, handle)
	}
	<-handle.Done()
	result.Downloaded = handle.Downloaded()

	if err := handle.Err(); err != nil {
		out.Close()
		if errors.Is(err, remote.ErrSourceChanged) && !replanned {
			return c.replan(ctx, pool, item, rel, destRoot, result)
		}
		return fail(err)
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return fail(&StorageError{Op: "sync " + rel, Err: err})
	}
	if err := out.Close(); err != nil {
		return fail(&StorageError{Op: "close " + rel, Err: err})
	}
	if err := c.opts.Store.Finalize(ctx, rel); err != nil {
		return fail(err)
	}

	c.opts.Bus.Dispatch(event.Event{
		Type: event.TypeComplete, Item: item, Dest: rel, Success: true,
		Bytes: result.Downloaded, Total: item.Size,
	})
	return result
}

// replan handles a mid-transfer source change: drop the stale checkpoint,
// re-stat the item and run the file once more against fresh metadata.
func (c *Coordinator) replan(ctx context.Context, pool *Pool, item remote.Item, rel, destRoot string, prior FileResult) FileResult {
	c.logger.Info("source changed mid-transfer, replanning", zap.String("dest", rel))

	fail := func(err error) FileResult {
		prior.Error = err.Error()
		c.opts.Bus.Dispatch(event.Event{
			Type: event.TypeComplete, Item: item, Dest: rel, Err: err,
		})
		return prior
	}

	if err := c.opts.Store.Invalidate(ctx, rel); err != nil {
		return fail(err)
	}
	current, err := c.opts.Session.Stat(ctx, item.Path)
	if err != nil {
		return fail(fmt.Errorf("restat after source change: %w", err))
	}
	res := c.transferFile(ctx, pool, current, rel, destRoot, true)
	res.Archived = res.Archived || prior.Archived
	return res
}
