// Package checkpoint persists per-destination transfer checkpoints in a
// gocloud.dev blob bucket: which chunk offsets of a destination file are
// already committed, and the remote fingerprint the plan was built against.
//
// The checkpoint record, not the destination file, is authoritative: a chunk
// is only resumable once its commit has been durably written. A crash
// between writing chunk bytes and recording the commit leaves that chunk
// pending again.
//
// Storage layout is one JSON object per destination file:
//
//	{prefix}{escaped destination path}.json
//
// The bucket can be any gocloud.dev backend; the CLI defaults to a fileblob
// directory under the destination root ("file://..."), tests use memblob.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// State is the overall state of a destination's transfer.
type State string

const (
	// StateInProgress means some chunks may still be pending.
	StateInProgress State = "in_progress"
	// StateComplete means every chunk of the plan has committed.
	StateComplete State = "complete"
)

// Checkpoint is the durable record for one destination file.
type Checkpoint struct {
	Fingerprint string    `json:"fingerprint"`
	Size        int64     `json:"size"`
	Committed   []int64   `json:"committed_offsets"`
	State       State     `json:"state"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CommittedSet returns the committed offsets as a set for plan building.
func (c *Checkpoint) CommittedSet() map[int64]bool {
	set := make(map[int64]bool, len(c.Committed))
	for _, off := range c.Committed {
		set[off] = true
	}
	return set
}

// Store reads and writes checkpoints. Commit is safe to call concurrently
// from multiple workers operating on distinct chunks of the same
// destination; the per-store mutex serialises only the brief record update
// and write, never fetch I/O.
type Store struct {
	bucket *blob.Bucket
	prefix string

	mu    sync.Mutex
	cache map[string]*Checkpoint
}

// New creates a store writing under the given key prefix in bucket.
func New(bucket *blob.Bucket, prefix string) *Store {
	return &Store{
		bucket: bucket,
		prefix: prefix,
		cache:  make(map[string]*Checkpoint),
	}
}

func (s *Store) key(dest string) string {
	return s.prefix + url.PathEscape(dest) + ".json"
}

// Load returns the checkpoint for a destination, or nil if none exists.
func (s *Store) Load(ctx context.Context, dest string) (*Checkpoint, error) {
	data, err := s.bucket.ReadAll(ctx, s.key(dest))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: load %s: %w", dest, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal %s: %w", dest, err)
	}

	s.mu.Lock()
	s.cache[dest] = &cp
	s.mu.Unlock()
	return &cp, nil
}

// Begin records a fresh in-progress checkpoint for a destination, replacing
// any prior record. Called once per file when its plan is built.
func (s *Store) Begin(ctx context.Context, dest, fingerprint string, size int64) error {
	now := time.Now().UTC()
	cp := &Checkpoint{
		Fingerprint: fingerprint,
		Size:        size,
		Committed:   []int64{},
		State:       StateInProgress,
		StartedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.cache[dest] = cp
	err := s.writeLocked(ctx, dest)
	s.mu.Unlock()
	return err
}

// Commit durably records one committed chunk offset. The write completes
// before the chunk is considered resumable.
func (s *Store) Commit(ctx context.Context, dest string, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.cache[dest]
	if !ok {
		return fmt.Errorf("checkpoint: commit %s: no checkpoint begun", dest)
	}
	for _, off := range cp.Committed {
		if off == offset {
			return nil // already recorded
		}
	}
	cp.Committed = append(cp.Committed, offset)
	sort.Slice(cp.Committed, func(i, j int) bool { return cp.Committed[i] < cp.Committed[j] })
	cp.UpdatedAt = time.Now().UTC()

	return s.writeLocked(ctx, dest)
}

// Finalize marks a destination's checkpoint complete once all chunks of the
// plan have committed.
func (s *Store) Finalize(ctx context.Context, dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.cache[dest]
	if !ok {
		return fmt.Errorf("checkpoint: finalize %s: no checkpoint begun", dest)
	}
	cp.State = StateComplete
	cp.UpdatedAt = time.Now().UTC()
	return s.writeLocked(ctx, dest)
}

// Invalidate drops the checkpoint for a destination, e.g. when its
// fingerprint no longer matches the remote item.
func (s *Store) Invalidate(ctx context.Context, dest string) error {
	s.mu.Lock()
	delete(s.cache, dest)
	s.mu.Unlock()

	if err := s.bucket.Delete(ctx, s.key(dest)); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("checkpoint: invalidate %s: %w", dest, err)
	}
	return nil
}

// writeLocked persists the cached checkpoint. Must be called with s.mu held.
func (s *Store) writeLocked(ctx context.Context, dest string) error {
	cp := s.cache[dest]
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal %s: %w", dest, err)
	}
	if err := s.bucket.WriteAll(ctx, s.key(dest), data, nil); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", dest, err)
	}
	return nil
}
