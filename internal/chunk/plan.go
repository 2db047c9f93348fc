// Package chunk computes chunk plans: the ordered byte ranges of a file that
// still need fetching, given the configured chunk size and any prior
// checkpoint for the same destination.
package chunk

import "errors"

// Status is the state of a single chunk within a plan.
type Status string

const (
	// Pending means the chunk still needs to be fetched.
	Pending Status = "pending"
	// Committed means the chunk's bytes are written and durably recorded.
	Committed Status = "committed"
)

// Spec is one contiguous byte range of a file. Specs in a plan are
// contiguous, non-overlapping, and together cover [0, size) exactly.
type Spec struct {
	Index  int
	Offset int64
	Length int64
	Status Status
}

// End returns the exclusive end offset of the chunk.
func (s Spec) End() int64 { return s.Offset + s.Length }

// Plan is the ordered chunk sequence for one file transfer. It is built once
// per transfer and mutated in place as chunks commit.
type Plan struct {
	Size      int64
	ChunkSize int64
	Specs     []Spec
}

// Planner slices files into fixed-size chunks.
type Planner struct {
	// ChunkSize is the size of each chunk in bytes. The final chunk of a
	// file may be shorter.
	ChunkSize int64
}

// ErrChunkSize is returned when the planner is configured with a
// non-positive chunk size.
var ErrChunkSize = errors.New("chunk: chunk size must be positive")

// Plan builds the chunk plan for a file of the given size.
//
// committed holds the offsets a trusted prior checkpoint already recorded;
// chunks at those offsets come back Committed and need no fetch. Callers
// must only pass committed offsets from a checkpoint whose fingerprint
// matches the item's current fingerprint. A stale checkpoint gets a full
// fresh plan instead.
//
// A zero-size file yields an empty plan that is immediately complete.
func (p Planner) Plan(size int64, committed map[int64]bool) (*Plan, error) {
	if p.ChunkSize <= 0 {
		return nil, ErrChunkSize
	}

	plan := &Plan{Size: size, ChunkSize: p.ChunkSize}
	if size == 0 {
		return plan, nil
	}

	n := int((size + p.ChunkSize - 1) / p.ChunkSize)
	plan.Specs = make([]Spec, 0, n)
	for i := 0; i < n; i++ {
		offset := int64(i) * p.ChunkSize
		length := p.ChunkSize
		if offset+length > size {
			length = size - offset
		}
		status := Pending
		if committed[offset] {
			status = Committed
		}
		plan.Specs = append(plan.Specs, Spec{
			Index:  i,
			Offset: offset,
			Length: length,
			Status: status,
		})
	}
	return plan, nil
}

// Pending returns the chunks still needing a fetch, in order.
func (p *Plan) Pending() []Spec {
	var out []Spec
	for _, s := range p.Specs {
		if s.Status == Pending {
			out = append(out, s)
		}
	}
	return out
}

// Commit marks the chunk at the given index committed.
func (p *Plan) Commit(index int) {
	if index >= 0 && index < len(p.Specs) {
		p.Specs[index].Status = Committed
	}
}

// Complete reports whether every chunk in the plan has committed.
func (p *Plan) Complete() bool {
	for _, s := range p.Specs {
		if s.Status != Committed {
			return false
		}
	}
	return true
}

// PendingBytes returns the byte count still to be fetched.
func (p *Plan) PendingBytes() int64 {
	var total int64
	for _, s := range p.Specs {
		if s.Status == Pending {
			total += s.Length
		}
	}
	return total
}
