// Package event provides the synchronous observer hook points fired during a
// transfer run: authentication, per-item progress, and per-item completion.
//
// Observers are capability-typed: register any value and the bus dispatches
// each event only to observers implementing the matching interface. Observer
// panics are caught and logged, never propagated; a misbehaving observer
// must not break a transfer.
package event

import (
	"sync"

	"go.uber.org/zap"

	"github.com/roshanlam/iFetch/internal/remote"
)

// Type tags the kind of event being dispatched.
type Type string

const (
	// TypeAuth fires once after authentication succeeds.
	TypeAuth Type = "auth"
	// TypeProgress fires after each chunk of an item commits.
	TypeProgress Type = "progress"
	// TypeComplete fires when an item reaches a terminal state.
	TypeComplete Type = "complete"
)

// Event carries the context of a lifecycle notification. Events are
// constructed, dispatched synchronously, and discarded.
type Event struct {
	Type    Type
	Item    remote.Item
	Dest    string
	Success bool

	// Bytes is the size of the chunk that committed (progress events) or
	// the total bytes transferred for the item (completion events).
	Bytes int64

	// Downloaded and Total track per-item progress in bytes.
	Downloaded int64
	Total      int64

	// Err is set on failed completions.
	Err error
}

// AuthObserver receives authentication events.
type AuthObserver interface {
	OnAuth(Event)
}

// ProgressObserver receives per-chunk progress events.
type ProgressObserver interface {
	OnProgress(Event)
}

// CompleteObserver receives per-item completion events.
type CompleteObserver interface {
	OnComplete(Event)
}

// Bus dispatches events to registered observers synchronously, in
// registration order, on the calling goroutine.
type Bus struct {
	logger *zap.Logger

	mu        sync.RWMutex
	observers []any
}

// NewBus creates an event bus. A nil logger falls back to zap.NewNop.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Register adds an observer. The observer may implement any subset of
// AuthObserver, ProgressObserver and CompleteObserver.
func (b *Bus) Register(observer any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, observer)
}

// Dispatch delivers the event to every observer with a matching hook.
func (b *Bus) Dispatch(e Event) {
	b.mu.RLock()
	observers := b.observers
	b.mu.RUnlock()

	for _, obs := range observers {
		switch e.Type {
		case TypeAuth:
			if o, ok := obs.(AuthObserver); ok {
				b.invoke(e, func() { o.OnAuth(e) })
			}
		case TypeProgress:
			if o, ok := obs.(ProgressObserver); ok {
				b.invoke(e, func() { o.OnProgress(e) })
			}
		case TypeComplete:
			if o, ok := obs.(CompleteObserver); ok {
				b.invoke(e, func() { o.OnComplete(e) })
			}
		}
	}
}

// invoke runs one observer hook, containing panics.
func (b *Bus) invoke(e Event, hook func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("observer panicked",
				zap.String("event", string(e.Type)),
				zap.String("item", e.Item.Path),
				zap.Any("panic", r),
			)
		}
	}()
	hook()
}
