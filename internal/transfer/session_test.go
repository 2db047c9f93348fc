package transfer

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roshanlam/iFetch/internal/remote"
)

// gatedSession tracks concurrent OpenRange calls to observe pool behavior.
type gatedSession struct {
	inFlight *atomic.Int32
	peak     *atomic.Int32
	delay    time.Duration
}

func (s *gatedSession) Authenticate(context.Context) error { return nil }

func (s *gatedSession) ListChildren(context.Context, string) ([]remote.Item, error) {
	return nil, nil
}

func (s *gatedSession) Stat(context.Context, string) (remote.Item, error) {
	return remote.Item{}, nil
}

func (s *gatedSession) OpenRange(_ context.Context, _ remote.Item, _, length int64) (io.ReadCloser, error) {
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(s.delay)
	s.inFlight.Add(-1)
	return io.NopCloser(strings.NewReader(strings.Repeat("x", int(length)))), nil
}
