// Package observers contains built-in event observers: a local file indexer
// and a Prometheus metrics exporter. Both register on the run's event bus
// alongside any host-provided observers.
package observers

import (
	"fmt"
	"os"
	"sync"

	"github.com/roshanlam/iFetch/internal/event"
)

// Indexer appends one line per successfully fetched file to an index file,
// in the form "<remote name>\t<local path>".
type Indexer struct {
	path string

	mu sync.Mutex
}

// NewIndexer creates an indexer writing to the given path.
func NewIndexer(path string) *Indexer {
	return &Indexer{path: path}
}

// OnComplete records successful completions in the index.
func (ix *Indexer) OnComplete(e event.Event) {
	if !e.Success {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	f, err := os.OpenFile(ix.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return // index is best-effort
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\t%s\n", e.Item.Name, e.Dest)
}
