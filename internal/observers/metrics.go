package observers

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roshanlam/iFetch/internal/event"
)

// Metrics exports transfer counters to Prometheus. One instance per
// registry; collectors are registered at construction.
type Metrics struct {
	authTotal       prometheus.Counter
	chunksCommitted prometheus.Counter
	bytesFetched    prometheus.Counter
	filesTotal      *prometheus.CounterVec
}

// NewMetrics creates the transfer metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		authTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ifetch_auth_total",
			Help: "Total number of successful authentications",
		}),
		chunksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ifetch_chunks_committed_total",
			Help: "Total number of committed chunks",
		}),
		bytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ifetch_bytes_fetched_total",
			Help: "Total bytes fetched from the remote",
		}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ifetch_files_total",
			Help: "Total number of files by terminal outcome",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.authTotal, m.chunksCommitted, m.bytesFetched, m.filesTotal)
	return m
}

// OnAuth counts successful authentications.
func (m *Metrics) OnAuth(event.Event) {
	m.authTotal.Inc()
}

// OnProgress counts committed chunks and fetched bytes.
func (m *Metrics) OnProgress(e event.Event) {
	m.chunksCommitted.Inc()
	m.bytesFetched.Add(float64(e.Bytes))
}

// OnComplete counts terminal file outcomes.
func (m *Metrics) OnComplete(e event.Event) {
	outcome := "failed"
	if e.Success {
		outcome = "completed"
	}
	m.filesTotal.WithLabelValues(outcome).Inc()
}
