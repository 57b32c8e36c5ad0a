package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultReadHeaderTimeout = 10 * time.Second

// Exporter serves a Metrics bundle over HTTP at /metrics, plus a /healthz
// endpoint the same mux can expose to a load balancer.
type Exporter struct {
	addr     string
	server   *http.Server
	registry *prometheus.Registry
}

// NewExporter builds an Exporter serving m (plus Go runtime/process
// collectors) at addr.
func NewExporter(addr string, m *Metrics) *Exporter {
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Exporter{addr: addr, registry: reg}
}

// Handler returns the /metrics http.Handler, for mounting on an existing
// mux instead of running a dedicated server.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Start runs a dedicated metrics server; blocks until Shutdown or error.
func (e *Exporter) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	return e.server.ListenAndServe()
}

// Shutdown gracefully stops the dedicated metrics server, if Start was
// called.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}
