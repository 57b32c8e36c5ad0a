// Package wsserver implements the WebSocket connection manager of spec
// §4.7: accept, authenticate, subscribe to the per-user delta subject,
// run the read loop that dispatches ping/update_location/action messages,
// and fan out published deltas back to the client.
//
// Grounded on _examples/AltairaLabs-PromptKit/server/a2a/server.go's functional-options
// constructor, TTL-based eviction loop, and graceful Shutdown sequencing,
// and _examples/AltairaLabs-PromptKit/runtime/providers/internal/streaming/conn.go's gorilla/websocket write discipline
// (write-deadline before every write, a mutex serializing writes, a
// closeCh for cooperative shutdown) — adapted here from client-dial to
// server-accept.
package wsserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Aeonia-ai/gaia-sub001/internal/aoi"
	"github.com/Aeonia-ai/gaia-sub001/internal/auth"
	"github.com/Aeonia-ai/gaia-sub001/internal/bus"
	"github.com/Aeonia-ai/gaia-sub001/internal/dispatch"
	"github.com/Aeonia-ai/gaia-sub001/internal/metrics"
)

const (
	// defaultWriteWait is the write deadline applied to every outbound
	// frame (ws payload or ping).
	defaultWriteWait = 10 * time.Second

	// defaultPongWait sets the ping cadence below. No read deadline or
	// pong handler is derived from it: a silent connection is closed only
	// by the idle-timeout sweep or a failed write.
	defaultPongWait = 60 * time.Second

	// defaultPingInterval sends a ws-protocol ping well inside
	// defaultPongWait, the same margin _examples/AltairaLabs-PromptKit/runtime/providers/internal/streaming/conn.go
	// keeps between its heartbeat interval and its write wait.
	defaultPingInterval = (defaultPongWait * 9) / 10

	// defaultIdleTimeout evicts a connection that has exchanged no
	// messages (app-level, not ws-protocol pings) for this long.
	defaultIdleTimeout = 30 * time.Minute

	// evictionInterval is how often the background sweep runs.
	evictionInterval = 1 * time.Minute

	// defaultOutboundBuffer bounds how many undelivered deltas a
	// connection's fan-out goroutine can queue before the connection is
	// closed (spec §5 "Backpressure": "no delta is ever dropped silently
	// on a live connection" — so the bus drop-on-full policy isn't good
	// enough here; a full buffer instead ends the connection).
	defaultOutboundBuffer = 32

	// defaultRateLimit bounds inbound client messages per second;
	// defaultRateBurst allows a short burst above that (e.g. a client
	// catching up after a brief stall).
	defaultRateLimit = 20.0
	defaultRateBurst = 40

	// defaultMaxMessageSize rejects oversized inbound frames before they
	// reach json.Unmarshal.
	defaultMaxMessageSize = 64 * 1024
)

// Server accepts WebSocket connections at /ws/experience and runs their
// read/fan-out loops (spec §4.7).
type Server struct {
	verifier   *auth.Verifier
	dispatcher *dispatch.Dispatcher
	aoiBuilder *aoi.Builder
	eventBus   *bus.Bus
	metrics    *metrics.Metrics
	log        *slog.Logger
	now        func() time.Time

	upgrader websocket.Upgrader

	writeWait       time.Duration
	pongWait        time.Duration
	pingInterval    time.Duration
	idleTimeout     time.Duration
	outboundBuffer  int
	rateLimit       float64
	rateBurst       int
	maxMessageSize  int64

	addr    string
	httpSrv *http.Server
	httpMu  sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}

	connsMu sync.RWMutex
	conns   map[string]*connection
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address for ListenAndServe.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithLogger overrides the server's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithClock overrides the time source, for deterministic eviction tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithIdleTimeout overrides how long a connection may go without
// app-level activity before the eviction sweep closes it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithOutboundBuffer overrides the per-connection fan-out buffer depth.
func WithOutboundBuffer(n int) Option {
	return func(s *Server) { s.outboundBuffer = n }
}

// WithRateLimit overrides the per-connection inbound message rate limit
// (messages/sec) and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) { s.rateLimit = perSecond; s.rateBurst = burst }
}

// New constructs a Server. verifier, dispatcher, aoiBuilder, and eventBus
// must be non-nil; m may be nil, in which case no metrics are recorded.
func New(verifier *auth.Verifier, dispatcher *dispatch.Dispatcher, aoiBuilder *aoi.Builder, eventBus *bus.Bus, m *metrics.Metrics, opts ...Option) *Server {
	s := &Server{
		verifier:       verifier,
		dispatcher:     dispatcher,
		aoiBuilder:     aoiBuilder,
		eventBus:       eventBus,
		metrics:        m,
		log:            slog.Default(),
		now:            time.Now,
		writeWait:      defaultWriteWait,
		pongWait:       defaultPongWait,
		pingInterval:   defaultPingInterval,
		idleTimeout:    defaultIdleTimeout,
		outboundBuffer: defaultOutboundBuffer,
		rateLimit:      defaultRateLimit,
		rateBurst:      defaultRateBurst,
		maxMessageSize: defaultMaxMessageSize,
		stopCh:         make(chan struct{}),
		conns:          make(map[string]*connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.evictionLoop()
	return s
}

// Handler returns the http.Handler serving /ws/experience, wrapped in
// otelhttp the way _examples/AltairaLabs-PromptKit/server/a2a/server.go wraps its own mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/experience", s.handleUpgrade)
	return otelhttp.NewHandler(mux, "wsserver")
}

// ListenAndServe starts the HTTP server on the configured address.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpMu.Lock()
	s.httpSrv = srv
	s.httpMu.Unlock()
	return srv.ListenAndServe()
}

// Shutdown stops the eviction loop, closes every open connection, and
// drains the HTTP server (spec §5 "cancellation... unsubscribes from the
// bus within a bounded time").
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.connsMu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()
	for _, c := range conns {
		c.closeWithReason(websocket.CloseGoingAway, "server_shutdown")
	}

	s.httpMu.Lock()
	srv := s.httpSrv
	s.httpMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) register(c *connection) {
	s.connsMu.Lock()
	s.conns[c.id] = c
	s.connsMu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordConnectionOpened()
	}
}

func (s *Server) unregister(c *connection, reason string) {
	s.connsMu.Lock()
	_, ok := s.conns[c.id]
	delete(s.conns, c.id)
	s.connsMu.Unlock()
	if !ok {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordConnectionClosed(reason, s.now().Sub(c.openedAt).Seconds())
	}
}

// evictionLoop periodically closes connections idle longer than
// idleTimeout. Runs until stopCh is closed (via Shutdown).
func (s *Server) evictionLoop() {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.evictOnce()
		}
	}
}

func (s *Server) evictOnce() {
	if s.idleTimeout <= 0 {
		return
	}
	cutoff := s.now().Add(-s.idleTimeout)

	s.connsMu.RLock()
	stale := make([]*connection, 0)
	for _, c := range s.conns {
		if c.lastActivity().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	s.connsMu.RUnlock()

	for _, c := range stale {
		c.closeWithReason(websocket.CloseGoingAway, "idle_timeout")
	}
}

func writeUpgradeError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

func parseConnectQuery(r *http.Request) (token, experience string, err error) {
	token = r.URL.Query().Get("token")
	experience = r.URL.Query().Get("experience")
	if token == "" || experience == "" {
		return "", "", fmt.Errorf("wsserver: token and experience query parameters are required")
	}
	return token, experience, nil
}
