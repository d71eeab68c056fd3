package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-dev/realm/pkg/protocol"
	"github.com/vango-dev/realm/pkg/scheduler"
	"github.com/vango-dev/realm/pkg/server"
)

// Config configures the admin HTTP server.
type Config struct {
	// Addr is the listen address.
	// Default: "127.0.0.1:9171".
	Addr string

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 5 seconds.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight requests
	// when the server stops.
	// Default: 5 seconds.
	ShutdownTimeout time.Duration

	// Namespace prefixes the admin request metrics.
	// Default: "realm".
	Namespace string

	// TracerName names the tracer used for request spans.
	// Default: "realm/admin".
	TracerName string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:              "127.0.0.1:9171",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		Namespace:         "realm",
		TracerName:        "realm/admin",
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Addr == "" {
		out.Addr = d.Addr
	}
	if out.ReadHeaderTimeout == 0 {
		out.ReadHeaderTimeout = d.ReadHeaderTimeout
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = d.ShutdownTimeout
	}
	if out.Namespace == "" {
		out.Namespace = d.Namespace
	}
	if out.TracerName == "" {
		out.TracerName = d.TracerName
	}
	return &out
}

// Connections is the view of the game listener the admin server needs.
// *server.Listener implements it.
type Connections interface {
	Connections() []server.ConnectionInfo
	Connection(id server.ConnectionID) (*server.Connection, bool)
	Disconnect(id server.ConnectionID, reason *protocol.Disconnect) bool
	Stats() server.Stats
}

// Schedulers reports the scheduler tree. *scheduler.Hierarchy implements it.
type Schedulers interface {
	Snapshot() scheduler.Snapshot
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry sets the registry that /metrics exposes and that admin
// request metrics are registered with.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registerer = reg
			s.gatherer = reg
		}
	}
}

// WithSchedulers exposes the scheduler tree at /schedulers.
func WithSchedulers(sched Schedulers) Option {
	return func(s *Server) {
		s.schedulers = sched
	}
}

// WithWebSocket mounts h at /ws.
func WithWebSocket(h http.Handler) Option {
	return func(s *Server) {
		s.websocket = h
	}
}

// Server is the operator-facing HTTP server.
type Server struct {
	config     *Config
	conns      Connections
	schedulers Schedulers
	websocket  http.Handler
	logger     *slog.Logger
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	router     chi.Router
	started    time.Time
}

// New builds the admin router. conns may be nil, in which case the
// connection routes are not mounted.
func New(config *Config, conns Connections, opts ...Option) *Server {
	s := &Server{
		config:     config.withDefaults(),
		conns:      conns,
		logger:     slog.Default(),
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "admin")
	s.router = s.routes()
	return s
}

// Handler returns the admin router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	m := newHTTPMetrics(s.registerer, s.config.Namespace)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(traced(s.config.TracerName))
	r.Use(m.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.conns != nil {
		r.Route("/connections", func(r chi.Router) {
			r.Get("/", s.handleConnections)
			r.Get("/{id}", s.handleConnection)
			r.Delete("/{id}", s.handleKick)
		})
	}
	if s.schedulers != nil {
		r.Get("/schedulers", s.handleSchedulers)
	}
	if s.websocket != nil {
		r.Handle("/ws", s.websocket)
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status      string       `json:"status"`
	Uptime      string       `json:"uptime"`
	Connections server.Stats `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.conns != nil {
		resp.Connections = s.conns.Stats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	infos := s.conns.Connections()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := infos[:0]
		for _, info := range infos {
			if info.State == state {
				filtered = append(filtered, info)
			}
		}
		infos = filtered
	}
	if infos == nil {
		infos = []server.ConnectionInfo{}
	}
	s.writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := s.connectionID(w, r)
	if !ok {
		return
	}
	c, found := s.conns.Connection(id)
	if !found {
		s.writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	s.writeJSON(w, http.StatusOK, c.Info())
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	id, ok := s.connectionID(w, r)
	if !ok {
		return
	}
	message := r.URL.Query().Get("message")
	if len(message) > protocol.MaxStringLen {
		s.writeError(w, http.StatusBadRequest, "message too long")
		return
	}
	if !s.conns.Disconnect(id, protocol.NewDisconnect(protocol.ReasonKicked, message)) {
		s.writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	s.logger.Info("connection kicked", "conn_id", uint64(id), "request_id", middleware.GetReqID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSchedulers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.schedulers.Snapshot())
}

func (s *Server) connectionID(w http.ResponseWriter, r *http.Request) (server.ConnectionID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid connection id")
		return 0, false
	}
	return server.ConnectionID(id), true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response not written", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
