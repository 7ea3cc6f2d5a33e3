// Package gateway serves the device's streaming surface: a websocket
// endpoint that accepts raw PCM frames, drives them through the enhancement
// pipeline and returns the processed audio, plus REST endpoints for health,
// metrics and connection status. Each connection carries its own quality
// state machine; a single failed frame never tears a connection down.
package gateway

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/jobqueue"
	"github.com/auralis/auralis-go/internal/logging"
	"github.com/auralis/auralis-go/internal/observability"
	"github.com/auralis/auralis-go/internal/observability/metrics"
)

const (
	// defaultMaxPayloadBytes caps an inbound audio payload: 8192 samples of
	// four bytes each, matching the largest processable buffer.
	defaultMaxPayloadBytes = 32768

	// statusCacheTTL keeps connection snapshots queryable after disconnect.
	statusCacheTTL = 30 * time.Second

	// readTimeout reaps connections that stop answering pings.
	readTimeout = 60 * time.Second

	defaultWriteTimeout   = 2 * time.Second
	defaultStatusInterval = time.Second
)

// Processor is the pipeline surface the gateway drives. Acquire hands out a
// pooled buffer for inbound samples; audio.ErrExhausted signals
// backpressure. Process consumes the buffer on every path: on success the
// processed buffer comes back in the result for the caller to release after
// use, on error it has already been returned to the pool.
type Processor interface {
	Acquire() (*audio.Buffer, error)
	Process(ctx context.Context, buf *audio.Buffer, priority jobqueue.Priority) (jobqueue.Result, error)
	Config() audio.Config
}

// ClipSaver is implemented by processors that keep a rolling capture of the
// processed output. The capture endpoint probes for it.
type ClipSaver interface {
	SaveClip(d time.Duration) (string, error)
}

// Server is the streaming gateway. Connections are tracked in a registry for
// the limit check and mirrored into a TTL cache for the status endpoint.
type Server struct {
	Echo *echo.Echo

	settings   conf.GatewaySettings
	version    string
	processor  Processor
	maxPayload int

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn

	statusCache *cache.Cache

	metrics        *metrics.GatewayMetrics
	metricsHandler http.Handler

	logger    *slog.Logger
	startedAt time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithMetrics attaches the shared metrics instance. The gateway records its
// own collector and mounts the registry handler at /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		if m == nil {
			return
		}
		s.metrics = m.Gateway
		s.metricsHandler = m.Handler()
	}
}

// WithVersion sets the version string reported by /healthz.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates the gateway server and registers its routes. The caller starts
// it with Serve and stops it with Shutdown.
func New(settings conf.GatewaySettings, processor Processor, opts ...Option) (*Server, error) {
	if processor == nil {
		return nil, errors.Newf("gateway requires a processor").
			Component("gateway").
			Category(errors.CategoryConfiguration).
			Build()
	}

	logger := logging.ForService("gateway")
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		settings:   settings,
		processor:  processor,
		maxPayload: settings.MaxPayloadBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 16384,
			CheckOrigin: func(r *http.Request) bool {
				// The gateway serves the local network; origin policy is
				// left to deployment level middleware.
				return true
			},
		},
		conns:       make(map[string]*conn),
		statusCache: cache.New(statusCacheTTL, 2*statusCacheTTL),
		logger:      logger,
		startedAt:   time.Now(),
		baseCtx:     ctx,
		cancel:      cancel,
	}
	if s.maxPayload <= 0 {
		s.maxPayload = defaultMaxPayloadBytes
	}

	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	e.GET("/healthz", s.handleHealth)
	e.GET("/api/v1/stream", s.handleStream)
	e.GET("/api/v1/connections", s.handleConnections)
	e.POST("/api/v1/capture", s.handleCapture)
	if s.metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}
	s.Echo = e

	return s, nil
}

// Serve blocks serving the configured listen address until Shutdown.
func (s *Server) Serve() error {
	s.logger.Info("gateway listening",
		"addr", s.settings.Listen,
		"max_connections", s.settings.MaxConnections,
		"max_payload_bytes", s.maxPayload)
	err := s.Echo.Start(s.settings.Listen)
	if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("gateway").
			Category(errors.CategoryNetwork).
			Context("listen", s.settings.Listen).
			Build()
	}
	return nil
}

// Shutdown stops the listener and closes every open stream. Final status
// snapshots stay in the cache until their TTL runs out.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.RLock()
	open := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.RUnlock()

	deadline := time.Now().Add(s.writeTimeout())
	for _, c := range open {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "gateway shutting down")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.ws.Close()
	}

	err := s.Echo.Shutdown(ctx)
	s.wg.Wait()
	// go-cache's janitor goroutine cannot be stopped, only drained.
	s.statusCache.Flush()
	if err != nil {
		return errors.New(err).
			Component("gateway").
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}

// ActiveConnections reports the number of open streams.
func (s *Server) ActiveConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) writeTimeout() time.Duration {
	if s.settings.WriteTimeout > 0 {
		return s.settings.WriteTimeout
	}
	return defaultWriteTimeout
}

func (s *Server) statusInterval() time.Duration {
	if s.settings.StatusInterval > 0 {
		return s.settings.StatusInterval
	}
	return defaultStatusInterval
}

// register adds the connection unless the server is at capacity. The count
// check and the insert share the lock so a burst of connects cannot
// overshoot the limit.
func (s *Server) register(c *conn) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.MaxConnections > 0 && len(s.conns) >= s.settings.MaxConnections {
		return len(s.conns), false
	}
	s.conns[c.id] = c
	return len(s.conns), true
}

func (s *Server) deregister(c *conn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.id)
	return len(s.conns)
}

// cacheStatus refreshes the connection's REST snapshot.
func (s *Server) cacheStatus(c *conn) {
	s.statusCache.Set(c.id, c.snapshot(), cache.DefaultExpiration)
}

// handleStream upgrades the request and serves the stream until the client
// disconnects. At the connection limit the socket is refused with a close
// frame rather than an HTTP error, so protocol aware clients can back off.
func (s *Server) handleStream(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordConnection(metrics.StatusError)
		}
		s.logger.Warn("websocket upgrade failed", "remote", c.RealIP(), "error", err)
		// The upgrader has already written the HTTP error response.
		return nil
	}

	cn := newConn(uuid.New().String(), c.RealIP(), ws, s.settings.InboundRate, s.settings.InboundBurst)

	active, ok := s.register(cn)
	if !ok {
		if s.metrics != nil {
			s.metrics.RecordConnection(metrics.StatusRejected)
		}
		s.logger.Warn("connection limit reached, rejecting stream",
			"remote", cn.remote,
			"limit", s.settings.MaxConnections)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection limit reached")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout()))
		_ = ws.Close()
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordConnection(metrics.StatusSuccess)
		s.metrics.SetActiveConnections(active)
	}
	s.logger.Info("stream connected", "id", cn.id, "remote", cn.remote, "active", active)

	s.serveConn(cn)
	return nil
}

// handleHealth reports liveness for the device supervisor.
func (s *Server) handleHealth(c echo.Context) error {
	uptime := time.Since(s.startedAt)
	return c.JSON(http.StatusOK, map[string]any{
		"status":             "healthy",
		"version":            s.version,
		"timestamp":          time.Now().Format(time.RFC3339),
		"uptime":             uptime.String(),
		"uptime_seconds":     uptime.Seconds(),
		"active_connections": s.ActiveConnections(),
	})
}

// handleConnections lists connection snapshots from the TTL cache, newest
// first. Recently closed connections appear with Active false until their
// entries expire.
func (s *Server) handleConnections(c echo.Context) error {
	items := s.statusCache.Items()
	out := make([]ConnectionStatus, 0, len(items))
	for _, it := range items {
		if cs, ok := it.Object.(ConnectionStatus); ok {
			out = append(out, cs)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return c.JSON(http.StatusOK, map[string]any{
		"connections": out,
		"count":       len(out),
	})
}

// handleCapture renders the recent processed output to a WAV clip on the
// device and reports where it landed. An optional seconds query bounds the
// exported window; without it the whole capture buffer is written.
func (s *Server) handleCapture(c echo.Context) error {
	saver, ok := s.processor.(ClipSaver)
	if !ok {
		return c.JSON(http.StatusNotImplemented, map[string]any{
			"error": "capture is not available on this processor",
		})
	}

	var window time.Duration
	if raw := c.QueryParam("seconds"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]any{
				"error": "seconds must be a positive number",
			})
		}
		window = time.Duration(seconds * float64(time.Second))
	}

	path, err := saver.SaveClip(window)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.IsCategory(err, errors.CategoryNotFound):
			status = http.StatusNotFound
		case errors.IsCategory(err, errors.CategoryConfiguration),
			errors.IsCategory(err, errors.CategoryState):
			status = http.StatusConflict
		}
		s.logger.Error("clip save failed", "error", err)
		return c.JSON(status, map[string]any{"error": err.Error()})
	}

	s.logger.Info("capture clip requested", "path", path, "remote", c.RealIP())
	return c.JSON(http.StatusOK, map[string]any{
		"path":     path,
		"saved_at": time.Now().Format(time.RFC3339),
	})
}
