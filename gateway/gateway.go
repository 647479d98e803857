// Package gateway implements the WebSocket protocol gateway: it accepts
// connections, drives the identify handshake, routes inbound frames by
// opcode, sweeps stale sessions, and fans domain events out to their
// target sessions through the connection registry.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/component"
	"github.com/parleyhq/parley/errors"
	"github.com/parleyhq/parley/events"
	"github.com/parleyhq/parley/handshake"
	"github.com/parleyhq/parley/metric"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/registry"
	"github.com/parleyhq/parley/session"
)

const (
	// DefaultSweepInterval is how often stale sessions are reaped
	DefaultSweepInterval = 30 * time.Second
	// DefaultLivenessWindow is how long a session may go without a
	// heartbeat before the sweep closes it
	DefaultLivenessWindow = 60 * time.Second
)

// ConstructorConfig holds everything needed to construct a Gateway
type ConstructorConfig struct {
	Name            string
	Port            int
	Path            string
	LivenessWindow  time.Duration
	SweepInterval   time.Duration
	Registry        *registry.Registry
	Handshake       *handshake.Handshake
	Router          *events.Router          // optional; attached on Start
	MetricsRegistry *metric.MetricsRegistry // optional
}

// DefaultConstructorConfig returns sensible defaults for Gateway
// construction. Registry and Handshake must still be supplied.
func DefaultConstructorConfig() ConstructorConfig {
	return ConstructorConfig{
		Port:           8080,
		Path:           "/gateway",
		LivenessWindow: DefaultLivenessWindow,
		SweepInterval:  DefaultSweepInterval,
	}
}

// Gateway is the protocol gateway component
type Gateway struct {
	name           string
	port           int
	path           string
	livenessWindow time.Duration
	sweepInterval  time.Duration

	registry  *registry.Registry
	handshake *handshake.Handshake
	router    *events.Router

	server   *http.Server
	upgrader websocket.Upgrader

	// Lifecycle management
	shutdown    chan struct{}
	done        chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          *sync.WaitGroup
	baseCtx     context.Context
	baseStop    context.CancelFunc

	framesRouted atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // stores time.Time

	metrics *Metrics
}

var _ component.Discoverable = (*Gateway)(nil)
var _ component.LifecycleComponent = (*Gateway)(nil)
var _ events.Gateway = (*Gateway)(nil)

// New creates a protocol gateway from the given configuration
func New(cfg ConstructorConfig) *Gateway {
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = DefaultLivenessWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Path == "" {
		cfg.Path = "/gateway"
	}

	g := &Gateway{
		name:           cfg.Name,
		port:           cfg.Port,
		path:           cfg.Path,
		livenessWindow: cfg.LivenessWindow,
		sweepInterval:  cfg.SweepInterval,
		registry:       cfg.Registry,
		handshake:      cfg.Handshake,
		router:         cfg.Router,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		startTime: time.Now(),
		metrics:   newMetrics(cfg.MetricsRegistry),
	}
	g.lastActivity.Store(time.Time{})
	return g
}

// Meta returns the component metadata
func (g *Gateway) Meta() component.Metadata {
	name := g.name
	if name == "" {
		name = fmt.Sprintf("gateway-%d", g.port)
	}
	return component.Metadata{
		Name:        name,
		Type:        "gateway",
		Description: fmt.Sprintf("WebSocket gateway on %s:%d", g.path, g.port),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the gateway
func (g *Gateway) Health() component.HealthStatus {
	g.mu.RLock()
	running := g.running
	serverUp := g.server != nil
	g.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    running && serverUp,
		LastCheck:  time.Now(),
		ErrorCount: int(g.errorCount.Load()),
		Uptime:     time.Since(g.startTime),
	}
}

// DataFlow returns current throughput metrics
func (g *Gateway) DataFlow() component.FlowMetrics {
	frames := g.framesRouted.Load()

	var perSecond, errorRate float64
	if uptime := time.Since(g.startTime).Seconds(); uptime > 0 {
		perSecond = float64(frames) / uptime
	}
	if frames > 0 {
		errorRate = float64(g.errorCount.Load()) / float64(frames)
	}

	lastActivity, _ := g.lastActivity.Load().(time.Time)
	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the gateway configuration
func (g *Gateway) Initialize() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.port < 1024 || g.port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Initialize",
			fmt.Sprintf("invalid port %d (out of range 1024-65535)", g.port))
	}
	if g.path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Initialize", "gateway path cannot be empty")
	}
	if g.registry == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Initialize", "connection registry is required")
	}
	if g.handshake == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Initialize", "handshake is required")
	}
	return nil
}

// Start begins serving WebSocket connections and starts the liveness
// sweep. It does not block.
func (g *Gateway) Start(ctx context.Context) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Start", "context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Gateway", "Start", "context already cancelled")
	}

	g.baseCtx, g.baseStop = context.WithCancel(context.Background())
	g.shutdown = make(chan struct{})
	g.done = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(g.path, g.handleWebSocket)
	g.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", g.port),
		Handler: mux,
	}

	g.running = true
	g.startTime = time.Now()

	g.wg = &sync.WaitGroup{}
	g.wg.Add(2)
	go g.runServer(g.wg, g.server)
	go g.sweepLoop(g.wg, g.shutdown)

	if g.router != nil {
		g.router.Attach(g)
	}

	slog.Info("gateway started", "port", g.port, "path", g.path)
	return nil
}

// Stop gracefully stops the gateway: new connections are refused,
// live sessions are closed, and background goroutines are drained.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false

	if g.router != nil {
		g.router.Detach()
	}
	if g.shutdown != nil {
		close(g.shutdown)
	}
	if g.baseStop != nil {
		g.baseStop()
	}

	wg := g.wg
	server := g.server
	g.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("gateway server shutdown error", "error", err)
		}
	}

	g.registry.CloseAll(websocket.CloseGoingAway, "server shutting down")
	g.handshake.Wait()

	if wg != nil {
		drained := make(chan struct{})
		go func() {
			wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(timeout):
			slog.Warn("gateway goroutines did not exit within timeout")
		}
	}

	g.mu.Lock()
	g.server = nil
	if g.done != nil {
		close(g.done)
		g.done = nil
	}
	g.shutdown = nil
	g.wg = nil
	g.mu.Unlock()

	slog.Info("gateway stopped")
	return nil
}

// runServer runs the HTTP server until shutdown
func (g *Gateway) runServer(wg *sync.WaitGroup, server *http.Server) {
	defer wg.Done()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("gateway server failed", "error", err)
		g.errorCount.Add(1)
	}
}

// sweepLoop periodically reaps sessions outside the liveness window
func (g *Gateway) sweepLoop(wg *sync.WaitGroup, shutdown chan struct{}) {
	defer wg.Done()

	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			if n := g.registry.CleanupDeadConnections(); n > 0 {
				slog.Info("swept stale connections", "count", n)
			}
		}
	}
}

// handleWebSocket upgrades an HTTP request and registers the new session
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.errorCount.Add(1)
		if g.metrics != nil {
			g.metrics.errorsTotal.WithLabelValues("connection_upgrade").Inc()
		}
		return
	}

	sess := session.New(session.NewWebSocketTransport(conn), g.livenessWindow)
	g.registry.Add(sess)

	if g.metrics != nil {
		g.metrics.connectionsTotal.Inc()
	}
	slog.Debug("connection accepted", "session_id", sess.ID(), "remote", r.RemoteAddr)

	g.mu.RLock()
	wg := g.wg
	shutdown := g.shutdown
	g.mu.RUnlock()
	if wg == nil {
		sess.Close(websocket.CloseGoingAway, "server shutting down")
		g.registry.Remove(sess.ID())
		return
	}

	wg.Add(1)
	go g.readPump(wg, shutdown, conn, sess)
}

// readPump reads frames from one connection until it closes, routing
// each by opcode.
func (g *Gateway) readPump(wg *sync.WaitGroup, shutdown chan struct{}, conn *websocket.Conn, sess *session.Session) {
	defer wg.Done()
	defer func() {
		g.registry.Remove(sess.ID())
		sess.Close(websocket.CloseNormalClosure, "connection closed")
		slog.Debug("connection closed", "session_id", sess.ID())
	}()

	for {
		select {
		case <-shutdown:
			return
		default:
		}

		// Read deadline is a backstop; the sweep enforces the liveness
		// window itself.
		_ = conn.SetReadDeadline(time.Now().Add(2 * g.livenessWindow))

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		g.lastActivity.Store(time.Now())

		frame, err := protocol.Decode(data)
		if err != nil {
			g.errorCount.Add(1)
			if g.metrics != nil {
				g.metrics.errorsTotal.WithLabelValues("malformed_frame").Inc()
			}
			sess.Close(protocol.CloseMalformedPayload, "malformed frame")
			return
		}

		if !g.routeFrame(sess, frame) {
			return
		}
	}
}

// routeFrame handles one inbound frame. Returns false when the
// connection should be torn down.
func (g *Gateway) routeFrame(sess *session.Session, frame *protocol.Frame) bool {
	if g.metrics != nil {
		g.metrics.framesReceived.WithLabelValues(fmt.Sprintf("%d", frame.Op)).Inc()
	}

	switch frame.Op {
	case protocol.OpHeartbeat:
		sess.UpdateHeartbeat()
		sess.Send(protocol.HeartbeatAck())
		return true

	case protocol.OpIdentify:
		return g.handleIdentify(sess, frame)

	default:
		sess.Close(protocol.ClosePolicyViolation, fmt.Sprintf("unknown opcode %d", frame.Op))
		return false
	}
}

// handleIdentify runs the auth handshake for an IDENTIFY frame
func (g *Gateway) handleIdentify(sess *session.Session, frame *protocol.Frame) bool {
	if sess.IsAuthenticated() {
		sess.Close(protocol.ClosePolicyViolation, "already identified")
		return false
	}

	var payload protocol.IdentifyPayload
	if err := json.Unmarshal(frame.D, &payload); err != nil {
		sess.Close(protocol.CloseMalformedPayload, "malformed identify payload")
		return false
	}

	if err := g.handshake.Identify(g.baseCtx, sess, payload.Token); err != nil {
		g.errorCount.Add(1)
		if g.metrics != nil {
			g.metrics.identifiesTotal.WithLabelValues("failure").Inc()
		}
		slog.Warn("identify failed", "session_id", sess.ID(), "error", err)
		sess.Close(protocol.ClosePolicyViolation, "identification failed")
		return false
	}

	if g.metrics != nil {
		g.metrics.identifiesTotal.WithLabelValues("success").Inc()
	}
	return true
}

// dispatch builds a dispatch frame, logging and counting marshal
// failures.
func (g *Gateway) dispatch(event string, payload any) *protocol.Frame {
	f, err := protocol.Dispatch(event, payload)
	if err != nil {
		g.errorCount.Add(1)
		if g.metrics != nil {
			g.metrics.errorsTotal.WithLabelValues("event_marshal").Inc()
		}
		slog.Error("event payload marshal failed", "event", event, "error", err)
		return nil
	}
	return f
}

// observeBroadcast records fan-out accounting for one event
func (g *Gateway) observeBroadcast(event string, start time.Time, delivered int) {
	g.framesRouted.Add(int64(delivered))
	g.lastActivity.Store(time.Now())
	if g.metrics != nil {
		g.metrics.broadcastDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
	}
}
