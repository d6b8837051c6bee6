// Package server exposes Ada's local HTTP and WebSocket gateway. Clients use
// it to inject text input, inspect module health, read the conversation
// history and stream bus traffic.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ada-ai/ada/internal/eventbus"
	"github.com/ada-ai/ada/internal/module"
	"github.com/ada-ai/ada/internal/sanitize"
	"github.com/ada-ai/ada/internal/version"
)

const (
	// DefaultPort is the gateway's HTTP port when none is configured. 1815 is
	// a nod to MIL-STD-1815, the Ada language standard.
	DefaultPort = 1815

	defaultHost       = "127.0.0.1"
	maxTextInputBytes = 64 << 10
)

// Gateway is the daemon's HTTP front door.
type Gateway struct {
	bus      *eventbus.Bus
	statuses ModuleStatusProvider
	dialogue ConversationProvider
	metrics  MetricsExporter
	logger   *log.Logger

	host           string
	port           int
	allowedOrigins []string

	hub     *Hub
	hubOnce sync.Once

	serverMu   sync.Mutex
	httpServer *http.Server
	listener   net.Listener

	shutdownMu sync.RWMutex
	shutdownFn ShutdownFunc

	startedAt time.Time
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithLogger overrides the gateway logger.
func WithLogger(logger *log.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithHost overrides the listen host. The gateway is loopback-only unless the
// caller opts out here.
func WithHost(host string) Option {
	return func(g *Gateway) {
		if strings.TrimSpace(host) != "" {
			g.host = strings.TrimSpace(host)
		}
	}
}

// WithPort sets the listen port. Port 0 picks a free one.
func WithPort(port int) Option {
	return func(g *Gateway) {
		if port >= 0 && port <= 65535 {
			g.port = port
		}
	}
}

// WithAllowedOrigins adds Origin header values accepted beyond the loopback
// builtins.
func WithAllowedOrigins(origins ...string) Option {
	return func(g *Gateway) {
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				g.allowedOrigins = append(g.allowedOrigins, origin)
			}
		}
	}
}

// WithModuleStatusProvider wires the supervisor snapshot into /status.
func WithModuleStatusProvider(p ModuleStatusProvider) Option {
	return func(g *Gateway) { g.statuses = p }
}

// WithConversationProvider wires the dialogue history into the gateway.
func WithConversationProvider(p ConversationProvider) Option {
	return func(g *Gateway) { g.dialogue = p }
}

// WithMetricsExporter wires the /metrics payload renderer.
func WithMetricsExporter(exp MetricsExporter) Option {
	return func(g *Gateway) { g.metrics = exp }
}

// New creates a gateway publishing on bus. Providers left unset degrade the
// matching endpoints instead of failing construction.
func New(bus *eventbus.Bus, opts ...Option) *Gateway {
	g := &Gateway{
		bus:       bus,
		logger:    log.Default(),
		host:      defaultHost,
		port:      DefaultPort,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.hub = NewHub(g.originAllowed, g.logger)
	return g
}

// SetShutdownFunc registers the callback invoked by the shutdown endpoint.
func (g *Gateway) SetShutdownFunc(fn ShutdownFunc) {
	if g == nil {
		return
	}
	g.shutdownMu.Lock()
	g.shutdownFn = fn
	g.shutdownMu.Unlock()
}

// Hub returns the WebSocket hub, mainly for tests and metrics.
func (g *Gateway) Hub() *Hub {
	if g == nil {
		return nil
	}
	return g.hub
}

// Handler returns the gateway's route table. The first call starts the
// WebSocket hub and registers it as a bus observer.
func (g *Gateway) Handler() http.Handler {
	g.hubOnce.Do(func() {
		go g.hub.Run()
		if g.bus != nil {
			g.bus.AddObserver(g.hub)
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", g.handleHealthz)
	mux.HandleFunc("/status", g.handleStatus)
	mux.HandleFunc("/metrics", g.handleMetrics)
	mux.HandleFunc("/input/text", g.handleTextInput)
	mux.HandleFunc("/conversation/history", g.handleConversationHistory)
	mux.HandleFunc("/daemon/shutdown", g.handleDaemonShutdown)
	mux.HandleFunc("/events/ws", g.hub.HandleWebSocket)

	return g.wrapWithCORS(mux)
}

func (g *Gateway) wrapWithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if g.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Listen binds the TCP listener without serving, so callers learn the bound
// port before requests flow. With port 0 the kernel picks a free one; Port
// reports it. Listen is idempotent.
func (g *Gateway) Listen() error {
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if g.listener != nil {
		return nil
	}

	addr := net.JoinHostPort(g.host, strconv.Itoa(g.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", addr, err)
	}
	g.listener = listener
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		g.port = tcpAddr.Port
	}
	return nil
}

// Serve accepts requests on the bound listener until Shutdown, binding it
// first if Listen was never called.
func (g *Gateway) Serve() error {
	if err := g.Listen(); err != nil {
		return err
	}

	handler := g.Handler()

	g.serverMu.Lock()
	listener := g.listener
	g.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := g.httpServer
	g.serverMu.Unlock()

	g.logger.Printf("[Gateway] listening on %s", listener.Addr())

	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: serve: %w", err)
	}
	return nil
}

// Start is Listen followed by Serve.
func (g *Gateway) Start() error {
	if err := g.Listen(); err != nil {
		return err
	}
	return g.Serve()
}

// Port returns the bound HTTP port, or the configured one before Listen.
func (g *Gateway) Port() int {
	if g == nil {
		return 0
	}
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	return g.port
}

// Addr returns the bound listen address, or empty before Listen.
func (g *Gateway) Addr() string {
	if g == nil {
		return ""
	}
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Shutdown disconnects WebSocket subscribers and stops the HTTP server. A
// listener bound without serving is closed directly.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g == nil {
		return nil
	}
	g.hub.Stop()

	g.serverMu.Lock()
	httpServer := g.httpServer
	listener := g.listener
	g.serverMu.Unlock()

	if httpServer != nil {
		return httpServer.Shutdown(ctx)
	}
	if listener != nil {
		return listener.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type moduleStatusDTO struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	response := map[string]any{
		"status":  "ok",
		"version": version.String(),
		"uptime":  int64(time.Since(g.startedAt).Seconds()),
		"port":    g.Port(),
	}

	if g.statuses != nil {
		statuses := g.statuses.Statuses()
		modules := make([]moduleStatusDTO, 0, len(statuses))
		degraded := false
		for _, st := range statuses {
			dto := moduleStatusDTO{
				Name:      st.Name,
				State:     string(st.Status.State),
				Error:     st.Status.Err,
				UpdatedAt: st.Status.LastUpdate,
			}
			if st.Status.State != module.StateRunning {
				degraded = true
			}
			modules = append(modules, dto)
		}
		response["modules"] = modules
		if degraded && len(modules) > 0 {
			response["status"] = "degraded"
		}
	}

	if g.dialogue != nil {
		response["conversation"] = map[string]any{
			"queue_depth": g.dialogue.QueueDepth(),
		}
	}

	if g.bus != nil {
		metrics := g.bus.Metrics()
		response["bus"] = map[string]any{
			"published":        metrics.Published,
			"delivered":        metrics.Delivered,
			"handler_failures": metrics.HandlerFailures,
		}
	}

	response["websocket_clients"] = g.hub.ClientCount()

	writeJSON(w, http.StatusOK, response)
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if g.metrics == nil {
		http.Error(w, "metrics exporter not configured", http.StatusServiceUnavailable)
		return
	}

	payload := g.metrics.Export()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(payload); err != nil {
		g.logger.Printf("[Gateway] failed to write metrics response: %v", err)
	}
}

type textInputRequest struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (g *Gateway) handleTextInput(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if g.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus unavailable")
		return
	}

	var req textInputRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTextInputBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	metadata, err := sanitize.NormalizeAndValidateMetadata(req.Metadata, sanitize.DefaultMetadataLimits())
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid metadata: %v", err))
		return
	}

	correlationID := uuid.NewString()
	err = eventbus.PublishWithOpts(r.Context(), g.bus, eventbus.Conversation.TextInput, eventbus.SourceGateway,
		eventbus.TextInputEvent{Text: text, Metadata: metadata},
		eventbus.WithCorrelationID(correlationID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("publish text input: %v", err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":         "accepted",
		"correlation_id": correlationID,
	})
}

func (g *Gateway) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if g.dialogue == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation module unavailable")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	history := g.dialogue.History()
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(history),
		"messages": history,
	})
}

func (g *Gateway) handleDaemonShutdown(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	g.shutdownMu.RLock()
	shutdown := g.shutdownFn
	g.shutdownMu.RUnlock()

	if shutdown == nil {
		writeError(w, http.StatusNotImplemented, "daemon shutdown not available")
		return
	}

	// Trigger shutdown asynchronously so we can return 202 immediately.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			g.logger.Printf("[Gateway] shutdown handler returned error: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "shutting_down",
		"message": "daemon shutdown initiated",
	})
}
