package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/oszuidwest/zwfm-levelmeter/internal/alert"
	"github.com/oszuidwest/zwfm-levelmeter/internal/config"
	"github.com/oszuidwest/zwfm-levelmeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelmeter/internal/meter"
	"github.com/oszuidwest/zwfm-levelmeter/internal/metrics"
	"github.com/oszuidwest/zwfm-levelmeter/internal/server"
	"github.com/oszuidwest/zwfm-levelmeter/internal/tracker"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

// levelsInterval caps how often a WebSocket client receives level updates.
const levelsInterval = 50 * time.Millisecond

// Server is the HTTP and WebSocket front end of the level meter.
type Server struct {
	config   *config.Config
	tracker  *tracker.Tracker
	monitor  *alert.Monitor
	metrics  *metrics.Collector
	commands *server.CommandHandler
	version  *VersionChecker
	expiry   *alert.SecretExpiryChecker
	events   *eventlog.Logger
	devices  *deviceCache
}

// NewServer returns a new Server. metrics and events may be nil when disabled.
func NewServer(cfg *config.Config, t *tracker.Tracker, monitor *alert.Monitor, notifier *alert.Notifier, m *metrics.Collector, events *eventlog.Logger) *Server {
	expiry := alert.NewSecretExpiryChecker(cfg.GraphConfig())
	return &Server{
		config:   cfg,
		tracker:  t,
		monitor:  monitor,
		metrics:  m,
		commands: server.NewCommandHandler(cfg, t, notifier, expiry),
		version:  NewVersionChecker(),
		expiry:   expiry,
		events:   events,
		devices:  newDeviceCache(),
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go s.runWebSocketWriter(conn, send)
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes level updates as readings are published and
// the full status periodically.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	sub := s.tracker.Subscribe()
	defer sub.Close()

	levelsTicker := time.NewTicker(levelsInterval)
	statusTicker := time.NewTicker(types.StatusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	// Each client holds its own peak so reconnecting starts from the floor.
	_, floor := s.tracker.Calibration().Floor()
	holder := meter.NewPeakHolder(floor)
	holder.SetHoldDuration(time.Duration(s.config.Snapshot().PeakHoldMs) * time.Millisecond)

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		close(send)
		return
	}

	var lastSeq uint64
	dirty := false
	for {
		select {
		case <-done:
			close(send)
			return
		case <-sub.C:
			if r, ok := s.tracker.Latest(); ok && r.Sequence != lastSeq {
				holder.Update(r.PeakDB, r.At)
				lastSeq = r.Sequence
			} else if !ok {
				holder.Reset()
				lastSeq = 0
			}
			dirty = true
		case <-levelsTicker.C:
			if !dirty {
				continue
			}
			dirty = false
			if !trySend(types.WSLevelsResponse{Type: "levels", Levels: s.levels(holder)}) {
				close(send)
				return
			}
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		}
	}
}

// levels returns the live values with the peak held by holder.
func (s *Server) levels(holder *meter.PeakHolder) types.Levels {
	target := s.tracker.TargetLevel()
	r, ok := s.tracker.Latest()
	if !ok {
		r.RMSDB, r.PeakDB = s.tracker.Calibration().Floor()
	}
	return types.Levels{
		RMSDB:      r.RMSDB,
		PeakDB:     r.PeakDB,
		HeldPeakDB: max(holder.Held(), r.PeakDB),
		TargetDB:   target,
		Verdict:    types.Verdict(meter.Compare(r, target)),
		Sequence:   r.Sequence,
		Recording:  s.tracker.IsRecording(),
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()

	resp := types.WSStatusResponse{
		Type:     "status",
		Meter:    s.tracker.Status(),
		Alerts:   s.monitor.Status(),
		Devices:  s.devices.Get(cfg.Capture.Backend),
		Version:  s.version.Info(),
		Platform: runtime.GOOS,
	}
	if cfg.HasGraph() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		info := s.expiry.Info(ctx)
		cancel()
		resp.SecretExpiry = &info
	}
	return resp
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Read-only routes
	mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	mux.HandleFunc("GET /api/devices", s.handleAPIDevices)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Control routes (API key auth)
	mux.HandleFunc("POST /api/meter/start", s.apiKeyAuth(s.handleAPIStart))
	mux.HandleFunc("POST /api/meter/stop", s.apiKeyAuth(s.handleAPIStop))
	mux.HandleFunc("POST /api/meter/target", s.apiKeyAuth(s.handleAPITarget))
	mux.HandleFunc("GET /api/alerts/log", s.apiKeyAuth(s.handleAPIAlertLog))
	mux.HandleFunc("GET /api/events", s.apiKeyAuth(s.handleAPIEvents))
	mux.HandleFunc("/ws", s.apiKeyAuth(s.handleWebSocket))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth returns middleware for API key authentication. Browsers cannot
// set headers on WebSocket upgrades, so the key is also accepted as ?key=.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.APIKey()
		if apiKey == "" {
			http.Error(w, "API key not configured", http.StatusServiceUnavailable)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Start begins listening for HTTP requests and blocks until ctx is done,
// then shuts the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // WebSocket connections are long-lived
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting web server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), types.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	return nil
}
