package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-levelmeter/internal/alert"
	"github.com/oszuidwest/zwfm-levelmeter/internal/config"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

// MaxLogEntries is the maximum number of alert log entries returned to a client.
const MaxLogEntries = 100

var errUnknownCommand = errors.New("unknown command")

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Meter is the level tracker as seen by the command handlers.
type Meter interface {
	Start() error
	Stop() error
	SetTargetLevel(db float64) error
	TargetLevel() float64
	Status() types.MeterStatus
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg      *config.Config
	meter    Meter
	notifier *alert.Notifier
	expiry   *alert.SecretExpiryChecker
}

// NewCommandHandler creates a new command handler. expiry may be nil.
func NewCommandHandler(cfg *config.Config, m Meter, notifier *alert.Notifier, expiry *alert.SecretExpiryChecker) *CommandHandler {
	return &CommandHandler{
		cfg:      cfg,
		meter:    m,
		notifier: notifier,
		expiry:   expiry,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "meter/start", "alerts/webhook/test")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "meter":
		h.handleMeter(action, cmd, send, triggerStatusUpdate)
	case "alerts":
		h.handleAlerts(action, subaction, cmd, send)
	case "system":
		h.handleSystem(action, cmd, send)
	case "status":
		h.handleStatus(action, send)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		SendError(send, cmd.Type, errUnknownCommand)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleMeter routes meter/* commands
func (h *CommandHandler) handleMeter(action string, cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	switch action {
	case "start":
		HandleActionAsync(cmd, send, func() (any, error) {
			defer triggerStatusUpdate()
			if err := h.meter.Start(); err != nil {
				return nil, err
			}
			return h.meter.Status(), nil
		})
	case "stop":
		HandleActionAsync(cmd, send, func() (any, error) {
			defer triggerStatusUpdate()
			if err := h.meter.Stop(); err != nil {
				return nil, err
			}
			return h.meter.Status(), nil
		})
	case "target":
		HandleCommand(cmd, send, func(req *TargetRequest) error {
			return h.setTarget(*req.TargetDB)
		})
	default:
		slog.Warn("unknown meter action", "action", action)
		SendError(send, cmd.Type, errUnknownCommand)
	}
}

// setTarget applies a new target level and persists it.
func (h *CommandHandler) setTarget(db float64) error {
	if err := h.meter.SetTargetLevel(db); err != nil {
		return err
	}
	if err := h.cfg.SetTargetDB(db); err != nil {
		slog.Warn("target level applied but not saved", "target_db", db, "error", err)
		return err
	}
	slog.Info("target level updated", "target_db", db)
	return nil
}

// handleSystem routes system/* commands
func (h *CommandHandler) handleSystem(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "regenerate-key":
		key, err := config.GenerateAPIKey()
		if err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		if err := h.cfg.SetAPIKey(key); err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		slog.Info("API key regenerated")
		SendSuccess(send, cmd.Type, map[string]string{"api_key": key})
	default:
		slog.Warn("unknown system action", "action", action)
		SendError(send, cmd.Type, errUnknownCommand)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string, send chan<- any) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
