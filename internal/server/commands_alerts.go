package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/oszuidwest/zwfm-levelmeter/internal/alert"
	"github.com/oszuidwest/zwfm-levelmeter/internal/config"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

// handleAlerts routes alerts/*/* commands
func (h *CommandHandler) handleAlerts(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		SendSuccess(send, cmd.Type, h.alertSettings())
	case "enabled":
		HandleCommand(cmd, send, func(req *AlertsEnabledRequest) error {
			return h.cfg.SetAlertsEnabled(*req.Enabled)
		})
	case "timing":
		HandleCommand(cmd, send, func(req *AlertTimingRequest) error {
			return h.cfg.SetAlertTiming(*req.HoldMs, *req.RecoveryMs)
		})
	case "webhook":
		switch subaction {
		case "update":
			HandleCommand(cmd, send, func(req *WebhookUpdateRequest) error {
				return h.cfg.SetWebhookURL(req.URL)
			})
		case "test":
			h.handleTest(send, "webhook")
		default:
			h.unknownSubaction(cmd, send)
		}
	case "log":
		switch subaction {
		case "update":
			HandleCommand(cmd, send, func(req *LogUpdateRequest) error {
				return h.cfg.SetLogPath(req.Path)
			})
		case "test":
			h.handleTest(send, "log")
		case "view":
			h.handleViewAlertLog(send)
		default:
			h.unknownSubaction(cmd, send)
		}
	case "email":
		switch subaction {
		case "update":
			HandleCommand(cmd, send, h.updateEmail)
		case "test":
			h.handleTest(send, "email")
		default:
			h.unknownSubaction(cmd, send)
		}
	case "zabbix":
		switch subaction {
		case "update":
			HandleCommand(cmd, send, func(req *ZabbixUpdateRequest) error {
				return h.cfg.SetZabbixConfig(config.ZabbixConfig(*req))
			})
		case "test":
			h.handleTest(send, "zabbix")
		default:
			h.unknownSubaction(cmd, send)
		}
	default:
		slog.Warn("unknown alerts action", "action", action)
		SendError(send, cmd.Type, errUnknownCommand)
	}
}

func (h *CommandHandler) unknownSubaction(cmd WSCommand, send chan<- any) {
	slog.Warn("unknown alerts subaction", "type", cmd.Type)
	SendError(send, cmd.Type, errUnknownCommand)
}

// updateEmail stores new Graph settings. An empty secret keeps the stored one.
func (h *CommandHandler) updateEmail(req *EmailUpdateRequest) error {
	g := types.GraphConfig(*req)
	if g.ClientSecret == "" {
		g.ClientSecret = h.cfg.GraphConfig().ClientSecret
	}
	if err := h.cfg.SetGraphConfig(g); err != nil {
		return err
	}
	h.notifier.InvalidateMailer()
	if h.expiry != nil {
		h.expiry.UpdateConfig(g)
	}
	return nil
}

// alertSettings returns the alert configuration without the client secret.
func (h *CommandHandler) alertSettings() types.AlertSettings {
	snap := h.cfg.Snapshot()
	return types.AlertSettings{
		Enabled:        snap.AlertsEnabled,
		HoldMs:         snap.AlertHoldMs,
		RecoveryMs:     snap.AlertRecoveryMs,
		StationName:    snap.StationName,
		WebhookURL:     snap.WebhookURL,
		LogPath:        snap.LogPath,
		EmailTenantID:  snap.Graph.TenantID,
		EmailClientID:  snap.Graph.ClientID,
		EmailHasSecret: snap.Graph.ClientSecret != "",
		EmailFrom:      snap.Graph.FromAddress,
		EmailTo:        snap.Graph.Recipients,
		ZabbixServer:   snap.ZabbixServer,
		ZabbixPort:     snap.ZabbixPort,
		ZabbixHost:     snap.ZabbixHost,
		ZabbixKey:      snap.ZabbixKey,
	}
}

// runTest sends a test notification on one channel.
func (h *CommandHandler) runTest(testType string) error {
	snap := h.cfg.Snapshot()
	switch testType {
	case "webhook":
		return alert.SendTestWebhook(snap.WebhookURL, snap.StationName)
	case "log":
		return alert.WriteTestLog(snap.LogPath)
	case "email":
		return alert.SendTestEmail(&snap.Graph, snap.StationName)
	case "zabbix":
		return alert.SendTestZabbix(snap.ZabbixServer, snap.ZabbixPort, snap.ZabbixHost, snap.ZabbixKey)
	default:
		return fmt.Errorf("unknown test type: %s", testType)
	}
}

// handleTest executes a notification test and sends the result to the client.
func (h *CommandHandler) handleTest(send chan<- any, testType string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "test", testType, "panic", r)
			}
		}()

		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := h.runTest(testType); err != nil {
			slog.Error("test failed", "test", testType, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "test", testType)
		}

		trySend(send, "test_"+testType, result)
	}()
}

// handleViewAlertLog reads the alert log and returns the newest entries.
func (h *CommandHandler) handleViewAlertLog(send chan<- any) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in alert log handler", "panic", r)
			}
		}()

		result := types.WSAlertLogResult{
			Type:    "alert_log_result",
			Success: true,
		}

		logPath := h.cfg.Snapshot().LogPath
		if logPath == "" {
			result.Success = false
			result.Error = "Log file path not configured"
		} else {
			entries, err := ReadAlertLog(logPath, MaxLogEntries)
			if err != nil {
				result.Success = false
				result.Error = err.Error()
			} else {
				result.Entries = entries
				result.Path = logPath
			}
		}

		trySend(send, "alert_log", result)
	}()
}

// ReadAlertLog reads the last maxEntries entries of the alert log, newest first.
func ReadAlertLog(logPath string, maxEntries int) ([]types.AlertLogEntry, error) {
	data, err := os.ReadFile(logPath)
	if errors.Is(err, os.ErrNotExist) {
		return []types.AlertLogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return []types.AlertLogEntry{}, nil
	}
	lines := strings.Split(trimmed, "\n")

	start := max(0, len(lines)-maxEntries)
	lines = lines[start:]

	entries := make([]types.AlertLogEntry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var entry types.AlertLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // Skip malformed entries
		}
		entries = append(entries, entry)
	}

	slices.Reverse(entries)

	return entries, nil
}
