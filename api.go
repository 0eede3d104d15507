package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oszuidwest/zwfm-levelmeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelmeter/internal/meter"
	"github.com/oszuidwest/zwfm-levelmeter/internal/server"
	"github.com/oszuidwest/zwfm-levelmeter/internal/tracker"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

// maxRequestBody bounds the size of JSON request bodies.
const maxRequestBody = 64 << 10

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseJSON reads, parses and validates JSON from the request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	if err := server.ValidateRequest(&v); err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error(), "fields": verr.Errors})
		} else {
			s.writeError(w, http.StatusBadRequest, err.Error())
		}
		return v, false
	}
	return v, true
}

// handleAPIStatus returns the meter and alert status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.tracker.Status()
	verdict := meter.Compare(meter.Reading{RMSDB: status.RMSDB}, status.TargetDB)

	s.writeJSON(w, http.StatusOK, types.APIStatusResponse{
		Meter:   status,
		Alerts:  s.monitor.Status(),
		Verdict: types.Verdict(verdict),
		Version: s.version.Info(),
	})
}

// handleAPIDevices lists the input devices of the configured backend again
// and returns them.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, _ *http.Request) {
	backend := s.config.Snapshot().Capture.Backend
	s.writeJSON(w, http.StatusOK, map[string]any{
		"backend": backend,
		"devices": s.devices.Refresh(backend),
	})
}

// handleHealth reports liveness. A stopped meter is still healthy.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"recording": s.tracker.IsRecording(),
	})
}

// handleAPIStart starts the meter.
// POST /api/meter/start
func (s *Server) handleAPIStart(w http.ResponseWriter, _ *http.Request) {
	err := s.tracker.Start()
	switch {
	case errors.Is(err, tracker.ErrAlreadyRecording):
		s.writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, s.tracker.Status())
	}
}

// handleAPIStop stops the meter. Stopping a stopped meter succeeds.
// POST /api/meter/stop
func (s *Server) handleAPIStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.tracker.Stop(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.tracker.Status())
}

// handleAPITarget sets and persists the target level.
// POST /api/meter/target
func (s *Server) handleAPITarget(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[server.TargetRequest](s, w, r)
	if !ok {
		return
	}

	if err := s.tracker.SetTargetLevel(*req.TargetDB); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.config.SetTargetDB(*req.TargetDB); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("target level updated", "target_db", *req.TargetDB)
	s.writeJSON(w, http.StatusOK, map[string]float64{"target_db": s.tracker.TargetLevel()})
}

// handleAPIAlertLog returns the newest alert log entries.
// GET /api/alerts/log
func (s *Server) handleAPIAlertLog(w http.ResponseWriter, _ *http.Request) {
	logPath := s.config.Snapshot().LogPath
	if logPath == "" {
		s.writeError(w, http.StatusNotFound, "Log file path not configured")
		return
	}

	entries, err := server.ReadAlertLog(logPath, server.MaxLogEntries)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"path":    logPath,
		"entries": entries,
	})
}

// handleAPIEvents returns a page of the event log, newest first.
// GET /api/events?limit=50&offset=0&type=meter|level
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusNotFound, "Event log not available")
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), 50)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	filter := eventlog.TypeFilter(q.Get("type"))
	switch filter {
	case eventlog.FilterAll, eventlog.FilterMeter, eventlog.FilterLevel:
	default:
		s.writeError(w, http.StatusBadRequest, "type must be meter or level")
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.events.Path(), limit, offset, filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"has_more": hasMore,
	})
}

// queryInt parses an optional integer query parameter.
func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
