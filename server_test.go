package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-levelmeter/internal/alert"
	"github.com/oszuidwest/zwfm-levelmeter/internal/capture"
	"github.com/oszuidwest/zwfm-levelmeter/internal/config"
	"github.com/oszuidwest/zwfm-levelmeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelmeter/internal/metrics"
	"github.com/oszuidwest/zwfm-levelmeter/internal/tracker"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

const testAPIKey = "test-key-0123456789"

// fakeSource hands the tracker's callback to the test goroutine.
type fakeSource struct {
	mu sync.Mutex
	fn capture.BlockFunc
}

func (f *fakeSource) Open(fn capture.BlockFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = nil
	return nil
}

func (f *fakeSource) push(amplitude float32) {
	block := make([]float32, 256)
	for i := range block {
		block[i] = amplitude
	}
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(block, len(block))
	}
}

type testEnv struct {
	cfg     *config.Config
	src     *fakeSource
	tracker *tracker.Tracker
	srv     *Server
	http    *httptest.Server
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	cfg.Audio.Backend = string(capture.BackendTone)
	if apiKey != "" {
		require.NoError(t, cfg.SetAPIKey(apiKey))
	}

	src := &fakeSource{}
	tr := tracker.New(src, tracker.WithTarget(cfg.Snapshot().TargetDB), tracker.WithBackend("fake"))
	notifier := alert.NewNotifier(cfg)
	monitor := alert.NewMonitor(tr, cfg, notifier)

	events, err := eventlog.NewLogger(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	srv := NewServer(cfg, tr, monitor, notifier, metrics.New(), events)
	hs := httptest.NewServer(srv.SetupRoutes())
	t.Cleanup(func() {
		hs.Close()
		_ = tr.Stop()
	})

	return &testEnv{cfg: cfg, src: src, tracker: tr, srv: srv, http: hs}
}

func (e *testEnv) do(t *testing.T, method, path, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestAPIStatus(t *testing.T) {
	e := newTestEnv(t, testAPIKey)

	resp := e.do(t, http.MethodGet, "/api/status", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	var status types.APIStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, types.StateStopped, status.Meter.State)
	assert.False(t, status.Meter.HasLevels)
	assert.Equal(t, types.VerdictBelow, status.Verdict)
	assert.Equal(t, "dev", status.Version.Current)
}

func TestControlRequiresAPIKey(t *testing.T) {
	e := newTestEnv(t, "")
	resp := e.do(t, http.MethodPost, "/api/meter/start", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	e = newTestEnv(t, testAPIKey)
	resp = e.do(t, http.MethodPost, "/api/meter/start", "wrong-key", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, e.tracker.IsRecording())
}

func TestAPIStartStop(t *testing.T) {
	e := newTestEnv(t, testAPIKey)

	resp := e.do(t, http.MethodPost, "/api/meter/start", testAPIKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, e.tracker.IsRecording())

	resp = e.do(t, http.MethodPost, "/api/meter/start", testAPIKey, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	e.src.push(0.5)
	resp = e.do(t, http.MethodGet, "/api/status", "", "")
	var status types.APIStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Meter.HasLevels)
	assert.InDelta(t, 87.98, status.Meter.RMSDB, 0.01)
	assert.Equal(t, types.VerdictAbove, status.Verdict)

	resp = e.do(t, http.MethodPost, "/api/meter/stop", testAPIKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, e.tracker.IsRecording())

	resp = e.do(t, http.MethodPost, "/api/meter/stop", testAPIKey, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPITarget(t *testing.T) {
	e := newTestEnv(t, testAPIKey)

	resp := e.do(t, http.MethodPost, "/api/meter/target", testAPIKey, `{"target_db": 80}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 80, e.tracker.TargetLevel(), 1e-9)
	assert.InDelta(t, 80, e.cfg.Snapshot().TargetDB, 1e-9)

	resp = e.do(t, http.MethodPost, "/api/meter/target", testAPIKey, `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body struct {
		Fields []types.FieldError `json:"fields"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "target_db", body.Fields[0].Field)

	resp = e.do(t, http.MethodPost, "/api/meter/target", testAPIKey, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.InDelta(t, 80, e.tracker.TargetLevel(), 1e-9)
}

func TestAPIAlertLog(t *testing.T) {
	e := newTestEnv(t, testAPIKey)

	resp := e.do(t, http.MethodGet, "/api/alerts/log", testAPIKey, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	logPath := filepath.Join(t.TempDir(), "alerts.jsonl")
	require.NoError(t, e.cfg.SetLogPath(logPath))
	require.NoError(t, alert.LogLevelHigh(logPath, 75, 70))

	resp = e.do(t, http.MethodGet, "/api/alerts/log", testAPIKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Entries []types.AlertLogEntry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, alert.EventLevelHigh, body.Entries[0].Event)
}

func TestAPIEvents(t *testing.T) {
	e := newTestEnv(t, testAPIKey)
	require.NoError(t, e.srv.events.LogLevel(eventlog.LevelHigh, 75, 70, 5000))
	require.NoError(t, e.srv.events.LogMeter(eventlog.MeterStarted, "", eventlog.MeterDetails{Backend: "fake"}))

	resp := e.do(t, http.MethodGet, "/api/events?type=level", testAPIKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Events  []eventlog.Event `json:"events"`
		HasMore bool             `json:"has_more"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, eventlog.LevelHigh, body.Events[0].Type)
	assert.False(t, body.HasMore)

	resp = e.do(t, http.MethodGet, "/api/events?type=bogus", testAPIKey, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/api/events?limit=abc", testAPIKey, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsAndHealth(t *testing.T) {
	e := newTestEnv(t, testAPIKey)

	resp := e.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sb bytes.Buffer
	_, err := sb.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, sb.String(), "levelmeter_blocks_received_total")
}

// readUntil reads WebSocket messages until one has the wanted type.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == msgType {
			return msg
		}
	}
}

func TestWebSocket(t *testing.T) {
	e := newTestEnv(t, testAPIKey)
	wsURL := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?key="+testAPIKey, nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readUntil(t, conn, "status")
	meterStatus, ok := status["meter"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "stopped", meterStatus["state"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "meter/start"}))
	res := readUntil(t, conn, "meter/start_result")
	assert.Equal(t, true, res["success"])

	e.src.push(0.5)
	var lv map[string]any
	for lv == nil || lv["sequence"] == float64(0) {
		lv, ok = readUntil(t, conn, "levels")["levels"].(map[string]any)
		require.True(t, ok)
	}
	assert.InDelta(t, 87.98, lv["rms_db"], 0.01)
	assert.Equal(t, "above", lv["verdict"])
	assert.Equal(t, true, lv["recording"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "meter/target", "data": map[string]any{"target_db": 95}}))
	res = readUntil(t, conn, "meter/target_result")
	assert.Equal(t, true, res["success"])
	assert.InDelta(t, 95, e.tracker.TargetLevel(), 1e-9)
}
