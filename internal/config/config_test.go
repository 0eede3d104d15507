package config

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-levelmeter/internal/capture"
	"github.com/oszuidwest/zwfm-levelmeter/internal/meter"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	_, err := os.Stat(path)
	require.NoError(t, err, "missing config file must be created")

	snap := cfg.Snapshot()
	assert.Equal(t, DefaultWebPort, snap.WebPort)
	assert.Equal(t, capture.BackendNative, snap.Capture.Backend)
	assert.Equal(t, capture.DefaultSampleRate, snap.Capture.SampleRate)
	assert.Equal(t, meter.DefaultCalibration(), snap.Calibration)
	assert.InDelta(t, DefaultTargetDB, snap.TargetDB, 1e-9)
	assert.False(t, snap.AlertsEnabled)
	assert.True(t, snap.MetricsEnabled)
	assert.Equal(t, DefaultStationName, snap.StationName)

	require.NoError(t, cfg.Validate())
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	cfg := New(writeConfig(t, `{"meter": {"target_db": 80}, "audio": {"backend": "tone"}}`))
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.InDelta(t, 80, snap.TargetDB, 1e-9)
	assert.Equal(t, capture.BackendTone, snap.Capture.Backend)
	assert.InDelta(t, meter.CalibrationOffsetDB, snap.Calibration.OffsetDB, 1e-9)
	assert.InDelta(t, DefaultToneHz, snap.Capture.ToneHz, 1e-9)
	assert.Equal(t, int64(DefaultAlertHoldMs), snap.AlertHoldMs)
}

func TestLoadKeepsExplicitZeroOffset(t *testing.T) {
	cfg := New(writeConfig(t, `{"meter": {"offset_db": 0, "peak_offset_db": 0}}`))
	require.NoError(t, cfg.Load())

	cal := cfg.Calibration()
	assert.Zero(t, cal.OffsetDB)
	assert.Zero(t, cal.PeakOffsetDB)
	assert.InDelta(t, meter.ReferenceLevel, cal.ReferenceLevel, 1e-12)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"unknown backend", `{"audio": {"backend": "alsa"}}`, "audio.backend"},
		{"wav without path", `{"audio": {"backend": "wav"}}`, "audio.wav_path"},
		{"target out of range", `{"meter": {"target_db": 900}}`, "meter.target_db"},
		{"bad webhook", `{"alerts": {"webhook": {"url": "not a url"}}}`, "alerts.webhook.url"},
		{"station name control chars", `{"alerts": {"station_name": "ZuidWest\nFM"}}`, "alerts.station_name"},
		{"short api key", `{"system": {"api_key": "short"}}`, "system.api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(writeConfig(t, tt.content)).Load()
			require.Error(t, err)

			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			fields := make([]string, 0, len(verr.Errors))
			for _, fe := range verr.Errors {
				fields = append(fields, fe.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	err := New(writeConfig(t, `{"meter": `)).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestSettersPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	require.NoError(t, cfg.SetTargetDB(77.5))
	require.NoError(t, cfg.SetAlertTiming(1000, 2000))
	require.NoError(t, cfg.SetAlertsEnabled(true))
	require.NoError(t, cfg.SetWebhookURL("https://hooks.example.org/level"))
	require.NoError(t, cfg.SetLogPath("/var/log/levelmeter/alerts.jsonl"))
	require.NoError(t, cfg.SetZabbixConfig(ZabbixConfig{Server: "zabbix.local", Host: "fm", Key: "level"}))
	require.NoError(t, cfg.SetGraphConfig(types.GraphConfig{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		FromAddress:  "alerts@example.org",
		Recipients:   "ops@example.org",
	}))
	require.NoError(t, cfg.SetAPIKey("0123456789abcdef0123"))

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	snap := reloaded.Snapshot()

	assert.InDelta(t, 77.5, snap.TargetDB, 1e-9)
	assert.Equal(t, int64(1000), snap.AlertHoldMs)
	assert.Equal(t, int64(2000), snap.AlertRecoveryMs)
	assert.True(t, snap.AlertsEnabled)
	assert.Equal(t, DefaultZabbixPort, snap.ZabbixPort)
	assert.Equal(t, "0123456789abcdef0123", reloaded.APIKey())
	assert.Equal(t, "secret", reloaded.GraphConfig().ClientSecret)

	assert.True(t, snap.HasWebhook())
	assert.True(t, snap.HasLogPath())
	assert.True(t, snap.HasZabbix())
	assert.True(t, snap.HasGraph())
}

func TestSnapshotUnconfiguredChannels(t *testing.T) {
	snap := New(filepath.Join(t.TempDir(), "config.json")).Snapshot()
	assert.False(t, snap.HasWebhook())
	assert.False(t, snap.HasLogPath())
	assert.False(t, snap.HasZabbix())
	assert.False(t, snap.HasGraph())
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey()
	require.NoError(t, err)
	b, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[a-zA-Z0-9]{32}$`), a)
	assert.NotEqual(t, a, b)
}
