// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-levelmeter/internal/capture"
	"github.com/oszuidwest/zwfm-levelmeter/internal/meter"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
	"github.com/oszuidwest/zwfm-levelmeter/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort         = 8080
	DefaultBackend         = string(capture.BackendNative)
	DefaultToneHz          = 1000.0
	DefaultToneAmplitude   = 0.5
	DefaultTargetDB        = 70.0
	DefaultPeakHoldMs      = 3000
	DefaultAlertHoldMs     = 5000 // 5 seconds in milliseconds
	DefaultAlertRecoveryMs = 3000 // 3 seconds in milliseconds
	DefaultStationName     = "ZuidWest FM"
	DefaultZabbixPort      = 10051
	DefaultMetricsInterval = 5000
)

// stationNamePattern accepts printable characters only, which keeps CRLF out of e-mail subjects.
var stationNamePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)

// validate checks the struct tags below.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port                int    `json:"port" validate:"gte=1,lte=65535"` // HTTP server port
	APIKey              string `json:"api_key" validate:"omitempty,min=16,max=128"`
	FFmpegPath          string `json:"ffmpeg_path" validate:"omitempty,max=4096"` // Path to FFmpeg binary (empty = use PATH)
	DisableVersionCheck bool   `json:"disable_version_check"`
	EventLogPath        string `json:"event_log_path" validate:"omitempty,max=4096"` // Event log file (empty = platform default)
}

// AudioConfig holds capture source settings.
type AudioConfig struct {
	Backend       string  `json:"backend" validate:"oneof=native command wav tone"`
	Device        string  `json:"device" validate:"omitempty,max=512"` // Device identifier (empty = platform default)
	SampleRate    int     `json:"sample_rate" validate:"gte=8000,lte=192000"`
	BlockSize     int     `json:"block_size" validate:"gte=64,lte=65536"`
	WAVPath       string  `json:"wav_path" validate:"required_if=Backend wav,max=4096"`
	WAVLoop       bool    `json:"wav_loop"`
	ToneHz        float64 `json:"tone_hz" validate:"gt=0,lte=20000"`
	ToneAmplitude float64 `json:"tone_amplitude" validate:"gte=0,lte=1"`
}

// MeterConfig holds the dB conversion constants and the target level.
type MeterConfig struct {
	ReferenceLevel float64 `json:"reference_level" validate:"gt=0"`
	OffsetDB       float64 `json:"offset_db" validate:"gte=-200,lte=200"`
	PeakOffsetDB   float64 `json:"peak_offset_db" validate:"gte=-200,lte=200"`
	MinLinear      float64 `json:"min_linear" validate:"gt=0,lt=1"`
	TargetDB       float64 `json:"target_db" validate:"gte=-200,lte=200"`
	PeakHoldMs     int64   `json:"peak_hold_ms" validate:"gte=0,lte=60000"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"` // Webhook URL for level alerts
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path" validate:"omitempty,max=4096"` // Log file path for level alerts
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`     // Azure AD tenant ID
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`     // App registration client ID
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"` // App registration client secret
	FromAddress  string `json:"from_address" validate:"omitempty,email"`    // Shared mailbox sender address
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`   // Comma-separated recipient addresses
}

// ZabbixConfig holds Zabbix trapper settings.
type ZabbixConfig struct {
	Server string `json:"server" validate:"omitempty,max=253"`
	Port   int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Host   string `json:"host" validate:"omitempty,max=253"`
	Key    string `json:"key" validate:"omitempty,max=256"`
}

// AlertsConfig holds the threshold monitor timing and its notification channels.
type AlertsConfig struct {
	Enabled     bool          `json:"enabled"`
	HoldMs      int64         `json:"hold_ms" validate:"gte=0,lte=3600000"`     // Time above target before alerting
	RecoveryMs  int64         `json:"recovery_ms" validate:"gte=0,lte=3600000"` // Time below target before recovery
	StationName string        `json:"station_name" validate:"min=1,max=30"`
	Webhook     WebhookConfig `json:"webhook"`
	Log         LogConfig     `json:"log"`
	Email       EmailConfig   `json:"email"`
	Zabbix      ZabbixConfig  `json:"zabbix"`
}

// MetricsConfig holds Prometheus exporter settings.
type MetricsConfig struct {
	Enabled    bool  `json:"enabled"`
	IntervalMs int64 `json:"interval_ms" validate:"gte=100,lte=600000"` // Counter sampling interval
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System  SystemConfig  `json:"system"`
	Audio   AudioConfig   `json:"audio"`
	Meter   MeterConfig   `json:"meter"`
	Alerts  AlertsConfig  `json:"alerts"`
	Metrics MetricsConfig `json:"metrics"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	cal := meter.DefaultCalibration()
	return &Config{
		System: SystemConfig{
			Port: DefaultWebPort,
		},
		Audio: AudioConfig{
			Backend:       DefaultBackend,
			SampleRate:    capture.DefaultSampleRate,
			BlockSize:     capture.DefaultBlockSize,
			ToneHz:        DefaultToneHz,
			ToneAmplitude: DefaultToneAmplitude,
		},
		Meter: MeterConfig{
			ReferenceLevel: cal.ReferenceLevel,
			OffsetDB:       cal.OffsetDB,
			PeakOffsetDB:   cal.PeakOffsetDB,
			MinLinear:      cal.MinLinear,
			TargetDB:       DefaultTargetDB,
			PeakHoldMs:     DefaultPeakHoldMs,
		},
		Alerts: AlertsConfig{
			HoldMs:      DefaultAlertHoldMs,
			RecoveryMs:  DefaultAlertRecoveryMs,
			StationName: DefaultStationName,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			IntervalMs: DefaultMetricsInterval,
		},
		filePath: filePath,
	}
}

// Path returns the file the configuration is persisted to.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists.
// Fields missing from the file keep their defaults.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validateLocked()
}

// Validate checks all configuration fields for correctness.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validateLocked()
}

// validateLocked checks all configuration fields. Caller must hold c.mu.
func (c *Config) validateLocked() error {
	verr := types.NewValidationError()
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return util.WrapError("validate config", err)
		}
		for _, e := range fieldErrs {
			verr.Add(fieldPath(e.Namespace()), FormatValidationMessage(e), e.Value())
		}
	}
	if !stationNamePattern.MatchString(c.Alerts.StationName) {
		verr.Add("alerts.station_name", "must contain printable characters only", c.Alerts.StationName)
	}
	if verr.HasErrors() {
		return fmt.Errorf("invalid config: %w", verr)
	}
	return nil
}

// fieldPath turns a validator namespace ("Config.meter.target_db") into a JSON path.
func fieldPath(namespace string) string {
	_, path, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return path
}

// FormatValidationMessage creates a human-readable message from a validator error.
func FormatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// applyDefaults sets default values for zero-value fields that cannot legitimately be zero.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.Audio.Backend == "" {
		c.Audio.Backend = DefaultBackend
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = capture.DefaultSampleRate
	}
	if c.Audio.BlockSize == 0 {
		c.Audio.BlockSize = capture.DefaultBlockSize
	}
	if c.Audio.ToneHz == 0 {
		c.Audio.ToneHz = DefaultToneHz
	}
	cal := meter.DefaultCalibration()
	if c.Meter.ReferenceLevel == 0 {
		c.Meter.ReferenceLevel = cal.ReferenceLevel
	}
	if c.Meter.MinLinear == 0 {
		c.Meter.MinLinear = cal.MinLinear
	}
	if c.Alerts.StationName == "" {
		c.Alerts.StationName = DefaultStationName
	}
	if c.Alerts.Zabbix.Server != "" && c.Alerts.Zabbix.Port == 0 {
		c.Alerts.Zabbix.Port = DefaultZabbixPort
	}
	if c.Metrics.IntervalMs == 0 {
		c.Metrics.IntervalMs = DefaultMetricsInterval
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Getters for individual settings ---

// APIKey returns the key required by the control endpoints.
func (c *Config) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// FFmpegPath returns the configured FFmpeg binary path.
func (c *Config) FFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// GraphConfig returns a copy of the current Graph/Email configuration.
func (c *Config) GraphConfig() types.GraphConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.GraphConfig{
		TenantID:     c.Alerts.Email.TenantID,
		ClientID:     c.Alerts.Email.ClientID,
		ClientSecret: c.Alerts.Email.ClientSecret,
		FromAddress:  c.Alerts.Email.FromAddress,
		Recipients:   c.Alerts.Email.Recipients,
	}
}

// Calibration returns the dB conversion constants.
func (c *Config) Calibration() meter.Calibration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calibrationLocked()
}

func (c *Config) calibrationLocked() meter.Calibration {
	return meter.Calibration{
		ReferenceLevel: c.Meter.ReferenceLevel,
		OffsetDB:       c.Meter.OffsetDB,
		PeakOffsetDB:   c.Meter.PeakOffsetDB,
		MinLinear:      c.Meter.MinLinear,
	}
}

// CaptureConfig returns the capture source settings.
func (c *Config) CaptureConfig() capture.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.captureLocked()
}

func (c *Config) captureLocked() capture.Config {
	return capture.Config{
		Backend:       capture.Backend(c.Audio.Backend),
		Device:        c.Audio.Device,
		SampleRate:    c.Audio.SampleRate,
		BlockSize:     c.Audio.BlockSize,
		FFmpegPath:    c.System.FFmpegPath,
		WAVPath:       c.Audio.WAVPath,
		WAVLoop:       c.Audio.WAVLoop,
		ToneHz:        c.Audio.ToneHz,
		ToneAmplitude: c.Audio.ToneAmplitude,
	}
}

// --- Setters for individual settings ---

// SetTargetDB updates the persisted target level and saves the configuration.
func (c *Config) SetTargetDB(db float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Meter.TargetDB = db
	return c.saveLocked()
}

// SetAlertTiming updates the alert hold and recovery times and saves the configuration.
func (c *Config) SetAlertTiming(holdMs, recoveryMs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Alerts.HoldMs = holdMs
	c.Alerts.RecoveryMs = recoveryMs
	return c.saveLocked()
}

// SetAlertsEnabled turns the threshold monitor on or off and saves the configuration.
func (c *Config) SetAlertsEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Alerts.Enabled = enabled
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Alerts.Webhook.URL = url
	return c.saveLocked()
}

// SetLogPath updates the alert log path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Alerts.Log.Path = path
	return c.saveLocked()
}

// SetGraphConfig updates all Microsoft Graph/Email configuration fields and saves.
func (c *Config) SetGraphConfig(g types.GraphConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Alerts.Email = EmailConfig(g)
	return c.saveLocked()
}

// SetZabbixConfig updates the Zabbix trapper settings and saves the configuration.
func (c *Config) SetZabbixConfig(z ZabbixConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if z.Server != "" && z.Port == 0 {
		z.Port = DefaultZabbixPort
	}
	c.Alerts.Zabbix = z
	return c.saveLocked()
}

// SetAPIKey updates the API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort             int
	APIKey              string
	FFmpegPath          string
	DisableVersionCheck bool
	EventLogPath        string

	// Audio
	Capture capture.Config

	// Meter
	Calibration meter.Calibration
	TargetDB    float64
	PeakHoldMs  int64

	// Alerts
	AlertsEnabled   bool
	AlertHoldMs     int64
	AlertRecoveryMs int64
	StationName     string
	WebhookURL      string
	LogPath         string
	Graph           types.GraphConfig
	ZabbixServer    string
	ZabbixPort      int
	ZabbixHost      string
	ZabbixKey       string

	// Metrics
	MetricsEnabled    bool
	MetricsIntervalMs int64
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		WebPort:             c.System.Port,
		APIKey:              c.System.APIKey,
		FFmpegPath:          c.System.FFmpegPath,
		DisableVersionCheck: c.System.DisableVersionCheck,
		EventLogPath:        c.System.EventLogPath,

		Capture: c.captureLocked(),

		Calibration: c.calibrationLocked(),
		TargetDB:    c.Meter.TargetDB,
		PeakHoldMs:  c.Meter.PeakHoldMs,

		AlertsEnabled:   c.Alerts.Enabled,
		AlertHoldMs:     c.Alerts.HoldMs,
		AlertRecoveryMs: c.Alerts.RecoveryMs,
		StationName:     cmp.Or(c.Alerts.StationName, DefaultStationName),
		WebhookURL:      c.Alerts.Webhook.URL,
		LogPath:         c.Alerts.Log.Path,
		Graph:           types.GraphConfig(c.Alerts.Email),
		ZabbixServer:    c.Alerts.Zabbix.Server,
		ZabbixPort:      cmp.Or(c.Alerts.Zabbix.Port, DefaultZabbixPort),
		ZabbixHost:      c.Alerts.Zabbix.Host,
		ZabbixKey:       c.Alerts.Zabbix.Key,

		MetricsEnabled:    c.Metrics.Enabled,
		MetricsIntervalMs: cmp.Or(c.Metrics.IntervalMs, DefaultMetricsInterval),
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return s.Graph.TenantID != "" && s.Graph.ClientID != "" && s.Graph.ClientSecret != "" &&
		s.Graph.FromAddress != "" && s.Graph.Recipients != ""
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasZabbix reports whether Zabbix notifications are configured.
func (s *Snapshot) HasZabbix() bool {
	return s.ZabbixServer != "" && s.ZabbixHost != "" && s.ZabbixKey != ""
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
