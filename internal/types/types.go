// Package types provides shared type definitions used across the level meter.
package types

import (
	"time"
)

// MeterState represents the current state of the level tracker.
type MeterState string

const (
	// StateStopped indicates no capture session is active.
	StateStopped MeterState = "stopped"
	// StateRecording indicates a capture session is delivering blocks.
	StateRecording MeterState = "recording"
)

const (
	// InitialRetryDelay is the starting delay between capture restart attempts.
	InitialRetryDelay = 3000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between capture restart attempts.
	MaxRetryDelay = 60000 * time.Millisecond
	// MaxRetries is the maximum number of restart attempts for a capture process.
	MaxRetries = 10
	// SuccessThreshold is the run duration after which the retry count resets.
	SuccessThreshold = 30000 * time.Millisecond
)

const (
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
	// StatusInterval is how often websocket clients receive a status update.
	StatusInterval = 3000 * time.Millisecond
)

// Verdict is the comparison of the live level with the target level.
type Verdict string

const (
	// VerdictAbove means the RMS level reached the target.
	VerdictAbove Verdict = "above"
	// VerdictBelow means the RMS level is under the target.
	VerdictBelow Verdict = "below"
)

// MeterStats contains the tracker's hot-path counters.
type MeterStats struct {
	BlocksReceived  uint64 `json:"blocks_received"`  // Blocks handed to the tracker
	BlocksPublished uint64 `json:"blocks_published"` // Readings published to observers
	EmptyBlocks     uint64 `json:"empty_blocks"`     // Blocks dropped for having no samples
	LateBlocks      uint64 `json:"late_blocks"`      // Blocks rejected because the session had ended
	Panics          uint64 `json:"panics"`           // Blocks dropped after a recovered panic
}

// MeterStatus contains a summary of the tracker's current operational state.
type MeterStatus struct {
	State     MeterState `json:"state"`               // Current tracker state
	Recording bool       `json:"recording"`           // Convenience mirror of State
	Backend   string     `json:"backend,omitzero"`    // Capture backend in use
	TargetDB  float64    `json:"target_db"`           // Target level in dB
	RMSDB     float64    `json:"rms_db"`              // Latest RMS level in dB
	PeakDB    float64    `json:"peak_db"`             // Latest peak level in dB
	Sequence  uint64     `json:"sequence"`            // Sequence number of the latest reading
	HasLevels bool       `json:"has_levels"`          // A reading was published this session
	Uptime    string     `json:"uptime,omitzero"`     // Time since start
	LastError string     `json:"last_error,omitzero"` // Most recent start or capture error
	Stats     MeterStats `json:"stats"`               // Hot-path counters
}

// Levels contains the live values pushed to observers.
type Levels struct {
	RMSDB      float64 `json:"rms_db"`       // RMS level in dB
	PeakDB     float64 `json:"peak_db"`      // Peak level in dB
	HeldPeakDB float64 `json:"held_peak_db"` // Peak held for the display hold time
	TargetDB   float64 `json:"target_db"`    // Current target level in dB
	Verdict    Verdict `json:"verdict"`      // Comparison with the target
	Sequence   uint64  `json:"sequence"`     // Reading sequence within the session
	Recording  bool    `json:"recording"`    // Whether a session is active
}

// AlertState represents the threshold monitor state.
type AlertState string

const (
	// AlertIdle indicates the level is within target.
	AlertIdle AlertState = "idle"
	// AlertActive indicates the level has stayed above target for the hold time.
	AlertActive AlertState = "active"
)

// AlertStatus contains the threshold monitor state for status responses.
type AlertStatus struct {
	Enabled    bool       `json:"enabled"`              // Monitor is running
	State      AlertState `json:"state"`                // Current alert state
	DurationMs int64      `json:"duration_ms,omitzero"` // Time above target in the current episode
	Episodes   uint64     `json:"episodes"`             // Episodes detected since start
}

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	ID        string `json:"id"`                   // Device identifier
	Name      string `json:"name"`                 // Device display name
	IsDefault bool   `json:"is_default,omitzero"` // Platform default input
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// AlertLogEntry represents a single entry in the alert log.
type AlertLogEntry struct {
	Timestamp  string  `json:"timestamp"`             // RFC3339 timestamp
	Event      string  `json:"event"`                 // Event type (level_high, level_recovered, test)
	LevelDB    float64 `json:"level_db"`              // RMS level in dB when the event fired
	TargetDB   float64 `json:"target_db"`             // Target level in dB
	DurationMs int64   `json:"duration_ms,omitempty"` // Episode duration (level_recovered only)
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}

// WSLevelsResponse is sent to clients with live level updates.
type WSLevelsResponse struct {
	Type   string `json:"type"`   // Message type identifier
	Levels Levels `json:"levels"` // Current levels
}

// WSStatusResponse is sent to clients with the full meter status.
type WSStatusResponse struct {
	Type     string        `json:"type"`     // Message type identifier
	Meter    MeterStatus   `json:"meter"`    // Tracker status
	Alerts   AlertStatus   `json:"alerts"`   // Threshold monitor status
	Devices  []AudioDevice `json:"devices"`  // Available audio devices
	Version  VersionInfo   `json:"version"`  // Version information
	Platform string        `json:"platform"` // Operating system platform

	SecretExpiry *SecretExpiryInfo `json:"secret_expiry,omitempty"` // Graph client secret expiry, when email is configured
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

// SecretExpiryInfo contains the Graph client secret expiration state.
type SecretExpiryInfo struct {
	ExpiresAt   string `json:"expires_at,omitempty"` // RFC3339 expiry of the earliest secret
	ExpiresSoon bool   `json:"expires_soon"`         // Expires within the warning window
	DaysLeft    int    `json:"days_left"`            // Whole days until expiry
	Error       string `json:"error,omitempty"`      // Why the expiry could not be determined
}
