package types

// WSCommandResult is the standard response for command execution.
// Used by slash-style commands (meter/start, meter/target, etc.)
type WSCommandResult struct {
	Type    string           `json:"type"`            // "<command>_result"
	Success bool             `json:"success"`         // true if command succeeded
	Error   *ValidationError `json:"error,omitempty"` // Validation errors if failed
	Message string           `json:"message,omitempty"`
	Data    any              `json:"data,omitempty"` // Optional response data
}

// WSAlertLogResult is sent to clients with the newest alert log entries.
type WSAlertLogResult struct {
	Type    string          `json:"type"`              // "alert_log_result"
	Success bool            `json:"success"`           // true if the log could be read
	Entries []AlertLogEntry `json:"entries,omitempty"` // Newest entry first
	Path    string          `json:"path,omitempty"`    // Log file path
	Error   string          `json:"error,omitempty"`   // Error message if failed
}

// AlertSettings is the redacted view of the alert configuration sent to clients.
type AlertSettings struct {
	Enabled        bool   `json:"enabled"`
	HoldMs         int64  `json:"hold_ms"`
	RecoveryMs     int64  `json:"recovery_ms"`
	StationName    string `json:"station_name"`
	WebhookURL     string `json:"webhook_url"`
	LogPath        string `json:"log_path"`
	EmailTenantID  string `json:"email_tenant_id"`
	EmailClientID  string `json:"email_client_id"`
	EmailHasSecret bool   `json:"email_has_secret"` // The secret itself is never sent
	EmailFrom      string `json:"email_from_address"`
	EmailTo        string `json:"email_recipients"`
	ZabbixServer   string `json:"zabbix_server"`
	ZabbixPort     int    `json:"zabbix_port"`
	ZabbixHost     string `json:"zabbix_host"`
	ZabbixKey      string `json:"zabbix_key"`
}

// APIStatusResponse is returned by GET /api/status.
type APIStatusResponse struct {
	Meter   MeterStatus `json:"meter"`
	Alerts  AlertStatus `json:"alerts"`
	Verdict Verdict     `json:"verdict"` // Latest RMS level compared with the target
	Version VersionInfo `json:"version"`
}
