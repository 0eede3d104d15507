package server

// Request types for WebSocket commands and REST endpoints. Validation uses
// go-playground/validator struct tags.

// --- Meter control ---

// TargetRequest is the request body for meter/target and POST /api/meter/target.
type TargetRequest struct {
	TargetDB *float64 `json:"target_db" validate:"required,gte=-200,lte=200"`
}

// --- Alert settings ---

// AlertTimingRequest is the request body for alerts/timing.
type AlertTimingRequest struct {
	HoldMs     *int64 `json:"hold_ms" validate:"required,gte=0,lte=3600000"`
	RecoveryMs *int64 `json:"recovery_ms" validate:"required,gte=0,lte=3600000"`
}

// WebhookUpdateRequest is the request body for alerts/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// LogUpdateRequest is the request body for alerts/log/update.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// EmailUpdateRequest is the request body for alerts/email/update.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,email"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// ZabbixUpdateRequest is the request body for alerts/zabbix/update.
type ZabbixUpdateRequest struct {
	Server string `json:"server" validate:"omitempty,max=253"`
	Port   int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Host   string `json:"host" validate:"omitempty,max=253"`
	Key    string `json:"key" validate:"omitempty,max=256"`
}

// AlertsEnabledRequest is the request body for alerts/enabled/update.
type AlertsEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}
