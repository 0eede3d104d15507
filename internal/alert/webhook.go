package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-levelmeter/internal/util"
)

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10000 * time.Millisecond

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event      string  `json:"event"`
	Station    string  `json:"station,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	LevelDB    float64 `json:"level_db,omitempty"`
	TargetDB   float64 `json:"target_db,omitempty"`
	Message    string  `json:"message,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// SendLevelHighWebhook notifies the webhook that the level has stayed above target.
func SendLevelHighWebhook(webhookURL, station string, levelDB, targetDB float64, durationMs int64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:      EventLevelHigh,
		Station:    station,
		DurationMs: durationMs,
		LevelDB:    levelDB,
		TargetDB:   targetDB,
		Timestamp:  timestampUTC(),
	})
}

// SendRecoveryWebhook notifies the webhook that the level is back under target.
func SendRecoveryWebhook(webhookURL, station string, durationMs int64, levelDB, targetDB float64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:      EventLevelRecovered,
		Station:    station,
		DurationMs: durationMs,
		LevelDB:    levelDB,
		TargetDB:   targetDB,
		Timestamp:  timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL, stationName string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     EventTest,
		Station:   stationName,
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: webhookTimeout}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
