package alert

import "time"

// AppName is the application name used in notifications.
const AppName = "ZuidWest FM Level Meter"

// mailDeadline bounds one e-mail delivery including its retries.
const mailDeadline = 2 * time.Minute

// Notification event names shared by the webhook, log and Zabbix channels.
const (
	EventLevelHigh      = "level_high"
	EventLevelRecovered = "level_recovered"
	EventTest           = "test"
)

// timestampUTC returns the current UTC time in RFC3339 format.
func timestampUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
