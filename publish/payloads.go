package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PayloadVersion is the schema version stamped on every typed payload.
const PayloadVersion = "1.0"

// envelope carries the fields common to every typed payload (spec.md §6
// "Typed payload schemas"): messageId, timestamp, version, type.
type envelope struct {
	MessageID string `json:"messageId"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Type      string `json:"type"`
}

func newEnvelope(kind string, now time.Time) envelope {
	return envelope{
		MessageID: uuid.New().String(),
		Timestamp: now.UTC().Format(time.RFC3339),
		Version:   PayloadVersion,
		Type:      kind,
	}
}

// NotificationSeverity enumerates the allowed severities for a
// notification payload.
type NotificationSeverity string

const (
	SeverityInfo    NotificationSeverity = "info"
	SeverityWarning NotificationSeverity = "warning"
	SeverityError   NotificationSeverity = "error"
)

func (s NotificationSeverity) valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	default:
		return false
	}
}

// NotificationPayload is the typed schema for /api/sse/notification.
type NotificationPayload struct {
	Message  string               `json:"message"`
	Severity NotificationSeverity `json:"severity"`
}

// BuildNotification validates and marshals a notification payload.
func BuildNotification(p NotificationPayload, now time.Time) ([]byte, error) {
	if p.Message == "" {
		return nil, fmt.Errorf("publish: notification message is required")
	}
	if !p.Severity.valid() {
		return nil, fmt.Errorf("publish: invalid notification severity %q", p.Severity)
	}

	return json.Marshal(struct {
		envelope
		Message  string               `json:"message"`
		Severity NotificationSeverity `json:"severity"`
	}{newEnvelope("notification", now), p.Message, p.Severity})
}

// AlertSeverity enumerates the allowed severities for an alert payload.
type AlertSeverity string

const (
	AlertCritical AlertSeverity = "critical"
	AlertHigh     AlertSeverity = "high"
	AlertMedium   AlertSeverity = "medium"
	AlertLow      AlertSeverity = "low"
)

func (s AlertSeverity) valid() bool {
	switch s {
	case AlertCritical, AlertHigh, AlertMedium, AlertLow:
		return true
	default:
		return false
	}
}

// AlertPayload is the typed schema for /api/sse/alert.
type AlertPayload struct {
	Message  string        `json:"message"`
	Severity AlertSeverity `json:"severity"`
	Category string        `json:"category"`
}

// BuildAlert validates and marshals an alert payload.
func BuildAlert(p AlertPayload, now time.Time) ([]byte, error) {
	if p.Message == "" {
		return nil, fmt.Errorf("publish: alert message is required")
	}
	if !p.Severity.valid() {
		return nil, fmt.Errorf("publish: invalid alert severity %q", p.Severity)
	}
	if p.Category == "" {
		return nil, fmt.Errorf("publish: alert category is required")
	}

	return json.Marshal(struct {
		envelope
		Message  string        `json:"message"`
		Severity AlertSeverity `json:"severity"`
		Category string        `json:"category"`
	}{newEnvelope("alert", now), p.Message, p.Severity, p.Category})
}

// DataUpdatePayload is the typed schema for /api/sse/data-update.
type DataUpdatePayload struct {
	EntityID   string         `json:"entityId"`
	EntityType string         `json:"entityType"`
	Changes    map[string]any `json:"changes"`
}

// BuildDataUpdate validates and marshals a data-update payload.
func BuildDataUpdate(p DataUpdatePayload, now time.Time) ([]byte, error) {
	if p.EntityID == "" {
		return nil, fmt.Errorf("publish: dataUpdate entityId is required")
	}
	if p.EntityType == "" {
		return nil, fmt.Errorf("publish: dataUpdate entityType is required")
	}
	if p.Changes == nil {
		p.Changes = map[string]any{}
	}

	return json.Marshal(struct {
		envelope
		EntityID   string         `json:"entityId"`
		EntityType string         `json:"entityType"`
		Changes    map[string]any `json:"changes"`
	}{newEnvelope("dataUpdate", now), p.EntityID, p.EntityType, p.Changes})
}

// BuildHeartbeat marshals a heartbeat payload (no extra fields beyond the
// common envelope, spec.md §6).
func BuildHeartbeat(now time.Time) ([]byte, error) {
	return json.Marshal(newEnvelope("heartbeat", now))
}
