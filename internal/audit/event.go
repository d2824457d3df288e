package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a security or business action.
type EventType string

const (
	// Session events
	EventSessionStarted EventType = "session_started"
	EventSessionEnded   EventType = "session_ended"

	// Messaging events
	EventMessageSent     EventType = "message_sent"
	EventMessageReceived EventType = "message_received"

	// De-identification events
	EventPHIRedacted          EventType = "phi_redacted"
	EventPHIRedactionFallback EventType = "phi_redaction_fallback"

	// Document events
	EventDocumentUploaded EventType = "document_uploaded"
	EventDocumentViewed   EventType = "document_viewed"
	EventDocumentExported EventType = "document_exported"

	// Record events
	EventRecordAccessed EventType = "record_accessed"
	EventRecordModified EventType = "record_modified"

	// Audit trail events
	EventAuditExported  EventType = "audit_exported"
	EventRetentionSwept EventType = "retention_swept"

	// Administrative events
	EventSettingsChanged EventType = "settings_changed"
	EventLoginSucceeded  EventType = "login_succeeded"
	EventLoginFailed     EventType = "login_failed"
)

var eventTypes = map[EventType]bool{
	EventSessionStarted:       true,
	EventSessionEnded:         true,
	EventMessageSent:          true,
	EventMessageReceived:      true,
	EventPHIRedacted:          true,
	EventPHIRedactionFallback: true,
	EventDocumentUploaded:     true,
	EventDocumentViewed:       true,
	EventDocumentExported:     true,
	EventRecordAccessed:       true,
	EventRecordModified:       true,
	EventAuditExported:        true,
	EventRetentionSwept:       true,
	EventSettingsChanged:      true,
	EventLoginSucceeded:       true,
	EventLoginFailed:          true,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool { return eventTypes[t] }

// ParseEventType validates an event type name.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return t, nil
}

// Event is one audit record. Details carry operational metadata only
// (counts, flags, identifiers, model names), never free text.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType EventType         `json:"event_type"`
	SessionID *uuid.UUID        `json:"session_id,omitempty"`
	UserID    string            `json:"user_id"`
	Details   map[string]string `json:"details,omitempty"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(t EventType, userID string, sessionID *uuid.UUID, details map[string]string) Event {
	if len(details) == 0 {
		details = nil
	}
	return Event{
		Timestamp: time.Now().UTC(),
		EventType: t,
		SessionID: sessionID,
		UserID:    userID,
		Details:   details,
	}
}
