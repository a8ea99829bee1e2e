package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionEventType names a session lifecycle transition.
type SessionEventType string

const (
	SessionEventLogin         SessionEventType = "login"
	SessionEventLoginFailed   SessionEventType = "login_failed"
	SessionEventRefreshed     SessionEventType = "refreshed"
	SessionEventRefreshFailed SessionEventType = "refresh_failed"
	SessionEventExpired       SessionEventType = "expired"
	SessionEventLogout        SessionEventType = "logout"
)

// SessionEvent records one session lifecycle transition for auditing.
type SessionEvent struct {
	ID        uuid.UUID        `json:"id"`
	Type      SessionEventType `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	Subject   string           `json:"subject,omitempty"`
	Code      string           `json:"code,omitempty"`
	ClientIP  string           `json:"client_ip,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewSessionEvent creates an event stamped with a fresh ID and the current time.
func NewSessionEvent(eventType SessionEventType, sessionID, subject string) SessionEvent {
	return SessionEvent{
		ID:        uuid.New(),
		Type:      eventType,
		SessionID: sessionID,
		Subject:   subject,
		CreatedAt: time.Now().UTC(),
	}
}
