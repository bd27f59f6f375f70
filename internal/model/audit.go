package model

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType enumerates audit events for a signing request.
type EventType string

const (
	EventRequestCreated   EventType = "request_created"
	EventEmailSent        EventType = "email_sent"
	EventReminderSent     EventType = "reminder_sent"
	EventLinkAccessed     EventType = "link_accessed"
	EventDocumentViewed   EventType = "document_viewed"
	EventSignatureApplied EventType = "signature_applied"
	EventCompleted        EventType = "completed"
	EventDeclined         EventType = "declined"
	EventVoided           EventType = "voided"
	EventExpired          EventType = "expired"
)

// AllEventTypes lists every audit event type.
var AllEventTypes = []EventType{
	EventRequestCreated, EventEmailSent, EventReminderSent, EventLinkAccessed,
	EventDocumentViewed, EventSignatureApplied, EventCompleted, EventDeclined,
	EventVoided, EventExpired,
}

// ParseEventType validates s against the known event types.
func ParseEventType(s string) (EventType, bool) {
	et := EventType(strings.TrimSpace(s))
	for _, known := range AllEventTypes {
		if known == et {
			return et, true
		}
	}
	return "", false
}

// Geolocation is an optional coarse location attached to an event.
type Geolocation struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// String joins the known parts as "city, region, country".
func (g *Geolocation) String() string {
	if g == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{g.City, g.Region, g.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// AuditEntry is one immutable audit log row.
type AuditEntry struct {
	ID               string          `json:"id"`
	SigningRequestID string          `json:"signing_request_id"`
	EventType        EventType       `json:"event_type"`
	EventAt          time.Time       `json:"event_timestamp"`
	IPAddress        *string         `json:"ip_address,omitempty"`
	UserAgent        *string         `json:"user_agent,omitempty"`
	Geolocation      *Geolocation    `json:"geolocation,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	SignatureData    json.RawMessage `json:"signature_data,omitempty"`
}
