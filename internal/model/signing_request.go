package model

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// Status is the lifecycle state of a signing request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusViewed   Status = "viewed"
	StatusSigned   Status = "signed"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
	StatusVoided   Status = "voided"
)

// transitions is the legal transition graph. It is the only place the
// graph is written down; CanTransition, SourcesOf and the repository's
// conditional updates are all derived from it.
var transitions = map[Status][]Status{
	StatusPending:  {StatusSent, StatusViewed, StatusSigned, StatusDeclined, StatusExpired, StatusVoided},
	StatusSent:     {StatusViewed, StatusSigned, StatusDeclined, StatusExpired, StatusVoided},
	StatusViewed:   {StatusSigned, StatusDeclined, StatusExpired, StatusVoided},
	StatusSigned:   nil,
	StatusDeclined: nil,
	StatusExpired:  nil,
	StatusVoided:   nil,
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusSent, StatusViewed, StatusSigned,
	StatusDeclined, StatusExpired, StatusVoided,
}

// ParseStatus validates s against the known statuses.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	_, ok := transitions[st]
	return st, ok
}

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether from -> to is an edge of the graph.
func CanTransition(from, to Status) bool {
	for _, n := range transitions[from] {
		if n == to {
			return true
		}
	}
	return false
}

// SourcesOf returns the statuses from which to is reachable in one step,
// in lifecycle order. Repositories use it to guard conditional updates.
func SourcesOf(to Status) []Status {
	var out []Status
	for _, from := range AllStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// AccessMethod is how the recipient reaches the document.
type AccessMethod string

const (
	AccessEmailLink AccessMethod = "email_link"
	AccessPortal    AccessMethod = "portal"
)

// SigningRequest is one invitation for one recipient to sign one template.
//
// Timestamps are UTC; nil pointers mean "not happened yet" (or, for
// ExpiresAt, "never expires").
type SigningRequest struct {
	ID              string       `json:"id"`
	TemplateID      string       `json:"template_id"`
	AccessToken     string       `json:"-"`
	AccessMethod    AccessMethod `json:"access_method"`
	RecipientName   string       `json:"recipient_name"`
	RecipientEmail  string       `json:"recipient_email"`
	RecipientPhone  *string      `json:"recipient_phone,omitempty"`
	RecipientUserID *string      `json:"recipient_user_id,omitempty"`
	Status          Status       `json:"status"`
	SentBy          *string      `json:"sent_by,omitempty"`
	ExpiresAt       *time.Time   `json:"expires_at"`
	SentAt          *time.Time   `json:"sent_at,omitempty"`
	ViewedAt        *time.Time   `json:"viewed_at,omitempty"`
	SignedAt        *time.Time   `json:"signed_at,omitempty"`
	DeclinedAt      *time.Time   `json:"declined_at,omitempty"`
	VoidedAt        *time.Time   `json:"voided_at,omitempty"`
	VoidedBy        *string      `json:"voided_by,omitempty"`
	VoidReason      *string      `json:"void_reason,omitempty"`
	ReminderCount   int          `json:"reminder_count"`
	LastReminderAt  *time.Time   `json:"last_reminder_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// ExpiredAt reports whether the request's expiry deadline has passed at now.
// A request without a deadline never expires.
func (r *SigningRequest) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Recipient holds the required and optional recipient fields.
type Recipient struct {
	Name   string
	Email  string
	Phone  string
	UserID string
}

var (
	ErrRecipientName  = errors.New("recipient_name is required")
	ErrRecipientEmail = errors.New("recipient_email must be a valid email address")
)

// NewRecipient trims and validates recipient fields.
func NewRecipient(name, email, phone, userID string) (Recipient, error) {
	r := Recipient{
		Name:   strings.TrimSpace(name),
		Email:  strings.ToLower(strings.TrimSpace(email)),
		Phone:  strings.TrimSpace(phone),
		UserID: strings.TrimSpace(userID),
	}
	if r.Name == "" {
		return Recipient{}, ErrRecipientName
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != r.Email {
		return Recipient{}, ErrRecipientEmail
	}
	return r, nil
}

// OpenStatuses returns the non-terminal statuses in lifecycle order.
func OpenStatuses() []Status {
	var out []Status
	for _, s := range AllStatuses {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}
