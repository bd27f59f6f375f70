// Package queue carries signing lifecycle events over RabbitMQ to
// downstream collaborators such as the email delivery worker.
package queue

// SigningEventsQueue is the durable queue every lifecycle event goes to.
const SigningEventsQueue = "signing.events"

// Event kinds.
const (
	KindRequestCreated   = "request.created"
	KindRequestSent      = "request.sent"
	KindRequestReminded  = "request.reminded"
	KindRequestVoided    = "request.voided"
	KindRequestDeclined  = "request.declined"
	KindRequestExpired   = "request.expired"
	KindRequestCompleted = "request.completed"
)

// SigningEvent is published after a signing request changes. It carries
// enough for a mailer to address the recipient without querying the
// primary database. SigningLink is only set on created, sent and reminded
// events, which are the ones that deliver the link.
type SigningEvent struct {
	Kind           string `json:"kind"`
	RequestID      string `json:"request_id"`
	TemplateID     string `json:"template_id"`
	TemplateName   string `json:"template_name,omitempty"`
	RecipientName  string `json:"recipient_name"`
	RecipientEmail string `json:"recipient_email"`
	SigningLink    string `json:"signing_link,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	ReminderCount  int    `json:"reminder_count,omitempty"`
	Reason         string `json:"reason,omitempty"`
	DocumentID     string `json:"signed_document_id,omitempty"`
	DocumentHash   string `json:"document_hash,omitempty"`
	ActorID        string `json:"actor_id,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}
