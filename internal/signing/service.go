// Package signing owns the lifecycle of signing requests: creation and
// delivery by operators, access and completion through the public link,
// and the terminal transitions. Every status change is a conditional
// update derived from the graph in package model, and every step is
// written to the audit log.
package signing

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/care-portal/internal/audit"
	"github.com/iliyamo/care-portal/internal/clock"
	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/queue"
	"github.com/iliyamo/care-portal/internal/repository"
	"github.com/iliyamo/care-portal/internal/storage"
	"github.com/iliyamo/care-portal/internal/utils"
)

// maxTokenAttempts bounds the regenerate-on-collision loop in CreateRequest.
const maxTokenAttempts = 3

// Publisher delivers lifecycle events to the outside world. Failures are
// never propagated to the caller.
type Publisher interface {
	Publish(ctx context.Context, ev queue.SigningEvent) error
}

// Actor is the authenticated operator or client behind a call.
type Actor struct {
	UserID string
	Role   string
}

// Deps wires a Service.
type Deps struct {
	DB        *sql.DB
	Requests  *repository.SigningRequestRepo
	Templates *repository.TemplateRepo
	Documents *repository.SignedDocumentRepo
	Audit     *audit.Log
	// Artifacts may be nil, in which case signatures are not stored and
	// document hashes fall back to the weak composite form.
	Artifacts storage.ArtifactStore
	Events    Publisher
	Clock     clock.Clock
	Log       logging.Logger
	// Tokens defaults to utils.NewSigningToken.
	Tokens utils.TokenSource
	// LinkBaseURL prefixes signing links: {LinkBaseURL}/sign/{token}.
	LinkBaseURL string
	// DefaultExpiryDays applies when a create call does not specify one.
	DefaultExpiryDays int
}

// Service implements the signing request operations.
type Service struct {
	requests    *repository.SigningRequestRepo
	templates   *repository.TemplateRepo
	documents   *repository.SignedDocumentRepo
	audit       *audit.Log
	events      Publisher
	clock       clock.Clock
	log         logging.Logger
	tokens      utils.TokenSource
	linkBase    string
	defaultDays int
	recorder    *Recorder
}

// NewService builds a Service from d.
func NewService(d Deps) *Service {
	if d.Tokens == nil {
		d.Tokens = utils.NewSigningToken
	}
	if d.Events == nil {
		d.Events = queue.Nop{}
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	s := &Service{
		requests:    d.Requests,
		templates:   d.Templates,
		documents:   d.Documents,
		audit:       d.Audit,
		events:      d.Events,
		clock:       d.Clock,
		log:         d.Log,
		tokens:      d.Tokens,
		linkBase:    strings.TrimRight(d.LinkBaseURL, "/"),
		defaultDays: d.DefaultExpiryDays,
	}
	s.recorder = &Recorder{
		db:        d.DB,
		requests:  d.Requests,
		documents: d.Documents,
		artifacts: d.Artifacts,
		audit:     d.Audit,
		clock:     d.Clock,
		log:       d.Log,
	}
	return s
}

// now returns the clock truncated to the store's millisecond precision so
// values handed back to callers equal what a re-read returns.
func (s *Service) now() time.Time { return s.clock.Now().UTC().Truncate(time.Millisecond) }

// SigningLink renders the public link for token.
func (s *Service) SigningLink(token string) string {
	return s.linkBase + "/sign/" + token
}

// CreateInput is an operator's request to invite one recipient.
type CreateInput struct {
	TemplateID      string
	RecipientName   string
	RecipientEmail  string
	RecipientPhone  string
	RecipientUserID string
	AccessMethod    string
	// ExpiryDays is the link lifetime in days. Nil applies the service
	// default; a pointer to 0 means the link never expires.
	ExpiryDays      *int
	SendImmediately bool
}

// Created is the result of CreateRequest.
type Created struct {
	Request     *model.SigningRequest `json:"request"`
	SigningLink string                `json:"signing_link"`
}

// CreateRequest validates in, mints a unique access token and stores a
// pending request, optionally moving it straight to sent.
func (s *Service) CreateRequest(ctx context.Context, in CreateInput, actor Actor, client audit.ClientInfo) (*Created, error) {
	rcpt, err := model.NewRecipient(in.RecipientName, in.RecipientEmail, in.RecipientPhone, in.RecipientUserID)
	switch {
	case errors.Is(err, model.ErrRecipientName):
		return nil, invalid("recipient_name", err.Error())
	case errors.Is(err, model.ErrRecipientEmail):
		return nil, invalid("recipient_email", err.Error())
	case err != nil:
		return nil, err
	}
	if strings.TrimSpace(in.TemplateID) == "" {
		return nil, invalid("template_id", "template_id is required")
	}
	method := model.AccessMethod(strings.TrimSpace(in.AccessMethod))
	switch method {
	case "":
		method = model.AccessEmailLink
	case model.AccessEmailLink, model.AccessPortal:
	default:
		return nil, invalid("access_method", "access_method must be email_link or portal")
	}
	if method == model.AccessPortal && rcpt.UserID == "" {
		return nil, invalid("recipient_user_id", "portal access requires recipient_user_id")
	}
	days := s.defaultDays
	if in.ExpiryDays != nil {
		days = *in.ExpiryDays
	}
	if days < 0 {
		return nil, invalid("expiry_days", "expiry_days must not be negative")
	}

	tpl, err := s.templates.GetByID(ctx, in.TemplateID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("load template", err)
	}
	if !tpl.IsActive {
		return nil, invalid("template_id", "template is inactive")
	}

	now := s.now()
	sr := &model.SigningRequest{
		TemplateID:     tpl.ID,
		AccessMethod:   method,
		RecipientName:  rcpt.Name,
		RecipientEmail: rcpt.Email,
		Status:         model.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if rcpt.Phone != "" {
		sr.RecipientPhone = &rcpt.Phone
	}
	if rcpt.UserID != "" {
		sr.RecipientUserID = &rcpt.UserID
	}
	if actor.UserID != "" {
		sr.SentBy = &actor.UserID
	}
	if days > 0 {
		exp := now.AddDate(0, 0, days)
		sr.ExpiresAt = &exp
	}

	if err := s.insertWithFreshToken(ctx, sr); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		RequestID: sr.ID,
		Type:      model.EventRequestCreated,
		Client:    client,
		At:        now,
		Metadata: map[string]any{
			"template_id":     tpl.ID,
			"recipient_email": sr.RecipientEmail,
			"access_method":   string(sr.AccessMethod),
			"created_by":      actor.UserID,
		},
	})
	s.publish(ctx, queue.KindRequestCreated, sr, tpl.Name, nil)

	if in.SendImmediately {
		if err := s.send(ctx, sr, tpl.Name, actor, client); err != nil {
			return nil, err
		}
	}
	return &Created{Request: sr, SigningLink: s.SigningLink(sr.AccessToken)}, nil
}

func (s *Service) insertWithFreshToken(ctx context.Context, sr *model.SigningRequest) error {
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		tok, err := s.tokens()
		if err != nil {
			return err
		}
		sr.ID = ""
		sr.AccessToken = tok
		err = s.requests.Create(ctx, sr)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return storageErr("create signing request", err)
		}
		s.log.Warn(ctx, "access token collision; regenerating", "attempt", attempt)
	}
	return storageErr("create signing request", errors.New("could not allocate a unique access token"))
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, id string) (*model.SigningRequest, error) {
	sr, err := s.requests.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("load signing request", err)
	}
	return sr, nil
}

// Detail is a request with its template and, once signed, its document.
type Detail struct {
	Request        *model.SigningRequest `json:"request"`
	Template       *model.Template       `json:"template"`
	SignedDocument *model.SignedDocument `json:"signed_document,omitempty"`
}

// GetDetail loads a request with its template and signed document.
func (s *Service) GetDetail(ctx context.Context, id string) (*Detail, error) {
	sr, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Request: sr}
	if d.Template, err = s.templates.GetByID(ctx, sr.TemplateID); err != nil {
		return nil, storageErr("load template", err)
	}
	if sr.Status == model.StatusSigned {
		doc, err := s.documents.GetByRequestID(ctx, sr.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, storageErr("load signed document", err)
		}
		d.SignedDocument = doc
	}
	return d, nil
}

// List filters requests for the operator dashboard.
func (s *Service) List(ctx context.Context, f repository.SigningRequestFilter) ([]*model.SigningRequest, int, error) {
	if f.Status != "" {
		if _, ok := model.ParseStatus(string(f.Status)); !ok {
			return nil, 0, invalid("status", "unknown status "+string(f.Status))
		}
	}
	out, total, err := s.requests.List(ctx, f)
	if err != nil {
		return nil, 0, storageErr("list signing requests", err)
	}
	return out, total, nil
}

// ListForRecipient lists the requests addressed to a portal user.
func (s *Service) ListForRecipient(ctx context.Context, actor Actor, f repository.SigningRequestFilter) ([]*model.SigningRequest, int, error) {
	f.RecipientUserID = actor.UserID
	f.RecipientEmail = ""
	if actor.UserID == "" {
		return nil, 0, nil
	}
	return s.List(ctx, f)
}

// Send moves a pending request to sent and emits the delivery event.
func (s *Service) Send(ctx context.Context, id string, actor Actor, client audit.ClientInfo) (*model.SigningRequest, error) {
	sr, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sr.Status != model.StatusPending {
		return nil, &StateError{Op: "send", Status: sr.Status}
	}
	if err := s.send(ctx, sr, s.templateName(ctx, sr.TemplateID), actor, client); err != nil {
		return nil, err
	}
	return sr, nil
}

func (s *Service) send(ctx context.Context, sr *model.SigningRequest, tplName string, actor Actor, client audit.ClientInfo) error {
	now := s.now()
	ok, err := s.requests.Transition(ctx, nil, sr.ID, model.StatusSent, now, repository.TransitionFields{})
	if err != nil {
		return storageErr("mark sent", err)
	}
	if !ok {
		return s.stateConflict(ctx, sr.ID, "send")
	}
	sr.Status = model.StatusSent
	sr.SentAt = &now
	sr.UpdatedAt = now
	s.audit.Record(ctx, audit.Event{
		RequestID: sr.ID,
		Type:      model.EventEmailSent,
		Client:    client,
		At:        now,
		Metadata:  map[string]any{"recipient_email": sr.RecipientEmail, "sent_by": actor.UserID},
	})
	s.publish(ctx, queue.KindRequestSent, sr, tplName, nil)
	return nil
}

// Remind records a reminder on an open request and re-emits its link.
// A request found past its deadline is expired instead.
func (s *Service) Remind(ctx context.Context, id string, actor Actor, client audit.ClientInfo) (*model.SigningRequest, error) {
	sr, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !sr.Status.Terminal() && sr.ExpiredAt(now) {
		return nil, s.expire(ctx, sr, now, client)
	}
	count, err := s.requests.RecordReminder(ctx, sr.ID, now)
	if errors.Is(err, repository.ErrConflict) {
		return nil, s.stateConflict(ctx, sr.ID, "remind")
	}
	if err != nil {
		return nil, storageErr("record reminder", err)
	}
	sr.ReminderCount = count
	sr.LastReminderAt = &now
	sr.UpdatedAt = now
	s.audit.Record(ctx, audit.Event{
		RequestID: sr.ID,
		Type:      model.EventReminderSent,
		Client:    client,
		At:        now,
		Metadata:  map[string]any{"reminder_count": count, "sent_by": actor.UserID},
	})
	s.publish(ctx, queue.KindRequestReminded, sr, s.templateName(ctx, sr.TemplateID), func(ev *queue.SigningEvent) {
		ev.ReminderCount = count
	})
	return sr, nil
}

// Void cancels an open request. The reason is required and recorded.
func (s *Service) Void(ctx context.Context, id, reason string, actor Actor, client audit.ClientInfo) (*model.SigningRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "a void reason is required")
	}
	sr, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	ok, err := s.requests.Transition(ctx, nil, sr.ID, model.StatusVoided, now,
		repository.TransitionFields{ActorID: actor.UserID, Reason: reason})
	if err != nil {
		return nil, storageErr("void", err)
	}
	if !ok {
		return nil, s.stateConflict(ctx, sr.ID, "void")
	}
	sr.Status = model.StatusVoided
	sr.VoidedAt = &now
	sr.VoidReason = &reason
	if actor.UserID != "" {
		sr.VoidedBy = &actor.UserID
	}
	sr.UpdatedAt = now
	s.audit.Record(ctx, audit.Event{
		RequestID: sr.ID,
		Type:      model.EventVoided,
		Client:    client,
		At:        now,
		Metadata:  map[string]any{"reason": reason, "voided_by": actor.UserID},
	})
	s.publish(ctx, queue.KindRequestVoided, sr, s.templateName(ctx, sr.TemplateID), func(ev *queue.SigningEvent) {
		ev.Reason = reason
	})
	return sr, nil
}

// History returns the ordered audit trail of a request.
func (s *Service) History(ctx context.Context, id string) ([]*model.AuditEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.audit.History(ctx, id)
	if err != nil {
		return nil, storageErr("load audit history", err)
	}
	return events, nil
}

// Certificate derives the compliance certificate of a request.
func (s *Service) Certificate(ctx context.Context, id string) (*audit.Certificate, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	cert, err := s.audit.CertificateData(ctx, id)
	if err != nil {
		return nil, storageErr("load audit history", err)
	}
	return cert, nil
}

// stateConflict re-reads a request after a guarded update matched nothing
// and reports the status that blocked it.
func (s *Service) stateConflict(ctx context.Context, id, op string) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return &StateError{Op: op, Status: cur.Status}
}

func (s *Service) templateName(ctx context.Context, id string) string {
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return ""
	}
	return tpl.Name
}

func (s *Service) publish(ctx context.Context, kind string, sr *model.SigningRequest, tplName string, mutate func(*queue.SigningEvent)) {
	ev := queue.SigningEvent{
		Kind:           kind,
		RequestID:      sr.ID,
		TemplateID:     sr.TemplateID,
		TemplateName:   tplName,
		RecipientName:  sr.RecipientName,
		RecipientEmail: sr.RecipientEmail,
		OccurredAt:     s.now().Format(time.RFC3339),
	}
	if sr.SentBy != nil {
		ev.ActorID = *sr.SentBy
	}
	switch kind {
	case queue.KindRequestCreated, queue.KindRequestSent, queue.KindRequestReminded:
		ev.SigningLink = s.SigningLink(sr.AccessToken)
		if sr.ExpiresAt != nil {
			ev.ExpiresAt = sr.ExpiresAt.Format(time.RFC3339)
		}
	}
	if mutate != nil {
		mutate(&ev)
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn(ctx, "signing event not published", "kind", kind, "request_id", sr.ID, "error", err)
	}
}
