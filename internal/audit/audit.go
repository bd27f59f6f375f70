// Package audit is the append-only ledger of signing events. Writes never
// fail the caller: Record returns a Result the caller may ignore, and any
// store error is logged instead of propagated. Reads reconstruct the
// ordered timeline that backs a signed document's certificate.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/iliyamo/care-portal/internal/clock"
	"github.com/iliyamo/care-portal/internal/dbx"
	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/repository"
)

// Store is the persistence the log needs. *repository.AuditRepo satisfies it.
type Store interface {
	Insert(ctx context.Context, q dbx.DBTX, e *model.AuditEntry) error
	ListByRequest(ctx context.Context, requestID string) ([]*model.AuditEntry, error)
	ListByType(ctx context.Context, q repository.AuditQuery) ([]*model.AuditEntry, error)
	CountByType(ctx context.Context, from, to *time.Time) (map[model.EventType]int, error)
}

// ClientInfo identifies the caller that triggered an event.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Event is the input to Record.
type Event struct {
	RequestID     string
	Type          model.EventType
	Client        ClientInfo
	Geolocation   *model.Geolocation
	Metadata      map[string]any
	SignatureData map[string]any
	// At overrides the clock. Zero means now.
	At time.Time
}

// Result reports the outcome of a Record call. Callers that must not be
// blocked by audit availability simply drop it.
type Result struct {
	Entry *model.AuditEntry
	Err   error
}

// OK reports whether the entry was written.
func (r Result) OK() bool { return r.Err == nil }

// Log writes and reads audit entries.
type Log struct {
	store Store
	clock clock.Clock
	log   logging.Logger
}

// New builds a Log.
func New(store Store, clk clock.Clock, log logging.Logger) *Log {
	return &Log{store: store, clock: clk, log: log}
}

// Record appends one entry. Failures are logged with the request id and
// event type and returned in the Result; they are never panics.
func (l *Log) Record(ctx context.Context, ev Event) Result {
	at := ev.At
	if at.IsZero() {
		at = l.clock.Now()
	}
	entry := &model.AuditEntry{
		SigningRequestID: ev.RequestID,
		EventType:        ev.Type,
		EventAt:          at.UTC(),
		IPAddress:        optional(ev.Client.IP),
		UserAgent:        optional(ev.Client.UserAgent),
		Geolocation:      ev.Geolocation,
	}
	var err error
	if entry.Metadata, err = marshalOptional(ev.Metadata); err == nil {
		entry.SignatureData, err = marshalOptional(ev.SignatureData)
	}
	if err == nil {
		err = l.store.Insert(ctx, nil, entry)
	}
	if err != nil {
		l.log.Error(ctx, "audit write failed",
			"request_id", ev.RequestID, "event_type", string(ev.Type), "error", err)
		return Result{Err: err}
	}
	return Result{Entry: entry}
}

// History returns every entry for one request in ascending time order.
func (l *Log) History(ctx context.Context, requestID string) ([]*model.AuditEntry, error) {
	return l.store.ListByRequest(ctx, requestID)
}

// Query bounds ByType and Statistics. Nil times are open.
type Query struct {
	Type  model.EventType
	From  *time.Time
	To    *time.Time
	Limit int
}

// ByType returns entries across requests, newest first.
func (l *Log) ByType(ctx context.Context, q Query) ([]*model.AuditEntry, error) {
	return l.store.ListByType(ctx, repository.AuditQuery{
		EventType: q.Type, From: q.From, To: q.To, Limit: q.Limit,
	})
}

// Statistics summarizes a date range.
type Statistics struct {
	Total  int                     `json:"total"`
	ByType map[model.EventType]int `json:"by_type"`
	Recent []*model.AuditEntry     `json:"recent"`
}

// DefaultRecent is how many entries Statistics returns when recent <= 0.
const DefaultRecent = 10

// Statistics counts entries per event type and returns the most recent
// ones within [from, to].
func (l *Log) Statistics(ctx context.Context, from, to *time.Time, recent int) (*Statistics, error) {
	counts, err := l.store.CountByType(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if recent <= 0 {
		recent = DefaultRecent
	}
	latest, err := l.store.ListByType(ctx, repository.AuditQuery{From: from, To: to, Limit: recent})
	if err != nil {
		return nil, err
	}
	st := &Statistics{ByType: make(map[model.EventType]int, len(model.AllEventTypes)), Recent: latest}
	for _, et := range model.AllEventTypes {
		st.ByType[et] = counts[et]
		st.Total += counts[et]
	}
	return st, nil
}

// Certificate is the compliance summary derived from a request's history.
type Certificate struct {
	RequestID       string              `json:"request_id"`
	Events          []*model.AuditEntry `json:"events"`
	CreatedAt       *time.Time          `json:"created_at"`
	CompletedAt     *time.Time          `json:"completed_at"`
	TotalEvents     int                 `json:"total_events"`
	SignerIP        *string             `json:"signer_ip"`
	SignerUserAgent *string             `json:"signer_user_agent"`
	SignerLocation  *model.Geolocation  `json:"signer_location"`
}

// CertificateData derives the certificate for requestID. Signer
// attribution comes from the signature_applied entry only, never from
// later bookkeeping events.
func (l *Log) CertificateData(ctx context.Context, requestID string) (*Certificate, error) {
	events, err := l.store.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return BuildCertificate(requestID, events), nil
}

// BuildCertificate derives a certificate from an ascending event list.
// The first request_created, completed and signature_applied entries win.
func BuildCertificate(requestID string, events []*model.AuditEntry) *Certificate {
	c := &Certificate{RequestID: requestID, Events: events, TotalEvents: len(events)}
	if c.Events == nil {
		c.Events = []*model.AuditEntry{}
	}
	var signed bool
	for _, e := range events {
		switch e.EventType {
		case model.EventRequestCreated:
			if c.CreatedAt == nil {
				t := e.EventAt
				c.CreatedAt = &t
			}
		case model.EventCompleted:
			if c.CompletedAt == nil {
				t := e.EventAt
				c.CompletedAt = &t
			}
		case model.EventSignatureApplied:
			if !signed {
				signed = true
				c.SignerIP = e.IPAddress
				c.SignerUserAgent = e.UserAgent
				c.SignerLocation = e.Geolocation
			}
		}
	}
	return c
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func marshalOptional(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
