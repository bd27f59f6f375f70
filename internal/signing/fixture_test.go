package signing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/care-portal/internal/audit"
	"github.com/iliyamo/care-portal/internal/clock"
	"github.com/iliyamo/care-portal/internal/dbx"
	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/queue"
	"github.com/iliyamo/care-portal/internal/repository"
	"github.com/iliyamo/care-portal/internal/storage"
	"github.com/iliyamo/care-portal/internal/testutil"
)

var (
	t0     = time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	admin  = Actor{UserID: "admin-1", Role: model.RoleAdmin}
	signer = audit.ClientInfo{IP: "203.0.113.10", UserAgent: "Mozilla/5.0 (test)"}
	office = audit.ClientInfo{IP: "10.1.1.1", UserAgent: "portal"}
)

// pngSignature is a data URL carrying the 8-byte PNG magic.
const pngSignature = "data:image/png;base64,iVBORw0KGgo="

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.SigningEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.SigningEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, []byte, string) error {
	return errors.New("bucket unavailable")
}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, storage.ErrNotFound }

func (failingStore) Delete(context.Context, string) error { return nil }

// trackingStore records the keys written and removed through it.
type trackingStore struct {
	storage.ArtifactStore
	mu      sync.Mutex
	puts    []string
	deletes []string
}

func (s *trackingStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	s.puts = append(s.puts, key)
	s.mu.Unlock()
	return s.ArtifactStore.Put(ctx, key, body, contentType)
}

func (s *trackingStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, key)
	s.mu.Unlock()
	return s.ArtifactStore.Delete(ctx, key)
}

// brokenAuditStore reads normally but rejects every write.
type brokenAuditStore struct {
	*repository.AuditRepo
}

func (brokenAuditStore) Insert(context.Context, dbx.DBTX, *model.AuditEntry) error {
	return errors.New("audit database down")
}

type fixture struct {
	svc       *Service
	db        *sql.DB
	clk       *clock.FakeClock
	events    *recordingPublisher
	audit     *audit.Log
	requests  *repository.SigningRequestRepo
	templates *repository.TemplateRepo
	documents *repository.SignedDocumentRepo
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	store, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		db:        db,
		clk:       clock.Fake(t0),
		events:    &recordingPublisher{},
		requests:  repository.NewSigningRequestRepo(db),
		templates: repository.NewTemplateRepo(db),
		documents: repository.NewSignedDocumentRepo(db),
	}
	f.audit = audit.New(repository.NewAuditRepo(db), f.clk, logging.Nop())
	d := Deps{
		DB:                db,
		Requests:          f.requests,
		Templates:         f.templates,
		Documents:         f.documents,
		Audit:             f.audit,
		Artifacts:         store,
		Events:            f.events,
		Clock:             f.clk,
		Log:               logging.Nop(),
		LinkBaseURL:       "https://portal.example.org/",
		DefaultExpiryDays: 30,
	}
	for _, o := range opts {
		o(&d)
	}
	f.svc = NewService(d)
	return f
}

func (f *fixture) template(t *testing.T, months *int) *model.Template {
	t.Helper()
	tpl := &model.Template{
		Name: "Service Agreement", Type: model.TemplatePDF, IsActive: true,
		ExpiryMonths: months, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, f.templates.Create(context.Background(), tpl))
	return tpl
}

func (f *fixture) create(t *testing.T, tpl *model.Template, expiryDays *int, send bool) *Created {
	t.Helper()
	c, err := f.svc.CreateRequest(context.Background(), CreateInput{
		TemplateID:      tpl.ID,
		RecipientName:   "Ada Client",
		RecipientEmail:  "Ada@Example.com",
		ExpiryDays:      expiryDays,
		SendImmediately: send,
	}, admin, office)
	require.NoError(t, err)
	return c
}

func (f *fixture) reload(t *testing.T, id string) *model.SigningRequest {
	t.Helper()
	sr, err := f.requests.GetByID(context.Background(), id)
	require.NoError(t, err)
	return sr
}

func (f *fixture) history(t *testing.T, id string) []*model.AuditEntry {
	t.Helper()
	h, err := f.audit.History(context.Background(), id)
	require.NoError(t, err)
	return h
}

func (f *fixture) eventTypes(t *testing.T, id string) []model.EventType {
	t.Helper()
	h := f.history(t, id)
	out := make([]model.EventType, len(h))
	for i, e := range h {
		out[i] = e.EventType
	}
	return out
}

func (f *fixture) countDocuments(t *testing.T, requestID string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(
		`SELECT COUNT(*) FROM signed_documents WHERE signing_request_id = ?`, requestID).Scan(&n))
	return n
}

func days(n int) *int { return &n }

func metadataOf(t *testing.T, e *model.AuditEntry) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(e.Metadata, &m))
	return m
}

func months(n int) *int { return &n }
