package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/care-portal/internal/dbx"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seedTemplate(t *testing.T, repo *TemplateRepo, name string, months *int) *model.Template {
	t.Helper()
	tpl := &model.Template{
		Name:         name,
		Type:         model.TemplatePDF,
		IsActive:     true,
		ExpiryMonths: months,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	require.NoError(t, repo.Create(context.Background(), tpl))
	return tpl
}

func seedRequest(t *testing.T, repo *SigningRequestRepo, templateID, token string, status model.Status) *model.SigningRequest {
	t.Helper()
	sr := &model.SigningRequest{
		TemplateID:     templateID,
		AccessToken:    token,
		AccessMethod:   model.AccessEmailLink,
		RecipientName:  "Ada Client",
		RecipientEmail: "ada@example.com",
		Status:         status,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
	require.NoError(t, repo.Create(context.Background(), sr))
	return sr
}

func intPtr(n int) *int { return &n }

func TestTemplateRepo_CRUD(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	repo := NewTemplateRepo(db)

	cat := "consent"
	a := seedTemplate(t, repo, "Service Agreement", intPtr(12))
	b := &model.Template{
		Name: "Privacy Consent", Category: &cat, Type: model.TemplateOnlineForm,
		FormSchema: json.RawMessage(`{"fields":[]}`), IsActive: true, SortOrder: -1,
		CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, repo.Create(ctx, b))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "Service Agreement", got.Name)
	require.Equal(t, 12, *got.ExpiryMonths)
	require.True(t, got.IsActive)

	list, err := repo.List(ctx, TemplateFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, b.ID, list[0].ID, "sort_order wins over name")
	require.JSONEq(t, `{"fields":[]}`, string(list[0].FormSchema))

	list, err = repo.List(ctx, TemplateFilter{Category: "consent"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	a.Name = "Service Agreement v2"
	a.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, repo.Update(ctx, a))

	require.NoError(t, repo.Deactivate(ctx, a.ID, t0.Add(2*time.Hour)))
	list, err = repo.List(ctx, TemplateFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = repo.List(ctx, TemplateFilter{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, list, 2)

	found, err := repo.FindByName(ctx, "Service Agreement v2")
	require.NoError(t, err)
	require.False(t, found.IsActive)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, repo.Deactivate(ctx, "missing", t0), ErrTemplateNotFound)
}

func TestSigningRequestRepo_DuplicateToken(t *testing.T) {
	db := testutil.OpenDB(t)
	tpl := seedTemplate(t, NewTemplateRepo(db), "T", nil)
	repo := NewSigningRequestRepo(db)

	seedRequest(t, repo, tpl.ID, "tok-a", model.StatusPending)
	err := repo.Create(context.Background(), &model.SigningRequest{
		TemplateID: tpl.ID, AccessToken: "tok-a", AccessMethod: model.AccessEmailLink,
		RecipientName: "B", RecipientEmail: "b@example.com", Status: model.StatusPending,
		CreatedAt: t0, UpdatedAt: t0,
	})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestSigningRequestRepo_Transition(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	tpl := seedTemplate(t, NewTemplateRepo(db), "T", nil)
	repo := NewSigningRequestRepo(db)
	sr := seedRequest(t, repo, tpl.ID, "tok-1", model.StatusSent)

	ok, err := repo.Transition(ctx, nil, sr.ID, model.StatusViewed, t0.Add(time.Minute), TransitionFields{})
	require.NoError(t, err)
	require.True(t, ok)

	// viewed -> viewed is not an edge, so a repeat view changes nothing.
	ok, err = repo.Transition(ctx, nil, sr.ID, model.StatusViewed, t0.Add(2*time.Minute), TransitionFields{})
	require.NoError(t, err)
	require.False(t, ok)

	_, err = repo.Transition(ctx, nil, sr.ID, model.StatusPending, t0, TransitionFields{})
	require.Error(t, err, "nothing leads back to pending")

	got, err := repo.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusViewed, got.Status)
	require.Equal(t, t0.Add(time.Minute), *got.ViewedAt)

	ok, err = repo.Transition(ctx, nil, sr.ID, model.StatusVoided, t0.Add(time.Hour),
		TransitionFields{ActorID: "admin-1", Reason: "duplicate"})
	require.NoError(t, err)
	require.True(t, ok)

	got, err = repo.GetByID(ctx, sr.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusVoided, got.Status)
	require.Equal(t, "duplicate", *got.VoidReason)
	require.Equal(t, "admin-1", *got.VoidedBy)
	require.Equal(t, t0.Add(time.Hour), *got.VoidedAt)

	// Terminal rows never move again.
	for _, to := range []model.Status{model.StatusSigned, model.StatusExpired, model.StatusDeclined} {
		ok, err = repo.Transition(ctx, nil, sr.ID, to, t0.Add(2*time.Hour), TransitionFields{})
		require.NoError(t, err)
		require.False(t, ok, to)
	}

	ok, err = repo.Transition(ctx, nil, "missing", model.StatusSigned, t0, TransitionFields{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSigningRequestRepo_TransitionInsideTx(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	tpl := seedTemplate(t, NewTemplateRepo(db), "T", nil)
	repo := NewSigningRequestRepo(db)
	sr := seedRequest(t, repo, tpl.ID, "tok-1", model.StatusViewed)

	boom := ErrConflict
	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ok, err := repo.Transition(ctx, tx, sr.ID, model.StatusSigned, t0, TransitionFields{})
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.GetByID(ctx, sr.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusViewed, got.Status, "rolled back")
	require.Nil(t, got.SignedAt)
}

func TestSigningRequestRepo_ListAndReminders(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	tpl := seedTemplate(t, NewTemplateRepo(db), "T", nil)
	repo := NewSigningRequestRepo(db)

	a := seedRequest(t, repo, tpl.ID, "tok-a", model.StatusSent)
	b := seedRequest(t, repo, tpl.ID, "tok-b", model.StatusSigned)
	uid := "client-1"
	c := &model.SigningRequest{
		TemplateID: tpl.ID, AccessToken: "tok-c", AccessMethod: model.AccessPortal,
		RecipientName: "C", RecipientEmail: "c@example.com", RecipientUserID: &uid,
		Status: model.StatusPending, CreatedAt: t0.Add(time.Second), UpdatedAt: t0,
	}
	require.NoError(t, repo.Create(ctx, c))

	all, total, err := repo.List(ctx, SigningRequestFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Equal(t, c.ID, all[0].ID, "newest first")

	sent, total, err := repo.List(ctx, SigningRequestFilter{Status: model.StatusSent})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, a.ID, sent[0].ID)

	mine, _, err := repo.List(ctx, SigningRequestFilter{RecipientUserID: uid})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	page, total, err := repo.List(ctx, SigningRequestFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page, 1)

	n, err := repo.RecordReminder(ctx, a.ID, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = repo.RecordReminder(ctx, a.ID, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = repo.RecordReminder(ctx, b.ID, t0)
	require.ErrorIs(t, err, ErrConflict)
	_, err = repo.RecordReminder(ctx, "missing", t0)
	require.ErrorIs(t, err, ErrSigningRequestNotFound)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[model.StatusSigned])
	require.Equal(t, 1, counts[model.StatusPending])
}

func TestSigningRequestRepo_ListExpirable(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	tpl := seedTemplate(t, NewTemplateRepo(db), "T", nil)
	repo := NewSigningRequestRepo(db)

	past := t0.Add(-time.Hour)
	future := t0.Add(time.Hour)
	mk := func(token string, status model.Status, exp *time.Time) {
		require.NoError(t, repo.Create(ctx, &model.SigningRequest{
			TemplateID: tpl.ID, AccessToken: token, AccessMethod: model.AccessEmailLink,
			RecipientName: "R", RecipientEmail: "r@example.com", Status: status,
			ExpiresAt: exp, CreatedAt: t0, UpdatedAt: t0,
		}))
	}
	mk("stale", model.StatusSent, &past)
	mk("fresh", model.StatusSent, &future)
	mk("never", model.StatusViewed, nil)
	mk("done", model.StatusSigned, &past)

	got, err := repo.ListExpirable(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "stale", got[0].AccessToken)
}

func TestAuditRepo_OrderingAndCounts(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	tpl := seedTemplate(t, NewTemplateRepo(db), "T", nil)
	sr := seedRequest(t, NewSigningRequestRepo(db), tpl.ID, "tok", model.StatusPending)
	repo := NewAuditRepo(db)

	ip := "203.0.113.7"
	events := []struct {
		typ model.EventType
		at  time.Time
	}{
		{model.EventRequestCreated, t0},
		{model.EventLinkAccessed, t0.Add(time.Minute)},
		{model.EventSignatureApplied, t0.Add(2 * time.Minute)},
		{model.EventCompleted, t0.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		require.NoError(t, repo.Insert(ctx, nil, &model.AuditEntry{
			SigningRequestID: sr.ID, EventType: ev.typ, EventAt: ev.at, IPAddress: &ip,
			Geolocation: &model.Geolocation{City: "Perth", Country: "AU"},
			Metadata:    json.RawMessage(`{"k":"v"}`),
		}))
	}

	hist, err := repo.ListByRequest(ctx, sr.ID)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	for i, ev := range events {
		require.Equal(t, ev.typ, hist[i].EventType)
	}
	require.Equal(t, "Perth, AU", hist[0].Geolocation.String())
	require.JSONEq(t, `{"k":"v"}`, string(hist[0].Metadata))

	from := t0.Add(30 * time.Second)
	recent, err := repo.ListByType(ctx, AuditQuery{From: &from})
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, model.EventCompleted, recent[0].EventType, "newest first")

	limited, err := repo.ListByType(ctx, AuditQuery{EventType: model.EventLinkAccessed, Limit: 5})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	counts, err := repo.CountByType(ctx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, counts[model.EventCompleted])
	require.Len(t, counts, 4)
}

func TestSignedDocumentRepo_UniqueAndLookup(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	tpl := seedTemplate(t, NewTemplateRepo(db), "T", intPtr(12))
	srRepo := NewSigningRequestRepo(db)
	a := seedRequest(t, srRepo, tpl.ID, "tok-a", model.StatusSigned)
	b := seedRequest(t, srRepo, tpl.ID, "tok-b", model.StatusSigned)
	repo := NewSignedDocumentRepo(db)

	until := t0.AddDate(1, 0, 0)
	doc := &model.SignedDocument{
		SigningRequestID: a.ID, TemplateID: tpl.ID, SignerEmail: "ada@example.com", SignerName: "Ada",
		SignedDocumentPath: "signatures/a.png", SignedAt: t0, SignatureIP: "203.0.113.7",
		SignatureUserAgent: "test", DocumentHash: "aa", HashMethod: model.HashArtifact,
		ValidUntil: &until, Certificate: &model.CertificateSnapshot{DocumentName: "T", SignedAt: t0},
		CreatedAt: t0,
	}
	require.NoError(t, dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return repo.CreateTx(ctx, tx, doc)
	}))

	second := *doc
	second.ID = ""
	second.DocumentHash = "bb"
	require.ErrorIs(t, repo.CreateTx(ctx, db, &second), ErrDuplicate, "one document per request")

	sameHash := *doc
	sameHash.ID = ""
	sameHash.SigningRequestID = b.ID
	require.ErrorIs(t, repo.CreateTx(ctx, db, &sameHash), ErrDuplicate, "hash is unique")

	got, err := repo.GetByRequestID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, doc.ID, got.ID)
	require.Equal(t, until, *got.ValidUntil)
	require.Equal(t, "T", got.Certificate.DocumentName)

	list, err := repo.List(ctx, SignedDocumentFilter{TemplateID: tpl.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, ErrSignedDocumentNotFound)
}

func TestUserAndTokenRepos(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	users := NewUserRepo(db)
	tokens := NewTokenRepo(db)

	u, err := users.Create(ctx, NewUser{Email: " Admin@Example.com ", FullName: "Admin", Password: "s3cret!!", Role: "admin"}, 4, t0)
	require.NoError(t, err)
	require.Equal(t, "admin@example.com", u.Email)
	require.Equal(t, model.RoleAdmin, u.Role)

	_, err = users.Create(ctx, NewUser{Email: "admin@example.com", Password: "x", Role: model.RoleClient}, 4, t0)
	require.ErrorIs(t, err, ErrEmailExists)

	got, err := users.GetByEmail(ctx, "ADMIN@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.True(t, got.IsActive)

	n, err := users.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = users.GetByID(ctx, "missing")
	require.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, tokens.StoreRefresh(ctx, u.ID, "h1", t0.Add(time.Hour), t0))
	uid, err := tokens.ValidateRefresh(ctx, "h1", t0)
	require.NoError(t, err)
	require.Equal(t, u.ID, uid)

	_, err = tokens.ValidateRefresh(ctx, "h1", t0.Add(2*time.Hour))
	require.Error(t, err, "expired")

	require.NoError(t, tokens.RevokeByHash(ctx, "h1", t0))
	_, err = tokens.ValidateRefresh(ctx, "h1", t0)
	require.Error(t, err, "revoked")
}
