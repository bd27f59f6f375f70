package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/care-portal/internal/dbx"
	"github.com/iliyamo/care-portal/internal/model"
)

// ErrSigningRequestNotFound is returned when no signing request matches
// the given id or access token.
var ErrSigningRequestNotFound = fmt.Errorf("signing request %w", ErrNotFound)

// SigningRequestRepo persists signing requests. Rows are never deleted;
// every status change goes through Transition, which only succeeds when
// the current status is a legal source of the target status.
type SigningRequestRepo struct {
	db *sql.DB
}

// NewSigningRequestRepo returns a SigningRequestRepo bound to db.
func NewSigningRequestRepo(db *sql.DB) *SigningRequestRepo { return &SigningRequestRepo{db: db} }

// SigningRequestFilter narrows List. Zero values mean "no filter".
type SigningRequestFilter struct {
	Status          model.Status
	RecipientEmail  string
	RecipientUserID string
	TemplateID      string
	SentBy          string
	Limit           int
	Offset          int
}

// TransitionFields carries the optional columns a transition stamps
// alongside the status.
type TransitionFields struct {
	// ActorID is recorded as voided_by on a void.
	ActorID string
	// Reason is recorded as void_reason on a void.
	Reason string
}

const signingRequestColumns = `id, template_id, access_token, access_method, recipient_name, recipient_email,
	recipient_phone, recipient_user_id, status, sent_by, expires_at_ms, sent_at_ms, viewed_at_ms,
	signed_at_ms, declined_at_ms, voided_at_ms, voided_by, void_reason, reminder_count,
	last_reminder_at_ms, created_at_ms, updated_at_ms`

func scanSigningRequest(row interface{ Scan(...any) error }) (*model.SigningRequest, error) {
	var (
		sr                              model.SigningRequest
		phone, userID, sentBy, voidedBy sql.NullString
		voidReason                      sql.NullString
		expires, sent, viewed, signed   sql.NullInt64
		declined, voided, lastReminder  sql.NullInt64
		method, status                  string
		createdMs, updatedMs            int64
	)
	err := row.Scan(&sr.ID, &sr.TemplateID, &sr.AccessToken, &method, &sr.RecipientName, &sr.RecipientEmail,
		&phone, &userID, &status, &sentBy, &expires, &sent, &viewed,
		&signed, &declined, &voided, &voidedBy, &voidReason, &sr.ReminderCount,
		&lastReminder, &createdMs, &updatedMs)
	if err != nil {
		return nil, err
	}
	sr.AccessMethod = model.AccessMethod(method)
	sr.Status = model.Status(status)
	sr.RecipientPhone = ptrStr(phone)
	sr.RecipientUserID = ptrStr(userID)
	sr.SentBy = ptrStr(sentBy)
	sr.VoidedBy = ptrStr(voidedBy)
	sr.VoidReason = ptrStr(voidReason)
	sr.ExpiresAt = ptrTime(expires)
	sr.SentAt = ptrTime(sent)
	sr.ViewedAt = ptrTime(viewed)
	sr.SignedAt = ptrTime(signed)
	sr.DeclinedAt = ptrTime(declined)
	sr.VoidedAt = ptrTime(voided)
	sr.LastReminderAt = ptrTime(lastReminder)
	sr.CreatedAt = timeOf(createdMs)
	sr.UpdatedAt = timeOf(updatedMs)
	return &sr, nil
}

// Create inserts a new request. A collision on the access token (or id)
// is reported as ErrDuplicate so the caller can mint a fresh token.
func (r *SigningRequestRepo) Create(ctx context.Context, sr *model.SigningRequest) error {
	if sr.ID == "" {
		sr.ID = newID()
	}
	const q = `INSERT INTO signing_requests (` + signingRequestColumns + `)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		sr.ID, sr.TemplateID, sr.AccessToken, string(sr.AccessMethod), sr.RecipientName, sr.RecipientEmail,
		nullStr(sr.RecipientPhone), nullStr(sr.RecipientUserID), string(sr.Status), nullStr(sr.SentBy),
		nullMs(sr.ExpiresAt), nullMs(sr.SentAt), nullMs(sr.ViewedAt),
		nullMs(sr.SignedAt), nullMs(sr.DeclinedAt), nullMs(sr.VoidedAt), nullStr(sr.VoidedBy), nullStr(sr.VoidReason),
		sr.ReminderCount, nullMs(sr.LastReminderAt), msOf(sr.CreatedAt), msOf(sr.UpdatedAt))
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// GetByID fetches a request by primary key.
func (r *SigningRequestRepo) GetByID(ctx context.Context, id string) (*model.SigningRequest, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

// GetByIDTx is GetByID against an arbitrary handle, typically an open tx.
func (r *SigningRequestRepo) GetByIDTx(ctx context.Context, q dbx.DBTX, id string) (*model.SigningRequest, error) {
	row := q.QueryRowContext(ctx, `SELECT `+signingRequestColumns+` FROM signing_requests WHERE id = ?`, id)
	sr, err := scanSigningRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSigningRequestNotFound
	}
	return sr, err
}

// GetByToken resolves an access token to its request.
func (r *SigningRequestRepo) GetByToken(ctx context.Context, token string) (*model.SigningRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+signingRequestColumns+` FROM signing_requests WHERE access_token = ?`, token)
	sr, err := scanSigningRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSigningRequestNotFound
	}
	return sr, err
}

// List returns requests matching f, newest first, plus the total count of
// matching rows ignoring Limit/Offset.
func (r *SigningRequestRepo) List(ctx context.Context, f SigningRequestFilter) ([]*model.SigningRequest, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if e := strings.ToLower(strings.TrimSpace(f.RecipientEmail)); e != "" {
		where = append(where, "recipient_email = ?")
		args = append(args, e)
	}
	if f.RecipientUserID != "" {
		where = append(where, "recipient_user_id = ?")
		args = append(args, f.RecipientUserID)
	}
	if f.TemplateID != "" {
		where = append(where, "template_id = ?")
		args = append(args, f.TemplateID)
	}
	if f.SentBy != "" {
		where = append(where, "sent_by = ?")
		args = append(args, f.SentBy)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signing_requests`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	q := `SELECT ` + signingRequestColumns + ` FROM signing_requests` + cond +
		` ORDER BY created_at_ms DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*model.SigningRequest
	for rows.Next() {
		sr, err := scanSigningRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sr)
	}
	return out, total, rows.Err()
}

// Transition moves request id to status `to` if, and only if, its current
// status is one of model.SourcesOf(to). It reports whether a row changed.
// A false result with a nil error means the request does not exist or has
// moved to a status from which `to` is unreachable; callers re-read the
// row to decide which.
//
// The per-status timestamp column is stamped with at. viewed_at keeps its
// first value.
func (r *SigningRequestRepo) Transition(ctx context.Context, q dbx.DBTX, id string, to model.Status, at time.Time, f TransitionFields) (bool, error) {
	if q == nil {
		q = r.db
	}
	sources := model.SourcesOf(to)
	if len(sources) == 0 {
		return false, fmt.Errorf("no transition leads to %q", to)
	}
	ms := msOf(at)
	set := []string{"status = ?", "updated_at_ms = ?"}
	args := []any{string(to), ms}
	switch to {
	case model.StatusSent:
		set = append(set, "sent_at_ms = ?")
		args = append(args, ms)
	case model.StatusViewed:
		set = append(set, "viewed_at_ms = COALESCE(viewed_at_ms, ?)")
		args = append(args, ms)
	case model.StatusSigned:
		set = append(set, "signed_at_ms = ?")
		args = append(args, ms)
	case model.StatusDeclined:
		set = append(set, "declined_at_ms = ?")
		args = append(args, ms)
	case model.StatusVoided:
		set = append(set, "voided_at_ms = ?", "voided_by = ?", "void_reason = ?")
		args = append(args, ms, nullIfEmpty(f.ActorID), nullIfEmpty(f.Reason))
	}
	args = append(args, id)
	for _, s := range sources {
		args = append(args, string(s))
	}
	stmt := `UPDATE signing_requests SET ` + strings.Join(set, ", ") +
		` WHERE id = ? AND status IN (` + inClause(len(sources)) + `)`
	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordReminder bumps reminder_count on a non-terminal request and
// returns the new count. ErrConflict means the request is terminal.
func (r *SigningRequestRepo) RecordReminder(ctx context.Context, id string, at time.Time) (int, error) {
	open := model.OpenStatuses()
	args := []any{msOf(at), msOf(at), id}
	for _, s := range open {
		args = append(args, string(s))
	}
	const head = `UPDATE signing_requests
	              SET reminder_count = reminder_count + 1, last_reminder_at_ms = ?, updated_at_ms = ?
	              WHERE id = ? AND status IN (`
	res, err := r.db.ExecContext(ctx, head+inClause(len(open))+`)`, args...)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return 0, err
		}
		return 0, ErrConflict
	}
	var count int
	err = r.db.QueryRowContext(ctx, `SELECT reminder_count FROM signing_requests WHERE id = ?`, id).Scan(&count)
	return count, err
}

// ListExpirable returns non-terminal requests whose deadline is before now,
// oldest deadline first.
func (r *SigningRequestRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*model.SigningRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	open := model.OpenStatuses()
	args := []any{msOf(now)}
	for _, s := range open {
		args = append(args, string(s))
	}
	args = append(args, limit)
	q := `SELECT ` + signingRequestColumns + ` FROM signing_requests
	      WHERE expires_at_ms IS NOT NULL AND expires_at_ms < ? AND status IN (` + inClause(len(open)) + `)
	      ORDER BY expires_at_ms LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.SigningRequest
	for rows.Next() {
		sr, err := scanSigningRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of requests per status.
func (r *SigningRequestRepo) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM signing_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.Status]int)
	for rows.Next() {
		var (
			s string
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[model.Status(s)] = n
	}
	return out, rows.Err()
}
