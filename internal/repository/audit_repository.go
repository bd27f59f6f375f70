package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/iliyamo/care-portal/internal/dbx"
	"github.com/iliyamo/care-portal/internal/model"
)

// AuditRepo is the append-only store behind the signing audit trail. It
// exposes no update or delete.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo returns an AuditRepo bound to db.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

// AuditQuery narrows cross-request reads. Nil bounds are open.
type AuditQuery struct {
	EventType model.EventType
	From      *time.Time
	To        *time.Time
	Limit     int
}

const auditColumns = `id, signing_request_id, event_type, event_at_ms, ip_address, user_agent,
	geolocation, metadata, signature_data`

func scanAudit(row interface{ Scan(...any) error }) (*model.AuditEntry, error) {
	var (
		e                   model.AuditEntry
		eventType           string
		at                  int64
		ip, ua, geo         sql.NullString
		metadata, signature sql.NullString
	)
	if err := row.Scan(&e.ID, &e.SigningRequestID, &eventType, &at, &ip, &ua, &geo, &metadata, &signature); err != nil {
		return nil, err
	}
	e.EventType = model.EventType(eventType)
	e.EventAt = timeOf(at)
	e.IPAddress = ptrStr(ip)
	e.UserAgent = ptrStr(ua)
	if geo.Valid && geo.String != "" {
		var g model.Geolocation
		if err := json.Unmarshal([]byte(geo.String), &g); err == nil {
			e.Geolocation = &g
		}
	}
	if metadata.Valid && metadata.String != "" {
		e.Metadata = json.RawMessage(metadata.String)
	}
	if signature.Valid && signature.String != "" {
		e.SignatureData = json.RawMessage(signature.String)
	}
	return &e, nil
}

// Insert appends one entry. The id is generated when empty.
func (r *AuditRepo) Insert(ctx context.Context, q dbx.DBTX, e *model.AuditEntry) error {
	if q == nil {
		q = r.db
	}
	if e.ID == "" {
		e.ID = newID()
	}
	var geo any
	if e.Geolocation != nil {
		b, err := json.Marshal(e.Geolocation)
		if err != nil {
			return err
		}
		geo = string(b)
	}
	const stmt = `INSERT INTO signing_audit_log (` + auditColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, stmt,
		e.ID, e.SigningRequestID, string(e.EventType), msOf(e.EventAt),
		nullStr(e.IPAddress), nullStr(e.UserAgent), geo,
		nullBytes(e.Metadata), nullBytes(e.SignatureData))
	return err
}

// ListByRequest returns the full history of one request in ascending
// event order. Entries written in the same millisecond keep insertion
// order through their time-ordered ids.
func (r *AuditRepo) ListByRequest(ctx context.Context, requestID string) ([]*model.AuditEntry, error) {
	const q = `SELECT ` + auditColumns + ` FROM signing_audit_log
	           WHERE signing_request_id = ? ORDER BY event_at_ms ASC, id ASC`
	return r.query(ctx, q, requestID)
}

// ListByType returns entries across all requests, newest first.
func (r *AuditRepo) ListByType(ctx context.Context, aq AuditQuery) ([]*model.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if aq.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(aq.EventType))
	}
	where, args = timeRange("event_at_ms", aq.From, aq.To, where, args)
	q := `SELECT ` + auditColumns + ` FROM signing_audit_log`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY event_at_ms DESC, id DESC"
	if aq.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, aq.Limit)
	}
	return r.query(ctx, q, args...)
}

// CountByType returns the number of entries per event type in the range.
func (r *AuditRepo) CountByType(ctx context.Context, from, to *time.Time) (map[model.EventType]int, error) {
	where, args := timeRange("event_at_ms", from, to, nil, nil)
	q := `SELECT event_type, COUNT(*) FROM signing_audit_log`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " GROUP BY event_type"
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.EventType]int)
	for rows.Next() {
		var (
			et string
			n  int
		)
		if err := rows.Scan(&et, &n); err != nil {
			return nil, err
		}
		out[model.EventType(et)] = n
	}
	return out, rows.Err()
}

func (r *AuditRepo) query(ctx context.Context, q string, args ...any) ([]*model.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
