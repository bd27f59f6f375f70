package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/care-portal/internal/dbx"
	"github.com/iliyamo/care-portal/internal/model"
)

// ErrSignedDocumentNotFound is returned when no signed document matches.
var ErrSignedDocumentNotFound = fmt.Errorf("signed document %w", ErrNotFound)

// SignedDocumentRepo stores completion artifacts. Rows are written once,
// inside the same transaction that marks the request signed, and never
// updated.
type SignedDocumentRepo struct {
	db *sql.DB
}

// NewSignedDocumentRepo returns a SignedDocumentRepo bound to db.
func NewSignedDocumentRepo(db *sql.DB) *SignedDocumentRepo { return &SignedDocumentRepo{db: db} }

// SignedDocumentFilter narrows List.
type SignedDocumentFilter struct {
	SignerUserID string
	SignerEmail  string
	TemplateID   string
	Limit        int
	Offset       int
}

const signedDocumentColumns = `id, signing_request_id, template_id, signer_user_id, signer_email, signer_name,
	signed_document_path, signed_at_ms, signature_ip, signature_user_agent, document_hash, hash_method,
	valid_until_ms, certificate_data, created_at_ms`

func scanSignedDocument(row interface{ Scan(...any) error }) (*model.SignedDocument, error) {
	var (
		d                   model.SignedDocument
		signerUserID, cert  sql.NullString
		signedMs, createdMs int64
		validUntil          sql.NullInt64
	)
	err := row.Scan(&d.ID, &d.SigningRequestID, &d.TemplateID, &signerUserID, &d.SignerEmail, &d.SignerName,
		&d.SignedDocumentPath, &signedMs, &d.SignatureIP, &d.SignatureUserAgent, &d.DocumentHash, &d.HashMethod,
		&validUntil, &cert, &createdMs)
	if err != nil {
		return nil, err
	}
	d.SignerUserID = ptrStr(signerUserID)
	d.SignedAt = timeOf(signedMs)
	d.ValidUntil = ptrTime(validUntil)
	d.CreatedAt = timeOf(createdMs)
	if cert.Valid && cert.String != "" {
		var c model.CertificateSnapshot
		if err := json.Unmarshal([]byte(cert.String), &c); err != nil {
			return nil, fmt.Errorf("decode certificate_data: %w", err)
		}
		d.Certificate = &c
	}
	return &d, nil
}

// CreateTx inserts d using q, which is expected to be the transaction
// that also moved the request to signed. A second document for the same
// request, or a repeated hash, yields ErrDuplicate.
func (r *SignedDocumentRepo) CreateTx(ctx context.Context, q dbx.DBTX, d *model.SignedDocument) error {
	if d.ID == "" {
		d.ID = newID()
	}
	var cert any
	if d.Certificate != nil {
		b, err := json.Marshal(d.Certificate)
		if err != nil {
			return err
		}
		cert = string(b)
	}
	const stmt = `INSERT INTO signed_documents (` + signedDocumentColumns + `)
	              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, stmt,
		d.ID, d.SigningRequestID, d.TemplateID, nullStr(d.SignerUserID), d.SignerEmail, d.SignerName,
		d.SignedDocumentPath, msOf(d.SignedAt), d.SignatureIP, d.SignatureUserAgent, d.DocumentHash, d.HashMethod,
		nullMs(d.ValidUntil), cert, msOf(d.CreatedAt))
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// GetByID fetches one signed document.
func (r *SignedDocumentRepo) GetByID(ctx context.Context, id string) (*model.SignedDocument, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+signedDocumentColumns+` FROM signed_documents WHERE id = ?`, id)
	d, err := scanSignedDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSignedDocumentNotFound
	}
	return d, err
}

// GetByRequestID fetches the document produced by a signing request.
func (r *SignedDocumentRepo) GetByRequestID(ctx context.Context, requestID string) (*model.SignedDocument, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+signedDocumentColumns+` FROM signed_documents WHERE signing_request_id = ?`, requestID)
	d, err := scanSignedDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSignedDocumentNotFound
	}
	return d, err
}

// List returns documents matching f, most recently signed first.
func (r *SignedDocumentRepo) List(ctx context.Context, f SignedDocumentFilter) ([]*model.SignedDocument, error) {
	var (
		where []string
		args  []any
	)
	if f.SignerUserID != "" {
		where = append(where, "signer_user_id = ?")
		args = append(args, f.SignerUserID)
	}
	if e := strings.ToLower(strings.TrimSpace(f.SignerEmail)); e != "" {
		where = append(where, "signer_email = ?")
		args = append(args, e)
	}
	if f.TemplateID != "" {
		where = append(where, "template_id = ?")
		args = append(args, f.TemplateID)
	}
	q := `SELECT ` + signedDocumentColumns + ` FROM signed_documents`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	q += " ORDER BY signed_at_ms DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.SignedDocument
	for rows.Next() {
		d, err := scanSignedDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
