package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/care-portal/internal/model"
)

// ErrTemplateNotFound is returned when a template cannot be found in the DB.
var ErrTemplateNotFound = fmt.Errorf("template %w", ErrNotFound)

// TemplateFilter narrows List. By default only active templates are returned.
type TemplateFilter struct {
	Category        string
	IncludeInactive bool
}

// TemplateRepo encapsulates all queries against document_templates. Rows are
// never deleted; Deactivate is the only removal path.
type TemplateRepo struct {
	db *sql.DB
}

// NewTemplateRepo constructs a TemplateRepo with the provided DB handle.
func NewTemplateRepo(db *sql.DB) *TemplateRepo {
	return &TemplateRepo{db: db}
}

const templateColumns = `id, name, description, category, template_type, file_path, form_schema,
	is_active, requires_witness, expiry_months, sort_order, created_by, created_at_ms, updated_at_ms`

func scanTemplate(row interface{ Scan(...any) error }) (*model.Template, error) {
	var (
		t                  model.Template
		desc, cat, path    sql.NullString
		schema, createdBy  sql.NullString
		expiry             sql.NullInt64
		createdMs, updated int64
		tplType            string
	)
	if err := row.Scan(&t.ID, &t.Name, &desc, &cat, &tplType, &path, &schema,
		&t.IsActive, &t.RequiresWitness, &expiry, &t.SortOrder, &createdBy, &createdMs, &updated); err != nil {
		return nil, err
	}
	t.Type = model.TemplateType(tplType)
	t.Description = ptrStr(desc)
	t.Category = ptrStr(cat)
	t.FilePath = ptrStr(path)
	t.CreatedBy = ptrStr(createdBy)
	if schema.Valid && schema.String != "" {
		t.FormSchema = []byte(schema.String)
	}
	if expiry.Valid {
		m := int(expiry.Int64)
		t.ExpiryMonths = &m
	}
	t.CreatedAt = timeOf(createdMs)
	t.UpdatedAt = timeOf(updated)
	return &t, nil
}

// Create inserts a new template. The ID is generated when empty; the
// caller supplies CreatedAt/UpdatedAt.
func (r *TemplateRepo) Create(ctx context.Context, t *model.Template) error {
	if t.ID == "" {
		t.ID = newID()
	}
	var expiry any
	if t.ExpiryMonths != nil {
		expiry = *t.ExpiryMonths
	}
	const q = `INSERT INTO document_templates (` + templateColumns + `)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		t.ID, t.Name, nullStr(t.Description), nullStr(t.Category), string(t.Type), nullStr(t.FilePath),
		nullBytes(t.FormSchema), boolInt(t.IsActive), boolInt(t.RequiresWitness), expiry, t.SortOrder,
		nullStr(t.CreatedBy), msOf(t.CreatedAt), msOf(t.UpdatedAt))
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// GetByID fetches a template regardless of its active flag.
func (r *TemplateRepo) GetByID(ctx context.Context, id string) (*model.Template, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM document_templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	return t, err
}

// FindByName returns the first template with exactly this name, active or not.
func (r *TemplateRepo) FindByName(ctx context.Context, name string) (*model.Template, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM document_templates WHERE name = ? ORDER BY created_at_ms LIMIT 1`, name)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	return t, err
}

// List returns templates ordered by sort_order then name.
func (r *TemplateRepo) List(ctx context.Context, f TemplateFilter) ([]*model.Template, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeInactive {
		where = append(where, "is_active = 1")
	}
	if c := strings.TrimSpace(f.Category); c != "" {
		where = append(where, "category = ?")
		args = append(args, c)
	}
	q := `SELECT ` + templateColumns + ` FROM document_templates`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY sort_order, name"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update rewrites a template's metadata. It returns ErrTemplateNotFound
// when no row matches.
func (r *TemplateRepo) Update(ctx context.Context, t *model.Template) error {
	var expiry any
	if t.ExpiryMonths != nil {
		expiry = *t.ExpiryMonths
	}
	const q = `UPDATE document_templates
	           SET name = ?, description = ?, category = ?, template_type = ?, file_path = ?, form_schema = ?,
	               is_active = ?, requires_witness = ?, expiry_months = ?, sort_order = ?, updated_at_ms = ?
	           WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q,
		t.Name, nullStr(t.Description), nullStr(t.Category), string(t.Type), nullStr(t.FilePath),
		nullBytes(t.FormSchema), boolInt(t.IsActive), boolInt(t.RequiresWitness), expiry, t.SortOrder,
		msOf(t.UpdatedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// Deactivate flips is_active off. Deactivating an inactive template is a no-op.
func (r *TemplateRepo) Deactivate(ctx context.Context, id string, at time.Time) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE document_templates SET is_active = 0, updated_at_ms = ? WHERE id = ?`, msOf(at), id)
	return err
}
