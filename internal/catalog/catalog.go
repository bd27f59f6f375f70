// Package catalog seeds document templates from a YAML file so a fresh
// deployment starts with the organisation's standard agreements.
//
//	templates:
//	  - name: Service Agreement
//	    category: onboarding
//	    template_type: pdf
//	    file_path: templates/service-agreement.pdf
//	    expiry_months: 12
//	    sort_order: 1
//
// Templates are matched by name. Seeding never deactivates or deletes a
// template that is missing from the file.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/care-portal/internal/clock"
	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/repository"
)

// Entry is one template in the catalog file.
type Entry struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description,omitempty"`
	Category        string `yaml:"category,omitempty"`
	Type            string `yaml:"template_type,omitempty"`
	FilePath        string `yaml:"file_path,omitempty"`
	FormSchema      any    `yaml:"form_schema,omitempty"`
	RequiresWitness bool   `yaml:"requires_witness,omitempty"`
	ExpiryMonths    *int   `yaml:"expiry_months,omitempty"`
	SortOrder       int    `yaml:"sort_order,omitempty"`
	// Inactive seeds the template switched off.
	Inactive bool `yaml:"inactive,omitempty"`
}

// Catalog is the parsed file.
type Catalog struct {
	Templates []Entry `yaml:"templates"`
}

// Parse decodes and validates a catalog. Unknown keys are rejected so a
// typo does not silently drop a field.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(c.Templates))
	for i, e := range c.Templates {
		if _, err := e.template(); err != nil {
			return nil, fmt.Errorf("catalog entry %d (%q): %w", i, e.Name, err)
		}
		key := strings.TrimSpace(e.Name)
		if seen[key] {
			return nil, fmt.Errorf("catalog entry %d: duplicate name %q", i, key)
		}
		seen[key] = true
	}
	return &c, nil
}

// Load reads and parses the catalog at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func (e Entry) template() (*model.Template, error) {
	t := &model.Template{
		Name:            e.Name,
		Type:            model.TemplateType(strings.TrimSpace(e.Type)),
		IsActive:        !e.Inactive,
		RequiresWitness: e.RequiresWitness,
		ExpiryMonths:    e.ExpiryMonths,
		SortOrder:       e.SortOrder,
		Description:     optional(e.Description),
		Category:        optional(e.Category),
		FilePath:        optional(e.FilePath),
	}
	if e.FormSchema != nil {
		b, err := json.Marshal(e.FormSchema)
		if err != nil {
			return nil, fmt.Errorf("form_schema: %w", err)
		}
		t.FormSchema = b
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Store is the subset of the template repository seeding needs.
type Store interface {
	FindByName(ctx context.Context, name string) (*model.Template, error)
	Create(ctx context.Context, t *model.Template) error
	Update(ctx context.Context, t *model.Template) error
}

// Result counts what a Seed call did.
type Result struct {
	Created   int
	Updated   int
	Unchanged int
}

// Seed creates missing templates and brings existing ones in line with
// the catalog.
func Seed(ctx context.Context, c *Catalog, store Store, clk clock.Clock, log logging.Logger) (Result, error) {
	var res Result
	now := clk.Now().UTC()
	for _, e := range c.Templates {
		want, err := e.template()
		if err != nil {
			return res, err
		}
		cur, err := store.FindByName(ctx, want.Name)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			want.CreatedAt, want.UpdatedAt = now, now
			if err := store.Create(ctx, want); err != nil {
				return res, fmt.Errorf("create template %q: %w", want.Name, err)
			}
			res.Created++
			log.Info(ctx, "template seeded", "name", want.Name, "id", want.ID)
			continue
		case err != nil:
			return res, fmt.Errorf("find template %q: %w", want.Name, err)
		}

		if sameMetadata(cur, want) {
			res.Unchanged++
			continue
		}
		want.ID = cur.ID
		want.CreatedBy = cur.CreatedBy
		want.CreatedAt = cur.CreatedAt
		want.UpdatedAt = now
		if err := store.Update(ctx, want); err != nil {
			return res, fmt.Errorf("update template %q: %w", want.Name, err)
		}
		res.Updated++
		log.Info(ctx, "template updated from catalog", "name", want.Name, "id", want.ID)
	}
	return res, nil
}

func sameMetadata(a, b *model.Template) bool {
	return a.Type == b.Type &&
		a.IsActive == b.IsActive &&
		a.RequiresWitness == b.RequiresWitness &&
		a.SortOrder == b.SortOrder &&
		eqString(a.Description, b.Description) &&
		eqString(a.Category, b.Category) &&
		eqString(a.FilePath, b.FilePath) &&
		eqInt(a.ExpiryMonths, b.ExpiryMonths) &&
		sameJSON(a.FormSchema, b.FormSchema)
}

func eqString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameJSON(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var x, y bytes.Buffer
	if json.Compact(&x, a) != nil || json.Compact(&y, b) != nil {
		return false
	}
	return bytes.Equal(x.Bytes(), y.Bytes())
}
