package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// TemplateType distinguishes uploaded PDFs from online forms.
type TemplateType string

const (
	TemplatePDF        TemplateType = "pdf"
	TemplateOnlineForm TemplateType = "online_form"
)

// Template is a signable document definition. Templates are never deleted
// while referenced; deactivation flips IsActive.
type Template struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     *string         `json:"description,omitempty"`
	Category        *string         `json:"category,omitempty"`
	Type            TemplateType    `json:"template_type"`
	FilePath        *string         `json:"file_path,omitempty"`
	FormSchema      json.RawMessage `json:"form_schema,omitempty"`
	IsActive        bool            `json:"is_active"`
	RequiresWitness bool            `json:"requires_witness"`
	ExpiryMonths    *int            `json:"expiry_months"`
	SortOrder       int             `json:"sort_order"`
	CreatedBy       *string         `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

var (
	ErrTemplateName   = errors.New("template name is required")
	ErrTemplateType   = errors.New("template_type must be pdf or online_form")
	ErrTemplateExpiry = errors.New("expiry_months must be positive")
	ErrTemplateSchema = errors.New("form_schema must be valid JSON")
)

// Validate normalizes and checks the template's metadata.
func (t *Template) Validate() error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return ErrTemplateName
	}
	if t.Type == "" {
		t.Type = TemplatePDF
	}
	if t.Type != TemplatePDF && t.Type != TemplateOnlineForm {
		return ErrTemplateType
	}
	if t.ExpiryMonths != nil && *t.ExpiryMonths <= 0 {
		return ErrTemplateExpiry
	}
	if len(t.FormSchema) > 0 && !json.Valid(t.FormSchema) {
		return ErrTemplateSchema
	}
	return nil
}

// ValidUntil derives a signed document's validity end from the signing
// time. It returns nil for templates with no expiry period.
func (t *Template) ValidUntil(signedAt time.Time) *time.Time {
	if t == nil || t.ExpiryMonths == nil {
		return nil
	}
	v := signedAt.AddDate(0, *t.ExpiryMonths, 0)
	return &v
}
