package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/care-portal/internal/clock"
	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/middleware"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/repository"
)

// TemplateHandler serves /v1/templates. Writes purge the list cache.
type TemplateHandler struct {
	Templates *repository.TemplateRepo
	Cache     *middleware.ResponseCache
	Clock     clock.Clock
	Log       logging.Logger
}

func NewTemplateHandler(r *repository.TemplateRepo, cache *middleware.ResponseCache, clk clock.Clock, log logging.Logger) *TemplateHandler {
	return &TemplateHandler{Templates: r, Cache: cache, Clock: clk, Log: log}
}

// templateReq carries create and update bodies. On update, omitted fields
// keep their current value.
type templateReq struct {
	Name            *string          `json:"name"`
	Description     *string          `json:"description"`
	Category        *string          `json:"category"`
	Type            *string          `json:"template_type"`
	FilePath        *string          `json:"file_path"`
	FormSchema      *json.RawMessage `json:"form_schema"`
	IsActive        *bool            `json:"is_active"`
	RequiresWitness *bool            `json:"requires_witness"`
	ExpiryMonths    *int             `json:"expiry_months"`
	SortOrder       *int             `json:"sort_order"`
}

func (r templateReq) apply(t *model.Template) {
	if r.Name != nil {
		t.Name = *r.Name
	}
	if r.Description != nil {
		t.Description = r.Description
	}
	if r.Category != nil {
		t.Category = r.Category
	}
	if r.Type != nil {
		t.Type = model.TemplateType(*r.Type)
	}
	if r.FilePath != nil {
		t.FilePath = r.FilePath
	}
	if r.FormSchema != nil {
		t.FormSchema = *r.FormSchema
	}
	if r.IsActive != nil {
		t.IsActive = *r.IsActive
	}
	if r.RequiresWitness != nil {
		t.RequiresWitness = *r.RequiresWitness
	}
	if r.ExpiryMonths != nil {
		t.ExpiryMonths = r.ExpiryMonths
	}
	if r.SortOrder != nil {
		t.SortOrder = *r.SortOrder
	}
}

// List handles GET /v1/templates?category=&include_inactive=.
func (h *TemplateHandler) List(c echo.Context) error {
	f := repository.TemplateFilter{Category: c.QueryParam("category")}
	if s := c.QueryParam("include_inactive"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "include_inactive must be a boolean"})
		}
		f.IncludeInactive = b
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Templates.List(ctx, f)
	if err != nil {
		h.Log.Error(ctx, "list templates failed", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "storage failure"})
	}
	if items == nil {
		items = []*model.Template{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Get handles GET /v1/templates/:id.
func (h *TemplateHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	t, err := h.Templates.GetByID(ctx, c.Param("id"))
	if err != nil {
		return h.storeError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// Create handles POST /v1/templates.
func (h *TemplateHandler) Create(c echo.Context) error {
	var req templateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	now := h.Clock.Now().UTC()
	t := &model.Template{IsActive: true, CreatedAt: now, UpdatedAt: now}
	req.apply(t)
	if err := t.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if uid := middleware.UserID(c); uid != "" {
		t.CreatedBy = &uid
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Templates.Create(ctx, t); err != nil {
		return h.storeError(c, err)
	}
	h.Cache.Purge(ctx)
	return c.JSON(http.StatusCreated, t)
}

// Update handles PUT /v1/templates/:id.
func (h *TemplateHandler) Update(c echo.Context) error {
	var req templateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	t, err := h.Templates.GetByID(ctx, c.Param("id"))
	if err != nil {
		return h.storeError(c, err)
	}
	req.apply(t)
	if err := t.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	t.UpdatedAt = h.Clock.Now().UTC()
	if err := h.Templates.Update(ctx, t); err != nil {
		return h.storeError(c, err)
	}
	h.Cache.Purge(ctx)
	return c.JSON(http.StatusOK, t)
}

// Deactivate handles DELETE /v1/templates/:id. Templates are never
// removed because signed documents keep referencing them.
func (h *TemplateHandler) Deactivate(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Templates.Deactivate(ctx, c.Param("id"), h.Clock.Now()); err != nil {
		return h.storeError(c, err)
	}
	h.Cache.Purge(ctx)
	return c.NoContent(http.StatusNoContent)
}

func (h *TemplateHandler) storeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "template not found"})
	case errors.Is(err, repository.ErrDuplicate):
		return c.JSON(http.StatusConflict, echo.Map{"error": "template already exists"})
	}
	h.Log.Error(c.Request().Context(), "template store failed", "error", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "storage failure"})
}
