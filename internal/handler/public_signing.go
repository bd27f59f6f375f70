package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/middleware"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/signing"
)

// maxSignatureBytes caps a submitted signature payload (a data URL of a
// drawn or uploaded image).
const maxSignatureBytes = 2 << 20

// PublicSigningHandler serves the unauthenticated /sign/:token routes.
type PublicSigningHandler struct {
	Signing *signing.Service
	Log     logging.Logger
}

func NewPublicSigningHandler(s *signing.Service, log logging.Logger) *PublicSigningHandler {
	return &PublicSigningHandler{Signing: s, Log: log}
}

// publicRequest is what the recipient sees of their request. The token,
// the operator and the internal bookkeeping fields are omitted.
type publicRequest struct {
	ID             string       `json:"id"`
	Status         model.Status `json:"status"`
	RecipientName  string       `json:"recipient_name"`
	RecipientEmail string       `json:"recipient_email"`
	ExpiresAt      *time.Time   `json:"expires_at"`
	ViewedAt       *time.Time   `json:"viewed_at,omitempty"`
}

type publicTemplate struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Description     *string            `json:"description,omitempty"`
	Type            model.TemplateType `json:"template_type"`
	FilePath        *string            `json:"file_path,omitempty"`
	FormSchema      any                `json:"form_schema,omitempty"`
	RequiresWitness bool               `json:"requires_witness"`
	ExpiryMonths    *int               `json:"expiry_months"`
}

type signReq struct {
	Signature     string             `json:"signature"`
	SignatureType string             `json:"signature_type"`
	Geolocation   *model.Geolocation `json:"geolocation"`
}

type declineReq struct {
	Reason string `json:"reason"`
}

// View handles GET /sign/:token.
func (h *PublicSigningHandler) View(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	view, err := h.Signing.Access(ctx, c.Param("token"), middleware.ClientInfo(c))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	sr, tpl := view.Request, view.Template
	out := publicTemplate{
		ID: tpl.ID, Name: tpl.Name, Description: tpl.Description, Type: tpl.Type,
		FilePath: tpl.FilePath, RequiresWitness: tpl.RequiresWitness, ExpiryMonths: tpl.ExpiryMonths,
	}
	if len(tpl.FormSchema) > 0 {
		out.FormSchema = tpl.FormSchema
	}
	return c.JSON(http.StatusOK, echo.Map{
		"request": publicRequest{
			ID: sr.ID, Status: sr.Status, RecipientName: sr.RecipientName,
			RecipientEmail: sr.RecipientEmail, ExpiresAt: sr.ExpiresAt, ViewedAt: sr.ViewedAt,
		},
		"template": out,
	})
}

// Sign handles POST /sign/:token.
func (h *PublicSigningHandler) Sign(c echo.Context) error {
	if c.Request().ContentLength > maxSignatureBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "signature too large"})
	}
	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxSignatureBytes)
	var req signReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	doc, err := h.Signing.Complete(ctx, c.Param("token"), signing.Submission{
		Signature:     req.Signature,
		SignatureType: req.SignatureType,
		Geolocation:   req.Geolocation,
	}, middleware.ClientInfo(c))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"signed_document": echo.Map{
			"id":          doc.ID,
			"signed_at":   doc.SignedAt,
			"valid_until": doc.ValidUntil,
		},
	})
}

// Decline handles POST /sign/:token/decline.
func (h *PublicSigningHandler) Decline(c echo.Context) error {
	var req declineReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sr, err := h.Signing.Decline(ctx, c.Param("token"), req.Reason, middleware.ClientInfo(c))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": sr.Status, "declined_at": sr.DeclinedAt})
}
