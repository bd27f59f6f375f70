package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/middleware"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/repository"
	"github.com/iliyamo/care-portal/internal/signing"
)

// SigningRequestHandler serves the operator endpoints under
// /v1/signing-requests.
type SigningRequestHandler struct {
	Signing *signing.Service
	Log     logging.Logger
}

func NewSigningRequestHandler(s *signing.Service, log logging.Logger) *SigningRequestHandler {
	return &SigningRequestHandler{Signing: s, Log: log}
}

// expiryDays distinguishes an omitted expiry_days (service default) from
// an explicit null (never expires).
type expiryDays struct {
	set   bool
	value *int
}

func (e *expiryDays) UnmarshalJSON(b []byte) error {
	e.set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		e.value = nil
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return &signing.ValidationError{Field: "expiry_days", Message: "expiry_days must be an integer or null"}
	}
	e.value = &n
	return nil
}

// input maps the field onto CreateInput.ExpiryDays.
func (e expiryDays) input() *int {
	if !e.set {
		return nil
	}
	if e.value == nil {
		never := 0
		return &never
	}
	return e.value
}

type createSigningReq struct {
	TemplateID      string     `json:"template_id"`
	RecipientName   string     `json:"recipient_name"`
	RecipientEmail  string     `json:"recipient_email"`
	RecipientPhone  string     `json:"recipient_phone"`
	RecipientUserID string     `json:"recipient_user_id"`
	AccessMethod    string     `json:"access_method"`
	ExpiryDays      expiryDays `json:"expiry_days"`
	SendImmediately bool       `json:"send_immediately"`
}

type voidReq struct {
	Reason string `json:"reason"`
}

func actorOf(c echo.Context) signing.Actor {
	return signing.Actor{UserID: middleware.UserID(c), Role: middleware.Role(c)}
}

// Create handles POST /v1/signing-requests.
func (h *SigningRequestHandler) Create(c echo.Context) error {
	var req createSigningReq
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		var ve *signing.ValidationError
		if errors.As(err, &ve) {
			return writeSigningError(c, h.Log, ve)
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	created, err := h.Signing.CreateRequest(ctx, signing.CreateInput{
		TemplateID:      req.TemplateID,
		RecipientName:   req.RecipientName,
		RecipientEmail:  req.RecipientEmail,
		RecipientPhone:  req.RecipientPhone,
		RecipientUserID: req.RecipientUserID,
		AccessMethod:    req.AccessMethod,
		ExpiryDays:      req.ExpiryDays.input(),
		SendImmediately: req.SendImmediately,
	}, actorOf(c), middleware.ClientInfo(c))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// List handles GET /v1/signing-requests.
func (h *SigningRequestHandler) List(c echo.Context) error {
	f, err := requestFilter(c)
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, total, err := h.Signing.List(ctx, f)
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, listResp(items, total, f))
}

func requestFilter(c echo.Context) (repository.SigningRequestFilter, error) {
	f := repository.SigningRequestFilter{
		Status:          model.Status(strings.ToLower(strings.TrimSpace(c.QueryParam("status")))),
		RecipientEmail:  c.QueryParam("recipient_email"),
		RecipientUserID: c.QueryParam("recipient_user_id"),
		TemplateID:      c.QueryParam("template_id"),
		SentBy:          c.QueryParam("sent_by"),
	}
	var err error
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func listResp(items []*model.SigningRequest, total int, f repository.SigningRequestFilter) echo.Map {
	if items == nil {
		items = []*model.SigningRequest{}
	}
	return echo.Map{"items": items, "total": total, "limit": f.Limit, "offset": f.Offset}
}

// Get handles GET /v1/signing-requests/:id.
func (h *SigningRequestHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	d, err := h.Signing.GetDetail(ctx, c.Param("id"))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, d)
}

// Send handles POST /v1/signing-requests/:id/send.
func (h *SigningRequestHandler) Send(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sr, err := h.Signing.Send(ctx, c.Param("id"), actorOf(c), middleware.ClientInfo(c))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"request": sr, "signing_link": h.Signing.SigningLink(sr.AccessToken)})
}

// Remind handles POST /v1/signing-requests/:id/remind.
func (h *SigningRequestHandler) Remind(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sr, err := h.Signing.Remind(ctx, c.Param("id"), actorOf(c), middleware.ClientInfo(c))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"request": sr})
}

// Void handles POST /v1/signing-requests/:id/void.
func (h *SigningRequestHandler) Void(c echo.Context) error {
	var req voidReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sr, err := h.Signing.Void(ctx, c.Param("id"), req.Reason, actorOf(c), middleware.ClientInfo(c))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"request": sr})
}

// Audit handles GET /v1/signing-requests/:id/audit.
func (h *SigningRequestHandler) Audit(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	events, err := h.Signing.History(ctx, c.Param("id"))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	if events == nil {
		events = []*model.AuditEntry{}
	}
	return c.JSON(http.StatusOK, echo.Map{"events": events})
}

// Certificate handles GET /v1/signing-requests/:id/certificate.
func (h *SigningRequestHandler) Certificate(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	cert, err := h.Signing.Certificate(ctx, c.Param("id"))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, cert)
}
