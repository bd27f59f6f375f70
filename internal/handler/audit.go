package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/care-portal/internal/audit"
	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/signing"
)

// AuditHandler serves the cross-request audit reads under /v1/audit.
type AuditHandler struct {
	Audit *audit.Log
	Log   logging.Logger
}

func NewAuditHandler(a *audit.Log, log logging.Logger) *AuditHandler {
	return &AuditHandler{Audit: a, Log: log}
}

func (h *AuditHandler) window(c echo.Context) (from, to *time.Time, err error) {
	if from, err = queryTime(c, "from"); err != nil {
		return nil, nil, err
	}
	if to, err = queryTime(c, "to"); err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, &signing.ValidationError{Field: "to", Message: "to must not be before from"}
	}
	return from, to, nil
}

// Events handles GET /v1/audit/events?type=&from=&to=&limit=.
func (h *AuditHandler) Events(c echo.Context) error {
	q := audit.Query{}
	if s := c.QueryParam("type"); s != "" {
		et, ok := model.ParseEventType(s)
		if !ok {
			return writeSigningError(c, h.Log, &signing.ValidationError{Field: "type", Message: "unknown event type " + s})
		}
		q.Type = et
	}
	var err error
	if q.From, q.To, err = h.window(c); err != nil {
		return writeSigningError(c, h.Log, err)
	}
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		return writeSigningError(c, h.Log, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	events, err := h.Audit.ByType(ctx, q)
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	if events == nil {
		events = []*model.AuditEntry{}
	}
	return c.JSON(http.StatusOK, echo.Map{"events": events})
}

// Stats handles GET /v1/audit/stats?from=&to=&recent=.
func (h *AuditHandler) Stats(c echo.Context) error {
	from, to, err := h.window(c)
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	recent, err := queryInt(c, "recent")
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	st, err := h.Audit.Statistics(ctx, from, to, recent)
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, st)
}
