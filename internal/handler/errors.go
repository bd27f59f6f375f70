package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/signing"
)

// writeSigningError translates a signing error into the JSON response the
// portal front end expects. Recipient-facing terminal states carry the
// status so the page can tell an expired link from a used one.
func writeSigningError(c echo.Context, log logging.Logger, err error) error {
	var ve *signing.ValidationError
	switch {
	case errors.As(err, &ve):
		body := echo.Map{"error": ve.Message}
		if ve.Field != "" {
			body["field"] = ve.Field
		}
		return c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, signing.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, signing.ErrConflict):
		body := echo.Map{"error": err.Error()}
		if st, ok := signing.StatusOf(err); ok {
			body["status"] = st
		}
		return c.JSON(http.StatusConflict, body)
	}
	if st, ok := signing.StatusOf(err); ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error(), "status": st})
	}
	log.Error(c.Request().Context(), "request failed", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "storage failure"})
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(c echo.Context, name string) (int, error) {
	s := strings.TrimSpace(c.QueryParam(name))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &signing.ValidationError{Field: name, Message: name + " must be a non-negative integer"}
	}
	return n, nil
}

// queryTime parses an optional RFC 3339 timestamp or YYYY-MM-DD date.
func queryTime(c echo.Context, name string) (*time.Time, error) {
	s := strings.TrimSpace(c.QueryParam(name))
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, &signing.ValidationError{Field: name, Message: name + " must be an RFC 3339 timestamp or a date"}
}
