package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/care-portal/internal/clock"
	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/repository"
	"github.com/iliyamo/care-portal/internal/signing"
)

// SignedDocumentHandler serves /v1/signed-documents and the client's
// /v1/my/* views.
type SignedDocumentHandler struct {
	Signing *signing.Service
	Clock   clock.Clock
	Log     logging.Logger
}

func NewSignedDocumentHandler(s *signing.Service, clk clock.Clock, log logging.Logger) *SignedDocumentHandler {
	return &SignedDocumentHandler{Signing: s, Clock: clk, Log: log}
}

// documentView adds the derived validity flag to a document.
type documentView struct {
	*model.SignedDocument
	IsValid bool `json:"is_valid"`
}

func (h *SignedDocumentHandler) views(docs []*model.SignedDocument) []documentView {
	now := h.Clock.Now()
	out := make([]documentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentView{SignedDocument: d, IsValid: d.IsValid(now)})
	}
	return out
}

func documentFilter(c echo.Context) (repository.SignedDocumentFilter, error) {
	f := repository.SignedDocumentFilter{
		SignerUserID: c.QueryParam("signer_user_id"),
		SignerEmail:  c.QueryParam("signer_email"),
		TemplateID:   c.QueryParam("template_id"),
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

// List handles GET /v1/signed-documents.
func (h *SignedDocumentHandler) List(c echo.Context) error {
	f, err := documentFilter(c)
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	docs, err := h.Signing.ListSignedDocuments(ctx, f)
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": h.views(docs)})
}

// Get handles GET /v1/signed-documents/:id.
func (h *SignedDocumentHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	doc, err := h.Signing.GetSignedDocument(ctx, c.Param("id"), actorOf(c))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, documentView{SignedDocument: doc, IsValid: doc.IsValid(h.Clock.Now())})
}

// Artifact handles GET /v1/signed-documents/:id/artifact. S3-backed
// stores answer with a redirect to a short-lived presigned URL; local
// stores stream the bytes.
func (h *SignedDocumentHandler) Artifact(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	doc, err := h.Signing.GetSignedDocument(ctx, c.Param("id"), actorOf(c))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	art, err := h.Signing.SignedArtifact(ctx, doc)
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	if art.URL != "" {
		return c.Redirect(http.StatusFound, art.URL)
	}
	c.Response().Header().Set("X-Content-Type-Options", "nosniff")
	return c.Blob(http.StatusOK, art.ContentType, art.Bytes)
}

// Verify handles GET /v1/signed-documents/:id/verify.
func (h *SignedDocumentHandler) Verify(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	doc, err := h.Signing.GetSignedDocument(ctx, c.Param("id"), actorOf(c))
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	switch err := h.Signing.VerifyDocumentHash(ctx, doc); {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"valid": true, "document_hash": doc.DocumentHash, "hash_method": doc.HashMethod})
	case errors.Is(err, signing.ErrHashMismatch):
		return c.JSON(http.StatusOK, echo.Map{"valid": false, "document_hash": doc.DocumentHash, "hash_method": doc.HashMethod})
	default:
		return writeSigningError(c, h.Log, err)
	}
}

// Mine handles GET /v1/my/signed-documents.
func (h *SignedDocumentHandler) Mine(c echo.Context) error {
	f, err := documentFilter(c)
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	docs, err := h.Signing.ListSignedDocumentsFor(ctx, actorOf(c), f)
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": h.views(docs)})
}

// MyRequests handles GET /v1/my/signing-requests.
func (h *SignedDocumentHandler) MyRequests(c echo.Context) error {
	f, err := requestFilter(c)
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, total, err := h.Signing.ListForRecipient(ctx, actorOf(c), f)
	if err != nil {
		return writeSigningError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, listResp(items, total, f))
}
