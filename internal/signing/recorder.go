package signing

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/care-portal/internal/audit"
	"github.com/iliyamo/care-portal/internal/clock"
	"github.com/iliyamo/care-portal/internal/dbx"
	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/repository"
	"github.com/iliyamo/care-portal/internal/storage"
	"github.com/iliyamo/care-portal/internal/utils"
)

// errNotSignable aborts the recording transaction when the guarded
// status update matched nothing.
var errNotSignable = errors.New("request left the signable states")

// Recorder turns a validated submission into the immutable signed
// document. The artifact is uploaded under its final key first; the status
// change and the document row then commit in one transaction, and the
// artifact is removed again if that transaction does not commit.
type Recorder struct {
	db        *sql.DB
	requests  *repository.SigningRequestRepo
	documents *repository.SignedDocumentRepo
	artifacts storage.ArtifactStore
	audit     *audit.Log
	clock     clock.Clock
	log       logging.Logger
}

// Record finalizes sr. Of two concurrent calls for the same request
// exactly one succeeds; the other gets the error for the status it finds.
func (r *Recorder) Record(ctx context.Context, sr *model.SigningRequest, tpl *model.Template, sub Submission, client audit.ClientInfo) (*model.SignedDocument, error) {
	var art storage.Artifact
	if r.artifacts != nil {
		var err error
		if art, err = storage.DecodeSignature(sub.Signature); err != nil {
			if errors.Is(err, storage.ErrEmptySignature) {
				return nil, invalid("signature", "signature is required")
			}
			return nil, invalid("signature", err.Error())
		}
	}

	signedAt := r.clock.Now().UTC().Truncate(time.Millisecond)
	docID := newDocumentID()
	hash, coversArtifact := utils.DocumentHash(utils.DocumentHashInput{
		RequestID:   sr.ID,
		TemplateID:  sr.TemplateID,
		SignerEmail: sr.RecipientEmail,
		SignedAt:    signedAt,
		SignerIP:    client.IP,
		Artifact:    art.Bytes,
	})
	method := model.HashCompositeWeak
	path := ""
	if coversArtifact {
		method = model.HashArtifact
		path = storage.SignatureKey(sr.ID, docID, art.ContentType)
	}

	doc := &model.SignedDocument{
		ID:                 docID,
		SigningRequestID:   sr.ID,
		TemplateID:         sr.TemplateID,
		SignerUserID:       sr.RecipientUserID,
		SignerEmail:        sr.RecipientEmail,
		SignerName:         sr.RecipientName,
		SignedDocumentPath: path,
		SignedAt:           signedAt,
		SignatureIP:        client.IP,
		SignatureUserAgent: client.UserAgent,
		DocumentHash:       hash,
		HashMethod:         method,
		ValidUntil:         tpl.ValidUntil(signedAt),
		CreatedAt:          signedAt,
		Certificate: &model.CertificateSnapshot{
			DocumentName:     tpl.Name,
			SignerName:       sr.RecipientName,
			SignerEmail:      sr.RecipientEmail,
			SignedAt:         signedAt,
			IPAddress:        client.IP,
			UserAgent:        client.UserAgent,
			SignatureType:    sub.SignatureType,
			DocumentHash:     hash,
			HashMethod:       method,
			RequestCreatedAt: sr.CreatedAt,
			SentAt:           sr.SentAt,
			ViewedAt:         sr.ViewedAt,
		},
	}

	if path != "" {
		if err := r.artifacts.Put(ctx, path, art.Bytes, art.ContentType); err != nil {
			return nil, storageErr("upload signature", err)
		}
	}

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ok, err := r.requests.Transition(ctx, tx, sr.ID, model.StatusSigned, signedAt, repository.TransitionFields{})
		if err != nil {
			return err
		}
		if !ok {
			return errNotSignable
		}
		return r.documents.CreateTx(ctx, tx, doc)
	})
	if err != nil && path != "" {
		r.discard(ctx, path)
	}
	switch {
	case errors.Is(err, errNotSignable), errors.Is(err, repository.ErrDuplicate):
		return nil, r.lostRace(ctx, sr.ID)
	case err != nil:
		return nil, storageErr("record signed document", err)
	}

	sr.Status = model.StatusSigned
	sr.SignedAt = &signedAt
	sr.UpdatedAt = signedAt

	sigData := map[string]any{"type": sub.SignatureType, "hash": hash}
	if coversArtifact {
		sigData["content_type"] = art.ContentType
		sigData["artifact_sha256"] = utils.FormatDigest(sha256.Sum256(art.Bytes))
	}
	r.audit.Record(ctx, audit.Event{
		RequestID:     sr.ID,
		Type:          model.EventSignatureApplied,
		Client:        client,
		Geolocation:   sub.Geolocation,
		At:            signedAt,
		Metadata:      map[string]any{"document_hash": hash, "hash_method": method},
		SignatureData: sigData,
	})
	r.audit.Record(ctx, audit.Event{
		RequestID: sr.ID,
		Type:      model.EventCompleted,
		Client:    client,
		At:        signedAt,
		Metadata: map[string]any{
			"signed_document_id": doc.ID,
			"document_hash":      hash,
			"hash_method":        method,
		},
	})
	return doc, nil
}

// discard removes an artifact whose document row never committed.
func (r *Recorder) discard(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.artifacts.Delete(ctx, key); err != nil {
		r.log.Error(ctx, "orphaned signature artifact", "key", key, "error", err)
	}
}

// lostRace reports the status that beat this submission.
func (r *Recorder) lostRace(ctx context.Context, id string) error {
	cur, err := r.requests.GetByID(ctx, id)
	if err != nil {
		return storageErr("reload signing request", err)
	}
	if terr := terminalError(cur.Status); terr != nil {
		return terr
	}
	return ErrAlreadySigned
}

func newDocumentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ErrHashMismatch is returned by VerifyDocumentHash when the stored hash
// does not match the recomputed one.
var ErrHashMismatch = errors.New("document hash does not match")

// VerifyDocumentHash recomputes a signed document's hash from its stored
// fields and, for artifact hashes, the stored artifact bytes.
func (s *Service) VerifyDocumentHash(ctx context.Context, doc *model.SignedDocument) error {
	in := utils.DocumentHashInput{
		RequestID:   doc.SigningRequestID,
		TemplateID:  doc.TemplateID,
		SignerEmail: doc.SignerEmail,
		SignedAt:    doc.SignedAt,
		SignerIP:    doc.SignatureIP,
	}
	if doc.HashMethod == model.HashArtifact {
		if s.recorder.artifacts == nil {
			return storageErr("verify", errors.New("no artifact store configured"))
		}
		b, err := s.recorder.artifacts.Get(ctx, doc.SignedDocumentPath)
		if err != nil {
			return storageErr("load artifact", err)
		}
		in.Artifact = b
	}
	got, _ := utils.DocumentHash(in)
	if got != doc.DocumentHash {
		return ErrHashMismatch
	}
	return nil
}
