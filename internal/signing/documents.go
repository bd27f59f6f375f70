package signing

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/repository"
	"github.com/iliyamo/care-portal/internal/storage"
)

// ArtifactURLTTL is how long a presigned artifact link stays valid.
const ArtifactURLTTL = 15 * time.Minute

// ListSignedDocuments filters completed documents.
func (s *Service) ListSignedDocuments(ctx context.Context, f repository.SignedDocumentFilter) ([]*model.SignedDocument, error) {
	docs, err := s.documents.List(ctx, f)
	if err != nil {
		return nil, storageErr("list signed documents", err)
	}
	return docs, nil
}

// ListSignedDocumentsFor lists the documents signed by a portal user.
func (s *Service) ListSignedDocumentsFor(ctx context.Context, actor Actor, f repository.SignedDocumentFilter) ([]*model.SignedDocument, error) {
	if actor.UserID == "" {
		return nil, nil
	}
	f.SignerUserID = actor.UserID
	f.SignerEmail = ""
	return s.ListSignedDocuments(ctx, f)
}

// GetSignedDocument returns one document. Clients may only read their own.
func (s *Service) GetSignedDocument(ctx context.Context, id string, actor Actor) (*model.SignedDocument, error) {
	doc, err := s.documents.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("load signed document", err)
	}
	if actor.Role == model.RoleClient && (doc.SignerUserID == nil || *doc.SignerUserID != actor.UserID) {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Artifact is either a presigned URL or the raw bytes of a stored
// signature, depending on what the store supports.
type Artifact struct {
	URL         string
	Bytes       []byte
	ContentType string
}

// SignedArtifact fetches the stored signature of a document.
func (s *Service) SignedArtifact(ctx context.Context, doc *model.SignedDocument) (*Artifact, error) {
	store := s.recorder.artifacts
	if store == nil || doc.SignedDocumentPath == "" {
		return nil, ErrNotFound
	}
	if p, ok := store.(storage.Presigner); ok {
		url, err := p.PresignGet(ctx, doc.SignedDocumentPath, ArtifactURLTTL)
		if err != nil {
			return nil, storageErr("presign artifact", err)
		}
		return &Artifact{URL: url}, nil
	}
	b, err := store.Get(ctx, doc.SignedDocumentPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("load artifact", err)
	}
	return &Artifact{Bytes: b, ContentType: contentTypeOf(doc.SignedDocumentPath)}, nil
}

func contentTypeOf(key string) string {
	switch path.Ext(key) {
	case ".png":
		return "image/png"
	case ".jpg":
		return "image/jpeg"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
