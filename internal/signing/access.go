package signing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/care-portal/internal/audit"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/queue"
	"github.com/iliyamo/care-portal/internal/repository"
	"github.com/iliyamo/care-portal/internal/utils"
)

// AccessView is what a recipient sees after opening a valid link.
type AccessView struct {
	Request  *model.SigningRequest
	Template *model.Template
}

// Access handles a recipient opening the signing link. Checks run in a
// fixed order: unknown token, already signed, past deadline (which expires
// the request), voided, other terminal states. A successful access is
// always audited; the first one on a pending or sent request also moves it
// to viewed.
func (s *Service) Access(ctx context.Context, token string, client audit.ClientInfo) (*AccessView, error) {
	sr, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.checkState(ctx, sr, client); err != nil {
		return nil, err
	}

	now := s.now()
	s.audit.Record(ctx, audit.Event{RequestID: sr.ID, Type: model.EventLinkAccessed, Client: client, At: now})

	if sr.Status == model.StatusPending || sr.Status == model.StatusSent {
		ok, err := s.requests.Transition(ctx, nil, sr.ID, model.StatusViewed, now, repository.TransitionFields{})
		if err != nil {
			return nil, storageErr("mark viewed", err)
		}
		if ok {
			sr.Status = model.StatusViewed
			sr.ViewedAt = &now
			sr.UpdatedAt = now
			s.audit.Record(ctx, audit.Event{RequestID: sr.ID, Type: model.EventDocumentViewed, Client: client, At: now})
		} else {
			if sr, err = s.Get(ctx, sr.ID); err != nil {
				return nil, err
			}
			if terr := terminalError(sr.Status); terr != nil {
				return nil, terr
			}
		}
	}

	tpl, err := s.templates.GetByID(ctx, sr.TemplateID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("load template", err)
	}
	return &AccessView{Request: sr, Template: tpl}, nil
}

// Submission is a recipient's signature.
type Submission struct {
	// Signature is a data URL of a drawn or uploaded image, or the typed
	// signature text.
	Signature     string
	SignatureType string
	Geolocation   *model.Geolocation
}

// SignatureTypes accepted on submission. Drawn is the default.
var SignatureTypes = []string{"drawn", "typed", "uploaded"}

// Complete handles a recipient submitting their signature. It runs the
// same state checks as Access, then requires a non-empty signature, then
// records the signed document.
func (s *Service) Complete(ctx context.Context, token string, sub Submission, client audit.ClientInfo) (*model.SignedDocument, error) {
	sr, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.checkState(ctx, sr, client); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sub.Signature) == "" {
		return nil, invalid("signature", "signature is required")
	}
	sub.SignatureType = strings.ToLower(strings.TrimSpace(sub.SignatureType))
	if sub.SignatureType == "" {
		sub.SignatureType = SignatureTypes[0]
	}
	if !validSignatureType(sub.SignatureType) {
		return nil, invalid("signature_type", "signature_type must be drawn, typed or uploaded")
	}

	tpl, err := s.templates.GetByID(ctx, sr.TemplateID)
	if err != nil {
		return nil, storageErr("load template", err)
	}
	doc, err := s.recorder.Record(ctx, sr, tpl, sub, client)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, queue.KindRequestCompleted, sr, tpl.Name, func(ev *queue.SigningEvent) {
		ev.DocumentID = doc.ID
		ev.DocumentHash = doc.DocumentHash
	})
	return doc, nil
}

// Decline records the recipient's refusal. The reason is optional.
func (s *Service) Decline(ctx context.Context, token, reason string, client audit.ClientInfo) (*model.SigningRequest, error) {
	sr, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.checkState(ctx, sr, client); err != nil {
		return nil, err
	}
	now := s.now()
	ok, err := s.requests.Transition(ctx, nil, sr.ID, model.StatusDeclined, now, repository.TransitionFields{})
	if err != nil {
		return nil, storageErr("mark declined", err)
	}
	if !ok {
		return nil, s.recipientConflict(ctx, sr.ID)
	}
	reason = strings.TrimSpace(reason)
	sr.Status = model.StatusDeclined
	sr.DeclinedAt = &now
	sr.UpdatedAt = now
	ev := audit.Event{RequestID: sr.ID, Type: model.EventDeclined, Client: client, At: now}
	if reason != "" {
		ev.Metadata = map[string]any{"reason": reason}
	}
	s.audit.Record(ctx, ev)
	s.publish(ctx, queue.KindRequestDeclined, sr, s.templateName(ctx, sr.TemplateID), func(e *queue.SigningEvent) {
		e.Reason = reason
	})
	return sr, nil
}

// resolve maps a token to its request. Malformed tokens never reach the
// store.
func (s *Service) resolve(ctx context.Context, token string) (*model.SigningRequest, error) {
	if !utils.ValidAccessToken(token) {
		return nil, ErrNotFound
	}
	sr, err := s.requests.GetByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("resolve token", err)
	}
	return sr, nil
}

// checkState runs the ordered rejections shared by every recipient action.
func (s *Service) checkState(ctx context.Context, sr *model.SigningRequest, client audit.ClientInfo) error {
	if sr.Status == model.StatusSigned {
		return ErrAlreadySigned
	}
	now := s.now()
	if sr.ExpiredAt(now) {
		if sr.Status.Terminal() {
			return ErrExpired
		}
		return s.expire(ctx, sr, now, client)
	}
	return terminalError(sr.Status)
}

// expire moves an open request past its deadline to expired and returns
// the error the caller should report. If the request changed underneath
// (for example it was just signed) the fresh status decides.
func (s *Service) expire(ctx context.Context, sr *model.SigningRequest, now time.Time, client audit.ClientInfo) error {
	ok, err := s.requests.Transition(ctx, nil, sr.ID, model.StatusExpired, now, repository.TransitionFields{})
	if err != nil {
		s.log.Error(ctx, "expire signing request failed", "request_id", sr.ID, "error", err)
		return ErrExpired
	}
	if !ok {
		if cur, err := s.Get(ctx, sr.ID); err == nil && cur.Status == model.StatusSigned {
			return ErrAlreadySigned
		}
		return ErrExpired
	}
	sr.Status = model.StatusExpired
	sr.UpdatedAt = now
	meta := map[string]any{}
	if sr.ExpiresAt != nil {
		meta["expires_at"] = sr.ExpiresAt.Format(time.RFC3339)
	}
	s.audit.Record(ctx, audit.Event{RequestID: sr.ID, Type: model.EventExpired, Client: client, At: now, Metadata: meta})
	s.publish(ctx, queue.KindRequestExpired, sr, "", nil)
	return ErrExpired
}

// recipientConflict re-reads a request after a recipient action lost a
// race and returns the matching recipient-facing error.
func (s *Service) recipientConflict(ctx context.Context, id string) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if terr := terminalError(cur.Status); terr != nil {
		return terr
	}
	return &StateError{Op: "update", Status: cur.Status}
}

func validSignatureType(t string) bool {
	for _, known := range SignatureTypes {
		if t == known {
			return true
		}
	}
	return false
}
