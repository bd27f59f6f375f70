package storage

import (
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/vincent-petithory/dataurl"
)

// MaxSignatureBytes caps a decoded signature artifact.
const MaxSignatureBytes = 2 << 20

const typedContentType = "text/plain; charset=utf-8"

var (
	ErrEmptySignature       = errors.New("signature is empty")
	ErrMalformedSignature   = errors.New("signature is not a valid data URL")
	ErrUnsupportedSignature = errors.New("signature must be a PNG or JPEG image or typed text")
	ErrSignatureMismatch    = errors.New("signature content does not match its declared type")
	ErrSignatureTooLarge    = errors.New("signature is too large")
)

// signatureTypes maps the accepted declared media types to the content
// type the artifact is stored under.
var signatureTypes = map[string]string{
	"image/png":  "image/png",
	"image/jpeg": "image/jpeg",
	"text/plain": typedContentType,
}

// Artifact is a decoded signature payload.
type Artifact struct {
	Bytes       []byte
	ContentType string
}

// DecodeSignature turns a signature payload into artifact bytes. Drawn
// and uploaded signatures arrive as data URLs ("data:image/png;base64,...");
// anything else is a typed signature stored as UTF-8 text. The bytes must
// sniff as the declared type.
func DecodeSignature(payload string) (Artifact, error) {
	p := strings.TrimSpace(payload)
	if p == "" {
		return Artifact{}, ErrEmptySignature
	}

	declared, raw := "text/plain", []byte(p)
	if strings.HasPrefix(p, "data:") {
		du, err := dataurl.DecodeString(p)
		if err != nil {
			return Artifact{}, ErrMalformedSignature
		}
		declared, raw = strings.ToLower(du.MediaType.ContentType()), du.Data
	}

	stored, ok := signatureTypes[declared]
	if !ok {
		return Artifact{}, ErrUnsupportedSignature
	}
	if len(raw) == 0 {
		return Artifact{}, ErrEmptySignature
	}
	if len(raw) > MaxSignatureBytes {
		return Artifact{}, ErrSignatureTooLarge
	}
	if !mimetype.Detect(raw).Is(declared) {
		return Artifact{}, ErrSignatureMismatch
	}
	return Artifact{Bytes: raw, ContentType: stored}, nil
}
