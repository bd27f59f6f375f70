package model

import "time"

// Hash methods recorded next to a document hash.
const (
	// HashArtifact covers the stored artifact bytes plus the signing identity.
	HashArtifact = "sha256-artifact"
	// HashCompositeWeak covers only request id, time and signer IP. It is
	// not an integrity guarantee over any document content.
	HashCompositeWeak = "sha256-composite-weak"
)

// SignedDocument is the immutable artifact created once a request is signed.
type SignedDocument struct {
	ID                 string               `json:"id"`
	SigningRequestID   string               `json:"signing_request_id"`
	TemplateID         string               `json:"template_id"`
	SignerUserID       *string              `json:"signer_user_id,omitempty"`
	SignerEmail        string               `json:"signer_email"`
	SignerName         string               `json:"signer_name"`
	SignedDocumentPath string               `json:"signed_document_path"`
	SignedAt           time.Time            `json:"signed_at"`
	SignatureIP        string               `json:"signature_ip"`
	SignatureUserAgent string               `json:"signature_user_agent"`
	DocumentHash       string               `json:"document_hash"`
	HashMethod         string               `json:"hash_method"`
	ValidUntil         *time.Time           `json:"valid_until"`
	Certificate        *CertificateSnapshot `json:"certificate_data,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

// IsValid reports whether the document is still within its validity window.
func (d *SignedDocument) IsValid(now time.Time) bool {
	return d.ValidUntil == nil || now.Before(*d.ValidUntil)
}

// CertificateSnapshot is the denormalized summary stored with a signed
// document for fast compliance display.
type CertificateSnapshot struct {
	DocumentName     string     `json:"document_name"`
	SignerName       string     `json:"signer_name"`
	SignerEmail      string     `json:"signer_email"`
	SignedAt         time.Time  `json:"signed_at"`
	IPAddress        string     `json:"ip_address"`
	UserAgent        string     `json:"user_agent"`
	SignatureType    string     `json:"signature_type"`
	DocumentHash     string     `json:"document_hash"`
	HashMethod       string     `json:"hash_method"`
	RequestCreatedAt time.Time  `json:"request_created_at"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	ViewedAt         *time.Time `json:"viewed_at,omitempty"`
}
