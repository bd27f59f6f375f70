package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DocumentHashInput is the canonical set of facts bound into a signed
// document's integrity hash.
type DocumentHashInput struct {
	RequestID   string
	TemplateID  string
	SignerEmail string
	SignedAt    time.Time
	SignerIP    string
	// Artifact holds the stored signed artifact bytes. When empty the
	// hash degrades to the weak composite form.
	Artifact []byte
}

// DocumentHash returns the hex SHA-256 digest for in and whether the
// artifact bytes were part of it. The input is serialized as one field per
// line in a fixed order so the digest can be recomputed later from stored
// values and the stored artifact.
func DocumentHash(in DocumentHashInput) (digest string, coversArtifact bool) {
	fields := []string{
		"request:" + in.RequestID,
		"template:" + in.TemplateID,
		"signer:" + strings.ToLower(in.SignerEmail),
		"signed_at:" + in.SignedAt.UTC().Format(time.RFC3339Nano),
		"ip:" + in.SignerIP,
	}
	if len(in.Artifact) > 0 {
		fields = append(fields, "artifact:"+FormatDigest(sha256.Sum256(in.Artifact)))
		coversArtifact = true
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\n")))
	return FormatDigest(sum), coversArtifact
}

// FormatDigest returns the hex-encoded string form of a SHA-256 digest.
func FormatDigest(digest [32]byte) string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses a hex-encoded SHA-256 digest.
func ParseDigest(s string) ([32]byte, error) {
	var digest [32]byte
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return digest, fmt.Errorf("parsing hash digest: %w", err)
	}
	if len(decoded) != 32 {
		return digest, fmt.Errorf("hash digest is %d bytes, want 32", len(decoded))
	}
	copy(digest[:], decoded)
	return digest, nil
}
