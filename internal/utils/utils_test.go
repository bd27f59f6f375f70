package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestNewSigningToken_ShapeAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 200)
	for i := 0; i < 200; i++ {
		tok, err := NewSigningToken()
		require.NoError(t, err)
		require.True(t, ValidAccessToken(tok), tok)
		_, dup := seen[tok]
		require.False(t, dup)
		seen[tok] = struct{}{}
	}
}

func TestValidAccessToken_RejectsMalformed(t *testing.T) {
	require.False(t, ValidAccessToken(""))
	require.False(t, ValidAccessToken("abc"))
	tok, _ := NewSigningToken()
	require.False(t, ValidAccessToken(tok[:63]+"G"))
	require.False(t, ValidAccessToken(tok[:63]+"A"))
	require.False(t, ValidAccessToken(tok+"0"))
}

func TestDocumentHash_DeterministicAndBound(t *testing.T) {
	at := time.Date(2026, 4, 1, 10, 0, 0, 123000000, time.UTC)
	in := DocumentHashInput{
		RequestID: "req-1", TemplateID: "tpl-1", SignerEmail: "a@b.co",
		SignedAt: at, SignerIP: "10.0.0.1", Artifact: []byte("signature-bytes"),
	}
	h1, strong := DocumentHash(in)
	h2, _ := DocumentHash(in)
	require.True(t, strong)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)

	other := in
	other.RequestID = "req-2"
	h3, _ := DocumentHash(other)
	require.NotEqual(t, h1, h3, "same signature content on another request must hash differently")

	later := in
	later.SignedAt = at.Add(time.Millisecond)
	h4, _ := DocumentHash(later)
	require.NotEqual(t, h1, h4)

	tampered := in
	tampered.Artifact = []byte("signature-bytez")
	h5, _ := DocumentHash(tampered)
	require.NotEqual(t, h1, h5)
}

func TestDocumentHash_WeakWithoutArtifact(t *testing.T) {
	_, strong := DocumentHash(DocumentHashInput{RequestID: "r", SignedAt: time.Unix(0, 0)})
	require.False(t, strong)
}

func TestParseDigest_RoundTrip(t *testing.T) {
	h, _ := DocumentHash(DocumentHashInput{RequestID: "r", SignedAt: time.Unix(0, 0)})
	d, err := ParseDigest(h)
	require.NoError(t, err)
	require.Equal(t, h, FormatDigest(d))

	_, err = ParseDigest("zz")
	require.Error(t, err)
	_, err = ParseDigest("abcd")
	require.Error(t, err)
}

func TestNewAccessToken_Claims(t *testing.T) {
	now := time.Now().UTC()
	at, err := NewAccessToken("s3cret", "user-1", "ADMIN", 15, now)
	require.NoError(t, err)
	require.WithinDuration(t, now.Add(15*time.Minute), at.Exp, time.Second)

	tok, err := jwt.Parse(at.Token, func(*jwt.Token) (interface{}, error) { return []byte("s3cret"), nil })
	require.NoError(t, err)
	claims := tok.Claims.(jwt.MapClaims)
	require.Equal(t, "user-1", claims["sub"])
	require.Equal(t, "ADMIN", claims["role"])
}

func TestRefreshTokenHash(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rt, err := NewRefreshToken(7, now)
	require.NoError(t, err)
	require.Len(t, rt.Raw, 96)
	require.Equal(t, now.Add(7*24*time.Hour), rt.Exp)
	require.Equal(t, HashRefreshRaw(rt.Raw), HashRefreshRaw(rt.Raw))
	require.Len(t, HashRefreshRaw(rt.Raw), 64)
}

func TestPasswordHash(t *testing.T) {
	h, err := HashPassword("correct horse", 4)
	require.NoError(t, err)
	require.True(t, VerifyPassword(h, "correct horse"))
	require.False(t, VerifyPassword(h, "wrong"))
}
