package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusSigned, StatusDeclined, StatusExpired, StatusVoided} {
		require.True(t, s.Terminal(), s)
		for _, to := range AllStatuses {
			require.False(t, CanTransition(s, to), "%s -> %s", s, to)
		}
	}
	for _, s := range []Status{StatusPending, StatusSent, StatusViewed} {
		require.False(t, s.Terminal(), s)
	}
}

func TestCanTransition_HappyPathAndAlternates(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusSent))
	require.True(t, CanTransition(StatusSent, StatusViewed))
	require.True(t, CanTransition(StatusViewed, StatusSigned))
	require.True(t, CanTransition(StatusPending, StatusSigned))

	require.False(t, CanTransition(StatusViewed, StatusSent))
	require.False(t, CanTransition(StatusViewed, StatusPending))
	require.False(t, CanTransition(StatusSent, StatusSent))
}

func TestSourcesOf(t *testing.T) {
	require.Equal(t, []Status{StatusPending, StatusSent, StatusViewed}, SourcesOf(StatusSigned))
	require.Equal(t, []Status{StatusPending, StatusSent}, SourcesOf(StatusViewed))
	require.Equal(t, []Status{StatusPending}, SourcesOf(StatusSent))
	require.Empty(t, SourcesOf(StatusPending))
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus(" Signed ")
	require.True(t, ok)
	require.Equal(t, StatusSigned, s)

	_, ok = ParseStatus("archived")
	require.False(t, ok)
}

func TestNewRecipient(t *testing.T) {
	r, err := NewRecipient("  Jane Doe ", " Jane@Example.COM ", "", "")
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", r.Name)
	require.Equal(t, "jane@example.com", r.Email)

	_, err = NewRecipient("", "a@b.co", "", "")
	require.ErrorIs(t, err, ErrRecipientName)

	_, err = NewRecipient("Jane", "not-an-email", "", "")
	require.ErrorIs(t, err, ErrRecipientEmail)

	_, err = NewRecipient("Jane", "Jane <jane@example.com>", "", "")
	require.ErrorIs(t, err, ErrRecipientEmail)
}

func TestSigningRequest_ExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &SigningRequest{}
	require.False(t, r.ExpiredAt(now.AddDate(5, 0, 0)))

	exp := now.Add(time.Hour)
	r.ExpiresAt = &exp
	require.False(t, r.ExpiredAt(now))
	require.False(t, r.ExpiredAt(exp))
	require.True(t, r.ExpiredAt(exp.Add(time.Millisecond)))
}

func TestTemplate_ValidUntil(t *testing.T) {
	signed := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	tpl := &Template{}
	require.Nil(t, tpl.ValidUntil(signed))

	twelve := 12
	tpl.ExpiryMonths = &twelve
	require.Equal(t, time.Date(2027, 1, 15, 9, 30, 0, 0, time.UTC), *tpl.ValidUntil(signed))
}

func TestTemplate_Validate(t *testing.T) {
	tpl := &Template{Name: "  Service Agreement "}
	require.NoError(t, tpl.Validate())
	require.Equal(t, "Service Agreement", tpl.Name)
	require.Equal(t, TemplatePDF, tpl.Type)

	zero := 0
	require.ErrorIs(t, (&Template{Name: "x", ExpiryMonths: &zero}).Validate(), ErrTemplateExpiry)
	require.ErrorIs(t, (&Template{Name: "x", Type: "docx"}).Validate(), ErrTemplateType)
	require.ErrorIs(t, (&Template{Name: "x", FormSchema: json.RawMessage(`{`)}).Validate(), ErrTemplateSchema)
	require.ErrorIs(t, (&Template{}).Validate(), ErrTemplateName)
}

func TestSignedDocument_IsValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := &SignedDocument{}
	require.True(t, d.IsValid(now))

	until := now.Add(time.Hour)
	d.ValidUntil = &until
	require.True(t, d.IsValid(now))
	require.False(t, d.IsValid(until))
}

func TestGeolocationString(t *testing.T) {
	var g *Geolocation
	require.Equal(t, "", g.String())
	require.Equal(t, "Perth, WA, AU", (&Geolocation{City: "Perth", Region: "WA", Country: "AU"}).String())
	require.Equal(t, "AU", (&Geolocation{Country: "AU"}).String())
}

func TestRoles(t *testing.T) {
	require.Equal(t, RoleWorker, NormalizeRole(" worker "))
	require.True(t, ValidRole(RoleClient))
	require.False(t, ValidRole("OWNER"))
}
