package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := Fake(start)
	require.Equal(t, start, c.Now())

	c.Advance(90 * time.Minute)
	require.Equal(t, start.Add(90*time.Minute), c.Now())

	later := time.Date(2027, 6, 1, 0, 0, 0, 0, time.FixedZone("x", 3600))
	c.Set(later)
	require.Equal(t, time.UTC, c.Now().Location())
	require.True(t, later.Equal(c.Now()))
}

func TestReal_ReturnsUTC(t *testing.T) {
	require.Equal(t, time.UTC, Real().Now().Location())
}
