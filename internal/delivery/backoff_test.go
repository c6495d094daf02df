package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelayDoubles(t *testing.T) {
	base := 30 * time.Second
	ceiling := time.Hour

	require.Equal(t, 30*time.Second, backoffDelay(base, ceiling, 1))
	require.Equal(t, time.Minute, backoffDelay(base, ceiling, 2))
	require.Equal(t, 2*time.Minute, backoffDelay(base, ceiling, 3))
	require.Equal(t, 16*time.Minute, backoffDelay(base, ceiling, 6))
}

func TestBackoffDelayCapsAtCeiling(t *testing.T) {
	base := 30 * time.Second
	ceiling := time.Hour

	require.Equal(t, ceiling, backoffDelay(base, ceiling, 8))
	require.Equal(t, ceiling, backoffDelay(base, ceiling, 20))
	// Shift overflow at very high attempts still lands on the ceiling.
	require.Equal(t, ceiling, backoffDelay(base, ceiling, 64))
}

func TestBackoffDelayClampsAttempt(t *testing.T) {
	base := 30 * time.Second
	require.Equal(t, base, backoffDelay(base, time.Hour, 0))
	require.Equal(t, base, backoffDelay(base, time.Hour, -3))
}

func TestWithJitterStaysInBounds(t *testing.T) {
	d := 10 * time.Minute
	for i := 0; i < 200; i++ {
		jittered := withJitter(d)
		require.GreaterOrEqual(t, jittered, time.Duration(float64(d)*0.8))
		require.LessOrEqual(t, jittered, time.Duration(float64(d)*1.2))
	}
	require.Equal(t, time.Duration(0), withJitter(0))
}
