package mocktime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualAdvanceIsMonotonic(t *testing.T) {
	c := NewManual()
	require.Equal(t, time.Duration(0), c.Now())

	require.Equal(t, 10*time.Millisecond, c.Advance(10*time.Millisecond))
	require.Equal(t, 10*time.Millisecond, c.Now())

	require.Equal(t, 15*time.Millisecond, c.Advance(5*time.Millisecond))

	// A non-positive advance is a no-op, never a leap backward.
	require.Equal(t, 15*time.Millisecond, c.Advance(-5*time.Millisecond))
	require.Equal(t, 15*time.Millisecond, c.Advance(0))
}

func TestRealNeverGoesBackward(t *testing.T) {
	c := NewReal()
	first := c.Now()
	time.Sleep(time.Millisecond)
	second := c.Now()
	require.True(t, second >= first)
}

func TestClockInterfaceSatisfiedByBoth(t *testing.T) {
	var _ Clock = NewManual()
	var _ Clock = NewReal()
}
