package humaniser

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimeJitterBoundedByAbsCap(t *testing.T) {
	p := DefaultParams()
	p.FactorTime = 0.5
	h := New(p, 1)
	for i := 0; i < 500; i++ {
		d := h.TimeJitter(4, 0.3)
		require.LessOrEqual(t, math.Abs(d), h.absCap+1e-9)
	}
}

func TestTimeJitterZeroFactorIsZero(t *testing.T) {
	h := New(DefaultParams(), 1)
	require.Equal(t, 0.0, h.TimeJitter(4, 0.2))
}

func TestHoldJitterUsesDistinctDriftFromTime(t *testing.T) {
	p := DefaultParams()
	p.FactorTime = 0.1
	p.FactorHold = 0.1
	h := New(p, 42)
	_ = h.TimeJitter(4, 0.2)
	// Hold drift state is keyed by usage^driftHoldSalt, independent of the
	// time-drift state for the same usage.
	require.Equal(t, 0.0, h.driftHold[4^driftHoldSalt])
	_ = h.HoldJitter(4, 0.05)
	require.NotEqual(t, 0.0, h.driftHold[4^driftHoldSalt])
}

func TestAttenFromAnchorMonotonic(t *testing.T) {
	h := New(DefaultParams(), 1)
	require.InDelta(t, 0.20, h.attenFromAnchor(0.01), 1e-9)
	require.InDelta(t, 1.0, h.attenFromAnchor(1.0), 1e-9)
	require.Greater(t, h.attenFromAnchor(0.1), h.attenFromAnchor(0.05))
}
