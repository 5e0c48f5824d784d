// Package humaniser generates human-like timing jitter for keystroke
// playback: two independent AR(1) drift processes per key (one for
// press-time, one for hold-time) plus a truncated-Gaussian micro
// component. Grounded on msmacro/core/humanJitter.py's HumanJitter.
package humaniser

import (
	"math"
	"math/rand"
)

const driftHoldSalt = 0x9E3779B9

// Params configures a Humaniser. Zero-valued FactorTime/FactorHold disable
// the corresponding jitter.
type Params struct {
	FactorTime    float64 // fraction of anchor for press-time jitter
	FactorHold    float64 // fraction of hold for hold jitter
	DriftStrength float64 // AR(1) rho, default 0.80 (Player uses 0.90)
	DriftRatio    float64 // portion of factor reserved for drift, default 0.35
	ClipSigma     float64 // truncate normal at +/- ClipSigma*sigma, default 3.0
	TimeFloorS    float64 // below this anchor, strongly attenuate, default 0.040
	TimeSoftS     float64 // reach full effect around this anchor, default 0.200
	AbsCapTimeS   float64 // hard absolute cap for timing jitter, default 0.012
}

// DefaultParams returns the HumanJitter constructor defaults.
func DefaultParams() Params {
	return Params{
		DriftStrength: 0.80,
		DriftRatio:    0.35,
		ClipSigma:     3.0,
		TimeFloorS:    0.040,
		TimeSoftS:     0.200,
		AbsCapTimeS:   0.012,
	}
}

// Humaniser holds per-key AR(1) drift state; it is not safe for concurrent
// use from multiple goroutines without external synchronization (playback
// is single-threaded).
type Humaniser struct {
	ft, fh             float64
	rho, dratio, clip  float64
	floor, soft        float64
	absCap             float64
	rng                *rand.Rand
	driftTime          map[int]float64
	driftHold          map[int]float64
}

// New builds a Humaniser from p, clamping knobs to their valid ranges the
// way the Python constructor does.
func New(p Params, seed int64) *Humaniser {
	clamp := func(v, lo, hi float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	soft := p.TimeSoftS
	floor := math.Max(0, p.TimeFloorS)
	if soft < floor+1e-6 {
		soft = floor + 1e-6
	}
	return &Humaniser{
		ft:        math.Max(0, p.FactorTime),
		fh:        math.Max(0, p.FactorHold),
		rho:       clamp(p.DriftStrength, 0, 0.999),
		dratio:    clamp(p.DriftRatio, 0, 0.95),
		clip:      math.Max(1, p.ClipSigma),
		floor:     floor,
		soft:      soft,
		absCap:    math.Max(0, p.AbsCapTimeS),
		rng:       rand.New(rand.NewSource(seed)),
		driftTime: make(map[int]float64),
		driftHold: make(map[int]float64),
	}
}

func (h *Humaniser) truncNorm(sigma float64) float64 {
	if sigma <= 0 {
		return 0
	}
	x := h.rng.NormFloat64() * sigma
	lim := h.clip * sigma
	if x > lim {
		x = lim
	}
	if x < -lim {
		x = -lim
	}
	return x
}

func smoothstep01(x float64) float64 {
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	return x * x * (3 - 2*x)
}

func (h *Humaniser) attenFromAnchor(anchorS float64) float64 {
	if anchorS <= h.floor {
		return 0.20
	}
	if anchorS >= h.soft {
		return 1.0
	}
	x := (anchorS - h.floor) / (h.soft - h.floor)
	return 0.20 + 0.80*smoothstep01(x)
}

func (h *Humaniser) jitterFrac(key int, factor float64, drift map[int]float64, atten float64) float64 {
	if factor <= 0 || atten <= 0 {
		return 0
	}
	eff := factor * atten
	microSigma := (eff * (1 - h.dratio)) / h.clip
	driftSigma := (eff * h.dratio * atten) / h.clip
	dPrev := drift[key]
	dNew := h.rho*dPrev + h.truncNorm(driftSigma)
	drift[key] = dNew
	micro := h.truncNorm(microSigma)
	frac := dNew + micro
	if frac > eff {
		frac = eff
	}
	if frac < -eff {
		frac = -eff
	}
	return frac
}

// TimeJitter returns the additive press-time jitter, in seconds, for usage
// given the inter-press anchor (time since the previous press of the same
// key).
func (h *Humaniser) TimeJitter(usage int, baseAnchorS float64) float64 {
	if baseAnchorS <= 0 || h.ft <= 0 {
		return 0
	}
	atten := h.attenFromAnchor(baseAnchorS)
	frac := h.jitterFrac(usage, h.ft, h.driftTime, atten)
	delta := baseAnchorS * frac
	cap := math.Min(h.absCap, math.Abs(h.ft)*baseAnchorS*1.25)
	if delta > cap {
		delta = cap
	} else if delta < -cap {
		delta = -cap
	}
	return delta
}

// HoldJitter returns the additive hold-duration jitter, in seconds, for
// usage given the base hold duration. No cadence attenuation is applied.
func (h *Humaniser) HoldJitter(usage int, baseHoldS float64) float64 {
	if baseHoldS <= 0 || h.fh <= 0 {
		return 0
	}
	frac := h.jitterFrac(usage^driftHoldSalt, h.fh, h.driftHold, 1.0)
	return baseHoldS * frac
}
