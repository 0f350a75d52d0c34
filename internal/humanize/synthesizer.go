// File: internal/humanize/synthesizer.go
// Package humanize generates timed pointer paths and keystroke streams
// that avoid the uniform cadence of scripted input. It is a pure
// generator: nothing here touches the browser, the plans it produces are
// consumed by the session's input dispatcher.
package humanize

import (
	"math"
	"math/rand"
	"time"

	"github.com/aquilax/go-perlin"
)

// Synthesizer produces randomized pointer paths and keystroke timing
// streams. Safe for sequential use within one session; sessions wanting
// independent streams create their own instance.
type Synthesizer struct {
	cfg    Config
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
}

// New creates a Synthesizer. With cfg.Seed set, two instances over
// identical inputs produce identical streams.
func New(cfg Config) *Synthesizer {
	cfg = cfg.normalized()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// Standard Perlin parameters; the Y noise gets an offset seed so the
	// two axes drift independently.
	const alpha, beta, n = 2.0, 2.0, int32(3)
	return &Synthesizer{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		noiseX: perlin.NewPerlin(alpha, beta, n, seed),
		noiseY: perlin.NewPerlin(alpha, beta, n, seed+1),
	}
}

// truncNormal samples a normal distribution truncated to [min, max].
func (s *Synthesizer) truncNormal(mean, stdDev, min, max float64) float64 {
	for i := 0; i < 8; i++ {
		v := s.rng.NormFloat64()*stdDev + mean
		if v >= min && v <= max {
			return v
		}
	}
	// Degenerate parameters: clamp instead of looping forever.
	return math.Max(min, math.Min(max, mean))
}

// logNormal samples a lognormal distribution in milliseconds.
func (s *Synthesizer) logNormal(logMu, logSigma float64) float64 {
	return math.Exp(s.rng.NormFloat64()*logSigma + logMu)
}

// PressHold returns a plausible duration between mouse press and release.
func (s *Synthesizer) PressHold() time.Duration {
	ms := s.truncNormal(65*s.cfg.Profile.tempo(), 20, 30, 180)
	return time.Duration(ms * float64(time.Millisecond))
}

// Pause returns a think-time pause around meanMs, scaled by the profile
// tempo. Used between form fields and before review.
func (s *Synthesizer) Pause(meanMs float64) time.Duration {
	mean := meanMs * s.cfg.Profile.tempo()
	ms := s.truncNormal(mean, mean/3, mean/4, mean*3)
	return time.Duration(ms * float64(time.Millisecond))
}

// TargetPoint picks a click point inside the box biased toward the
// center, so repeated clicks do not land on the same pixel.
func (s *Synthesizer) TargetPoint(x, y, w, h float64) Vec2 {
	if w < 3 || h < 3 {
		return Vec2{X: x + w/2, Y: y + h/2}
	}
	return Vec2{
		X: s.truncNormal(x+w/2, w/6, x+1, x+w-1),
		Y: s.truncNormal(y+h/2, h/6, y+1, y+h-1),
	}
}

// movementTime applies Fitts's law to derive a plausible total movement
// duration for the given distance, with a +/-15% randomization.
func (s *Synthesizer) movementTime(distance float64) time.Duration {
	const targetWidth = 30.0
	id := math.Log2(1.0 + distance/targetWidth)
	mt := (s.cfg.FittsA + s.cfg.FittsB*id) * s.cfg.Profile.tempo()
	mt += mt * (s.rng.Float64()*0.3 - 0.15)
	return time.Duration(mt) * time.Millisecond
}
