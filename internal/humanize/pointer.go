// File: internal/humanize/pointer.go
package humanize

import (
	"math"
	"time"
)

// PathPoint is one sampled point of a pointer trajectory, with the delay
// to apply before dispatching the move to that point.
type PathPoint struct {
	Pos   Vec2
	Delay time.Duration
}

// PointerPath generates an ordered sequence of intermediate points from
// start to end along a cubic Bezier curve. The two control points are
// displaced perpendicular to the straight line by jitter proportional to
// the path distance, and every emitted point is clamped to the deviation
// envelope, so the path never strays further from the chord than
// MaxDeviationRatio*distance and never doubles back visibly.
func (s *Synthesizer) PointerPath(start, end Vec2) []PathPoint {
	dist := start.Dist(end)
	if dist < 1.0 {
		return []PathPoint{{Pos: end}}
	}

	duration := s.movementTime(dist)
	numSteps := int(duration.Seconds() * 100)
	if numSteps < 4 {
		numSteps = 4
	}

	chord := end.Sub(start)
	dir := chord.Normalize()
	perp := dir.Perp()
	envelope := dist * s.cfg.MaxDeviationRatio

	// Control points at 1/3 and 2/3 of the chord, each displaced
	// perpendicular by at most 80% of the envelope. The Bezier curve stays
	// inside the convex hull of its control points, which leaves headroom
	// for the noise layers below.
	offset1 := (s.rng.Float64()*2 - 1) * envelope * 0.8
	offset2 := (s.rng.Float64()*2 - 1) * envelope * 0.8
	p0 := start
	p1 := start.Add(dir.Mul(dist / 3.0)).Add(perp.Mul(offset1))
	p2 := start.Add(dir.Mul(dist * 2.0 / 3.0)).Add(perp.Mul(offset2))
	p3 := end

	points := make([]PathPoint, 0, numSteps)
	elapsed := 0.0
	for i := 0; i < numSteps; i++ {
		t := float64(i) / float64(numSteps-1)
		eased := easeInOutCubic(t)

		pos := bezier(p0, p1, p2, p3, eased)

		// Low-frequency Perlin drift plus high-frequency Gaussian tremor.
		drift := Vec2{
			X: s.noiseX.Noise1D(elapsed*0.8) * s.cfg.PerlinAmplitude,
			Y: s.noiseY.Noise1D(elapsed*0.8) * s.cfg.PerlinAmplitude,
		}
		tremor := Vec2{
			X: s.rng.NormFloat64() * 0.4,
			Y: s.rng.NormFloat64() * 0.4,
		}
		pos = pos.Add(drift).Add(tremor)

		// Endpoints are exact; intermediate points are clamped to the
		// deviation envelope around the chord.
		switch i {
		case 0:
			pos = start
		case numSteps - 1:
			pos = end
		default:
			pos = clampToChord(pos, start, dir, perp, dist, envelope)
		}

		delayMs := s.truncNormal(
			s.cfg.MoveDelayMeanMs*s.cfg.Profile.tempo(),
			s.cfg.MoveDelayStdDevMs,
			1.0,
			s.cfg.MoveDelayMeanMs*s.cfg.Profile.tempo()*3,
		)
		elapsed += delayMs / 1000.0

		points = append(points, PathPoint{
			Pos:   pos,
			Delay: time.Duration(delayMs * float64(time.Millisecond)),
		})
	}
	return points
}

// bezier evaluates the cubic Bezier curve at parameter t.
func bezier(p0, p1, p2, p3 Vec2, t float64) Vec2 {
	omt := 1.0 - t
	omt2 := omt * omt
	t2 := t * t
	return p0.Mul(omt2 * omt).
		Add(p1.Mul(3 * omt2 * t)).
		Add(p2.Mul(3 * omt * t2)).
		Add(p3.Mul(t2 * t))
}

// easeInOutCubic provides smooth acceleration and deceleration.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// clampToChord projects pos onto the chord frame and clamps its
// perpendicular component to the envelope and its parallel component to
// the segment, which also prevents the path from doubling back past the
// endpoints.
func clampToChord(pos, start Vec2, dir, perp Vec2, dist, envelope float64) Vec2 {
	rel := pos.Sub(start)
	along := rel.X*dir.X + rel.Y*dir.Y
	across := rel.X*perp.X + rel.Y*perp.Y

	along = math.Max(0, math.Min(dist, along))
	across = math.Max(-envelope, math.Min(envelope, across))

	return start.Add(dir.Mul(along)).Add(perp.Mul(across))
}
