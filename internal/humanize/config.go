// File: internal/humanize/config.go
// Config defines the tunable parameters for the input synthesis models:
// movement pacing (Fitts's law), pointer jitter envelopes, keystroke
// timing distributions and typo simulation. Loaded from the behavior
// section of the application config; a Profile applies a coarse
// multiplier on top of the base numbers.
package humanize

import "math"

// Profile selects a coarse interaction tempo.
type Profile string

const (
	ProfileCautious Profile = "cautious"
	ProfileNormal   Profile = "normal"
	ProfileFast     Profile = "fast"
)

// tempo returns the delay multiplier for the profile. Cautious users are
// slower and make slightly more mistakes; fast users the opposite.
func (p Profile) tempo() float64 {
	switch p {
	case ProfileCautious:
		return 1.6
	case ProfileFast:
		return 0.6
	default:
		return 1.0
	}
}

// typoScale returns the typo-rate multiplier for the profile.
func (p Profile) typoScale() float64 {
	switch p {
	case ProfileCautious:
		return 0.6
	case ProfileFast:
		return 1.5
	default:
		return 1.0
	}
}

// Config holds the parameters defining the synthesized input streams.
type Config struct {
	Profile Profile `mapstructure:"profile" yaml:"profile"`

	// Seed makes the synthesizer fully deterministic when non-zero.
	// Zero draws the seed from the process-wide randomness source.
	Seed int64 `mapstructure:"seed" yaml:"seed"`

	// Fitts's law parameters: movement time = FittsA + FittsB*log2(1+D/W).
	FittsA float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB float64 `mapstructure:"fitts_b" yaml:"fitts_b"`

	// MaxDeviationRatio bounds how far the pointer path may stray from the
	// straight line, as a fraction of the path distance.
	MaxDeviationRatio float64 `mapstructure:"max_deviation_ratio" yaml:"max_deviation_ratio"`

	// PerlinAmplitude is the pixel amplitude of the low-frequency drift
	// layered onto the ideal path.
	PerlinAmplitude float64 `mapstructure:"perlin_amplitude" yaml:"perlin_amplitude"`

	// Per-point move delay, sampled from a truncated normal distribution.
	MoveDelayMeanMs   float64 `mapstructure:"move_delay_mean_ms" yaml:"move_delay_mean_ms"`
	MoveDelayStdDevMs float64 `mapstructure:"move_delay_std_dev_ms" yaml:"move_delay_std_dev_ms"`

	// Per-character keystroke delay, sampled from a lognormal distribution
	// parameterized by the log-space mean and standard deviation.
	KeyDelayLogMu    float64 `mapstructure:"key_delay_log_mu" yaml:"key_delay_log_mu"`
	KeyDelayLogSigma float64 `mapstructure:"key_delay_log_sigma" yaml:"key_delay_log_sigma"`

	// TypoRate is the per-character probability of an adjacent-key slip
	// followed by a backspace correction.
	TypoRate float64 `mapstructure:"typo_rate" yaml:"typo_rate"`
}

// DefaultConfig returns parameters representing an average user on the
// normal profile.
func DefaultConfig() Config {
	return Config{
		Profile:           ProfileNormal,
		FittsA:            100.0,
		FittsB:            120.0,
		MaxDeviationRatio: 0.12,
		PerlinAmplitude:   2.0,
		MoveDelayMeanMs:   9.0,
		MoveDelayStdDevMs: 3.0,
		// exp(4.2) ~ 67ms median inter-key delay.
		KeyDelayLogMu:    4.2,
		KeyDelayLogSigma: 0.35,
		TypoRate:         0.04,
	}
}

// normalized clamps out-of-range values so a partially filled config
// section cannot produce degenerate streams.
func (c Config) normalized() Config {
	if c.Profile == "" {
		c.Profile = ProfileNormal
	}
	if c.FittsA <= 0 {
		c.FittsA = 100.0
	}
	if c.FittsB <= 0 {
		c.FittsB = 120.0
	}
	if c.MaxDeviationRatio <= 0 || c.MaxDeviationRatio > 0.5 {
		c.MaxDeviationRatio = 0.12
	}
	if c.PerlinAmplitude < 0 {
		c.PerlinAmplitude = 0
	}
	if c.MoveDelayMeanMs <= 0 {
		c.MoveDelayMeanMs = 9.0
	}
	if c.MoveDelayStdDevMs <= 0 {
		c.MoveDelayStdDevMs = 3.0
	}
	if c.KeyDelayLogMu <= 0 {
		c.KeyDelayLogMu = 4.2
	}
	if c.KeyDelayLogSigma <= 0 {
		c.KeyDelayLogSigma = 0.35
	}
	c.TypoRate = math.Max(0, math.Min(0.25, c.TypoRate))
	return c
}
