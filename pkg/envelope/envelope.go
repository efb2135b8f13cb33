// Package envelope converts short windows of raw audio into a bounded
// loudness value suitable for driving mouth openness.
//
// Each [Tracker.Step] call mixes the window to mono, measures its peak,
// normalises it against a slowly decaying automatic-gain reference, applies a
// square-root perceptual curve and a noise gate, and finally smooths the
// result with separate attack and release coefficients so the mouth opens
// quickly but closes gradually.
//
// A Tracker carries state from frame to frame and must be owned by a single
// goroutine.
package envelope

import (
	"math"
)

// Config holds the tuning constants. They are empirically chosen; zero fields
// are replaced by [DefaultConfig] values in [NewTracker].
type Config struct {
	// Floor is the lowest value the reference may take. It keeps silence
	// from being normalised up to full scale.
	Floor float64

	// Decay multiplies the reference every frame.
	Decay float64

	// PeakRatio scales the window peak before it competes with the decayed
	// reference.
	PeakRatio float64

	// MaxRatio caps peak/reference before compression.
	MaxRatio float64

	// NoiseGate zeroes compressed values below it.
	NoiseGate float64

	// Attack is the smoothing coefficient used while the target rises.
	Attack float64

	// Release is the smoothing coefficient used while the target falls.
	Release float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		Floor:     0.02,
		Decay:     0.995,
		PeakRatio: 0.7,
		MaxRatio:  1.5,
		NoiseGate: 0.02,
		Attack:    0.45,
		Release:   0.25,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Floor <= 0 {
		c.Floor = d.Floor
	}
	if c.Decay <= 0 || c.Decay > 1 {
		c.Decay = d.Decay
	}
	if c.PeakRatio <= 0 {
		c.PeakRatio = d.PeakRatio
	}
	if c.MaxRatio <= 0 {
		c.MaxRatio = d.MaxRatio
	}
	if c.NoiseGate <= 0 {
		c.NoiseGate = d.NoiseGate
	}
	if c.Attack <= 0 || c.Attack > 1 {
		c.Attack = d.Attack
	}
	if c.Release <= 0 || c.Release > 1 {
		c.Release = d.Release
	}
	return c
}

// Tracker is the per-utterance envelope state.
type Tracker struct {
	cfg       Config
	reference float64
	smoothed  float64
}

// NewTracker returns a tracker whose reference starts at the floor.
func NewTracker(cfg Config) *Tracker {
	t := &Tracker{cfg: cfg.withDefaults()}
	t.Reset()
	return t
}

// Reset restores the initial state. Call it between utterances.
func (t *Tracker) Reset() {
	t.reference = t.cfg.Floor
	t.smoothed = 0
}

// Reference returns the current automatic-gain reference.
func (t *Tracker) Reference() float64 { return t.reference }

// Smoothed returns the last output value.
func (t *Tracker) Smoothed() float64 { return t.smoothed }

// Config returns the effective configuration.
func (t *Tracker) Config() Config { return t.cfg }

// Step consumes one interleaved window with the given channel count and
// returns the smoothed amplitude in [0, 1]. When closed is true the target
// is forced to zero before smoothing, so the mouth closes along the release
// curve instead of snapping shut. The reference still tracks the window.
func (t *Tracker) Step(window []float32, channels int, closed bool) float64 {
	peak := MonoPeak(window, channels)

	t.reference = max(t.reference*t.cfg.Decay, peak*t.cfg.PeakRatio, t.cfg.Floor)

	x := math.Sqrt(min(peak/t.reference, t.cfg.MaxRatio))
	if x < t.cfg.NoiseGate {
		x = 0
	}
	if closed {
		x = 0
	}

	alpha := t.cfg.Release
	if x > t.smoothed {
		alpha = t.cfg.Attack
	}
	t.smoothed = (1-alpha)*t.smoothed + alpha*x
	return Clamp(t.smoothed, 0, 1)
}

// MonoPeak averages interleaved frames to mono and returns the largest
// absolute sample. A trailing partial frame is ignored.
func MonoPeak(window []float32, channels int) float64 {
	if channels < 1 {
		channels = 1
	}
	var peak float64
	for i := 0; i+channels <= len(window); i += channels {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(window[i+c])
		}
		if v := math.Abs(sum / float64(channels)); v > peak {
			peak = v
		}
	}
	return peak
}

// Clamp bounds v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
