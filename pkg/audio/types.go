// Package audio holds decoded speech audio and the playback abstraction.
//
// Synthesized speech arrives as a WAV byte slice. [DecodeWAV] turns it into a
// [Clip]: interleaved float32 samples in [-1, 1] plus their [Format]. The
// same Clip is handed to a [Player] for output and read window by window by
// the mouth loop through a [Reader], so both observe the identical stream.
//
// Platform-specific players live in sub-packages (audio/malgo); audio/mock
// provides a clock-driven player for tests.
package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "24000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Clip is a fully decoded utterance.
type Clip struct {
	Format

	// Samples are interleaved by channel, normalised to [-1, 1].
	Samples []float32
}

// Frames returns the number of sample frames (samples per channel).
func (c *Clip) Frames() int {
	if c == nil || c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the playback length.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// NewReader returns a Reader positioned at the start of the clip.
func (c *Clip) NewReader() *Reader {
	return &Reader{clip: c}
}

// Reader yields consecutive windows of a Clip. It is not safe for concurrent
// use; each consumer creates its own.
type Reader struct {
	clip *Clip
	pos  int // frames consumed
}

// Next returns the next window of up to frames sample frames, interleaved.
// It returns nil once the clip is exhausted. The returned slice aliases the
// clip and must not be modified.
func (r *Reader) Next(frames int) []float32 {
	total := r.clip.Frames()
	if frames <= 0 || r.pos >= total {
		return nil
	}
	end := min(r.pos+frames, total)
	ch := r.clip.Channels
	w := r.clip.Samples[r.pos*ch : end*ch]
	r.pos = end
	return w
}

// Position returns the number of frames consumed so far.
func (r *Reader) Position() int { return r.pos }

// Elapsed returns the stream time corresponding to Position.
func (r *Reader) Elapsed() time.Duration {
	if r.clip.SampleRate <= 0 {
		return 0
	}
	return time.Duration(r.pos) * time.Second / time.Duration(r.clip.SampleRate)
}
