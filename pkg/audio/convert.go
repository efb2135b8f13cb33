package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
)

// PCM16ToFloat32 converts little-endian int16 PCM to floats in [-1, 1). A
// trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768
	}
	return out
}

func pcm24ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/3)
	for i := range out {
		b := pcm[i*3:]
		s := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
		out[i] = float32(s) / (1 << 23)
	}
	return out
}

// Float32ToPCM16 converts floats to little-endian int16 PCM, clamping to the
// int16 range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		s := math.Round(float64(v) * 32767)
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// Float32ToBytes writes samples as little-endian IEEE floats into dst and
// returns the number of samples written.
func Float32ToBytes(dst []byte, samples []float32) int {
	n := min(len(dst)/4, len(samples))
	for i := range n {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(samples[i]))
	}
	return n
}

// Convert returns the clip in the target format. Resampling happens first
// (so a stereo source destined for mono is not resampled twice), then channel
// conversion. Zero fields in target keep the clip's value. If nothing
// changes, c itself is returned.
func (c *Clip) Convert(target Format) *Clip {
	if target.SampleRate <= 0 {
		target.SampleRate = c.SampleRate
	}
	if target.Channels <= 0 {
		target.Channels = c.Channels
	}
	if target == c.Format {
		return c
	}

	slog.Debug("audio format conversion", "from", c.Format.String(), "to", target.String())

	samples := c.Samples
	channels := c.Channels
	if c.SampleRate != target.SampleRate {
		samples = Resample(samples, channels, c.SampleRate, target.SampleRate)
	}
	switch {
	case channels == target.Channels:
	case target.Channels == 1:
		samples = Downmix(samples, channels)
	case channels == 1:
		samples = Upmix(samples, target.Channels)
	default:
		samples = Upmix(Downmix(samples, channels), target.Channels)
	}
	return &Clip{Format: target, Samples: samples}
}

// Upmix duplicates each mono sample into channels identical samples.
func Upmix(mono []float32, channels int) []float32 {
	if channels <= 1 {
		return mono
	}
	out := make([]float32, len(mono)*channels)
	for i, v := range mono {
		for c := range channels {
			out[i*channels+c] = v
		}
	}
	return out
}

// Downmix averages interleaved frames to mono.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts interleaved samples from srcRate to dstRate using linear
// interpolation per channel. Invalid rates return the input unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			s0 := samples[idx*channels+c]
			s1 := samples[next*channels+c]
			out[i*channels+c] = s0*(1-frac) + s1*frac
		}
	}
	return out
}
