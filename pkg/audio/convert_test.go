package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/mouthpiece/pkg/audio"
)

func approx(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-4 }

func assertSamples(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !approx(got[i], want[i]) {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.999}
	got := audio.PCM16ToFloat32(audio.Float32ToPCM16(in))
	assertSamples(t, got, in)
}

func TestFloat32ToPCM16_Clamping(t *testing.T) {
	got := audio.PCM16ToFloat32(audio.Float32ToPCM16([]float32{4, -4}))
	if got[0] < 0.999 || got[1] != -1 {
		t.Errorf("clamped = %v, want ~[1 -1]", got)
	}
}

func TestUpmix(t *testing.T) {
	assertSamples(t, audio.Upmix([]float32{0.1, 0.2, 0.3}, 2), []float32{0.1, 0.1, 0.2, 0.2, 0.3, 0.3})
}

func TestDownmix(t *testing.T) {
	// Two stereo frames: (0.2, 0.4) and (-0.2, -0.4).
	assertSamples(t, audio.Downmix([]float32{0.2, 0.4, -0.2, -0.4}, 2), []float32{0.3, -0.3})
}

func TestResample_SameRate(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	if out := audio.Resample(in, 1, 48000, 48000); len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestResample_Upsample(t *testing.T) {
	// 2 samples at 16kHz -> 6 samples at 48kHz.
	out := audio.Resample([]float32{0.1, 0.2}, 1, 16000, 48000)
	if len(out) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(out))
	}
	if !approx(out[0], 0.1) {
		t.Errorf("first sample: got %v, want 0.1", out[0])
	}
	if last := out[len(out)-1]; last < 0.18 || last > 0.22 {
		t.Errorf("last sample: got %v, want close to 0.2", last)
	}
}

func TestResample_Downsample(t *testing.T) {
	out := audio.Resample([]float32{1, 2, 3, 4, 5, 6}, 1, 48000, 16000)
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
}

func TestResample_StereoKeepsChannelsApart(t *testing.T) {
	// Left is constant 0.5, right is constant -0.5.
	out := audio.Resample([]float32{0.5, -0.5, 0.5, -0.5}, 2, 16000, 48000)
	if len(out) != 12 {
		t.Fatalf("expected 12 samples, got %d", len(out))
	}
	for i := 0; i < len(out); i += 2 {
		if !approx(out[i], 0.5) || !approx(out[i+1], -0.5) {
			t.Fatalf("frame %d = (%v, %v), channels bled", i/2, out[i], out[i+1])
		}
	}
}

func TestResample_InvalidRate(t *testing.T) {
	in := []float32{0.1, 0.2}
	if out := audio.Resample(in, 1, 0, 48000); len(out) != len(in) {
		t.Errorf("zero source rate changed length to %d", len(out))
	}
}

func TestClipConvert(t *testing.T) {
	tests := []struct {
		name   string
		clip   *audio.Clip
		target audio.Format
		want   audio.Format
		frames int
	}{
		{
			name:   "no-op returns same clip",
			clip:   &audio.Clip{Format: audio.Format{SampleRate: 24000, Channels: 1}, Samples: make([]float32, 240)},
			target: audio.Format{},
			want:   audio.Format{SampleRate: 24000, Channels: 1},
			frames: 240,
		},
		{
			name:   "mono to stereo",
			clip:   &audio.Clip{Format: audio.Format{SampleRate: 24000, Channels: 1}, Samples: make([]float32, 240)},
			target: audio.Format{Channels: 2},
			want:   audio.Format{SampleRate: 24000, Channels: 2},
			frames: 240,
		},
		{
			name:   "resample and downmix",
			clip:   &audio.Clip{Format: audio.Format{SampleRate: 48000, Channels: 2}, Samples: make([]float32, 960)},
			target: audio.Format{SampleRate: 24000, Channels: 1},
			want:   audio.Format{SampleRate: 24000, Channels: 1},
			frames: 240,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.clip.Convert(tc.target)
			if got.Format != tc.want {
				t.Errorf("format = %v, want %v", got.Format, tc.want)
			}
			if got.Frames() != tc.frames {
				t.Errorf("frames = %d, want %d", got.Frames(), tc.frames)
			}
			if tc.target == (audio.Format{}) && got != tc.clip {
				t.Error("no-op conversion allocated a new clip")
			}
		})
	}
}
