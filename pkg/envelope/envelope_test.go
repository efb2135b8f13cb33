package envelope

import (
	"math"
	"testing"
)

// tone returns an interleaved window whose mono mix peaks at amp.
func tone(amp float32, frames, channels int) []float32 {
	w := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		for c := 0; c < channels; c++ {
			w[i*channels+c] = v
		}
	}
	return w
}

func TestNewTracker_Defaults(t *testing.T) {
	tr := NewTracker(Config{})
	if tr.Config() != DefaultConfig() {
		t.Errorf("config = %+v, want %+v", tr.Config(), DefaultConfig())
	}
	if tr.Reference() != 0.02 {
		t.Errorf("initial reference = %v, want 0.02", tr.Reference())
	}
	if tr.Smoothed() != 0 {
		t.Errorf("initial smoothed = %v, want 0", tr.Smoothed())
	}
}

func TestMonoPeak(t *testing.T) {
	tests := []struct {
		name     string
		window   []float32
		channels int
		want     float64
	}{
		{"empty", nil, 1, 0},
		{"mono", []float32{0.1, -0.5, 0.3}, 1, 0.5},
		{"stereo averages", []float32{0.4, 0.0, -0.2, -0.6}, 2, 0.4},
		{"stereo cancels", []float32{0.5, -0.5}, 2, 0},
		{"partial frame ignored", []float32{0.1, 0.1, 0.9}, 2, 0.1},
		{"zero channels treated as mono", []float32{-0.25}, 0, 0.25},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := MonoPeak(tc.window, tc.channels); math.Abs(got-tc.want) > 1e-6 {
				t.Errorf("MonoPeak = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStep_FirstLoudFrame(t *testing.T) {
	tr := NewTracker(Config{})
	// peak 0.5: reference = max(0.02*0.995, 0.35, 0.02) = 0.35
	// x = sqrt(min(0.5/0.35, 1.5)) = sqrt(1.428571...)
	// smoothed = 0.45 * x
	got := tr.Step(tone(0.5, 400, 1), 1, false)
	want := 0.45 * math.Sqrt(0.5/0.35)
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("Step = %v, want %v", got, want)
	}
	if math.Abs(tr.Reference()-0.35) > 1e-6 {
		t.Errorf("reference = %v, want 0.35", tr.Reference())
	}
}

func TestStep_SilenceIsGated(t *testing.T) {
	tr := NewTracker(Config{})
	for i := 0; i < 50; i++ {
		if got := tr.Step(tone(0.000001, 400, 1), 1, false); got != 0 {
			t.Fatalf("frame %d: Step = %v, want 0", i, got)
		}
	}
}

func TestStep_ReferenceDecaysAndRespectsFloor(t *testing.T) {
	tr := NewTracker(Config{})
	tr.Step(tone(0.9, 400, 1), 1, false)
	prev := tr.Reference()
	for i := 0; i < 2000; i++ {
		tr.Step(tone(0.001, 400, 1), 1, false)
		ref := tr.Reference()
		if ref > prev {
			t.Fatalf("frame %d: reference rose from %v to %v without a new peak", i, prev, ref)
		}
		if ref < tr.Config().Floor {
			t.Fatalf("frame %d: reference %v fell below floor", i, ref)
		}
		prev = ref
	}
	if prev != tr.Config().Floor {
		t.Errorf("reference after long silence = %v, want floor %v", prev, tr.Config().Floor)
	}
}

func TestStep_OutputBounded(t *testing.T) {
	tr := NewTracker(Config{})
	amps := []float32{0, 1, 0.001, 0.8, 2.5, 0.02, 0, 1, 1, 1, 0.3}
	for round := 0; round < 20; round++ {
		for i, a := range amps {
			got := tr.Step(tone(a, 64, 2), 2, i%4 == 0)
			if got < 0 || got > 1 {
				t.Fatalf("Step = %v, out of [0,1]", got)
			}
		}
	}
}

func TestStep_AttackFasterThanRelease(t *testing.T) {
	tr := NewTracker(Config{})
	rise := tr.Step(tone(0.5, 400, 1), 1, false)
	// Closing: target forced to 0, smoothing uses release.
	fall := tr.Step(tone(0.5, 400, 1), 1, true)

	if want := rise * 0.75; math.Abs(fall-want) > 1e-9 {
		t.Errorf("after closed frame = %v, want %v (release 0.25)", fall, want)
	}
	if fall == 0 {
		t.Error("closed frame snapped to zero; expected gradual close")
	}
}

func TestStep_ClosedStillTracksReference(t *testing.T) {
	tr := NewTracker(Config{})
	tr.Step(tone(0.8, 400, 1), 1, true)
	if math.Abs(tr.Reference()-0.56) > 1e-6 {
		t.Errorf("reference = %v, want 0.56", tr.Reference())
	}
}

func TestReset(t *testing.T) {
	tr := NewTracker(Config{})
	tr.Step(tone(0.8, 400, 1), 1, false)
	tr.Reset()
	if tr.Reference() != tr.Config().Floor || tr.Smoothed() != 0 {
		t.Errorf("after Reset reference=%v smoothed=%v", tr.Reference(), tr.Smoothed())
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(math.NaN(), 0, 1); got != 0 {
		t.Errorf("Clamp(NaN) = %v, want 0", got)
	}
	if got := Clamp(-2, -1, 1); got != -1 {
		t.Errorf("Clamp(-2) = %v, want -1", got)
	}
	if got := Clamp(3, -1, 1); got != 1 {
		t.Errorf("Clamp(3) = %v, want 1", got)
	}
	if got := Clamp(0.5, -1, 1); got != 0.5 {
		t.Errorf("Clamp(0.5) = %v, want 0.5", got)
	}
}
