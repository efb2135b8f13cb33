package timeline_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/MrWong99/mouthpiece/pkg/timeline"
)

func f(v float64) *float64 { return &v }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBuild_SingleMora(t *testing.T) {
	t.Parallel()
	q := &timeline.AudioQuery{AccentPhrases: []timeline.AccentPhrase{{
		Moras: []timeline.Mora{{Vowel: "a", VowelLength: f(0.2), ConsonantLength: f(0.05)}},
	}}}

	got := timeline.Build(q)
	want := timeline.Timeline{
		{Start: 0, End: 0.05, Tag: timeline.TagClosed},
		{Start: 0.05, End: 0.25, Tag: timeline.TagA},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if !approx(got[i].Start, want[i].Start) || !approx(got[i].End, want[i].End) || got[i].Tag != want[i].Tag {
			t.Errorf("segment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBuild_Tags(t *testing.T) {
	t.Parallel()
	tests := []struct {
		vowel string
		want  timeline.Tag
	}{
		{"a", timeline.TagA},
		{"I", timeline.TagI},
		{"u", timeline.TagU},
		{"E", timeline.TagE},
		{"o", timeline.TagO},
		{"N", timeline.TagClosed},
		{"cl", timeline.TagClosed},
		{"", timeline.TagClosed},
	}
	for _, tc := range tests {
		t.Run(tc.vowel, func(t *testing.T) {
			t.Parallel()
			q := &timeline.AudioQuery{AccentPhrases: []timeline.AccentPhrase{{
				Moras: []timeline.Mora{{Vowel: tc.vowel, VowelLength: f(0.1)}},
			}}}
			tl := timeline.Build(q)
			if len(tl) != 1 {
				t.Fatalf("len = %d, want 1", len(tl))
			}
			if tl[0].Tag != tc.want {
				t.Errorf("tag = %q, want %q", tl[0].Tag, tc.want)
			}
		})
	}
}

func TestBuild_PauseAndMissingFields(t *testing.T) {
	t.Parallel()
	q := &timeline.AudioQuery{AccentPhrases: []timeline.AccentPhrase{
		{
			Moras: []timeline.Mora{
				{Vowel: "o", VowelLength: f(0.1)},
				{Vowel: "i"}, // no lengths at all
			},
			PauseMora: &timeline.Mora{Vowel: "pau", VowelLength: f(0.3)},
		},
		{
			Moras:     []timeline.Mora{{Vowel: "e", ConsonantLength: f(0), VowelLength: f(0.15)}},
			PauseMora: &timeline.Mora{Vowel: "pau", VowelLength: f(0)},
		},
	}}

	tl := timeline.Build(q)
	tags := []timeline.Tag{timeline.TagO, timeline.TagI, timeline.TagPause, timeline.TagE}
	if len(tl) != len(tags) {
		t.Fatalf("len = %d, want %d (%v)", len(tl), len(tags), tl)
	}
	for i, tag := range tags {
		if tl[i].Tag != tag {
			t.Errorf("segment %d tag = %q, want %q", i, tl[i].Tag, tag)
		}
	}
	if !approx(tl.Duration(), 0.55) {
		t.Errorf("Duration = %v, want 0.55", tl.Duration())
	}
}

func TestBuild_ContiguousCoverage(t *testing.T) {
	t.Parallel()
	var (
		phrases []timeline.AccentPhrase
		sum     float64
	)
	// Deterministic pseudo-random lengths, including zeros.
	seed := 7
	next := func() float64 {
		seed = (seed*1103515245 + 12345) % 2147483648
		return float64(seed%200) / 1000
	}
	for p := 0; p < 12; p++ {
		var moras []timeline.Mora
		for m := 0; m < 5; m++ {
			cl, vl := next(), next()
			sum += cl + vl
			moras = append(moras, timeline.Mora{Vowel: "aiueoN"[m : m+1], ConsonantLength: f(cl), VowelLength: f(vl)})
		}
		pl := next()
		sum += pl
		phrases = append(phrases, timeline.AccentPhrase{Moras: moras, PauseMora: &timeline.Mora{VowelLength: f(pl)}})
	}

	tl := timeline.Build(&timeline.AudioQuery{AccentPhrases: phrases})
	if len(tl) == 0 {
		t.Fatal("empty timeline")
	}
	if tl[0].Start != 0 {
		t.Errorf("first start = %v, want 0", tl[0].Start)
	}
	for i := 0; i+1 < len(tl); i++ {
		if tl[i].End != tl[i+1].Start {
			t.Fatalf("gap between %d and %d: %v != %v", i, i+1, tl[i].End, tl[i+1].Start)
		}
		if tl[i].End < tl[i].Start {
			t.Fatalf("segment %d runs backwards: %+v", i, tl[i])
		}
	}
	if !approx(tl.Duration(), sum) {
		t.Errorf("Duration = %v, want %v", tl.Duration(), sum)
	}
}

func TestBuild_NilAndEmpty(t *testing.T) {
	t.Parallel()
	if tl := timeline.Build(nil); len(tl) != 0 {
		t.Errorf("Build(nil) = %v, want empty", tl)
	}
	if tl := timeline.Build(&timeline.AudioQuery{}); tl.Duration() != 0 {
		t.Errorf("Duration = %v, want 0", tl.Duration())
	}
}

func TestBuild_FromEngineJSON(t *testing.T) {
	t.Parallel()
	raw := `{
	  "accent_phrases": [
	    {"moras": [
	      {"text": "ヤ", "consonant": "y", "consonant_length": 0.06, "vowel": "a", "vowel_length": 0.1, "pitch": 5.8},
	      {"text": "ッ", "consonant": null, "consonant_length": null, "vowel": "cl", "vowel_length": 0.08, "pitch": 0}
	    ], "accent": 1, "pause_mora": {"text": "、", "vowel": "pau", "vowel_length": 0.2, "pitch": 0}}
	  ],
	  "speedScale": 1.0, "outputSamplingRate": 24000
	}`
	var q timeline.AudioQuery
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tl := timeline.Build(&q)
	want := []timeline.Tag{timeline.TagClosed, timeline.TagA, timeline.TagClosed, timeline.TagPause}
	if len(tl) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(tl), len(want), tl)
	}
	for i := range want {
		if tl[i].Tag != want[i] {
			t.Errorf("segment %d tag = %q, want %q", i, tl[i].Tag, want[i])
		}
	}
	if !approx(tl.Duration(), 0.44) {
		t.Errorf("Duration = %v, want 0.44", tl.Duration())
	}
}

func TestCursor_Advance(t *testing.T) {
	t.Parallel()
	tl := timeline.Timeline{
		{Start: 0, End: 0.1, Tag: timeline.TagClosed},
		{Start: 0.1, End: 0.3, Tag: timeline.TagA},
		{Start: 0.3, End: 0.5, Tag: timeline.TagPause},
	}
	c := tl.Cursor()
	steps := []struct {
		clock float64
		want  timeline.Tag
	}{
		{0.0, timeline.TagClosed},
		{0.09, timeline.TagClosed},
		{0.1, timeline.TagA},
		{0.05, timeline.TagA}, // never moves backwards
		{0.35, timeline.TagPause},
		{9.0, timeline.TagPause}, // clamps to last
	}
	for _, s := range steps {
		c.Advance(s.clock)
		if got := c.Tag(); got != s.want {
			t.Errorf("Advance(%v) tag = %q, want %q", s.clock, got, s.want)
		}
	}
}

func TestCursor_EmptyTimelineFollowsEnvelope(t *testing.T) {
	t.Parallel()
	c := timeline.Timeline(nil).Cursor()
	c.Advance(1)
	if c.Tag() != timeline.TagA {
		t.Errorf("Tag = %q, want %q", c.Tag(), timeline.TagA)
	}
}

func TestAligned_LeadAndSpeed(t *testing.T) {
	t.Parallel()
	q := &timeline.AudioQuery{
		SpeedScale:       2,
		PrePhonemeLength: 0.1,
		AccentPhrases: []timeline.AccentPhrase{{
			Moras: []timeline.Mora{{Vowel: "a", VowelLength: f(0.2), ConsonantLength: f(0.04)}},
		}},
	}
	got := timeline.Aligned(q)
	want := timeline.Timeline{
		{Start: 0, End: 0.05, Tag: timeline.TagPause},
		{Start: 0.05, End: 0.07, Tag: timeline.TagClosed},
		{Start: 0.07, End: 0.17, Tag: timeline.TagA},
	}
	if len(got) != len(want) {
		t.Fatalf("Aligned = %+v, want %+v", got, want)
	}
	for i := range want {
		if !approx(got[i].Start, want[i].Start) || !approx(got[i].End, want[i].End) || got[i].Tag != want[i].Tag {
			t.Errorf("segment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Start != got[i-1].End {
			t.Errorf("gap between segments %d and %d", i-1, i)
		}
	}
}

func TestAligned_NoSpeedScaleMeansUnscaled(t *testing.T) {
	t.Parallel()
	q := &timeline.AudioQuery{
		AccentPhrases: []timeline.AccentPhrase{{
			Moras: []timeline.Mora{{Vowel: "o", VowelLength: f(0.3)}},
		}},
	}
	got := timeline.Aligned(q)
	if len(got) != 1 || got[0].End != 0.3 {
		t.Errorf("Aligned = %+v, want a single 0.3s segment", got)
	}
	if timeline.Aligned(nil) != nil {
		t.Error("Aligned(nil) should be nil")
	}
}
