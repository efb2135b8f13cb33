// Package timeline turns speech-synthesis duration metadata into an ordered,
// contiguous sequence of phoneme segments.
//
// The metadata shape follows the VOICEVOX audio query: an utterance is a list
// of accent phrases, each holding moras with an optional consonant length, a
// vowel identity and a vowel length, plus an optional trailing pause mora.
// All lengths are in seconds.
//
// A [Timeline] is built once per utterance and is immutable afterwards. It is
// safe to share between goroutines; a [Cursor] is not.
package timeline

import "strings"

// Tag classifies what the mouth should be doing during a segment.
type Tag string

const (
	TagA      Tag = "a"
	TagI      Tag = "i"
	TagU      Tag = "u"
	TagE      Tag = "e"
	TagO      Tag = "o"
	TagClosed Tag = "closed"
	TagPause  Tag = "pause"
)

// IsVowel reports whether t is one of the five open-mouth vowel tags.
func (t Tag) IsVowel() bool {
	switch t {
	case TagA, TagI, TagU, TagE, TagO:
		return true
	}
	return false
}

// Closed reports whether the mouth must be forced shut during t.
func (t Tag) Closed() bool {
	return t == TagClosed || t == TagPause
}

// Segment is one time-bounded phoneme classification.
type Segment struct {
	Start float64
	End   float64
	Tag   Tag
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Mora is one timed unit of an accent phrase. Pointer fields are optional in
// the wire format; nil is treated as zero.
type Mora struct {
	Text            string   `json:"text,omitempty"`
	Consonant       *string  `json:"consonant,omitempty"`
	ConsonantLength *float64 `json:"consonant_length,omitempty"`
	Vowel           string   `json:"vowel"`
	VowelLength     *float64 `json:"vowel_length,omitempty"`
	Pitch           float64  `json:"pitch"`
}

// AccentPhrase is a run of moras followed by an optional pause.
type AccentPhrase struct {
	Moras           []Mora `json:"moras"`
	Accent          int    `json:"accent"`
	PauseMora       *Mora  `json:"pause_mora,omitempty"`
	IsInterrogative bool   `json:"is_interrogative"`
}

// AudioQuery is the duration metadata returned by the synthesis engine.
// Only AccentPhrases drives the timeline; the remaining fields are carried so
// the query can be posted back for synthesis unchanged.
type AudioQuery struct {
	AccentPhrases      []AccentPhrase `json:"accent_phrases"`
	SpeedScale         float64        `json:"speedScale"`
	PitchScale         float64        `json:"pitchScale"`
	IntonationScale    float64        `json:"intonationScale"`
	VolumeScale        float64        `json:"volumeScale"`
	PrePhonemeLength   float64        `json:"prePhonemeLength"`
	PostPhonemeLength  float64        `json:"postPhonemeLength"`
	OutputSamplingRate int            `json:"outputSamplingRate"`
	OutputStereo       bool           `json:"outputStereo"`
	Kana               string         `json:"kana,omitempty"`
}

// Timeline is an ordered, gap-free sequence of segments starting at 0.
type Timeline []Segment

// Duration returns the end of the last segment, or 0 for an empty timeline.
func (tl Timeline) Duration() float64 {
	if len(tl) == 0 {
		return 0
	}
	return tl[len(tl)-1].End
}

// Build walks q and emits one segment per non-zero consonant, one per vowel
// and one per positive pause, advancing a running clock from 0. Missing
// lengths count as zero. A nil query yields an empty timeline.
func Build(q *AudioQuery) Timeline {
	if q == nil {
		return nil
	}
	var (
		tl Timeline
		t  float64
	)
	emit := func(length float64, tag Tag) {
		tl = append(tl, Segment{Start: t, End: t + length, Tag: tag})
		t += length
	}

	for _, phrase := range q.AccentPhrases {
		for _, m := range phrase.Moras {
			if cl := length(m.ConsonantLength); cl > 0 {
				emit(cl, TagClosed)
			}
			emit(length(m.VowelLength), vowelTag(m.Vowel))
		}
		if phrase.PauseMora != nil {
			if pl := length(phrase.PauseMora.VowelLength); pl > 0 {
				emit(pl, TagPause)
			}
		}
	}
	return tl
}

// length dereferences an optional length, clamping negatives to zero so the
// clock never runs backwards.
func length(v *float64) float64 {
	if v == nil || *v < 0 {
		return 0
	}
	return *v
}

// vowelTag maps an engine vowel symbol to a Tag. Nasals, devoiced vowels and
// anything else close the mouth.
func vowelTag(v string) Tag {
	tag := Tag(strings.ToLower(v))
	if tag.IsVowel() {
		return tag
	}
	return TagClosed
}

// Cursor tracks the active segment as a playback clock advances. The zero
// value is not usable; use [Timeline.Cursor].
type Cursor struct {
	tl  Timeline
	idx int
}

// Cursor returns a cursor positioned on the first segment.
func (tl Timeline) Cursor() *Cursor {
	return &Cursor{tl: tl}
}

// Advance moves forward while the clock has passed the current segment's
// end. It never moves past the last segment and never moves backwards.
func (c *Cursor) Advance(clock float64) {
	for c.idx+1 < len(c.tl) && clock >= c.tl[c.idx].End {
		c.idx++
	}
}

// Tag returns the current segment's tag. An empty timeline reports TagA so
// the mouth follows the envelope alone.
func (c *Cursor) Tag() Tag {
	if len(c.tl) == 0 {
		return TagA
	}
	return c.tl[c.idx].Tag
}

// Index returns the current segment index.
func (c *Cursor) Index() int { return c.idx }

// Aligned builds the timeline and maps it onto the rendered audio: the engine
// prepends PrePhonemeLength of silence and stretches every length by
// 1/SpeedScale. The result starts with a pause segment when the query has a
// leading silence and stays contiguous from 0.
func Aligned(q *AudioQuery) Timeline {
	tl := Build(q)
	if q == nil {
		return tl
	}
	scale := 1.0
	if q.SpeedScale > 0 {
		scale = 1 / q.SpeedScale
	}
	lead := max(q.PrePhonemeLength, 0) * scale

	out := make(Timeline, 0, len(tl)+1)
	if lead > 0 {
		out = append(out, Segment{Start: 0, End: lead, Tag: TagPause})
	}
	for _, s := range tl {
		out = append(out, Segment{Start: lead + s.Start*scale, End: lead + s.End*scale, Tag: s.Tag})
	}
	return out
}
