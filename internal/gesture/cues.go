// Package gesture plans and fires the discrete animation triggers that
// punctuate an utterance.
//
// [BuildCues] derives a cue list from the reply text once per utterance:
// punctuation marks become small actions at their proportional position, the
// emotion picks an opening gesture, a nod closes the line and a few keyword
// families add one reaction each. [Dedupe] thins the list so no two cues
// land within [DedupWindow] of each other. A [Scheduler] then fires the
// surviving cues against the playback clock.
package gesture

import (
	"regexp"
	"slices"
	"sort"
	"unicode/utf8"

	"github.com/MrWong99/mouthpiece/pkg/provider/sentiment"
)

// Abstract trigger ids. The Scheduler maps them to host hotkey names.
const (
	TriggerJoy      = "joy"
	TriggerNod      = "nod"
	TriggerThink    = "think"
	TriggerSurprise = "surprise"
	TriggerSad      = "sad"
)

const (
	// DedupWindow is the minimum spacing between kept cues, in seconds.
	DedupWindow = 0.15

	// exclamationLead fires joy slightly before the mark.
	exclamationLead = 0.05

	// endLead places the closing nod before the end of the audio.
	endLead = 0.15

	// keywordAt is the latest offset for keyword reactions; short lines use
	// keywordShare of their length instead.
	keywordAt    = 0.6
	keywordShare = 0.3
)

// Cue is one scheduled trigger.
type Cue struct {
	// Offset is seconds after playback start.
	Offset float64

	// Trigger is an abstract trigger id such as [TriggerJoy].
	Trigger string
}

var punctuation = regexp.MustCompile(`[。．、,！？!?]`)

// keywords are checked in this order; each family adds at most one cue.
var keywords = []struct {
	re      *regexp.Regexp
	trigger string
}{
	{regexp.MustCompile(`(?i)(ありがとう|助かる|嬉し|よかった)`), TriggerJoy},
	{regexp.MustCompile(`(?i)(ごめん|申し訳|すまん|すみません)`), TriggerSad},
	{regexp.MustCompile(`(?i)(了解|任せて|OK|お任せ)`), TriggerNod},
	{regexp.MustCompile(`(?i)(えっ|え！？|まじ|本当|びっくり)`), TriggerSurprise},
}

// BuildCues plans the cues for text spoken over total seconds, sorted and
// deduplicated.
func BuildCues(text string, emotion sentiment.Emotion, total float64) []Cue {
	total = max(total, 0)
	var cues []Cue

	length := max(1, utf8.RuneCountInString(text))
	for _, loc := range punctuation.FindAllStringIndex(text, -1) {
		pos := utf8.RuneCountInString(text[:loc[0]])
		t := total * float64(pos) / float64(length)
		switch mark, _ := utf8.DecodeRuneInString(text[loc[0]:]); mark {
		case '！', '!':
			cues = append(cues, Cue{Offset: max(0, t-exclamationLead), Trigger: TriggerJoy})
		case '？', '?':
			cues = append(cues, Cue{Offset: t, Trigger: TriggerThink})
		default:
			cues = append(cues, Cue{Offset: t, Trigger: TriggerNod})
		}
	}

	cues = append(cues,
		Cue{Offset: 0, Trigger: openingTrigger(emotion)},
		Cue{Offset: max(0, total-endLead), Trigger: TriggerNod},
	)

	at := min(total*keywordShare, keywordAt)
	for _, kw := range keywords {
		if kw.re.MatchString(text) {
			cues = append(cues, Cue{Offset: at, Trigger: kw.trigger})
		}
	}

	return Dedupe(cues)
}

func openingTrigger(e sentiment.Emotion) string {
	switch e {
	case sentiment.Positive:
		return TriggerJoy
	case sentiment.Negative:
		return TriggerSad
	default:
		return TriggerThink
	}
}

// Dedupe returns cues ordered by offset, keeping a cue only when it lands
// more than DedupWindow after the last kept one. Among cues with equal
// offsets the one listed first wins. The input is not modified.
func Dedupe(cues []Cue) []Cue {
	sorted := slices.Clone(cues)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var out []Cue
	for _, c := range sorted {
		if len(out) > 0 && c.Offset-out[len(out)-1].Offset <= DedupWindow {
			continue
		}
		out = append(out, c)
	}
	return out
}
