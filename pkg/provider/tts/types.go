package tts

import "github.com/MrWong99/mouthpiece/pkg/timeline"

// Speech is one synthesized utterance.
type Speech struct {
	// WAV is the encoded audio as returned by the engine.
	WAV []byte

	// Query is the timing metadata the audio was rendered from.
	Query *timeline.AudioQuery

	// Style is the voice style used.
	Style int
}

// Style is one selectable voice style. Engines group styles by speaker.
type Style struct {
	// ID is the numeric style identifier passed to Synthesize.
	ID int

	// Name is the style's own name (e.g. "ノーマル").
	Name string

	// Speaker is the name of the character the style belongs to.
	Speaker string
}
