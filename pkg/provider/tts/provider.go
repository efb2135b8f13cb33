// Package tts defines the Provider interface for speech-synthesis backends.
//
// A provider turns a line of text into a complete utterance: WAV audio plus
// the per-mora duration metadata the engine used to produce it. The metadata
// is what lets the mouth loop close the lips on consonants and pauses, so
// providers that cannot supply it are not useful here.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text in the given voice style. It returns an error
	// if the engine is unreachable, rejects the request, or returns audio
	// without timing metadata.
	Synthesize(ctx context.Context, text string, style int) (*Speech, error)

	// ListStyles returns every voice style the engine offers.
	ListStyles(ctx context.Context) ([]Style, error)
}
