// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return a controlled utterance and to verify which text and
// style the caller asked for.
//
// Example:
//
//	p := &mock.Provider{Speech: &tts.Speech{WAV: wav, Query: q}}
//	speech, _ := p.Synthesize(ctx, "こんにちは", 58)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Style is the voice style passed to Synthesize.
	Style int
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Speech is returned by Synthesize. Its Style field is overwritten with
	// the requested style on a copy.
	Speech *tts.Speech

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// Styles is returned by ListStyles.
	Styles []tts.Style

	// ListStylesErr, if non-nil, is returned as the error from ListStyles.
	ListStylesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListStylesCalls counts calls to ListStyles.
	ListStylesCalls int
}

// Synthesize records the call and returns Speech or SynthesizeErr.
func (p *Provider) Synthesize(_ context.Context, text string, style int) (*tts.Speech, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Style: style})
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	if p.Speech == nil {
		return &tts.Speech{Style: style}, nil
	}
	s := *p.Speech
	s.Style = style
	return &s, nil
}

// ListStyles records the call and returns Styles, ListStylesErr.
func (p *Provider) ListStyles(_ context.Context) ([]tts.Style, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListStylesCalls++
	return p.Styles, p.ListStylesErr
}

// Calls returns a snapshot of the Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListStylesCalls = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
