// Package agent holds the conversation side of the avatar: a persona, a
// bounded message history and the chat model that writes the replies.
//
// The history always starts with the persona's system message. When it grows
// past MaxHistory the oldest turns are dropped and the system message is
// kept, so the character never forgets who it is.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
)

// DefaultPersona is the system prompt used when none is configured.
const DefaultPersona = "あなたの名前は「ソラ」です。あなたは女性のメイドAIアシスタントです。\n" +
	"口調は丁寧ですが、感情は誇張しません。\n" +
	"ご主人様の意図を汲み、簡潔に丁寧に応答してください。"

// Config configures an Agent. Zero fields take the defaults noted per field.
type Config struct {
	// Persona is the system prompt. Default: [DefaultPersona].
	Persona string

	// Temperature is the sampling temperature. Default: 0.9.
	Temperature float64

	// MaxTokens caps each reply. Default: 150.
	MaxTokens int

	// MaxHistory is the number of messages kept, system message included.
	// Default: 50.
	MaxHistory int

	// Store persists the history between runs. Optional.
	Store HistoryStore
}

// Agent produces replies. It is safe for concurrent use; replies are
// serialised so turns never interleave.
type Agent struct {
	provider llm.Provider
	cfg      Config
	metrics  *observe.Metrics

	mu       sync.Mutex
	messages []llm.Message
}

// Option is a functional option for an Agent.
type Option func(*Agent)

// WithMetrics records completion latency and outcome.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// New creates an Agent. A stored history is resumed when cfg.Store holds
// one; otherwise the history starts with the persona.
func New(p llm.Provider, cfg Config, opts ...Option) (*Agent, error) {
	if p == nil {
		return nil, errors.New("agent: provider must not be nil")
	}
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.9
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	if cfg.MaxHistory < 2 {
		cfg.MaxHistory = 50
	}

	a := &Agent{provider: p, cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if cfg.Store != nil {
		msgs, err := cfg.Store.Load()
		if err != nil {
			slog.Warn("agent: history not loaded, starting fresh", "err", err)
		}
		a.messages = msgs
	}
	if len(a.messages) == 0 || a.messages[0].Role != llm.RoleSystem {
		a.messages = append([]llm.Message{{Role: llm.RoleSystem, Content: cfg.Persona}}, a.messages...)
	}
	a.trim()
	return a, nil
}

// Reply appends input as a user turn (unless blank), asks the model for the
// next assistant turn and returns it. On failure the history is left as it
// was before the call.
func (a *Agent) Reply(ctx context.Context, input string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	appended := strings.TrimSpace(input) != ""
	if appended {
		a.messages = append(a.messages, llm.Message{Role: llm.RoleUser, Content: input})
		a.trim()
	}

	start := time.Now()
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    slices.Clone(a.messages),
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	a.record(ctx, time.Since(start), err)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		if appended {
			a.messages = a.messages[:len(a.messages)-1]
		}
		return "", fmt.Errorf("agent: reply: %w", err)
	}

	reply := strings.TrimSpace(resp.Content)
	a.messages = append(a.messages, llm.Message{Role: llm.RoleAssistant, Content: reply})
	a.trim()

	if a.cfg.Store != nil {
		if err := a.cfg.Store.Save(slices.Clone(a.messages)); err != nil {
			slog.Warn("agent: history not saved", "err", err)
		}
	}
	return reply, nil
}

// History returns a copy of the current history.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.messages)
}

// trim keeps the system message and the newest MaxHistory-1 messages.
func (a *Agent) trim() {
	if len(a.messages) <= a.cfg.MaxHistory {
		return
	}
	tail := a.messages[len(a.messages)-(a.cfg.MaxHistory-1):]
	a.messages = append([]llm.Message{a.messages[0]}, tail...)
}

func (a *Agent) record(ctx context.Context, d time.Duration, err error) {
	if a.metrics == nil {
		return
	}
	a.metrics.LLMDuration.Record(ctx, d.Seconds())
	a.metrics.RecordProviderRequest(ctx, "llm", "chat", observe.Status(err))
}
