// Package app wires the conversation agent, the sentiment classifier and the
// coordinator into a running application.
//
// The App struct owns the full lifecycle: New creates all subsystems, Run
// executes the console loop, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithClassifier, WithSessionFactories, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/mouthpiece/internal/agent"
	"github.com/MrWong99/mouthpiece/internal/config"
	"github.com/MrWong99/mouthpiece/internal/coordinator"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/internal/resilience"
	"github.com/MrWong99/mouthpiece/pkg/audio"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
	"github.com/MrWong99/mouthpiece/pkg/provider/sentiment"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
	"github.com/MrWong99/mouthpiece/pkg/vts"
)

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry.
type Providers struct {
	LLM    llm.Provider
	TTS    tts.Provider
	Player audio.Player
}

// Turn is the outcome of one handled input.
type Turn struct {
	Input   string
	Reply   string
	Emotion sentiment.Emotion
	Style   int

	// Utterance is nil when speaking failed before synthesis finished.
	Utterance *coordinator.Result
}

// App owns all subsystem lifetimes and runs the conversation.
type App struct {
	cfg       *config.Config
	providers *Providers

	agent      *agent.Agent
	classifier sentiment.Classifier
	coord      *coordinator.Coordinator
	breaker    *resilience.Breaker
	metrics    *observe.Metrics
	history    agent.HistoryStore
	out        io.Writer

	mouth, motion coordinator.SessionFactory

	// turnMu serialises turns: there is one voice and one avatar.
	turnMu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithClassifier injects a sentiment classifier instead of the LLM-backed one.
func WithClassifier(c sentiment.Classifier) Option {
	return func(a *App) { a.classifier = c }
}

// WithSessionFactories injects the host sessions for the mouth and gesture
// loops. A nil factory disables that loop.
func WithSessionFactories(mouth, motion coordinator.SessionFactory) Option {
	return func(a *App) {
		a.mouth = mouth
		a.motion = motion
	}
}

// WithHistoryStore overrides the conversation store derived from
// llm.history_path.
func WithHistoryStore(s agent.HistoryStore) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics records metrics on m instead of the global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithOutput sets where replies are printed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.TTS == nil || providers.Player == nil {
		return nil, errors.New("app: llm, tts and player providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		out:       os.Stdout,
		mouth: func() vts.Session {
			return vts.New(cfg.MouthClient())
		},
		motion: func() vts.Session {
			return vts.New(cfg.GestureClient())
		},
	}
	if cfg.LLM.HistoryPath != "" {
		a.history = agent.FileHistory{Path: cfg.LLM.HistoryPath}
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	ag, err := agent.New(providers.LLM, agent.Config{
		Persona:     cfg.LLM.Persona,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxHistory:  cfg.LLM.MaxHistory,
		Store:       a.history,
	}, agent.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: create agent: %w", err)
	}
	a.agent = ag

	if a.classifier == nil {
		a.classifier = sentiment.NewLLMClassifier(providers.LLM)
	}

	bc := cfg.Mouth.BreakerConfig()
	bc.OnStateChange = func(name string, from, to resilience.State) {
		slog.Warn("host circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
	}
	a.breaker = resilience.NewBreaker(bc)

	a.coord = coordinator.New(providers.TTS, providers.Player, a.mouth, a.motion,
		coordinator.Config{
			Mouth:   cfg.Mouth.LoopConfig(),
			Gesture: cfg.Gesture.SchedulerConfig(),
		},
		coordinator.WithBreaker(a.breaker),
		coordinator.WithMetrics(a.metrics),
	)

	if c, ok := providers.Player.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	slog.Info("app initialised",
		"llm", cfg.LLM.Name,
		"tts", cfg.TTS.Name,
		"playback", cfg.Playback.Name,
		"history", len(ag.History()),
	)
	return a, nil
}

// ─── Turns ───────────────────────────────────────────────────────────────────

// Handle runs one conversational turn: the agent replies to input, the
// reply is classified, a voice style is picked for the emotion and the reply
// is spoken. A failed classification falls back to neutral. A failed
// utterance still returns the turn alongside the error.
func (a *App) Handle(ctx context.Context, input string) (*Turn, error) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	reply, err := a.agent.Reply(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("app: reply: %w", err)
	}
	fmt.Fprintf(a.out, "%s\n", reply)

	emotion, err := a.classifier.Classify(ctx, reply)
	if err != nil {
		slog.Warn("sentiment classification failed; speaking neutral", "err", err)
		emotion = sentiment.Neutral
	}
	turn := &Turn{
		Input:   input,
		Reply:   reply,
		Emotion: emotion,
		Style:   a.cfg.TTS.StyleFor(string(emotion)),
	}

	res, err := a.coord.Speak(ctx, coordinator.Utterance{Text: reply, Emotion: emotion, Style: turn.Style})
	turn.Utterance = res
	if err != nil {
		return turn, fmt.Errorf("app: speak: %w", err)
	}
	return turn, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run reads one input per line from in and handles each as a turn until
// "exit" or "quit" is entered, in is exhausted, or ctx is cancelled. When
// agent.auto_talk_interval passes without input, the agent is prompted with
// agent.auto_talk_prompt. Failed turns are logged and the loop continues.
func (a *App) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	interval := a.cfg.Agent.AutoTalkInterval
	idle := time.NewTimer(interval)
	if interval <= 0 {
		idle.Stop()
	}
	defer idle.Stop()
	resetIdle := func() {
		if interval > 0 {
			idle.Reset(interval)
		}
	}

	slog.Info("conversation started", "auto_talk_interval", interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("app: read input: %w", err)
			}
			slog.Info("input closed; conversation ended")
			return nil

		case line := <-lines:
			input := strings.TrimSpace(line)
			switch strings.ToLower(input) {
			case "":
				continue
			case "exit", "quit":
				slog.Info("conversation ended")
				return nil
			}
			a.turn(ctx, input)
			resetIdle()

		case <-idle.C:
			slog.Info("idle; prompting auto-talk")
			a.turn(ctx, a.cfg.Agent.AutoTalkPrompt)
			resetIdle()
		}
	}
}

func (a *App) turn(ctx context.Context, input string) {
	if _, err := a.Handle(ctx, input); err != nil && ctx.Err() == nil {
		slog.Error("turn failed", "err", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
