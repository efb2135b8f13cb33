// Package coordinator speaks one utterance end to end.
//
// [Coordinator.Speak] synthesizes the text, builds the phoneme timeline and
// the gesture cues, then runs three activities side by side: audio playback,
// the mouth loop and the gesture scheduler. The loops share nothing but two
// one-shot gates. "start" opens the instant playback begins and "stop" opens
// when it ends. Each loop talks to the host through its own session, which
// the Coordinator closes after both loops have returned.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mouthpiece/internal/gate"
	"github.com/MrWong99/mouthpiece/internal/gesture"
	"github.com/MrWong99/mouthpiece/internal/lipsync"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/internal/resilience"
	"github.com/MrWong99/mouthpiece/pkg/audio"
	"github.com/MrWong99/mouthpiece/pkg/provider/sentiment"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
	"github.com/MrWong99/mouthpiece/pkg/timeline"
	"github.com/MrWong99/mouthpiece/pkg/vts"
)

// SessionFactory returns a fresh, unconnected host session.
type SessionFactory func() vts.Session

// Utterance is one line to speak.
type Utterance struct {
	Text    string
	Emotion sentiment.Emotion

	// Style is the voice style id passed to the speech engine.
	Style int
}

// Result describes a spoken utterance.
type Result struct {
	// ID identifies the utterance in logs and traces.
	ID string

	// Duration is the playback length of the synthesized audio.
	Duration time.Duration

	Timeline timeline.Timeline
	Cues     []gesture.Cue
}

// Config tunes the two loops.
type Config struct {
	Mouth   lipsync.Config
	Gesture gesture.Config
}

// Option is a functional option for a Coordinator.
type Option func(*Coordinator)

// WithMetrics records synthesis latency, utterance timings and loop
// counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithBreaker sheds mouth frames through b. The breaker outlives single
// utterances so a dead host is not hammered line after line.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Coordinator) { c.breaker = b }
}

// Coordinator speaks utterances. Speak calls must not overlap: there is one
// audio device and one avatar.
type Coordinator struct {
	tts    tts.Provider
	player audio.Player
	mouth  SessionFactory
	motion SessionFactory
	cfg    Config

	breaker *resilience.Breaker
	metrics *observe.Metrics
}

// New creates a Coordinator. mouth and motion each produce the session for
// one loop; a nil factory disables that loop.
func New(t tts.Provider, p audio.Player, mouth, motion SessionFactory, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		tts:    t,
		player: p,
		mouth:  mouth,
		motion: motion,
		cfg:    cfg,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Speak synthesizes u and plays it with mouth and gesture sync. It returns
// once playback has finished and both loops have been joined. Only
// synthesis, decoding and playback failures are returned; host trouble
// degrades to a still avatar and is logged.
func (c *Coordinator) Speak(ctx context.Context, u Utterance) (*Result, error) {
	id := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "coordinator.speak", trace.WithAttributes(
		attribute.String("utterance.id", id),
		attribute.String("utterance.emotion", string(u.Emotion)),
		attribute.Int("utterance.style", u.Style),
	))
	defer span.End()
	log := observe.Logger(ctx).With("utterance_id", id)
	began := time.Now()

	speech, err := c.synthesize(ctx, u)
	if err != nil {
		observe.SpanError(span, err)
		return nil, err
	}
	clip, err := audio.DecodeWAV(speech.WAV)
	if err != nil {
		err = fmt.Errorf("coordinator: decode speech: %w", err)
		observe.SpanError(span, err)
		return nil, err
	}

	tl := timeline.Aligned(speech.Query)
	total := tl.Duration()
	if total <= 0 {
		total = clip.Duration().Seconds()
	}
	cues := gesture.BuildCues(u.Text, u.Emotion, total)
	res := &Result{ID: id, Duration: clip.Duration(), Timeline: tl, Cues: cues}
	log.Debug("utterance planned", "duration", res.Duration, "segments", len(tl), "cues", len(cues), "format", clip.Format.String())

	if c.metrics != nil {
		c.metrics.ActiveUtterances.Add(ctx, 1)
		defer c.metrics.ActiveUtterances.Add(context.WithoutCancel(ctx), -1)
	}

	start, stop := gate.New(), gate.New()
	var sessions []vts.Session
	defer func() {
		for _, s := range sessions {
			_ = s.Close()
		}
	}()

	var g errgroup.Group
	if c.mouth != nil {
		s := c.mouth()
		sessions = append(sessions, s)
		loop := lipsync.New(s, clip, tl, c.cfg.Mouth,
			lipsync.WithBreaker(c.breaker),
			lipsync.WithMetrics(c.metrics),
			lipsync.WithLogger(log),
		)
		g.Go(func() error {
			loop.Run(ctx, start, stop)
			return nil
		})
	}
	if c.motion != nil {
		s := c.motion()
		sessions = append(sessions, s)
		sched := gesture.NewScheduler(s, cues, c.cfg.Gesture,
			gesture.WithMetrics(c.metrics),
			gesture.WithLogger(log),
		)
		g.Go(func() error {
			sched.Run(ctx, start, stop)
			return nil
		})
	}

	err = c.play(ctx, clip, start)
	stop.Open()
	_ = g.Wait()

	if c.metrics != nil {
		c.metrics.UtteranceDuration.Record(ctx, time.Since(began).Seconds())
	}
	if err != nil {
		observe.SpanError(span, err)
		log.Error("utterance playback failed", "err", err)
		return res, err
	}
	log.Info("utterance spoken", "duration", res.Duration, "cues", len(cues))
	return res, nil
}

func (c *Coordinator) synthesize(ctx context.Context, u Utterance) (*tts.Speech, error) {
	start := time.Now()
	speech, err := c.tts.Synthesize(ctx, u.Text, u.Style)
	if c.metrics != nil {
		c.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		c.metrics.RecordProviderRequest(ctx, "tts", "synthesize", observe.Status(err))
	}
	if err != nil {
		return nil, fmt.Errorf("coordinator: synthesize: %w", err)
	}
	return speech, nil
}

// play starts playback, opens start the moment it is running and waits for
// it to end. Cancelling ctx stops the device.
func (c *Coordinator) play(ctx context.Context, clip *audio.Clip, start *gate.Gate) error {
	pb, err := c.player.Play(ctx, clip)
	if err != nil {
		return fmt.Errorf("coordinator: play: %w", err)
	}
	start.Open()

	if err := pb.Wait(ctx); err != nil {
		pb.Stop()
		return fmt.Errorf("coordinator: playback: %w", err)
	}
	return nil
}
