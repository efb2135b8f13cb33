// Package lipsync drives the avatar's mouth from a clip's loudness envelope.
//
// A [Loop] owns one host session for one utterance. It connects, shows a
// closed mouth, waits for the shared playback-start gate and then steps
// through the clip at a fixed frame rate, in lockstep with the wall clock.
// Each frame reads the next window of samples, moves the phoneme cursor to
// the audio clock, runs the envelope tracker and injects the resulting
// mouth-open value (plus a vowel-dependent mouth shape when the model has a
// shape parameter).
//
// Run never returns an error and never panics. Whatever happens inside the
// frame loop, it finishes by sending a closed mouth.
package lipsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/mouthpiece/internal/gate"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/internal/resilience"
	"github.com/MrWong99/mouthpiece/pkg/audio"
	"github.com/MrWong99/mouthpiece/pkg/envelope"
	"github.com/MrWong99/mouthpiece/pkg/timeline"
	"github.com/MrWong99/mouthpiece/pkg/vts"
)

// State is the lifecycle stage of a [Loop].
type State int32

const (
	StateIdle State = iota
	StateConnected
	StateRunning
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// finalSendTimeout bounds the closing zero-amplitude send.
const finalSendTimeout = 2 * time.Second

// Config tunes a Loop. Zero fields take [DefaultConfig] values; nil tables
// take the default tables.
type Config struct {
	// FPS is the frame rate. Default: 60.
	FPS int

	// Offset delays the first frame after playback starts, covering the
	// host's render latency and the audio device's output buffer.
	// Default: 110ms.
	Offset time.Duration

	// MaxLag is how late a frame may be and still be sent. Later frames
	// still advance the envelope but are dropped. Default: 100ms.
	MaxLag time.Duration

	// Envelope tunes the loudness tracker.
	Envelope envelope.Config

	// VowelGain scales the mouth-open value per phoneme tag.
	VowelGain map[timeline.Tag]float64

	// VowelShape is the mouth-form value per phoneme tag, sent only when
	// the session discovered a shape parameter.
	VowelShape map[timeline.Tag]float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		FPS:      60,
		Offset:   110 * time.Millisecond,
		MaxLag:   100 * time.Millisecond,
		Envelope: envelope.DefaultConfig(),
		VowelGain: map[timeline.Tag]float64{
			timeline.TagA:      1.00,
			timeline.TagI:      0.70,
			timeline.TagU:      0.85,
			timeline.TagE:      0.90,
			timeline.TagO:      0.95,
			timeline.TagClosed: 1.00,
		},
		VowelShape: map[timeline.Tag]float64{
			timeline.TagA:      0,
			timeline.TagI:      -0.6,
			timeline.TagU:      -0.3,
			timeline.TagE:      0.3,
			timeline.TagO:      0.6,
			timeline.TagClosed: 0,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FPS <= 0 {
		c.FPS = d.FPS
	}
	if c.Offset <= 0 {
		c.Offset = d.Offset
	}
	if c.MaxLag <= 0 {
		c.MaxLag = d.MaxLag
	}
	if c.VowelGain == nil {
		c.VowelGain = d.VowelGain
	}
	if c.VowelShape == nil {
		c.VowelShape = d.VowelShape
	}
	return c
}

// Option is a functional option for a Loop.
type Option func(*Loop)

// WithBreaker sheds frame sends through b while the host keeps failing.
func WithBreaker(b *resilience.Breaker) Option {
	return func(l *Loop) { l.breaker = b }
}

// WithMetrics records frame counts and lag.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// Loop is the mouth task of one utterance. Create it with [New]; Run may be
// called once.
type Loop struct {
	cfg     Config
	session vts.Session
	clip    *audio.Clip
	tl      timeline.Timeline

	breaker *resilience.Breaker
	metrics *observe.Metrics
	log     *slog.Logger

	state atomic.Int32
}

// New creates a Loop that will play clip's envelope through session, with
// tl deciding which frames must keep the mouth closed.
func New(session vts.Session, clip *audio.Clip, tl timeline.Timeline, cfg Config, opts ...Option) *Loop {
	l := &Loop{
		cfg:     cfg.withDefaults(),
		session: session,
		clip:    clip,
		tl:      tl,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// State returns the current lifecycle stage.
func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

// Run connects the session and drives the mouth until the clip is exhausted,
// stop opens or ctx is done. It does not close the session.
func (l *Loop) Run(ctx context.Context, start, stop *gate.Gate) {
	defer l.setState(StateClosed)

	connCtx, cancel := stop.Context(ctx)
	err := l.session.Connect(connCtx)
	cancel()
	if err != nil {
		if stop.IsOpen() {
			l.log.Debug("lipsync: connect abandoned, utterance already finished", "err", err)
		} else {
			l.log.Warn("lipsync: connect failed, mouth disabled for this utterance", "err", err)
		}
		l.recordConnect(ctx, err)
		return
	}
	l.recordConnect(ctx, nil)
	l.setState(StateConnected)

	amp := l.session.AmplitudeParam()
	if amp == "" {
		l.log.Warn("lipsync: session has no amplitude parameter")
		return
	}
	shape := l.session.ShapeParam()

	l.setState(StateRunning)
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("lipsync: frame loop panicked", "panic", fmt.Sprint(r))
		}
		l.sendFinal(ctx, amp, shape)
	}()

	l.frames(ctx, start, stop, amp, shape)
}

// frames is the body of Run between the opening and the closing mouth.
func (l *Loop) frames(ctx context.Context, start, stop *gate.Gate, amp, shape string) {
	l.sendFrame(ctx, l.values(amp, shape, 0, timeline.TagClosed), time.Now())

	// stop wins when both are already open.
	opened, err := gate.WaitAny(ctx, stop, start)
	if err != nil || opened == stop {
		return
	}

	tracker := envelope.NewTracker(l.cfg.Envelope)
	cursor := l.tl.Cursor()
	reader := l.clip.NewReader()
	hop := max(1, l.clip.SampleRate/l.cfg.FPS)
	period := time.Second / time.Duration(l.cfg.FPS)

	// Frames are scheduled from the moment playback started. After a slow
	// connect the missed frames are dropped and the mouth stays aligned
	// with the audio.
	t0 := start.OpenedAt()
	if t0.IsZero() {
		t0 = time.Now()
	}
	t0 = t0.Add(l.cfg.Offset)

	for n := 0; ; n++ {
		deadline := t0.Add(time.Duration(n) * period)
		if !sleepUntil(ctx, stop, deadline) {
			return
		}
		window := reader.Next(hop)
		if window == nil {
			return
		}

		cursor.Advance(reader.Elapsed().Seconds())
		tag := cursor.Tag()
		level := tracker.Step(window, l.clip.Channels, tag.Closed())
		if time.Since(deadline) > l.cfg.MaxLag {
			l.skipFrame(ctx)
			continue
		}
		l.sendFrame(ctx, l.values(amp, shape, level, tag), deadline)
	}
}

// values builds one frame. The mouth-open value is the envelope level scaled
// by the tag's gain.
func (l *Loop) values(amp, shape string, level float64, tag timeline.Tag) map[string]float64 {
	gain, ok := l.cfg.VowelGain[tag]
	if !ok {
		gain = 1
	}
	v := map[string]float64{amp: envelope.Clamp(level*gain, 0, 1)}
	if shape != "" {
		v[shape] = envelope.Clamp(l.cfg.VowelShape[tag], -1, 1)
	}
	return v
}

// sendFrame injects one frame. Failures are logged at Debug and dropped.
func (l *Loop) sendFrame(ctx context.Context, values map[string]float64, deadline time.Time) {
	send := func() error { return l.session.Send(ctx, values) }
	var err error
	if l.breaker != nil {
		err = l.breaker.Execute(send)
	} else {
		err = send()
	}

	status := observe.Status(err)
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = observe.StatusShed
	case err != nil:
		l.log.Debug("lipsync: frame dropped", "err", err)
	}
	if l.metrics != nil {
		l.metrics.RecordFrame(ctx, status, time.Since(deadline).Seconds())
	}
}

// sendFinal closes the mouth. It bypasses the breaker and survives ctx
// cancellation so an interrupted utterance never leaves the mouth open.
func (l *Loop) sendFinal(ctx context.Context, amp, shape string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			l.log.Debug("lipsync: closing frame panicked", "panic", fmt.Sprint(r))
		}
	}()
	if err := l.session.Send(ctx, l.values(amp, shape, 0, timeline.TagClosed)); err != nil {
		l.log.Debug("lipsync: closing frame failed", "err", err)
	}
}

func (l *Loop) skipFrame(ctx context.Context) {
	if l.metrics != nil {
		l.metrics.RecordFrame(ctx, observe.StatusLate, 0)
	}
}

func (l *Loop) recordConnect(ctx context.Context, err error) {
	if l.metrics != nil {
		l.metrics.RecordHostConnect(ctx, "mouth", observe.Status(err))
	}
}

// sleepUntil blocks until deadline and reports whether the loop should go
// on. It returns false as soon as stop opens or ctx is done.
func sleepUntil(ctx context.Context, stop *gate.Gate, deadline time.Time) bool {
	if stop.IsOpen() || ctx.Err() != nil {
		return false
	}
	d := time.Until(deadline)
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
