package gesture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/mouthpiece/internal/gate"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/pkg/vts"
)

// DefaultHotkeys maps trigger ids to the hotkey names set up on the model.
func DefaultHotkeys() map[string]string {
	return map[string]string{
		TriggerJoy:      "SoraJoy",
		TriggerNod:      "SoraNod",
		TriggerThink:    "SoraThink",
		TriggerSurprise: "SoraSurprise",
		TriggerSad:      "SoraSad",
	}
}

// Config tunes a Scheduler.
type Config struct {
	// PollInterval is the scheduling granularity. A cue fires once the
	// playback clock is within one interval of its offset. Default: 10ms.
	PollInterval time.Duration

	// Hotkeys maps trigger ids to hotkey names. Triggers without an entry
	// are sent as-is. Default: [DefaultHotkeys].
	Hotkeys map[string]string
}

// Option is a functional option for a Scheduler.
type Option func(*Scheduler)

// WithMetrics records fired cues.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler fires one utterance's cues through its own host session.
type Scheduler struct {
	session vts.Session
	cues    []Cue
	poll    time.Duration
	hotkeys map[string]string

	metrics *observe.Metrics
	log     *slog.Logger
}

// NewScheduler creates a Scheduler for cues, which must be sorted.
func NewScheduler(session vts.Session, cues []Cue, cfg Config, opts ...Option) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.Hotkeys == nil {
		cfg.Hotkeys = DefaultHotkeys()
	}
	s := &Scheduler{
		session: session,
		cues:    cues,
		poll:    cfg.PollInterval,
		hotkeys: cfg.Hotkeys,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Hotkey returns the hotkey name for a trigger id.
func (s *Scheduler) Hotkey(trigger string) string {
	if hk, ok := s.hotkeys[trigger]; ok && hk != "" {
		return hk
	}
	return trigger
}

// Run connects the session, waits for start and fires every cue in order
// once its offset has elapsed. It returns when all cues are fired, stop
// opens or ctx is done, and never panics. It does not close the session.
func (s *Scheduler) Run(ctx context.Context, start, stop *gate.Gate) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("gesture: scheduler panicked", "panic", fmt.Sprint(r))
		}
	}()

	connCtx, cancel := stop.Context(ctx)
	err := s.session.Connect(connCtx)
	cancel()
	if err != nil {
		if stop.IsOpen() {
			s.log.Debug("gesture: connect abandoned, utterance already finished", "err", err)
		} else {
			s.log.Warn("gesture: connect failed, gestures disabled for this utterance", "err", err)
		}
		s.recordConnect(ctx, err)
		return
	}
	s.recordConnect(ctx, nil)

	opened, err := gate.WaitAny(ctx, stop, start)
	if err != nil || opened == stop {
		return
	}
	t0 := start.OpenedAt()

	timer := time.NewTimer(s.poll)
	defer timer.Stop()

	for i := 0; i < len(s.cues); {
		if stop.IsOpen() || ctx.Err() != nil {
			return
		}
		cue := s.cues[i]
		due := time.Duration(cue.Offset * float64(time.Second))
		if time.Since(t0)+s.poll >= due {
			s.fire(ctx, cue)
			i++
			continue
		}

		timer.Reset(s.poll)
		select {
		case <-timer.C:
		case <-stop.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, cue Cue) {
	hotkey := s.Hotkey(cue.Trigger)
	err := s.session.Trigger(ctx, hotkey)
	if err != nil {
		s.log.Debug("gesture: trigger failed", "hotkey", hotkey, "err", err)
	}
	if s.metrics != nil {
		s.metrics.RecordCue(ctx, cue.Trigger, observe.Status(err))
	}
}

func (s *Scheduler) recordConnect(ctx context.Context, err error) {
	if s.metrics != nil {
		s.metrics.RecordHostConnect(ctx, "gesture", observe.Status(err))
	}
}
