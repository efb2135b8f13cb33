// Package mock provides an in-memory implementation of [audio.Player] for
// unit tests.
//
// The mock does not produce sound. Each Play call starts a timer for the
// clip's duration (optionally overridden) and the returned playback finishes
// when it fires, so callers observe realistic start/finish timing without a
// device.
//
// Typical usage:
//
//	p := &mock.Player{}
//	pb, _ := p.Play(ctx, clip)
//	_ = pb.Wait(ctx)
//	if len(p.Calls()) != 1 { ... }
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/mouthpiece/pkg/audio"
)

// PlayCall records the arguments of a single Play invocation.
type PlayCall struct {
	Clip *audio.Clip
	At   time.Time
}

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	// Duration, if non-zero, replaces the clip's duration.
	Duration time.Duration

	calls     []PlayCall
	playbacks []*Playback
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, clip *audio.Clip) (audio.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.calls = append(p.calls, PlayCall{Clip: clip, At: now})
	if p.PlayErr != nil {
		return nil, p.PlayErr
	}

	d := p.Duration
	if d == 0 {
		d = clip.Duration()
	}
	pb := &Playback{started: now, done: make(chan struct{})}
	pb.timer = time.AfterFunc(d, pb.finish)
	p.playbacks = append(p.playbacks, pb)
	return pb, nil
}

// Calls returns a snapshot of all Play invocations.
func (p *Player) Calls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// Playbacks returns every playback started so far.
func (p *Player) Playbacks() []*Playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.playbacks)
}

// Playback is the mock [audio.Playback].
type Playback struct {
	started time.Time
	timer   *time.Timer
	once    sync.Once
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
	ended   time.Time
}

func (pb *Playback) finish() {
	pb.once.Do(func() {
		pb.mu.Lock()
		pb.ended = time.Now()
		pb.mu.Unlock()
		close(pb.done)
	})
}

// Wait implements [audio.Playback].
func (pb *Playback) Wait(ctx context.Context) error {
	select {
	case <-pb.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop implements [audio.Playback].
func (pb *Playback) Stop() {
	pb.mu.Lock()
	pb.stopped = true
	pb.mu.Unlock()
	pb.timer.Stop()
	pb.finish()
}

// Started implements [audio.Playback].
func (pb *Playback) Started() time.Time { return pb.started }

// Stopped reports whether Stop was called.
func (pb *Playback) Stopped() bool {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.stopped
}

// Ended returns when playback finished, or the zero time.
func (pb *Playback) Ended() time.Time {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.ended
}
