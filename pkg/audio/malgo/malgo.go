// Package malgo plays clips on the local sound card through miniaudio
// (github.com/gen2brain/malgo).
//
// A [Player] owns one miniaudio context for its lifetime; every Play call
// opens a fresh playback device in float32 format, feeds the clip from the
// device's data callback and tears the device down when the clip runs out or
// Stop is called.
package malgo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/mouthpiece/pkg/audio"
)

// Option is a functional option for a Player.
type Option func(*Player)

// WithFormat forces the device format. Clips in another format are
// converted before playback. Zero fields keep the clip's value.
func WithFormat(f audio.Format) Option {
	return func(p *Player) { p.format = f }
}

// WithPeriod sets the device period (buffer size) in frames. Smaller periods
// reduce start-up latency at the cost of more callbacks.
func WithPeriod(frames uint32) Option {
	return func(p *Player) { p.periodFrames = frames }
}

// Player implements [audio.Player] on the default output device.
type Player struct {
	format       audio.Format
	periodFrames uint32

	mu   sync.Mutex
	mctx *malgo.AllocatedContext
}

var _ audio.Player = (*Player)(nil)

// New initialises the audio backend.
func New(opts ...Option) (*Player, error) {
	p := &Player{}
	for _, o := range opts {
		o(p)
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("malgo", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	p.mctx = mctx
	return p, nil
}

// Close releases the audio backend. Active playbacks must be stopped first.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mctx == nil {
		return nil
	}
	err := p.mctx.Uninit()
	p.mctx.Free()
	p.mctx = nil
	if err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	return nil
}

// Play implements [audio.Player]. It returns after the device has requested
// its first buffer.
func (p *Player) Play(ctx context.Context, clip *audio.Clip) (audio.Playback, error) {
	p.mu.Lock()
	mctx := p.mctx
	p.mu.Unlock()
	if mctx == nil {
		return nil, fmt.Errorf("malgo: player closed")
	}

	clip = clip.Convert(p.format)

	pb := &playback{
		samples: clip.Samples,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(clip.Channels)
	cfg.SampleRate = uint32(clip.SampleRate)
	if p.periodFrames > 0 {
		cfg.PeriodSizeInFrames = p.periodFrames
	}

	callbacks := malgo.DeviceCallbacks{Data: pb.fill}
	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo: init device: %w", err)
	}
	pb.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("malgo: start device: %w", err)
	}

	go pb.reap()

	select {
	case <-pb.started:
		return pb, nil
	case <-pb.done:
		return pb, nil
	case <-ctx.Done():
		pb.Stop()
		return nil, ctx.Err()
	}
}

type playback struct {
	device *malgo.Device

	mu        sync.Mutex
	samples   []float32
	pos       int
	startedAt time.Time

	startOnce sync.Once
	started   chan struct{}
	doneOnce  sync.Once
	done      chan struct{}
}

// fill is the device data callback. It runs on the audio thread and must not
// block.
func (pb *playback) fill(out, _ []byte, _ uint32) {
	pb.startOnce.Do(func() {
		pb.mu.Lock()
		pb.startedAt = time.Now()
		pb.mu.Unlock()
		close(pb.started)
	})

	pb.mu.Lock()
	n := audio.Float32ToBytes(out, pb.samples[pb.pos:])
	pb.pos += n
	exhausted := pb.pos >= len(pb.samples)
	pb.mu.Unlock()

	// Silence the tail of the final buffer.
	clear(out[n*4:])
	if exhausted {
		pb.finish()
	}
}

func (pb *playback) finish() {
	pb.doneOnce.Do(func() { close(pb.done) })
}

// reap releases the device once playback ends. Device teardown must not
// happen on the audio thread.
func (pb *playback) reap() {
	<-pb.done
	if err := pb.device.Stop(); err != nil {
		slog.Debug("malgo: stop device", "err", err)
	}
	pb.device.Uninit()
}

func (pb *playback) Wait(ctx context.Context) error {
	select {
	case <-pb.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (pb *playback) Stop() { pb.finish() }

func (pb *playback) Started() time.Time {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.startedAt
}
