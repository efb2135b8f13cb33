// Package gate provides one-shot broadcast signals.
//
// A [Gate] starts closed and can be opened exactly once; every goroutine
// waiting on [Gate.Done] is released when it opens. The coordinator uses one
// gate for "playback started" and one for "playback finished" so that the
// mouth and gesture tasks begin and end together without sharing any other
// state.
package gate

import (
	"context"
	"sync"
	"time"
)

// Gate is a one-shot signal. The zero value is not usable; call [New].
type Gate struct {
	once   sync.Once
	ch     chan struct{}
	mu     sync.Mutex
	opened time.Time
}

// New returns a closed gate.
func New() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Open releases all waiters and records the opening time. Calls after the
// first are no-ops.
func (g *Gate) Open() {
	g.once.Do(func() {
		g.mu.Lock()
		g.opened = time.Now()
		g.mu.Unlock()
		close(g.ch)
	})
}

// Done returns a channel that is closed when the gate opens.
func (g *Gate) Done() <-chan struct{} { return g.ch }

// Context returns a copy of parent that is cancelled when the gate opens.
// The returned cancel function releases the watcher and must be called.
func (g *Gate) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-g.ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// IsOpen reports whether the gate has been opened.
func (g *Gate) IsOpen() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// OpenedAt returns when the gate opened, or the zero time if it has not.
func (g *Gate) OpenedAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened
}

// Wait blocks until the gate opens or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAny blocks until one of the gates opens or ctx is done. It returns the
// first open gate in argument order, which lets callers prefer one signal
// when several are already open.
func WaitAny(ctx context.Context, gates ...*Gate) (*Gate, error) {
	for _, g := range gates {
		if g.IsOpen() {
			return g, nil
		}
	}
	if len(gates) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	fired := make(chan *Gate, len(gates))
	stop := make(chan struct{})
	defer close(stop)
	for _, g := range gates {
		go func() {
			select {
			case <-g.ch:
				fired <- g
			case <-stop:
			}
		}()
	}

	select {
	case <-fired:
		// Re-scan so argument order wins when several opened together.
		for _, g := range gates {
			if g.IsOpen() {
				return g, nil
			}
		}
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
