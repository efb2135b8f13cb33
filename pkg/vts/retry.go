package vts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// Default dial backoff parameters.
const (
	defaultBackoff    = 250 * time.Millisecond
	defaultMaxBackoff = 2 * time.Second
)

// RetryConfig configures [DialWithRetry].
type RetryConfig struct {
	// Attempts is the total number of dial attempts. Values below 1 mean one
	// attempt.
	Attempts int

	// Backoff is the wait after the first failure. Doubles each attempt up to
	// MaxBackoff. Defaults to 250ms if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff. Defaults to 2s if zero.
	MaxBackoff time.Duration
}

// DialWithRetry dials url, retrying with exponential backoff. The host is
// usually a desktop application that may still be starting, so a refused
// connection is worth a few retries. It stops early when ctx is cancelled.
func DialWithRetry(ctx context.Context, url string, opts *websocket.DialOptions, rc RetryConfig) (*websocket.Conn, error) {
	attempts := max(rc.Attempts, 1)
	backoff := rc.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := rc.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, _, err := websocket.Dial(ctx, url, opts)
		if err == nil {
			if attempt > 1 {
				slog.Info("vts dial succeeded", "url", url, "attempt", attempt)
			}
			return conn, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		slog.Warn("vts dial failed",
			"url", url,
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", url, ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, fmt.Errorf("dial %s after %d attempt(s): %w", url, attempts, lastErr)
}

// Ping dials url and closes immediately. It is used as a readiness probe for
// the host without authenticating.
func Ping(ctx context.Context, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("vts: ping %s: %w", url, err)
	}
	conn.CloseNow()
	return nil
}
