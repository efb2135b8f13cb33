package vts

import "context"

// Session is the surface of a [Client] that the sync tasks depend on. It
// lets them run against a test double instead of a live host.
type Session interface {
	// Connect dials and authenticates. See [Client.Connect].
	Connect(ctx context.Context) error

	// Send injects parameter values. See [Client.Send].
	Send(ctx context.Context, values map[string]float64) error

	// Trigger fires a hotkey. See [Client.Trigger].
	Trigger(ctx context.Context, hotkey string) error

	// AmplitudeParam returns the discovered mouth-openness parameter.
	AmplitudeParam() string

	// ShapeParam returns the discovered mouth-shape parameter, or "".
	ShapeParam() string

	// Close releases the session. It never fails.
	Close() error
}

var _ Session = (*Client)(nil)
