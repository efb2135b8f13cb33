package mock

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/mouthpiece/pkg/vts"
)

// SendCall records a single invocation of Send.
type SendCall struct {
	// At is when the call was made.
	At time.Time
	// Values is a copy of the values passed to Send.
	Values map[string]float64
}

// TriggerCall records a single invocation of Trigger.
type TriggerCall struct {
	At     time.Time
	Hotkey string
}

// Session is a mock implementation of vts.Session.
type Session struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// ConnectDelay makes Connect block for this long, or until its context
	// is done, before returning.
	ConnectDelay time.Duration

	// SendErr, if non-nil, is returned by every Send.
	SendErr error

	// TriggerErr, if non-nil, is returned by every Trigger.
	TriggerErr error

	// SendPanic, if non-empty, makes Send panic with this value once the
	// number of recorded sends reaches PanicAfter.
	SendPanic  string
	PanicAfter int

	// Amplitude and Shape are returned by AmplitudeParam and ShapeParam.
	Amplitude string
	Shape     string

	// --- Call records ---

	ConnectCalls int
	SendCalls    []SendCall
	TriggerCalls []TriggerCall
	CloseCalls   int
}

var _ vts.Session = (*Session)(nil)

// Connect implements vts.Session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.ConnectCalls++
	delay, err := s.ConnectDelay, s.ConnectErr
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Send implements vts.Session.
func (s *Session) Send(_ context.Context, values map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendPanic != "" && len(s.SendCalls) >= s.PanicAfter {
		msg := s.SendPanic
		s.SendPanic = ""
		panic(msg)
	}
	s.SendCalls = append(s.SendCalls, SendCall{At: time.Now(), Values: maps.Clone(values)})
	return s.SendErr
}

// Trigger implements vts.Session.
func (s *Session) Trigger(_ context.Context, hotkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TriggerCalls = append(s.TriggerCalls, TriggerCall{At: time.Now(), Hotkey: hotkey})
	return s.TriggerErr
}

// AmplitudeParam implements vts.Session.
func (s *Session) AmplitudeParam() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Amplitude
}

// ShapeParam implements vts.Session.
func (s *Session) ShapeParam() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Shape
}

// Close implements vts.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

// Sends returns a snapshot of the recorded Send calls.
func (s *Session) Sends() []SendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.SendCalls)
}

// Triggers returns a snapshot of the recorded Trigger calls.
func (s *Session) Triggers() []TriggerCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.TriggerCalls)
}

// Closes returns the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}

// Reset clears all call records.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnectCalls = 0
	s.SendCalls = nil
	s.TriggerCalls = nil
	s.CloseCalls = 0
}
