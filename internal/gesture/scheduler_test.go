package gesture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/mouthpiece/internal/gate"
	vtsmock "github.com/MrWong99/mouthpiece/pkg/vts/mock"
)

func runScheduler(t *testing.T, s *Scheduler, start, stop *gate.Gate) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(context.Background(), start, stop)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestScheduler_FiresInOrderOnTime(t *testing.T) {
	t.Parallel()
	sess := &vtsmock.Session{}
	cues := []Cue{{0, TriggerJoy}, {0.1, TriggerNod}, {0.25, TriggerThink}}
	s := NewScheduler(sess, cues, Config{})

	start, stop := gate.New(), gate.New()
	start.Open()
	runScheduler(t, s, start, stop)

	got := sess.Triggers()
	want := []string{"SoraJoy", "SoraNod", "SoraThink"}
	if len(got) != len(want) {
		t.Fatalf("triggers = %+v, want %v", got, want)
	}
	t0 := start.OpenedAt()
	for i, c := range got {
		if c.Hotkey != want[i] {
			t.Errorf("trigger[%d] = %q, want %q", i, c.Hotkey, want[i])
		}
		due := time.Duration(cues[i].Offset * float64(time.Second))
		if at := c.At.Sub(t0); at < due-15*time.Millisecond || at > due+60*time.Millisecond {
			t.Errorf("trigger[%d] fired at %v, due %v", i, at, due)
		}
	}
}

func TestScheduler_WaitsForStart(t *testing.T) {
	t.Parallel()
	sess := &vtsmock.Session{}
	s := NewScheduler(sess, []Cue{{0, TriggerJoy}}, Config{})

	start, stop := gate.New(), gate.New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(context.Background(), start, stop)
	}()

	time.Sleep(50 * time.Millisecond)
	if n := len(sess.Triggers()); n != 0 {
		t.Fatalf("fired %d cues before start", n)
	}
	start.Open()
	<-done
	if n := len(sess.Triggers()); n != 1 {
		t.Errorf("triggers = %d, want 1", n)
	}
}

func TestScheduler_StopSkipsRemaining(t *testing.T) {
	t.Parallel()
	sess := &vtsmock.Session{}
	s := NewScheduler(sess, []Cue{{0, TriggerJoy}, {5, TriggerNod}}, Config{})

	start, stop := gate.New(), gate.New()
	start.Open()
	time.AfterFunc(100*time.Millisecond, stop.Open)
	runScheduler(t, s, start, stop)

	if got := sess.Triggers(); len(got) != 1 || got[0].Hotkey != "SoraJoy" {
		t.Errorf("triggers = %+v, want only SoraJoy", got)
	}
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	t.Parallel()
	sess := &vtsmock.Session{}
	s := NewScheduler(sess, []Cue{{0, TriggerJoy}}, Config{})
	start, stop := gate.New(), gate.New()
	stop.Open()
	start.Open()
	runScheduler(t, s, start, stop)
	if n := len(sess.Triggers()); n != 0 {
		t.Errorf("triggers = %d, want 0", n)
	}
}

func TestScheduler_TriggerErrorsAreDropped(t *testing.T) {
	t.Parallel()
	sess := &vtsmock.Session{TriggerErr: errors.New("unknown hotkey")}
	s := NewScheduler(sess, []Cue{{0, TriggerJoy}, {0.05, TriggerSad}}, Config{})
	start, stop := gate.New(), gate.New()
	start.Open()
	runScheduler(t, s, start, stop)
	if n := len(sess.Triggers()); n != 2 {
		t.Errorf("triggers = %d, want 2 despite errors", n)
	}
}

func TestScheduler_ConnectFailure(t *testing.T) {
	t.Parallel()
	sess := &vtsmock.Session{ConnectErr: errors.New("denied")}
	s := NewScheduler(sess, []Cue{{0, TriggerJoy}}, Config{})
	start, stop := gate.New(), gate.New()
	start.Open()
	runScheduler(t, s, start, stop)
	if n := len(sess.Triggers()); n != 0 {
		t.Errorf("triggers = %d, want 0", n)
	}
}

func TestScheduler_HotkeyMapping(t *testing.T) {
	t.Parallel()
	s := NewScheduler(&vtsmock.Session{}, nil, Config{Hotkeys: map[string]string{TriggerJoy: "Smile"}})
	if got := s.Hotkey(TriggerJoy); got != "Smile" {
		t.Errorf("Hotkey(joy) = %q", got)
	}
	if got := s.Hotkey(TriggerNod); got != TriggerNod {
		t.Errorf("Hotkey(nod) = %q, want passthrough", got)
	}
}
