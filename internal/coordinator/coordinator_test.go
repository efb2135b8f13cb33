package coordinator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/mouthpiece/internal/lipsync"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/pkg/audio"
	audiomock "github.com/MrWong99/mouthpiece/pkg/audio/mock"
	"github.com/MrWong99/mouthpiece/pkg/provider/sentiment"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
	ttsmock "github.com/MrWong99/mouthpiece/pkg/provider/tts/mock"
	"github.com/MrWong99/mouthpiece/pkg/timeline"
	"github.com/MrWong99/mouthpiece/pkg/vts"
	vtsmock "github.com/MrWong99/mouthpiece/pkg/vts/mock"
)

const rate = 24000

func f(v float64) *float64 { return &v }

// speech returns a 400 ms sine WAV and a matching two-mora query.
func speech() *tts.Speech {
	n := int(0.4 * rate)
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(0.5 * math.Sin(2*math.Pi*220*float64(i)/rate))
	}
	clip := &audio.Clip{Format: audio.Format{SampleRate: rate, Channels: 1}, Samples: s}
	k := "k"
	q := &timeline.AudioQuery{
		SpeedScale: 1,
		AccentPhrases: []timeline.AccentPhrase{{
			Moras: []timeline.Mora{
				{Text: "カ", Consonant: &k, ConsonantLength: f(0.05), Vowel: "a", VowelLength: f(0.15)},
				{Text: "イ", Vowel: "i", VowelLength: f(0.2)},
			},
		}},
	}
	return &tts.Speech{WAV: audio.EncodeWAV(clip), Query: q}
}

func testConfig() Config {
	mouth := lipsync.DefaultConfig()
	mouth.Offset = time.Millisecond
	return Config{Mouth: mouth}
}

type fixture struct {
	tts    *ttsmock.Provider
	player *audiomock.Player
	mouth  *vtsmock.Session
	motion *vtsmock.Session
	coord  *Coordinator
}

func newFixture(opts ...Option) *fixture {
	fx := &fixture{
		tts:    &ttsmock.Provider{Speech: speech()},
		player: &audiomock.Player{},
		mouth:  &vtsmock.Session{Amplitude: "MouthOpen", Shape: "MouthForm"},
		motion: &vtsmock.Session{},
	}
	fx.coord = New(fx.tts, fx.player,
		func() vts.Session { return fx.mouth },
		func() vts.Session { return fx.motion },
		testConfig(), opts...)
	return fx
}

func TestSpeak_RunsBothLoops(t *testing.T) {
	t.Parallel()
	fx := newFixture()

	res, err := fx.coord.Speak(context.Background(), Utterance{Text: "やった!", Emotion: sentiment.Positive, Style: 58})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	if calls := fx.tts.SynthesizeCalls; len(calls) != 1 || calls[0].Style != 58 || calls[0].Text != "やった!" {
		t.Errorf("Synthesize calls = %+v", calls)
	}
	if len(fx.player.Calls()) != 1 {
		t.Errorf("Play calls = %d, want 1", len(fx.player.Calls()))
	}
	if res.ID == "" {
		t.Error("Result.ID is empty")
	}
	if res.Duration != 400*time.Millisecond {
		t.Errorf("Duration = %v, want 400ms", res.Duration)
	}
	if got := res.Timeline.Duration(); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("timeline duration = %v, want 0.4", got)
	}
	if len(res.Cues) == 0 || res.Cues[0].Trigger != "joy" {
		t.Errorf("cues = %+v, want leading joy", res.Cues)
	}

	sends := fx.mouth.Sends()
	if len(sends) < 3 {
		t.Fatalf("mouth sends = %d, want frames", len(sends))
	}
	if last := sends[len(sends)-1].Values["MouthOpen"]; last != 0 {
		t.Errorf("final mouth value = %v, want 0", last)
	}
	if len(fx.motion.Triggers()) == 0 {
		t.Error("no hotkeys triggered")
	}
	if fx.mouth.Closes() != 1 || fx.motion.Closes() != 1 {
		t.Errorf("closes = %d/%d, want 1/1", fx.mouth.Closes(), fx.motion.Closes())
	}
}

func TestSpeak_SynthesisFailure(t *testing.T) {
	t.Parallel()
	fx := newFixture()
	fx.tts.SynthesizeErr = errors.New("engine down")

	_, err := fx.coord.Speak(context.Background(), Utterance{Text: "hi", Emotion: sentiment.Neutral})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(fx.player.Calls()) != 0 {
		t.Error("player used after synthesis failure")
	}
	if len(fx.mouth.Sends()) != 0 || len(fx.motion.Triggers()) != 0 {
		t.Error("host touched after synthesis failure")
	}
}

func TestSpeak_BadAudio(t *testing.T) {
	t.Parallel()
	fx := newFixture()
	fx.tts.Speech = &tts.Speech{WAV: []byte("not a wav")}

	if _, err := fx.coord.Speak(context.Background(), Utterance{Text: "hi"}); err == nil {
		t.Fatal("expected decode error")
	}
	if len(fx.player.Calls()) != 0 {
		t.Error("player used after decode failure")
	}
}

func TestSpeak_PlaybackFailureJoinsLoops(t *testing.T) {
	t.Parallel()
	fx := newFixture()
	fx.player.PlayErr = errors.New("no device")

	done := make(chan error, 1)
	go func() {
		_, err := fx.coord.Speak(context.Background(), Utterance{Text: "hi"})
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected playback error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Speak did not return")
	}

	// The mouth loop saw stop before start: one neutral frame, one final.
	sends := fx.mouth.Sends()
	for _, s := range sends {
		if s.Values["MouthOpen"] != 0 {
			t.Errorf("mouth opened without playback: %+v", s.Values)
		}
	}
	if len(fx.motion.Triggers()) != 0 {
		t.Errorf("triggers = %+v, want none", fx.motion.Triggers())
	}
	if fx.mouth.Closes() != 1 || fx.motion.Closes() != 1 {
		t.Errorf("closes = %d/%d, want 1/1", fx.mouth.Closes(), fx.motion.Closes())
	}
}

func TestSpeak_HostUnavailableStillPlays(t *testing.T) {
	t.Parallel()
	fx := newFixture()
	fx.mouth.ConnectErr = errors.New("refused")
	fx.motion.ConnectErr = errors.New("refused")

	if _, err := fx.coord.Speak(context.Background(), Utterance{Text: "hi"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(fx.player.Calls()) != 1 {
		t.Error("audio was not played")
	}
	if len(fx.mouth.Sends()) != 0 {
		t.Error("frames sent on a failed session")
	}
}

func TestSpeak_StalledHostDoesNotOutlivePlayback(t *testing.T) {
	t.Parallel()
	fx := newFixture()
	fx.mouth.ConnectDelay = 10 * time.Second
	fx.motion.ConnectDelay = 10 * time.Second

	start := time.Now()
	if _, err := fx.coord.Speak(context.Background(), Utterance{Text: "hi"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Speak returned after %v, want shortly after the 400ms clip", elapsed)
	}
	if len(fx.player.Calls()) != 1 {
		t.Error("audio was not played")
	}
	if len(fx.mouth.Sends()) != 0 || len(fx.motion.Triggers()) != 0 {
		t.Error("puppeteering ran without a connected session")
	}
}

func TestSpeak_CancelStopsPlayback(t *testing.T) {
	t.Parallel()
	fx := newFixture()
	fx.player.Duration = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, err := fx.coord.Speak(ctx, Utterance{Text: "hi"})
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Speak did not return after cancel")
	}
	pbs := fx.player.Playbacks()
	if len(pbs) != 1 || !pbs[0].Stopped() {
		t.Error("playback was not stopped")
	}
	if sends := fx.mouth.Sends(); len(sends) > 0 && sends[len(sends)-1].Values["MouthOpen"] != 0 {
		t.Error("mouth left open after cancel")
	}
}

func TestSpeak_NilFactoriesDisableLoops(t *testing.T) {
	t.Parallel()
	p := &audiomock.Player{}
	c := New(&ttsmock.Provider{Speech: speech()}, p, nil, nil, testConfig())
	if _, err := c.Speak(context.Background(), Utterance{Text: "hi"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(p.Calls()) != 1 {
		t.Error("audio was not played")
	}
}

func TestSpeak_MissingQueryFallsBackToClipDuration(t *testing.T) {
	t.Parallel()
	fx := newFixture()
	sp := speech()
	sp.Query = nil
	fx.tts.Speech = sp

	res, err := fx.coord.Speak(context.Background(), Utterance{Text: "うん。", Emotion: sentiment.Neutral})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(res.Timeline) != 0 {
		t.Errorf("timeline = %+v, want empty", res.Timeline)
	}
	// "。" sits at the end of the text, so its cue lands near the clip end.
	var sawNod bool
	for _, c := range res.Cues {
		if c.Trigger == "nod" && c.Offset > 0.2 {
			sawNod = true
		}
	}
	if !sawNod {
		t.Errorf("cues = %+v, want a late nod", res.Cues)
	}
	if len(fx.mouth.Sends()) < 3 {
		t.Error("mouth loop did not follow the envelope")
	}
}

func TestSpeak_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	fx := newFixture(WithMetrics(m))
	if _, err := fx.coord.Speak(context.Background(), Utterance{Text: "hi"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			got[met.Name] = met.Data
		}
	}

	for _, name := range []string{"mouthpiece.tts.duration", "mouthpiece.utterance.duration"} {
		h, ok := got[name].(metricdata.Histogram[float64])
		if !ok || len(h.DataPoints) != 1 || h.DataPoints[0].Count != 1 {
			t.Errorf("%s = %+v, want one observation", name, got[name])
		}
	}
	if active, ok := got["mouthpiece.active_utterances"].(metricdata.Sum[int64]); !ok || len(active.DataPoints) != 1 || active.DataPoints[0].Value != 0 {
		t.Errorf("active utterances = %+v, want 0", got["mouthpiece.active_utterances"])
	}
	if frames, ok := got["mouthpiece.mouth.frames"].(metricdata.Sum[int64]); !ok || len(frames.DataPoints) == 0 {
		t.Error("no mouth frames recorded")
	}
}
