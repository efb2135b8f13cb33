package voicevox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const sampleQuery = `{
  "accent_phrases": [{
    "moras": [
      {"text": "コ", "consonant": "k", "consonant_length": 0.06, "vowel": "o", "vowel_length": 0.1, "pitch": 5.8},
      {"text": "ン", "consonant": null, "consonant_length": null, "vowel": "N", "vowel_length": 0.08, "pitch": 5.9}
    ],
    "accent": 1,
    "pause_mora": null,
    "is_interrogative": false
  }],
  "speedScale": 1.0,
  "pitchScale": 0.0,
  "intonationScale": 1.0,
  "volumeScale": 1.0,
  "prePhonemeLength": 0.1,
  "postPhonemeLength": 0.1,
  "pauseLength": null,
  "pauseLengthScale": 1.0,
  "outputSamplingRate": 24000,
  "outputStereo": false,
  "kana": "コ'ン"
}`

// fakeEngine records requests and serves canned responses.
type fakeEngine struct {
	mu        sync.Mutex
	paths     []string
	speakers  []string
	texts     []string
	synthBody []byte
	failSynth bool
}

// snapshot returns copies of the recorded request data.
func (e *fakeEngine) snapshot() (paths, texts, speakers []string, synthBody []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.paths...), append([]string(nil), e.texts...),
		append([]string(nil), e.speakers...), append([]byte(nil), e.synthBody...)
}

func (e *fakeEngine) handler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.paths = append(e.paths, r.Method+" "+r.URL.Path)
		e.mu.Unlock()

		switch r.URL.Path {
		case audioQueryEndpoint:
			e.mu.Lock()
			e.texts = append(e.texts, r.URL.Query().Get("text"))
			e.speakers = append(e.speakers, r.URL.Query().Get("speaker"))
			e.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, sampleQuery)
		case synthesisEndpoint:
			if e.failSynth {
				http.Error(w, `{"detail":"engine exploded"}`, http.StatusInternalServerError)
				return
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("synthesis content-type = %q", ct)
			}
			body, _ := io.ReadAll(r.Body)
			e.mu.Lock()
			e.synthBody = body
			e.speakers = append(e.speakers, r.URL.Query().Get("speaker"))
			e.mu.Unlock()
			w.Header().Set("Content-Type", "audio/wav")
			_, _ = w.Write([]byte("RIFF....WAVEfake"))
		case speakersEndpoint:
			_, _ = io.WriteString(w, `[
			  {"name": "四国めたん", "speaker_uuid": "u1", "styles": [{"name": "ノーマル", "id": 2}, {"name": "ハミング", "id": 3000, "type": "frame_decode"}], "version": "0.14.0"},
			  {"name": "ずんだもん", "speaker_uuid": "u2", "styles": [{"name": "ノーマル", "id": 3, "type": "talk"}], "version": "0.14.0"}
			]`)
		case versionEndpoint:
			_, _ = io.WriteString(w, `"0.14.5"`)
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestProvider(t *testing.T, e *fakeEngine) *Provider {
	t.Helper()
	srv := httptest.NewServer(e.handler(t))
	t.Cleanup(srv.Close)
	p, err := New(srv.URL + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestNew_Options(t *testing.T) {
	p, err := New("http://engine:50021", WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.httpClient.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", p.httpClient.Timeout)
	}
	c := &http.Client{}
	p, _ = New("http://engine:50021", WithHTTPClient(c))
	if p.httpClient != c {
		t.Error("WithHTTPClient not applied")
	}
}

func TestSynthesize_QueryThenSynthesis(t *testing.T) {
	e := &fakeEngine{}
	p := newTestProvider(t, e)

	speech, err := p.Synthesize(context.Background(), "こん", 58)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	paths, texts, speakers, synthBody := e.snapshot()
	if got := strings.Join(paths, ","); got != "POST /audio_query,POST /synthesis" {
		t.Errorf("requests = %s", got)
	}
	if len(texts) != 1 || texts[0] != "こん" {
		t.Errorf("texts = %q", texts)
	}
	for i, sp := range speakers {
		if sp != "58" {
			t.Errorf("request %d speaker = %q, want 58", i, sp)
		}
	}

	// The query must be posted back unchanged, including fields the
	// provider does not model.
	var posted map[string]any
	if err := json.Unmarshal(synthBody, &posted); err != nil {
		t.Fatalf("synthesis body: %v", err)
	}
	if _, ok := posted["pauseLengthScale"]; !ok {
		t.Error("unmodelled field pauseLengthScale dropped from synthesis body")
	}

	if string(speech.WAV) != "RIFF....WAVEfake" {
		t.Errorf("WAV = %q", speech.WAV)
	}
	if speech.Style != 58 {
		t.Errorf("Style = %d, want 58", speech.Style)
	}
	if speech.Query == nil || len(speech.Query.AccentPhrases) != 1 || len(speech.Query.AccentPhrases[0].Moras) != 2 {
		t.Fatalf("Query = %+v", speech.Query)
	}
	if speech.Query.PrePhonemeLength != 0.1 {
		t.Errorf("PrePhonemeLength = %v", speech.Query.PrePhonemeLength)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	e := &fakeEngine{}
	p := newTestProvider(t, e)
	if _, err := p.Synthesize(context.Background(), "   ", 1); err == nil {
		t.Error("expected error for blank text")
	}
	if paths, _, _, _ := e.snapshot(); len(paths) != 0 {
		t.Errorf("unexpected requests: %v", paths)
	}
}

func TestSynthesize_EngineError(t *testing.T) {
	e := &fakeEngine{failSynth: true}
	p := newTestProvider(t, e)
	_, err := p.Synthesize(context.Background(), "テスト", 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "engine exploded") {
		t.Errorf("error = %v, want status and body", err)
	}
}

func TestListStyles_SkipsNonTalk(t *testing.T) {
	p := newTestProvider(t, &fakeEngine{})
	styles, err := p.ListStyles(context.Background())
	if err != nil {
		t.Fatalf("ListStyles: %v", err)
	}
	if len(styles) != 2 {
		t.Fatalf("styles = %+v, want 2", styles)
	}
	if styles[0].ID != 2 || styles[0].Speaker != "四国めたん" || styles[1].ID != 3 {
		t.Errorf("styles = %+v", styles)
	}
}

func TestVersion(t *testing.T) {
	p := newTestProvider(t, &fakeEngine{})
	v, err := p.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "0.14.5" {
		t.Errorf("Version = %q, want 0.14.5", v)
	}
}

func TestVersion_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	p, _ := New(srv.URL)
	if _, err := p.Version(context.Background()); err == nil {
		t.Error("expected error for unreachable engine")
	}
}
