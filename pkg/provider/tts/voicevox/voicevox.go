// Package voicevox provides a TTS provider backed by a VOICEVOX engine's REST
// API. It implements the tts.Provider interface.
//
// Synthesis takes two round trips: POST /audio_query builds the timing
// metadata for the text, then POST /synthesis renders that exact query to
// WAV. The query is posted back byte-for-byte so fields this package does not
// model survive, and the returned [tts.Speech] carries both halves.
//
// Typical usage:
//
//	p, err := voicevox.New("http://127.0.0.1:50021",
//	    voicevox.WithTimeout(20*time.Second),
//	)
//	speech, err := p.Synthesize(ctx, "こんにちは", 58)
package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
	"github.com/MrWong99/mouthpiece/pkg/timeline"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second

	audioQueryEndpoint = "/audio_query"
	synthesisEndpoint  = "/synthesis"
	speakersEndpoint   = "/speakers"
	versionEndpoint    = "/version"

	// maxErrorBody bounds how much of an error response is quoted.
	maxErrorBody = 512
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider against one VOICEVOX engine.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider targeting the engine at baseURL
// (e.g. "http://127.0.0.1:50021"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("voicevox: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, style int) (*tts.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("voicevox: text must not be empty")
	}

	q := url.Values{}
	q.Set("text", text)
	q.Set("speaker", strconv.Itoa(style))
	rawQuery, err := p.post(ctx, audioQueryEndpoint, q, nil, "application/json")
	if err != nil {
		return nil, err
	}

	var query timeline.AudioQuery
	if err := json.Unmarshal(rawQuery, &query); err != nil {
		return nil, fmt.Errorf("voicevox: decode audio query: %w", err)
	}

	q = url.Values{}
	q.Set("speaker", strconv.Itoa(style))
	wav, err := p.post(ctx, synthesisEndpoint, q, rawQuery, "audio/wav")
	if err != nil {
		return nil, err
	}
	if len(wav) == 0 {
		return nil, errors.New("voicevox: synthesis returned no audio")
	}

	return &tts.Speech{WAV: wav, Query: &query, Style: style}, nil
}

// speakerResponse is one entry of GET /speakers.
type speakerResponse struct {
	Name        string `json:"name"`
	SpeakerUUID string `json:"speaker_uuid"`
	Styles      []struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
		Type string `json:"type,omitempty"`
	} `json:"styles"`
	Version string `json:"version"`
}

// ListStyles implements tts.Provider. Only talk styles are returned; singing
// styles cannot render an audio query.
func (p *Provider) ListStyles(ctx context.Context) ([]tts.Style, error) {
	body, err := p.get(ctx, speakersEndpoint)
	if err != nil {
		return nil, err
	}
	var speakers []speakerResponse
	if err := json.Unmarshal(body, &speakers); err != nil {
		return nil, fmt.Errorf("voicevox: decode speakers: %w", err)
	}

	var styles []tts.Style
	for _, sp := range speakers {
		for _, st := range sp.Styles {
			if st.Type != "" && st.Type != "talk" {
				continue
			}
			styles = append(styles, tts.Style{ID: st.ID, Name: st.Name, Speaker: sp.Name})
		}
	}
	return styles, nil
}

// Version returns the engine version string. It doubles as a cheap
// readiness probe.
func (p *Provider) Version(ctx context.Context) (string, error) {
	body, err := p.get(ctx, versionEndpoint)
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(body, &v); err != nil {
		// Older engines answer with a bare string.
		return strings.TrimSpace(string(body)), nil
	}
	return v, nil
}

// ---- HTTP helpers ----

func (p *Provider) post(ctx context.Context, endpoint string, q url.Values, body []byte, accept string) ([]byte, error) {
	reqURL := p.baseURL + endpoint + "?" + q.Encode()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, r)
	if err != nil {
		return nil, fmt.Errorf("voicevox: create %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	return p.do(req, endpoint)
}

func (p *Provider) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("voicevox: create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	return p.do(req, endpoint)
}

func (p *Provider) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voicevox: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("voicevox: %s %s returned status %d: %s",
			req.Method, endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("voicevox: read %s response: %w", endpoint, err)
	}
	return b, nil
}
