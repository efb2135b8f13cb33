package config

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/mouthpiece/internal/agent"
	"github.com/MrWong99/mouthpiece/internal/gesture"
	"github.com/MrWong99/mouthpiece/internal/lipsync"
	"github.com/MrWong99/mouthpiece/internal/resilience"
	"github.com/MrWong99/mouthpiece/pkg/timeline"
	"github.com/MrWong99/mouthpiece/pkg/vts"
)

// Built-in defaults for values without a natural zero.
const (
	DefaultHostURL          = "ws://127.0.0.1:8001"
	DefaultVoicevoxURL      = "http://127.0.0.1:50021"
	DefaultModel            = "gpt-4o"
	DefaultStyle            = 58
	DefaultAutoTalkInterval = 10 * time.Minute
	DefaultAutoTalkPrompt   = "何か話しかけてください"
)

// Default mouth parameter candidates, most specific first.
var (
	DefaultAmplitudeParams = []string{"SoraMouthProxy", "MouthOpen", "PlusMouthOpen", "VoiceVolume"}
	DefaultShapeParams     = []string{"SoraMouthFormProxy", "MouthForm", "MouthShape"}
)

// ApplyDefaults fills every unset field of cfg with its built-in default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	h := &cfg.Host
	if h.URL == "" {
		h.URL = DefaultHostURL
	}
	if h.RequestTimeout <= 0 {
		h.RequestTimeout = 2 * time.Second
	}
	if h.ConnectTimeout <= 0 {
		h.ConnectTimeout = 10 * time.Second
	}
	if h.ConnectRetries <= 0 {
		h.ConnectRetries = 3
	}

	m := &cfg.Mouth
	setDefault(&m.Name, "SoraLipSync")
	setDefault(&m.Developer, "SoraDev")
	setDefault(&m.TokenPath, "vts_token.txt")
	if len(m.AmplitudeParams) == 0 {
		m.AmplitudeParams = append([]string(nil), DefaultAmplitudeParams...)
	}
	if len(m.ShapeParams) == 0 {
		m.ShapeParams = append([]string(nil), DefaultShapeParams...)
	}
	ld := lipsync.DefaultConfig()
	if m.FPS <= 0 {
		m.FPS = ld.FPS
	}
	if m.Offset <= 0 {
		m.Offset = ld.Offset
	}
	if m.MaxLag <= 0 {
		m.MaxLag = ld.MaxLag
	}
	setDefaultFloat(&m.Attack, ld.Envelope.Attack)
	setDefaultFloat(&m.Release, ld.Envelope.Release)
	setDefaultFloat(&m.NoiseGate, ld.Envelope.NoiseGate)
	setDefaultFloat(&m.Floor, ld.Envelope.Floor)
	m.VowelGain = mergeVowels(ld.VowelGain, m.VowelGain)
	m.VowelShape = mergeVowels(ld.VowelShape, m.VowelShape)
	if m.Breaker.MaxFailures <= 0 {
		m.Breaker.MaxFailures = 10
	}
	if m.Breaker.ResetTimeout <= 0 {
		m.Breaker.ResetTimeout = time.Second
	}

	g := &cfg.Gesture
	setDefault(&g.Name, "SoraMotion")
	setDefault(&g.Developer, "SoraDev")
	setDefault(&g.TokenPath, "vts_motion_token.txt")
	if g.PollInterval <= 0 {
		g.PollInterval = 10 * time.Millisecond
	}
	hotkeys := gesture.DefaultHotkeys()
	maps.Copy(hotkeys, g.Hotkeys)
	g.Hotkeys = hotkeys

	t := &cfg.TTS
	setDefault(&t.Name, "voicevox")
	setDefault(&t.BaseURL, DefaultVoicevoxURL)
	if t.DefaultStyle <= 0 {
		t.DefaultStyle = DefaultStyle
	}
	styles := map[string]int{"positive": 58, "neutral": 58, "negative": 60}
	maps.Copy(styles, t.Styles)
	t.Styles = styles

	l := &cfg.LLM
	setDefault(&l.Name, "openai")
	setDefault(&l.Model, DefaultModel)
	setDefault(&l.Persona, agent.DefaultPersona)
	setDefaultFloat(&l.Temperature, 0.9)
	if l.MaxTokens <= 0 {
		l.MaxTokens = 150
	}
	if l.MaxHistory <= 0 {
		l.MaxHistory = 50
	}

	setDefault(&cfg.Playback.Name, "malgo")

	a := &cfg.Agent
	if a.AutoTalkInterval == 0 {
		a.AutoTalkInterval = DefaultAutoTalkInterval
	}
	setDefault(&a.AutoTalkPrompt, DefaultAutoTalkPrompt)
}

func setDefault(s *string, v string) {
	if *s == "" {
		*s = v
	}
}

func setDefaultFloat(f *float64, v float64) {
	if *f <= 0 {
		*f = v
	}
}

// mergeVowels overlays user onto the defaults. Unknown keys are kept so
// [Validate] can report them.
func mergeVowels(defaults map[timeline.Tag]float64, user map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(defaults)+len(user))
	for k, v := range defaults {
		out[string(k)] = v
	}
	maps.Copy(out, user)
	return out
}

// ApplyEnv overrides cfg from environment variables read through lookup
// (typically [os.LookupEnv]). Variables that are set but empty are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	var errs []error

	if v, ok := get("VTS_WS_URL"); ok {
		cfg.Host.URL = v
	}
	if v, ok := get("VTS_PLUGIN_NAME"); ok {
		cfg.Mouth.Name = v
	}
	if v, ok := get("VTS_TOKEN_PATH"); ok {
		cfg.Mouth.TokenPath = v
	}
	if v, ok := get("VTS_DEVELOPER"); ok {
		cfg.Mouth.Developer = v
		cfg.Gesture.Developer = v
	}
	if v, ok := get("VTS_MOTION_PLUGIN_NAME"); ok {
		cfg.Gesture.Name = v
	}
	if v, ok := get("VTS_MOTION_TOKEN_PATH"); ok {
		cfg.Gesture.TokenPath = v
	}
	if v, ok := get("OPENAI_API_KEY"); ok {
		cfg.LLM.APIKey = v
	}
	if v, ok := get("VOICEVOX_URL"); ok {
		cfg.TTS.BaseURL = v
	}
	if v, ok := get("VOICEVOX_PORT"); ok {
		base, err := withPort(cfg.TTS.BaseURL, v)
		if err != nil {
			errs = append(errs, fmt.Errorf("VOICEVOX_PORT: %w", err))
		} else {
			cfg.TTS.BaseURL = base
		}
	}
	if v, ok := get("DEFAULT_SPEAKER_ID"); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DEFAULT_SPEAKER_ID %q is not an integer", v))
		} else {
			cfg.TTS.DefaultStyle = id
		}
	}
	return errors.Join(errs...)
}

// withPort replaces the port of base.
func withPort(base, port string) (string, error) {
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("port %q is out of range", port)
	}
	if base == "" {
		base = DefaultVoicevoxURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("base url %q is invalid", base)
	}
	u.Host = net.JoinHostPort(u.Hostname(), port)
	return u.String(), nil
}

// ── conversions ──────────────────────────────────────────────────────────────

// LoopConfig returns the mouth loop configuration.
func (m MouthConfig) LoopConfig() lipsync.Config {
	c := lipsync.DefaultConfig()
	c.FPS = m.FPS
	c.Offset = m.Offset
	c.MaxLag = m.MaxLag
	c.Envelope.Attack = m.Attack
	c.Envelope.Release = m.Release
	c.Envelope.NoiseGate = m.NoiseGate
	c.Envelope.Floor = m.Floor
	if len(m.VowelGain) > 0 {
		c.VowelGain = tagMap(m.VowelGain)
	}
	if len(m.VowelShape) > 0 {
		c.VowelShape = tagMap(m.VowelShape)
	}
	return c
}

func tagMap(in map[string]float64) map[timeline.Tag]float64 {
	out := make(map[timeline.Tag]float64, len(in))
	for k, v := range in {
		out[timeline.Tag(k)] = v
	}
	return out
}

// SchedulerConfig returns the gesture scheduler configuration.
func (g GestureConfig) SchedulerConfig() gesture.Config {
	return gesture.Config{PollInterval: g.PollInterval, Hotkeys: maps.Clone(g.Hotkeys)}
}

// BreakerConfig returns the mouth frame breaker configuration.
func (m MouthConfig) BreakerConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Name:         "mouth",
		MaxFailures:  m.Breaker.MaxFailures,
		ResetTimeout: m.Breaker.ResetTimeout,
	}
}

// MouthClient returns the host client configuration for the mouth session.
func (c *Config) MouthClient() vts.Config {
	vc := c.clientConfig(c.Mouth.PluginConfig)
	vc.AmplitudeParams = c.Mouth.AmplitudeParams
	vc.ShapeParams = c.Mouth.ShapeParams
	return vc
}

// GestureClient returns the host client configuration for the gesture
// session. It skips parameter discovery.
func (c *Config) GestureClient() vts.Config {
	return c.clientConfig(c.Gesture.PluginConfig)
}

func (c *Config) clientConfig(p PluginConfig) vts.Config {
	return vts.Config{
		URL:             c.Host.URL,
		PluginName:      p.Name,
		PluginDeveloper: p.Developer,
		Tokens:          vts.FileTokenStore{Path: p.TokenPath},
		RequestTimeout:  c.Host.RequestTimeout,
		ConnectTimeout:  c.Host.ConnectTimeout,
		Retry:           vts.RetryConfig{Attempts: c.Host.ConnectRetries},
	}
}

// StyleFor returns the voice style for an emotion label.
func (t TTSConfig) StyleFor(emotion string) int {
	if id, ok := t.Styles[emotion]; ok {
		return id
	}
	return t.DefaultStyle
}
