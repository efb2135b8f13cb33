// Package config provides the configuration schema, loader, and provider
// registry for mouthpiece.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Host     HostConfig     `yaml:"host"`
	Mouth    MouthConfig    `yaml:"mouth"`
	Gesture  GestureConfig  `yaml:"gesture"`
	TTS      TTSConfig      `yaml:"tts"`
	LLM      LLMConfig      `yaml:"llm"`
	Playback PlaybackConfig `yaml:"playback"`
	Agent    AgentConfig    `yaml:"agent"`
}

// ServerConfig holds logging and diagnostics settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// DiagnosticsAddr is the TCP address serving /metrics, /healthz and
	// /readyz (e.g., ":9090"). Empty disables the diagnostics server.
	DiagnosticsAddr string `yaml:"diagnostics_addr"`
}

// HostConfig describes the puppeteering host both sessions talk to.
type HostConfig struct {
	// URL is the host's WebSocket endpoint (e.g., "ws://127.0.0.1:8001").
	URL string `yaml:"url"`

	// RequestTimeout bounds a single request/response exchange.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ConnectTimeout bounds dialing plus authentication.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ConnectRetries is the number of dial attempts per session.
	ConnectRetries int `yaml:"connect_retries"`
}

// PluginConfig is the identity one session presents to the host. The host
// issues tokens per plugin name, so each identity keeps its own token file.
type PluginConfig struct {
	Name      string `yaml:"plugin_name"`
	Developer string `yaml:"plugin_developer"`

	// TokenPath caches the authentication token between runs. Empty
	// disables caching.
	TokenPath string `yaml:"token_path"`
}

// BreakerConfig tunes the circuit breaker guarding mouth frames.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive send failures that open the
	// circuit.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the circuit stays open before a probe.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// MouthConfig configures the mouth sync loop and its session.
type MouthConfig struct {
	PluginConfig `yaml:",inline"`

	// AmplitudeParams lists mouth-openness parameter names in preference
	// order. The first one the model exposes is used.
	AmplitudeParams []string `yaml:"amplitude_params"`

	// ShapeParams lists mouth-shape parameter names in preference order.
	ShapeParams []string `yaml:"shape_params"`

	FPS    int           `yaml:"fps"`
	Offset time.Duration `yaml:"offset"`
	MaxLag time.Duration `yaml:"max_lag"`

	Attack    float64 `yaml:"attack"`
	Release   float64 `yaml:"release"`
	NoiseGate float64 `yaml:"noise_gate"`
	Floor     float64 `yaml:"floor"`

	// VowelGain and VowelShape are keyed by vowel tag: a, i, u, e, o, closed.
	VowelGain  map[string]float64 `yaml:"vowel_gain"`
	VowelShape map[string]float64 `yaml:"vowel_shape"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// GestureConfig configures the gesture scheduler and its session.
type GestureConfig struct {
	PluginConfig `yaml:",inline"`

	// PollInterval is the scheduler's wake-up period.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Hotkeys maps abstract triggers (joy, nod, think, surprise, sad) to the
	// host's hotkey names.
	Hotkeys map[string]string `yaml:"hotkeys"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "voicevox").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Timeout bounds a single provider request. Zero keeps the provider's
	// default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// TTSConfig selects the speech engine and the voice style per emotion.
type TTSConfig struct {
	ProviderEntry `yaml:",inline"`

	// DefaultStyle is used for emotions missing from Styles.
	DefaultStyle int `yaml:"default_style"`

	// Styles maps an emotion (positive, neutral, negative) to a style id.
	Styles map[string]int `yaml:"styles"`
}

// LLMConfig selects the chat model and the conversation parameters.
type LLMConfig struct {
	ProviderEntry `yaml:",inline"`

	// Persona is the system prompt. Empty uses the built-in persona.
	Persona string `yaml:"persona"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// MaxHistory bounds the conversation, system prompt included.
	MaxHistory int `yaml:"max_history"`

	// HistoryPath persists the conversation between runs. Empty keeps it in
	// memory only.
	HistoryPath string `yaml:"history_path"`
}

// PlaybackConfig selects the audio output.
type PlaybackConfig struct {
	ProviderEntry `yaml:",inline"`

	// SampleRate and Channels force the device format. Zero keeps the
	// clip's format.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// PeriodFrames is the device buffer size. Zero uses the backend default.
	PeriodFrames int `yaml:"period_frames"`
}

// AgentConfig controls the conversation loop.
type AgentConfig struct {
	// AutoTalkInterval is the idle time after which the avatar speaks
	// unprompted. A negative value disables auto-talk.
	AutoTalkInterval time.Duration `yaml:"auto_talk_interval"`

	// AutoTalkPrompt is the input sent to the agent on auto-talk.
	AutoTalkPrompt string `yaml:"auto_talk_prompt"`
}
