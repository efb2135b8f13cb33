package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/mouthpiece/internal/gesture"
	"github.com/MrWong99/mouthpiece/pkg/timeline"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":      {"openai"},
	"tts":      {"voicevox"},
	"playback": {"malgo"},
}

var validEmotions = []string{"positive", "neutral", "negative"}

// Load reads the YAML configuration file at path, applies defaults and
// environment overrides, and returns a validated [Config]. An empty path
// skips the file and configures from defaults and the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyDefaults(cfg)
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Validate expects defaults to have been applied.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Host
	if u, err := url.Parse(cfg.Host.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("host.url %q must be a ws:// or wss:// URL", cfg.Host.URL))
	}

	// Mouth
	m := cfg.Mouth
	if m.Name == "" {
		errs = append(errs, errors.New("mouth.plugin_name is required"))
	}
	if len(m.AmplitudeParams) == 0 {
		errs = append(errs, errors.New("mouth.amplitude_params must not be empty"))
	}
	if m.FPS > 240 {
		errs = append(errs, fmt.Errorf("mouth.fps %d is out of range [1, 240]", m.FPS))
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"attack", m.Attack}, {"release", m.Release}} {
		if f.v <= 0 || f.v > 1 {
			errs = append(errs, fmt.Errorf("mouth.%s %.2f is out of range (0, 1]", f.name, f.v))
		}
	}
	if m.NoiseGate < 0 || m.NoiseGate >= 1 {
		errs = append(errs, fmt.Errorf("mouth.noise_gate %.2f is out of range [0, 1)", m.NoiseGate))
	}
	errs = append(errs, validateVowels("mouth.vowel_gain", m.VowelGain, 0, 1)...)
	errs = append(errs, validateVowels("mouth.vowel_shape", m.VowelShape, -1, 1)...)

	// Gesture
	if cfg.Gesture.Name == "" {
		errs = append(errs, errors.New("gesture.plugin_name is required"))
	}
	if cfg.Gesture.Name == m.Name {
		errs = append(errs, fmt.Errorf("gesture.plugin_name %q must differ from mouth.plugin_name", m.Name))
	}
	if m.TokenPath != "" && cfg.Gesture.TokenPath == m.TokenPath {
		errs = append(errs, fmt.Errorf("gesture.token_path %q must differ from mouth.token_path", m.TokenPath))
	}
	known := gesture.DefaultHotkeys()
	for trigger, hotkey := range cfg.Gesture.Hotkeys {
		if _, ok := known[trigger]; !ok {
			slog.Warn("gesture.hotkeys has an entry for an unknown trigger", "trigger", trigger)
		}
		if hotkey == "" {
			errs = append(errs, fmt.Errorf("gesture.hotkeys.%s must not be empty", trigger))
		}
	}

	// TTS
	if cfg.TTS.BaseURL != "" {
		if u, err := url.Parse(cfg.TTS.BaseURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("tts.base_url %q is invalid", cfg.TTS.BaseURL))
		}
	}
	for emotion, id := range cfg.TTS.Styles {
		if !slices.Contains(validEmotions, emotion) {
			errs = append(errs, fmt.Errorf("tts.styles.%s is not an emotion; valid values: positive, neutral, negative", emotion))
		}
		if id < 0 {
			errs = append(errs, fmt.Errorf("tts.styles.%s %d must not be negative", emotion, id))
		}
	}

	// LLM
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxHistory < 2 {
		errs = append(errs, fmt.Errorf("llm.max_history %d must be at least 2", cfg.LLM.MaxHistory))
	}
	if cfg.LLM.Name == "openai" && cfg.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required for the openai provider (or set OPENAI_API_KEY)"))
	}

	// Playback
	if cfg.Playback.Channels < 0 || cfg.Playback.Channels > 2 {
		errs = append(errs, fmt.Errorf("playback.channels %d is out of range [0, 2]", cfg.Playback.Channels))
	}
	if cfg.Playback.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("playback.sample_rate %d must not be negative", cfg.Playback.SampleRate))
	}

	validateProviderName("llm", cfg.LLM.Name)
	validateProviderName("tts", cfg.TTS.Name)
	validateProviderName("playback", cfg.Playback.Name)

	return errors.Join(errs...)
}

func validateVowels(field string, m map[string]float64, lo, hi float64) []error {
	var errs []error
	for k, v := range m {
		tag := timeline.Tag(k)
		if !tag.IsVowel() && tag != timeline.TagClosed {
			errs = append(errs, fmt.Errorf("%s.%s is not a vowel tag; valid values: a, i, u, e, o, closed", field, k))
			continue
		}
		if v < lo || v > hi {
			errs = append(errs, fmt.Errorf("%s.%s %.2f is out of range [%g, %g]", field, k, v, lo, hi))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
