// Command mouthpiece is a console companion that speaks its replies through a
// puppeteered avatar: every line is synthesized, played on the local sound
// card and mirrored on the avatar's mouth and gestures.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/mouthpiece/internal/app"
	"github.com/MrWong99/mouthpiece/internal/config"
	"github.com/MrWong99/mouthpiece/internal/health"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/pkg/audio"
	"github.com/MrWong99/mouthpiece/pkg/audio/malgo"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm/openai"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts/voicevox"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; environment variables override it)")
	listStyles := flag.Bool("list-styles", false, "print the speech engine's voice styles and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mouthpiece: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mouthpiece: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("mouthpiece starting",
		"version", version,
		"config", *configPath,
		"host", cfg.Host.URL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "mouthpiece",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(telemetry.MeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if *listStyles {
		return printStyles(ctx, cfg, reg)
	}

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Diagnostics server (optional) ─────────────────────────────────────────
	var diag *http.Server
	if cfg.Server.DiagnosticsAddr != "" {
		diag, err = startDiagnostics(cfg, telemetry, metrics, providers.TTS)
		if err != nil {
			slog.Error("failed to start diagnostics server", "err", err)
			return 1
		}
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	fmt.Println("Type a message and press Enter. \"exit\" quits.")
	runErr := application.Run(ctx, os.Stdin)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("stopping…")
	code := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if diag != nil {
		if err := diag.Shutdown(shutdownCtx); err != nil {
			slog.Warn("diagnostics server shutdown error", "err", err)
		}
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(c config.LLMConfig) (llm.Provider, error) {
		var opts []openai.Option
		if c.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(c.BaseURL))
		}
		if c.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(c.Timeout))
		}
		if org := optString(c.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if n, ok := optInt(c.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		return openai.New(c.APIKey, c.Model, opts...)
	})

	reg.RegisterTTS("voicevox", func(c config.TTSConfig) (tts.Provider, error) {
		var opts []voicevox.Option
		if c.Timeout > 0 {
			opts = append(opts, voicevox.WithTimeout(c.Timeout))
		}
		return voicevox.New(c.BaseURL, opts...)
	})

	reg.RegisterPlayback("malgo", func(c config.PlaybackConfig) (audio.Player, error) {
		opts := []malgo.Option{
			malgo.WithFormat(audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}),
		}
		if c.PeriodFrames > 0 {
			opts = append(opts, malgo.WithPeriod(uint32(c.PeriodFrames)))
		}
		return malgo.New(opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	l, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Name, err)
	}
	ps.LLM = l
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Name, "model", cfg.LLM.Model)

	t, err := reg.CreateTTS(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.TTS.Name, err)
	}
	ps.TTS = t
	slog.Info("provider created", "kind", "tts", "name", cfg.TTS.Name, "url", cfg.TTS.BaseURL)

	p, err := reg.CreatePlayback(cfg.Playback)
	if err != nil {
		return nil, fmt.Errorf("create playback provider %q: %w", cfg.Playback.Name, err)
	}
	ps.Player = p
	slog.Info("provider created", "kind", "playback", "name", cfg.Playback.Name)

	return ps, nil
}

// ── Diagnostics ───────────────────────────────────────────────────────────────

func startDiagnostics(cfg *config.Config, telemetry *observe.Provider, metrics *observe.Metrics, t tts.Provider) (*http.Server, error) {
	checkers := []health.Checker{health.HostChecker(cfg.Host.URL)}
	if v, ok := t.(health.Versioner); ok {
		checkers = append(checkers, health.TTSChecker(v))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", telemetry.Handler())
	health.New(checkers...).Register(mux)

	ln, err := net.Listen("tcp", cfg.Server.DiagnosticsAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.DiagnosticsAddr, err)
	}
	srv := &http.Server{
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("diagnostics server error", "err", err)
		}
	}()
	slog.Info("diagnostics server listening", "addr", ln.Addr().String())
	return srv, nil
}

// ── Styles ────────────────────────────────────────────────────────────────────

func printStyles(ctx context.Context, cfg *config.Config, reg *config.Registry) int {
	t, err := reg.CreateTTS(cfg.TTS)
	if err != nil {
		slog.Error("failed to create tts provider", "err", err)
		return 1
	}
	styles, err := t.ListStyles(ctx)
	if err != nil {
		slog.Error("failed to list styles", "err", err)
		return 1
	}
	for _, s := range styles {
		fmt.Printf("%4d  %s (%s)\n", s.ID, s.Speaker, s.Name)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       mouthpiece: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", cfg.LLM.Name+" / "+cfg.LLM.Model)
	printRow("TTS", cfg.TTS.Name)
	printRow("Playback", cfg.Playback.Name)
	printRow("Host", cfg.Host.URL)
	printRow("Mouth plugin", cfg.Mouth.Name)
	printRow("Gesture plugin", cfg.Gesture.Name)
	if cfg.Agent.AutoTalkInterval > 0 {
		printRow("Auto-talk", cfg.Agent.AutoTalkInterval.String())
	} else {
		printRow("Auto-talk", "(disabled)")
	}
	if cfg.Server.DiagnosticsAddr != "" {
		printRow("Diagnostics", cfg.Server.DiagnosticsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, truncate(value, 19))
}

// truncate shortens s to at most width runes, marking the cut with an
// ellipsis.
func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// optInt extracts an integer value from a provider Options map.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
