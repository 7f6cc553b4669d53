// Command daftmapler is the backend: it follows channel point redemptions
// on Twitch and pushes playback directives to connected players.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/yldhj/daftmapler/internal/app"
	"github.com/yldhj/daftmapler/internal/config"
	"github.com/yldhj/daftmapler/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "daftmapler: %v\n", err)
		if errors.Is(err, config.ErrMissing) {
			fmt.Fprintln(os.Stderr, "daftmapler: copy .env.example to .env and fill in the Twitch application settings")
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.LogLevel))

	slog.Info("daftmapler starting",
		"version", version,
		"listen_addr", cfg.ListenAddr(),
		"base_url", cfg.BaseURL,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "daftmapler",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, app.WithMetrics(metrics, tel.Handler()))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down", "authorize", cfg.BaseURL+"/api/verify")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	store := "file " + cfg.CredentialFile
	if cfg.CredentialDSN != "" {
		store = "postgres"
	}
	var speech []string
	if cfg.TTSURL != "" {
		speech = append(speech, "remote")
	}
	if cfg.OpenAIKey != "" {
		speech = append(speech, "openai/"+cfg.OpenAITTSVoice)
	}
	reload := "off"
	if cfg.WatchInterval > 0 {
		reload = cfg.WatchInterval.String()
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       daftmapler startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Channel", cfg.ChannelLogin)
	printRow("Listen addr", cfg.ListenAddr())
	printRow("Credentials", store)
	if len(speech) == 0 {
		printRow("Speech", "(disabled)")
	} else {
		printRow("Speech", fmt.Sprint(speech))
	}
	printRow("Sounds", cfg.SoundConfig)
	printRow("Filter list", cfg.FilterList)
	printRow("Reload", reload)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 22 {
		value = string(r[:21]) + "…"
	}
	fmt.Printf("║  %-11s : %-22s ║\n", label, value)
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
