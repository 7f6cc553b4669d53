// Command daftmapler-player connects to a daftmapler backend and plays the
// directives it pushes, either as raw PCM on stdout or into a Discord voice
// channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel"

	"github.com/yldhj/daftmapler/internal/config"
	"github.com/yldhj/daftmapler/internal/observe"
	"github.com/yldhj/daftmapler/internal/player"
	"github.com/yldhj/daftmapler/pkg/audio"
	"github.com/yldhj/daftmapler/pkg/audio/discord"
	"github.com/yldhj/daftmapler/pkg/audio/playback"
)

const (
	sinkStdout  = "stdout"
	sinkDiscord = "discord"
)

type options struct {
	server   string
	sink     string
	rate     int
	channels int
	logLevel string
	metrics  string

	discordToken   string
	discordGuild   string
	discordChannel string
}

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	var o options
	flag.StringVar(&o.server, "server", "http://localhost:8080", "backend base URL")
	flag.StringVar(&o.sink, "sink", sinkStdout, "audio sink: stdout or discord")
	flag.IntVar(&o.rate, "rate", 48000, "sample rate of the stdout PCM stream")
	flag.IntVar(&o.channels, "channels", 2, "channel count of the stdout PCM stream")
	flag.StringVar(&o.discordToken, "discord-token", os.Getenv("DISCORD_TOKEN"), "Discord bot token")
	flag.StringVar(&o.discordGuild, "discord-guild", "", "Discord guild ID")
	flag.StringVar(&o.discordChannel, "discord-channel", "", "Discord voice channel ID")
	flag.StringVar(&o.logLevel, "log-level", string(config.LogInfo), "debug, info, warn or error")
	flag.StringVar(&o.metrics, "metrics", "", "serve Prometheus metrics on this address, e.g. :9090")
	flag.Parse()

	if err := o.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "daftmapler-player: %v\n", err)
		flag.Usage()
		return 2
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(config.LogLevel(o.logLevel)))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "daftmapler-player"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(sctx)
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}
	if o.metrics != "" {
		srv := &http.Server{Addr: o.metrics, Handler: tel.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
		defer srv.Close()
	}

	// ── Sink ──────────────────────────────────────────────────────────────────
	renderer, closeSink, err := openSink(o)
	if err != nil {
		slog.Error("failed to open sink", "sink", o.sink, "err", err)
		return 1
	}
	defer closeSink()

	// ── Playback engine ───────────────────────────────────────────────────────
	loader := playback.NewHTTPLoader(playback.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}))
	engine := playback.New(loader, renderer, playback.WithObserver(func(src playback.Source, out playback.Outcome) {
		metrics.RecordPlayback(context.Background(), string(out))
		slog.Debug("clip finished", "locator", src.Locator, "outcome", out)
	}))
	defer engine.Close()

	// ── Push channel ──────────────────────────────────────────────────────────
	client, err := player.New(player.Config{
		Server: o.server,
		Engine: engine,
		OnConnect: func(connected bool) {
			if connected {
				slog.Info("connected to backend", "server", o.server)
			}
		},
	})
	if err != nil {
		slog.Error("failed to create player", "err", err)
		return 1
	}

	if o.sink != sinkStdout {
		go func() {
			if err := player.ReadCommands(ctx, os.Stdin, client); err != nil {
				slog.Warn("stdin closed", "err", err)
			}
		}()
		slog.Info("type 'skip' and press enter to skip the current clip")
	}

	slog.Info("player running", "server", o.server, "ws", client.WSURL(), "sink", o.sink)
	if err := client.Run(ctx); err != nil {
		slog.Error("player error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func (o options) validate() error {
	switch o.sink {
	case sinkStdout:
		if o.rate <= 0 || o.channels < 1 || o.channels > 2 {
			return fmt.Errorf("invalid stdout format: -rate %d -channels %d", o.rate, o.channels)
		}
	case sinkDiscord:
		if o.discordToken == "" || o.discordGuild == "" || o.discordChannel == "" {
			return errors.New("-sink discord requires -discord-token, -discord-guild and -discord-channel")
		}
	default:
		return fmt.Errorf("unknown sink %q", o.sink)
	}
	if !config.LogLevel(o.logLevel).IsValid() {
		return fmt.Errorf("invalid -log-level %q", o.logLevel)
	}
	return nil
}

// openSink returns the renderer for the selected sink and a function that
// releases it.
func openSink(o options) (playback.Renderer, func(), error) {
	if o.sink == sinkStdout {
		format := audio.Format{SampleRate: o.rate, Channels: o.channels}
		r := playback.NewStreamRenderer(format, func(frame []byte) error {
			_, err := os.Stdout.Write(frame)
			return err
		})
		return r, func() {}, nil
	}

	session, err := discordgo.New("Bot " + o.discordToken)
	if err != nil {
		return nil, nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := session.Open(); err != nil {
		return nil, nil, fmt.Errorf("discord: open session: %w", err)
	}
	sink, err := discord.Join(session, o.discordGuild, o.discordChannel)
	if err != nil {
		_ = session.Close()
		return nil, nil, err
	}
	slog.Info("joined voice channel", "guild_id", o.discordGuild, "channel_id", o.discordChannel)
	return sink, func() {
		if err := sink.Close(); err != nil {
			slog.Warn("discord sink close error", "err", err)
		}
		if err := session.Close(); err != nil {
			slog.Warn("discord session close error", "err", err)
		}
	}, nil
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
	// stdout may carry PCM, so logs always go to stderr.
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
