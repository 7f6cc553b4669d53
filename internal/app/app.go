// Package app wires the daftmapler backend into a running process.
//
// New builds every subsystem from a [config.Config]: the credential store,
// the EventSub subscriber, the redemption router, the push hub, the speech
// backends and the HTTP server. Run drives them until the context ends and
// Shutdown releases what New acquired.
//
// Tests inject doubles through functional options (WithStore, WithTTS,
// WithHTTPClient). Anything not injected is created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/yldhj/daftmapler/internal/config"
	"github.com/yldhj/daftmapler/internal/credential"
	"github.com/yldhj/daftmapler/internal/filter"
	"github.com/yldhj/daftmapler/internal/health"
	"github.com/yldhj/daftmapler/internal/observe"
	"github.com/yldhj/daftmapler/internal/push"
	"github.com/yldhj/daftmapler/internal/redemption"
	"github.com/yldhj/daftmapler/internal/resilience"
	"github.com/yldhj/daftmapler/internal/router"
	"github.com/yldhj/daftmapler/internal/subscriber"
	"github.com/yldhj/daftmapler/internal/twitch"
	"github.com/yldhj/daftmapler/internal/web"
	"github.com/yldhj/daftmapler/pkg/provider/tts"
	oaitts "github.com/yldhj/daftmapler/pkg/provider/tts/openai"
	"github.com/yldhj/daftmapler/pkg/provider/tts/remote"
)

const (
	// outboundTimeout bounds every outbound HTTP request.
	outboundTimeout = 30 * time.Second

	shutdownTimeout = 15 * time.Second

	// credentialRetries is the short-backoff budget of the token manager.
	credentialRetries = 3
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	httpClient *http.Client
	store      credential.Store
	speech     tts.Provider
	listener   net.Listener

	metrics    *observe.Metrics
	metricsH   http.Handler
	manager    *credential.Manager
	hub        *push.Hub
	bus        *redemption.Bus
	sub        *subscriber.Subscriber
	router     *router.Router
	filter     *filter.Filter
	web        *web.Server
	server     *http.Server
	wake       chan struct{}
	sounds     *config.Watcher[*config.SoundConfig]
	filterList *config.Watcher[[]string]

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a credential store instead of creating one from config.
func WithStore(s credential.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTTS injects a speech backend instead of creating one from config.
func WithTTS(p tts.Provider) Option {
	return func(a *App) { a.speech = p }
}

// WithHTTPClient sets the client used for Twitch and speech requests.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.httpClient = c }
}

// WithListener serves HTTP on l instead of binding cfg.ListenAddr().
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithMetrics records into m and serves h at /metrics.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsH = h
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It loads the sound
// catalog and the filter list synchronously, so a malformed file fails here.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:  cfg,
		wake: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: outboundTimeout}
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Credential store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init credential store: %w", err)
	}
	a.manager = credential.NewManager(a.store, cfg.ClientID, cfg.ClientSecret,
		credential.WithWake(a.wake))

	// ── 2. Push hub and routing ──────────────────────────────────────────
	hubOpts := []push.HubOption{push.WithClientObserver(func(n int) {
		a.metrics.SetPushClients(context.Background(), n)
	})}
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
		hubOpts = append(hubOpts, push.WithOriginPatterns(u.Host))
	}
	a.hub = push.NewHub(hubOpts...)
	a.bus = redemption.NewBus(redemption.DefaultBusSize)

	if err := a.initSounds(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init sounds: %w", err)
	}

	// ── 3. Content filter ────────────────────────────────────────────────
	if err := a.initFilter(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init filter: %w", err)
	}

	// ── 4. Twitch subscriber ─────────────────────────────────────────────
	oauthCfg := twitch.OAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI())
	twitchClient := twitch.NewClient(cfg.ClientID,
		twitch.WithHTTPClient(a.httpClient),
		twitch.WithHelixURL(cfg.HelixURL),
	)
	a.sub = subscriber.New(subscriber.Config{
		Store:       a.store,
		OAuth:       oauthCfg,
		Twitch:      twitchClient,
		Bus:         a.bus,
		EventSubURL: cfg.EventSubURL,
		BaseURL:     cfg.BaseURL,
		HTTPClient:  a.httpClient,
		OnStateChange: func(s subscriber.State) {
			a.metrics.SetSubscriberState(context.Background(), int64(s))
		},
		OnReconnect: func(path string) {
			a.metrics.RecordReconnect(context.Background(), path)
		},
	})

	// ── 5. Speech backends ───────────────────────────────────────────────
	if a.speech == nil && cfg.TTSEnabled() {
		speech, err := a.buildSpeech()
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init speech: %w", err)
		}
		a.speech = speech
	}

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	checks := health.New(
		health.Checker{Name: "credentials", Check: func(ctx context.Context) error {
			_, err := a.store.Load(ctx)
			return err
		}},
		health.Checker{Name: "eventsub", Check: func(context.Context) error {
			if s := a.sub.State(); s != subscriber.StateConnected {
				return fmt.Errorf("subscriber is %s", s)
			}
			return nil
		}},
	)
	a.web = web.New(web.Config{
		BaseURL:        cfg.BaseURL,
		ChannelLogin:   cfg.ChannelLogin,
		CookieSecret:   []byte(cfg.CookieSecret),
		SecureCookie:   cfg.SecureCookie,
		OAuth:          oauthCfg,
		Identity:       twitchClient,
		Store:          a.store,
		Waker:          a,
		Hub:            a.hub,
		Sounds:         a.router.Config,
		TTS:            a.speech,
		Filter:         a.filter,
		TTSRateLimit:   rate.Limit(cfg.TTSRateLimit),
		TTSRateBurst:   cfg.TTSRateBurst,
		StaticDir:      cfg.StaticDir,
		Metrics:        a.metrics,
		MetricsHandler: a.metricsH,
		Health:         checks,
	})
	a.server = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           a.web,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.cfg.CredentialDSN == "" {
		a.store = credential.NewFileStore(a.cfg.CredentialFile)
		slog.Info("credential store: file", "path", a.cfg.CredentialFile)
		return nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.CredentialDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	pg := credential.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	a.store = pg
	slog.Info("credential store: postgres")
	return nil
}

func (a *App) initSounds() error {
	var current *config.SoundConfig
	if a.cfg.WatchInterval > 0 {
		w, err := config.NewWatcher(a.cfg.SoundConfig, config.ParseSounds,
			func(_, next *config.SoundConfig) {
				a.router.SetConfig(next)
				slog.Info("sound configuration reloaded", "sounds", len(next.Sounds))
			},
			config.WithInterval(a.cfg.WatchInterval),
		)
		if err != nil {
			return err
		}
		a.sounds = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
		current = w.Current()
	} else {
		sc, err := config.LoadSounds(a.cfg.SoundConfig)
		if err != nil {
			return err
		}
		current = sc
	}

	a.router = router.New(current, a.hub, router.WithObserver(func(_ redemption.Redemption, d push.Directive) {
		a.metrics.RecordDirective(context.Background(), d.Event())
	}))
	slog.Info("sound configuration loaded", "path", a.cfg.SoundConfig, "sounds", len(current.Sounds))
	return nil
}

func (a *App) initFilter() error {
	var patterns []string
	if a.cfg.WatchInterval > 0 {
		w, err := config.NewWatcher(a.cfg.FilterList, config.ParseFilterList,
			func(_, next []string) {
				a.filter.SetPatterns(next)
				slog.Info("filter list reloaded", "patterns", a.filter.Len())
			},
			config.WithInterval(a.cfg.WatchInterval),
			config.WithOptionalFile(),
		)
		if err != nil {
			return err
		}
		a.filterList = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
		patterns = w.Current()
	} else {
		p, err := config.LoadFilterList(a.cfg.FilterList)
		if err != nil {
			return err
		}
		patterns = p
	}

	a.filter = filter.New(patterns, filter.WithRejectObserver(func(reason string) {
		a.metrics.RecordFilterRejection(context.Background(), reason)
	}))
	slog.Info("filter list loaded", "path", a.cfg.FilterList, "patterns", a.filter.Len())
	return nil
}

// buildSpeech creates the configured speech backends. The HTTP backend is
// the primary when set; OpenAI is the primary otherwise and a fallback
// when both are configured.
func (a *App) buildSpeech() (tts.Provider, error) {
	var backends []struct {
		name string
		p    tts.Provider
	}
	add := func(name string, p tts.Provider) {
		backends = append(backends, struct {
			name string
			p    tts.Provider
		}{name, p})
	}

	if a.cfg.TTSURL != "" {
		p, err := remote.New(a.cfg.TTSURL, remote.WithHTTPClient(a.httpClient))
		if err != nil {
			return nil, err
		}
		add("remote", p)
	}
	if a.cfg.OpenAIKey != "" {
		p, err := oaitts.New(a.cfg.OpenAIKey, a.cfg.OpenAITTSModel, a.cfg.OpenAITTSVoice,
			oaitts.WithTimeout(outboundTimeout))
		if err != nil {
			return nil, err
		}
		add("openai", p)
	}
	if len(backends) == 0 {
		return nil, errors.New("no speech backend configured")
	}

	group := resilience.NewTTSFallback(backends[0].p, backends[0].name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("speech backend breaker changed state", "backend", name, "from", from.String(), "to", to.String())
			},
		},
	})
	for _, b := range backends[1:] {
		group.AddFallback(b.name, b.p)
	}
	slog.Info("speech backends configured", "order", group.Backends())
	return group, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Wake ends a pending credential or subscriber backoff early. The OAuth
// callback calls it after storing a new credential.
func (a *App) Wake() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
	a.sub.Wake()
}

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler { return a.web }

// Run serves HTTP and processes redemptions until ctx is cancelled or a
// component fails. The HTTP server is given the shutdown timeout to drain.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
	}
	slog.Info("http server listening", "addr", ln.Addr().String(), "base_url", a.cfg.BaseURL)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return a.router.Run(ctx, a.countRedemptions(ctx, a.bus.C()))
	})
	g.Go(func() error {
		return a.feed(ctx)
	})
	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// feed waits for a usable credential, then runs the subscriber. A stored
// record that turns unusable once the feed is running is fatal.
func (a *App) feed(ctx context.Context) error {
	if err := a.manager.Validate(ctx, credentialRetries); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if err := a.sub.Run(ctx); err != nil {
		return fmt.Errorf("app: redemption feed: %w", err)
	}
	return nil
}

// countRedemptions records every redemption before handing it on.
func (a *App) countRedemptions(ctx context.Context, in <-chan redemption.Redemption) <-chan redemption.Redemption {
	out := make(chan redemption.Redemption)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case rd, ok := <-in:
				if !ok {
					return
				}
				a.metrics.RecordRedemption(ctx, rd.Name)
				select {
				case out <- rd:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the resources acquired by New. It respects the context
// deadline: if ctx expires before all closers finish, the remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.sub.Close()
		shutdownErr = a.runClosers(ctx)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers(ctx context.Context) error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			slog.Warn("shutdown deadline exceeded", "remaining", i+1)
			return err
		}
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	return nil
}

// closeAll is used when New fails part way.
func (a *App) closeAll() {
	_ = a.runClosers(context.Background())
}
