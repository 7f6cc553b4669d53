// Package web is the backend HTTP surface: the OAuth handshake, the
// text-to-speech proxy, the push channel endpoint, operational endpoints
// and static files.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/securecookie"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/yldhj/daftmapler/internal/config"
	"github.com/yldhj/daftmapler/internal/credential"
	"github.com/yldhj/daftmapler/internal/filter"
	"github.com/yldhj/daftmapler/internal/health"
	"github.com/yldhj/daftmapler/internal/observe"
	"github.com/yldhj/daftmapler/internal/push"
	"github.com/yldhj/daftmapler/internal/twitch"
	"github.com/yldhj/daftmapler/pkg/provider/tts"
)

// IdentityValidator resolves the identity behind an access token.
type IdentityValidator interface {
	Validate(ctx context.Context, accessToken string) (*twitch.Identity, error)
}

// Waker is notified after a fresh credential has been stored.
type Waker interface {
	Wake()
}

// Hub is the push channel: a WebSocket endpoint that also accepts
// directives.
type Hub interface {
	http.Handler
	push.Broadcaster
}

// Config wires the server to its collaborators. Optional fields may be nil.
type Config struct {
	BaseURL      string
	ChannelLogin string
	CookieSecret []byte
	SecureCookie bool

	OAuth    *oauth2.Config
	Identity IdentityValidator
	Store    credential.Store

	// Waker is woken after the callback stores a credential.
	Waker Waker

	Hub Hub

	// Sounds returns the current sound configuration snapshot.
	Sounds func() *config.SoundConfig

	// TTS enables /api/tts when set. Filter must then be set as well.
	TTS          tts.Provider
	Filter       *filter.Filter
	TTSRateLimit rate.Limit
	TTSRateBurst int

	StaticDir string

	Metrics        *observe.Metrics
	MetricsHandler http.Handler
	Health         *health.Handler

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Server serves the HTTP surface.
type Server struct {
	cfg     Config
	cookies *securecookie.SecureCookie
	limiter *clientLimiter
	handler http.Handler
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{
		cfg:     cfg,
		cookies: newStateCookies(cfg.CookieSecret),
		limiter: newClientLimiter(cfg.TTSRateLimit, cfg.TTSRateBurst),
	}
	s.handler = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.cfg.Metrics))

	r.Get("/api/verify", s.handleVerify)
	r.Get("/oauth2/twitch", s.handleCallback)

	if s.cfg.TTS != nil && s.cfg.Filter != nil {
		speech := s.limiter.middleware(s.cfg.Metrics)(s.cfg.Filter.Middleware(http.HandlerFunc(s.handleTTS)))
		r.Method(http.MethodGet, "/api/tts", speech)
		r.Method(http.MethodPost, "/api/tts", speech)
	}
	if s.cfg.Hub != nil {
		r.Post("/api/skip", s.handleSkip)
		r.Handle("/ws", s.cfg.Hub)
	}
	if s.cfg.Sounds != nil {
		r.Get("/api/sounds", s.handleSounds)
	}
	if s.cfg.Health != nil {
		s.cfg.Health.Register(r)
	}
	if s.cfg.MetricsHandler != nil {
		r.Handle("/metrics", s.cfg.MetricsHandler)
	}
	if s.cfg.StaticDir != "" {
		r.Handle("/*", staticHandler(s.cfg.StaticDir))
	}
	return r
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
