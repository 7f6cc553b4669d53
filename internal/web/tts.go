package web

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yldhj/daftmapler/internal/observe"
)

const (
	defaultTTSRate  = rate.Limit(2)
	defaultTTSBurst = 5

	// limiterIdle is how long an unused client limiter is kept.
	limiterIdle = 10 * time.Minute
	limiterGC   = 1000
)

// handleTTS proxies the speech backend. The request has already passed the
// rate limit and the content filter.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	text := r.URL.Query().Get("text")

	start := time.Now()
	speech, err := s.cfg.TTS.Synthesize(ctx, text)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, ctx.Err()) {
			s.cfg.Metrics.RecordTTSRequest(ctx, "canceled", elapsed)
			return
		}
		observe.Logger(ctx).Error("web: synthesize speech", "err", err)
		s.cfg.Metrics.RecordTTSRequest(ctx, "error", elapsed)
		writeError(w, http.StatusBadGateway, "Speech synthesis failed")
		return
	}
	s.cfg.Metrics.RecordTTSRequest(ctx, "ok", elapsed)

	w.Header().Set("Content-Type", speech.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(speech.Audio)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(speech.Audio)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*limiterEntry
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if limit <= 0 {
		limit = defaultTTSRate
	}
	if burst <= 0 {
		burst = defaultTTSBurst
	}
	return &clientLimiter{
		limit:   limit,
		burst:   burst,
		clients: map[string]*limiterEntry{},
	}
}

func (l *clientLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.clients[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = e
		l.gcLocked(now)
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

func (l *clientLimiter) gcLocked(now time.Time) {
	if len(l.clients) < limiterGC {
		return
	}
	cutoff := now.Add(-limiterIdle)
	for key, e := range l.clients {
		if e.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

func (l *clientLimiter) middleware(m *observe.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientKey(r)) {
				m.RecordTTSRequest(r.Context(), "rate_limited", 0)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the caller. RemoteAddr has already been rewritten
// from forwarding headers by the RealIP middleware.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}
