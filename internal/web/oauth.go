package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"github.com/yldhj/daftmapler/internal/credential"
)

const (
	stateCookieName = "daftmapler_oauth_state"
	stateCookiePath = "/oauth2"
	stateCookieTTL  = 6 * time.Minute
)

func newStateCookies(secret []byte) *securecookie.SecureCookie {
	sc := securecookie.New(secret, nil)
	sc.MaxAge(int(stateCookieTTL / time.Second))
	return sc
}

// handleVerify starts the OAuth handshake. A random state is kept in a
// signed cookie and sent along to the Twitch authorize endpoint.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	encoded, err := s.cookies.Encode(stateCookieName, state)
	if err != nil {
		slog.Error("web: encode state cookie", "err", err)
		http.Error(w, "Error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    encoded,
		Path:     stateCookiePath,
		MaxAge:   int(stateCookieTTL / time.Second),
		Expires:  s.cfg.Now().Add(stateCookieTTL),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.cfg.OAuth.AuthCodeURL(state), http.StatusFound)
}

// handleCallback completes the OAuth handshake. The credential is stored
// only when the authorizing login is the configured channel.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if q.Get("error") != "" || q.Get("code") == "" {
		slog.Warn("web: oauth callback without code", "error", q.Get("error"), "description", q.Get("error_description"))
		http.Redirect(w, r, s.cfg.BaseURL+"/error", http.StatusFound)
		return
	}

	if !s.stateMatches(r, q.Get("state")) {
		slog.Warn("web: oauth state mismatch", "remote", r.RemoteAddr)
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	}
	s.clearStateCookie(w)

	tok, err := s.cfg.OAuth.Exchange(ctx, q.Get("code"))
	if err != nil {
		slog.Error("web: exchange authorization code", "err", err)
		http.Error(w, "Error", http.StatusInternalServerError)
		return
	}

	id, err := s.cfg.Identity.Validate(ctx, tok.AccessToken)
	if err != nil {
		slog.Error("web: validate new token", "err", err)
		http.Error(w, "Error", http.StatusInternalServerError)
		return
	}
	if id.Login != s.cfg.ChannelLogin {
		slog.Warn("web: authorizing user is not the channel owner", "login", id.Login, "want", s.cfg.ChannelLogin)
		http.Error(w, "User mismatch", http.StatusBadRequest)
		return
	}

	cred := credential.FromToken(tok)
	if tok.Expiry.IsZero() && id.ExpiresIn > 0 {
		cred.Expiry = s.cfg.Now().Add(time.Duration(id.ExpiresIn) * time.Second)
	}
	if err := s.cfg.Store.Save(ctx, cred); err != nil {
		slog.Error("web: store credential", "err", err)
		http.Error(w, "Error", http.StatusInternalServerError)
		return
	}
	slog.Info("web: stored credential for channel", "login", id.Login, "user_id", id.UserID)

	if s.cfg.Waker != nil {
		s.cfg.Waker.Wake()
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Matching user. The redemption feed reconnects now."))
}

func (s *Server) stateMatches(r *http.Request, state string) bool {
	if state == "" {
		return false
	}
	c, err := r.Cookie(stateCookieName)
	if err != nil {
		return false
	}
	var want string
	if err := s.cookies.Decode(stateCookieName, c.Value, &want); err != nil {
		return false
	}
	return want == state
}

func (s *Server) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     stateCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
