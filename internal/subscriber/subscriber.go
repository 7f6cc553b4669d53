// Package subscriber keeps a Twitch EventSub WebSocket session alive and
// publishes every channel point redemption it receives onto a
// [redemption.Bus].
//
// The subscriber runs an explicit loop: connect, read until the session
// ends, classify the cause, back off, repeat. Authentication failures take
// the slow path (a long wait that [Subscriber.Wake] can cut short); every
// other failure takes the fast path.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/oauth2"

	"github.com/yldhj/daftmapler/internal/credential"
	"github.com/yldhj/daftmapler/internal/redemption"
	"github.com/yldhj/daftmapler/internal/twitch"
)

// Default backoffs.
const (
	DefaultShortBackoff = 5 * time.Second
	DefaultLongBackoff  = 5 * time.Minute

	// DefaultKeepaliveGrace is added to the keepalive timeout announced by
	// Twitch before the session is considered dead.
	DefaultKeepaliveGrace = 5 * time.Second

	welcomeTimeout = 15 * time.Second
	dedupeWindow   = 128
)

// Reconnect paths reported to [Config.OnReconnect].
const (
	PathFast = "fast"
	PathSlow = "slow"
)

// ErrAuthRejected is returned when Twitch rejects the stored credential. The
// subscriber waits for a new authorization before trying again.
var ErrAuthRejected = errors.New("subscriber: authentication rejected")

// State is the connection state of a [Subscriber].
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Config holds the dependencies of a [Subscriber].
type Config struct {
	Store  credential.Store
	OAuth  *oauth2.Config
	Twitch *twitch.Client
	Bus    *redemption.Bus

	// EventSubURL is the WebSocket endpoint. Defaults to the Twitch
	// production endpoint.
	EventSubURL string

	// BaseURL is the public server URL shown in the re-authorization hint.
	BaseURL string

	// HTTPClient is used for token refreshes. Defaults to
	// [http.DefaultClient].
	HTTPClient *http.Client

	ShortBackoff   time.Duration
	LongBackoff    time.Duration
	KeepaliveGrace time.Duration

	// Sleep waits for d or until ctx is done. Defaults to
	// [credential.Sleep].
	Sleep func(ctx context.Context, d time.Duration) error

	// OnStateChange is called on every state transition. May be nil.
	OnStateChange func(State)

	// OnReconnect is called with [PathFast] or [PathSlow] before each
	// backoff. May be nil.
	OnReconnect func(path string)
}

// Subscriber owns the EventSub session. Create one with [New] and drive it
// with [Subscriber.Run].
type Subscriber struct {
	cfg   Config
	state atomic.Int32

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	// seen holds recent message ids; Twitch may deliver a message twice.
	seen    map[string]struct{}
	seenLog []string
}

// New creates a Subscriber. Zero durations take their defaults.
func New(cfg Config) *Subscriber {
	if cfg.EventSubURL == "" {
		cfg.EventSubURL = twitch.EventSubURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.ShortBackoff <= 0 {
		cfg.ShortBackoff = DefaultShortBackoff
	}
	if cfg.LongBackoff <= 0 {
		cfg.LongBackoff = DefaultLongBackoff
	}
	if cfg.KeepaliveGrace <= 0 {
		cfg.KeepaliveGrace = DefaultKeepaliveGrace
	}
	if cfg.Sleep == nil {
		cfg.Sleep = credential.Sleep
	}
	return &Subscriber{
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
		seen:   make(map[string]struct{}, dedupeWindow),
	}
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// Wake cuts a pending slow-path wait short. It is called after a new
// credential has been stored.
func (s *Subscriber) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close ends the session without reconnecting. Run returns nil afterwards.
// Safe to call multiple times.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// Run connects and keeps the session alive until ctx is cancelled or Close
// is called, both of which return nil. A missing or malformed stored
// credential ends Run with an error wrapping [credential.ErrNotFound] or
// [credential.ErrInvalid].
func (s *Subscriber) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		err := s.session(ctx)
		s.setState(StateDisconnected)

		if ctx.Err() != nil {
			slog.Info("subscriber: closed")
			return nil
		}

		switch {
		case errors.Is(err, credential.ErrNotFound), errors.Is(err, credential.ErrInvalid):
			slog.Error("subscriber: token record is not usable", "err", err)
			return fmt.Errorf("subscriber: %w", err)

		case errors.Is(err, ErrAuthRejected):
			slog.Error(fmt.Sprintf("Current token is invalid. Supply your token by validating. Go to %s/api/verify", s.cfg.BaseURL), "err", err)
			slog.Info("subscriber: sleeping before the next attempt", "wait", s.cfg.LongBackoff)
			s.reconnecting(PathSlow)
			if err := s.wait(ctx, s.cfg.LongBackoff, true); err != nil {
				return nil
			}

		default:
			slog.Warn("subscriber: disconnected, reconnecting", "err", err, "wait", s.cfg.ShortBackoff)
			s.reconnecting(PathFast)
			if err := s.wait(ctx, s.cfg.ShortBackoff, false); err != nil {
				return nil
			}
		}
	}
}

func (s *Subscriber) reconnecting(path string) {
	if s.cfg.OnReconnect != nil {
		s.cfg.OnReconnect(path)
	}
}

// wait sleeps for d. A wakeable wait also ends when Wake is called.
func (s *Subscriber) wait(ctx context.Context, d time.Duration, wakeable bool) error {
	sleepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if wakeable {
		go func() {
			select {
			case <-s.wake:
				slog.Info("subscriber: woken by new authorization")
				cancel()
			case <-sleepCtx.Done():
			}
		}()
	}
	_ = s.cfg.Sleep(sleepCtx, d)
	return ctx.Err()
}

func (s *Subscriber) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	slog.Debug("subscriber: state changed", "state", st)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(st)
	}
}

// session runs one connect cycle and returns why it ended.
func (s *Subscriber) session(ctx context.Context) error {
	s.setState(StateConnecting)

	// A wake sent before this Load is already served by it.
	select {
	case <-s.wake:
	default:
	}

	cred, err := s.cfg.Store.Load(ctx)
	if err != nil {
		return err
	}

	oauthCtx := context.WithValue(ctx, oauth2.HTTPClient, s.cfg.HTTPClient)
	ts := credential.NewTokenSource(oauthCtx, s.cfg.OAuth, cred, s.cfg.Store)

	tok, id, err := s.authenticate(ctx, ts)
	if err != nil {
		return err
	}

	conn, sess, err := s.dial(ctx, s.cfg.EventSubURL)
	if err != nil {
		return err
	}
	defer func() { conn.CloseNow() }()

	err = s.cfg.Twitch.SubscribeRedemptions(ctx, tok.AccessToken, id.UserID, sess.ID)
	if errors.Is(err, twitch.ErrUnauthorized) || errors.Is(err, twitch.ErrForbidden) {
		return fmt.Errorf("%w: %w", ErrAuthRejected, err)
	}
	if err != nil {
		return err
	}

	slog.Info("subscriber: connected", "session_id", sess.ID, "broadcaster", id.Login)
	s.setState(StateConnected)

	return s.readLoop(ctx, &conn, sess)
}

// authenticate obtains a usable access token and the broadcaster identity.
// A token that fails validation is refreshed once.
func (s *Subscriber) authenticate(ctx context.Context, ts *credential.TokenSource) (*oauth2.Token, *twitch.Identity, error) {
	tok, err := ts.Token()
	if err != nil {
		return nil, nil, classifyTokenErr(err)
	}

	id, err := s.cfg.Twitch.Validate(ctx, tok.AccessToken)
	if errors.Is(err, twitch.ErrUnauthorized) {
		slog.Info("subscriber: access token rejected, refreshing")
		tok, err = ts.ForceRefresh()
		if err != nil {
			return nil, nil, classifyTokenErr(err)
		}
		id, err = s.cfg.Twitch.Validate(ctx, tok.AccessToken)
	}
	if errors.Is(err, twitch.ErrUnauthorized) {
		return nil, nil, fmt.Errorf("%w: %w", ErrAuthRejected, err)
	}
	if err != nil {
		return nil, nil, err
	}
	return tok, id, nil
}

// classifyTokenErr maps a refresh rejected by Twitch to [ErrAuthRejected].
func classifyTokenErr(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", ErrAuthRejected, err)
		}
	}
	return fmt.Errorf("subscriber: obtain token: %w", err)
}

// dial opens an EventSub WebSocket and waits for its welcome message.
func (s *Subscriber) dial(ctx context.Context, url string) (*websocket.Conn, twitch.Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, welcomeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, twitch.Session{}, fmt.Errorf("subscriber: dial %s: %w", url, err)
	}

	msg, err := readMessage(dialCtx, conn)
	if err != nil {
		conn.CloseNow()
		return nil, twitch.Session{}, fmt.Errorf("subscriber: await welcome: %w", err)
	}
	if msg.Metadata.MessageType != twitch.MessageWelcome {
		conn.CloseNow()
		return nil, twitch.Session{}, fmt.Errorf("subscriber: expected %s, got %q", twitch.MessageWelcome, msg.Metadata.MessageType)
	}
	sess, err := msg.DecodeSession()
	if err != nil {
		conn.CloseNow()
		return nil, twitch.Session{}, err
	}
	return conn, sess, nil
}

// readLoop handles messages until the session ends. *connp is replaced when
// Twitch asks for a reconnect.
func (s *Subscriber) readLoop(ctx context.Context, connp **websocket.Conn, sess twitch.Session) error {
	keepalive := s.keepalive(sess)

	for {
		readCtx, cancel := context.WithTimeout(ctx, keepalive)
		msg, err := readMessage(readCtx, *connp)
		expired := errors.Is(readCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil {
			if expired && ctx.Err() == nil {
				return fmt.Errorf("subscriber: no message within keepalive window %s", keepalive)
			}
			return fmt.Errorf("subscriber: read: %w", err)
		}

		switch msg.Metadata.MessageType {
		case twitch.MessageKeepalive:
			// The deadline is renewed on every message.

		case twitch.MessageNotification:
			if s.duplicate(msg.Metadata.MessageID) {
				continue
			}
			if err := s.handleNotification(ctx, msg); err != nil {
				return err
			}

		case twitch.MessageReconnect:
			next, err := msg.DecodeSession()
			if err != nil {
				return err
			}
			slog.Info("subscriber: server requested reconnect", "url", next.ReconnectURL)
			conn, newSess, err := s.dial(ctx, next.ReconnectURL)
			if err != nil {
				return err
			}
			_ = (*connp).Close(websocket.StatusNormalClosure, "reconnecting")
			*connp = conn
			keepalive = s.keepalive(newSess)
			slog.Info("subscriber: reconnected", "session_id", newSess.ID)

		case twitch.MessageRevocation:
			n, err := msg.DecodeNotification()
			if err != nil {
				return fmt.Errorf("%w: subscription revoked", ErrAuthRejected)
			}
			return fmt.Errorf("%w: subscription %s revoked: %s", ErrAuthRejected, n.Subscription.ID, n.Subscription.Status)

		default:
			slog.Debug("subscriber: ignoring message", "type", msg.Metadata.MessageType)
		}
	}
}

func (s *Subscriber) keepalive(sess twitch.Session) time.Duration {
	secs := sess.KeepaliveTimeoutSeconds
	if secs <= 0 {
		secs = 10
	}
	return time.Duration(secs)*time.Second + s.cfg.KeepaliveGrace
}

func (s *Subscriber) handleNotification(ctx context.Context, msg *twitch.Message) error {
	if msg.Metadata.SubscriptionType != twitch.RedemptionAddType {
		slog.Debug("subscriber: ignoring notification", "subscription_type", msg.Metadata.SubscriptionType)
		return nil
	}
	n, err := msg.DecodeNotification()
	if err != nil {
		slog.Warn("subscriber: malformed notification", "err", err)
		return nil
	}
	ev, err := n.DecodeRedemption()
	if err != nil {
		slog.Warn("subscriber: malformed redemption event", "err", err)
		return nil
	}

	r := redemption.FromEvent(ev)
	slog.Info("subscriber: redemption",
		"reward", r.Name,
		"user", r.Username,
		"has_message", r.HasMessage,
		"redemption_id", r.RedemptionID,
	)
	return s.cfg.Bus.Publish(ctx, r)
}

// duplicate reports whether id was already handled, remembering it if not.
func (s *Subscriber) duplicate(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := s.seen[id]; ok {
		return true
	}
	s.seen[id] = struct{}{}
	s.seenLog = append(s.seenLog, id)
	if len(s.seenLog) > dedupeWindow {
		delete(s.seen, s.seenLog[0])
		s.seenLog = s.seenLog[1:]
	}
	return false
}

func readMessage(ctx context.Context, conn *websocket.Conn) (*twitch.Message, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var msg twitch.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("subscriber: decode message: %w", err)
	}
	return &msg, nil
}
