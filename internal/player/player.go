// Package player connects a playback engine to the backend push channel.
// Directives received over the WebSocket become queue operations, and skip
// requests typed by the operator are relayed back to the server.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/yldhj/daftmapler/internal/push"
	"github.com/yldhj/daftmapler/pkg/audio/playback"
)

// ErrNotConnected is returned by [Client.Skip] while no push connection is
// open.
var ErrNotConnected = errors.New("player: not connected")

const (
	defaultReconnectDelay = 5 * time.Second
	dialTimeout           = 15 * time.Second
	writeTimeout          = 10 * time.Second
)

// Engine is the part of [playback.Engine] the client drives.
type Engine interface {
	Enqueue(src playback.Source, volume float64)
	Skip() bool
}

var _ Engine = (*playback.Engine)(nil)

// Config configures a [Client].
type Config struct {
	// Server is the backend base URL, e.g. https://bot.example.
	Server string

	Engine Engine

	// HTTPClient is used for the WebSocket handshake. May be nil.
	HTTPClient *http.Client

	// ReconnectDelay is the pause between connection attempts. Default 5s.
	ReconnectDelay time.Duration

	// Sleep replaces the reconnect wait in tests.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnConnect is called with true when a connection opens and false when
	// it closes. May be nil.
	OnConnect func(connected bool)
}

// Client keeps a push channel connection open and feeds the engine.
type Client struct {
	cfg    Config
	server *url.URL
	wsURL  string

	mu   sync.Mutex
	conn *websocket.Conn
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Engine == nil {
		return nil, errors.New("player: engine is required")
	}
	server, err := parseServer(cfg.Server)
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	return &Client{cfg: cfg, server: server, wsURL: wsURL(server)}, nil
}

func parseServer(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("player: parse server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("player: server URL must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("player: server URL %q has no host", raw)
	}
	u.RawQuery, u.Fragment = "", ""
	return u, nil
}

// wsURL derives the push channel endpoint from the server URL.
func wsURL(server *url.URL) string {
	u := *server
	u.Scheme = "ws"
	if server.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// WSURL returns the push channel endpoint the client dials.
func (c *Client) WSURL() string { return c.wsURL }

// Source maps a directive to the clip it plays. ok is false for directives
// that do not enqueue anything.
func (c *Client) Source(d push.Directive) (src playback.Source, volume float64, ok bool) {
	switch d := d.(type) {
	case push.TTS:
		return playback.Source{Locator: c.ttsLocator(d.Text)}, d.Volume, true
	case push.SFX:
		return playback.Source{Locator: c.soundLocator(d.File), Cacheable: true}, d.Volume, true
	}
	return playback.Source{}, 0, false
}

func (c *Client) ttsLocator(text string) string {
	return c.server.String() + "/api/tts?text=" + url.QueryEscape(text)
}

func (c *Client) soundLocator(file string) string {
	segs := strings.Split(strings.TrimLeft(file, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return c.server.String() + "/sound/" + strings.Join(segs, "/")
}

// Handle applies one directive to the engine.
func (c *Client) Handle(d push.Directive) {
	if _, ok := d.(push.Skip); ok {
		skipped := c.cfg.Engine.Skip()
		slog.Info("player: skip", "skipped", skipped)
		return
	}
	src, volume, ok := c.Source(d)
	if !ok {
		return
	}
	slog.Debug("player: enqueue", "event", d.Event(), "locator", src.Locator, "volume", volume)
	c.cfg.Engine.Enqueue(src, volume)
}

// Run keeps the connection open until ctx is cancelled. It always returns
// nil once ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("player: push channel lost, reconnecting", "err", err, "delay", c.cfg.ReconnectDelay)
		if err := c.cfg.Sleep(ctx, c.cfg.ReconnectDelay); err != nil {
			return nil
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dctx, c.wsURL, &websocket.DialOptions{HTTPClient: c.cfg.HTTPClient})
	cancel()
	if err != nil {
		return fmt.Errorf("player: dial %s: %w", c.wsURL, err)
	}
	defer conn.CloseNow()

	c.setConn(conn)
	defer c.setConn(nil)
	slog.Info("player: connected", "url", c.wsURL)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("player: read: %w", err)
		}
		d, err := push.Decode(data)
		if err != nil {
			slog.Warn("player: ignoring frame", "err", err)
			continue
		}
		c.Handle(d)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect(conn != nil)
	}
}

// Skip asks the server to skip the current clip on every player. The local
// engine skips when the server's broadcast arrives.
func (c *Client) Skip(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := push.Encode(push.Skip{})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("player: send skip: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
