package push

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	defaultClientBuffer = 64
	writeWait           = 10 * time.Second
	maxMessageSize      = 4096
)

// ErrClosed is returned by [Hub.Broadcast] after the hub has stopped.
var ErrClosed = errors.New("push: hub closed")

// Broadcaster sends directives to every connected player.
type Broadcaster interface {
	Broadcast(ctx context.Context, d Directive) error
}

// Compile-time interface assertions.
var (
	_ Broadcaster  = (*Hub)(nil)
	_ http.Handler = (*Hub)(nil)
)

// Hub maintains the set of connected players and fans directives out to
// them in emission order. Directives are serialised through a single
// broadcast channel drained by [Hub.Run]; each client has its own buffered
// queue and writer goroutine. A client whose queue is full is dropped.
type Hub struct {
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}

	clients   map[*client]struct{}
	count     atomic.Int64
	clientBuf int
	onClients func(n int)
	origins   []string
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithClientBuffer sets the per-client send queue length.
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.clientBuf = n
		}
	}
}

// WithClientObserver registers fn to be called with the client count after
// every change. It runs on the hub goroutine.
func WithClientObserver(fn func(n int)) HubOption {
	return func(h *Hub) {
		h.onClients = fn
	}
}

// WithOriginPatterns lists the browser origins, besides the hub's own host,
// allowed to open the push channel. Patterns use [path.Match] syntax on the
// origin host, e.g. "bot.example.com" or "*.example.com". Clients that send
// no Origin header, such as the player, are always accepted.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) {
		h.origins = append(h.origins, patterns...)
	}
}

// NewHub creates a Hub. Call [Hub.Run] to start it.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		clientBuf:  defaultClientBuffer,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Clients returns the number of connected players.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Run dispatches directives until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.remove(c)
		}
	}()

	for {
		// Client lifecycle first so a directive never misses a client that
		// registered before it was broadcast.
		select {
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slog.Warn("push: dropping slow client", "client_id", c.id)
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) add(c *client) {
	h.clients[c] = struct{}{}
	h.changed()
	slog.Info("push: client connected", "client_id", c.id, "clients", len(h.clients))
}

func (h *Hub) remove(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.changed()
	slog.Info("push: client disconnected", "client_id", c.id, "clients", len(h.clients))
}

func (h *Hub) changed() {
	h.count.Store(int64(len(h.clients)))
	if h.onClients != nil {
		h.onClients(len(h.clients))
	}
}

// Broadcast queues d for every connected client. It blocks while the
// broadcast queue is full.
func (h *Hub) Broadcast(ctx context.Context, d Directive) error {
	msg, err := Encode(d)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves one player until
// it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Warn("push: websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.clientBuf),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	case <-r.Context().Done():
		conn.CloseNow()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.writePump(ctx, cancel)
	c.readPump(ctx)
}

// client is one connected player.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump handles frames from the player until the connection fails. Skip
// requests are re-broadcast to every client.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.CloseNow()
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				slog.Debug("push: read failed", "client_id", c.id, "err", err)
			}
			return
		}

		d, err := Decode(data)
		if err != nil {
			slog.Debug("push: ignoring frame", "client_id", c.id, "err", err)
			continue
		}
		if _, ok := d.(Skip); !ok {
			slog.Debug("push: ignoring client event", "client_id", c.id, "event", d.Event())
			continue
		}
		slog.Info("push: relaying skip", "client_id", c.id)
		if err := c.hub.Broadcast(ctx, Skip{}); err != nil {
			return
		}
	}
}

// writePump is the only writer of c.conn. It exits when the hub closes
// c.send or a write fails.
func (c *client) writePump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	for msg := range c.send {
		wctx, wcancel := context.WithTimeout(ctx, writeWait)
		err := c.conn.Write(wctx, websocket.MessageText, msg)
		wcancel()
		if err != nil {
			slog.Debug("push: write failed", "client_id", c.id, "err", err)
			c.conn.CloseNow()
			return
		}
	}
	// The hub dropped this client.
	_ = c.conn.Close(websocket.StatusPolicyViolation, "removed by server")
}
