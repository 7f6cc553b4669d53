package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yldhj/daftmapler/internal/config"
)

// Default backoffs between credential checks.
const (
	DefaultShortBackoff = 60 * time.Second
	DefaultLongBackoff  = 5 * time.Minute

	// DefaultMaxRetries is used when Validate is given a non-positive count.
	DefaultMaxRetries = 3
)

// BackoffTier names the wait the manager is currently in.
type BackoffTier string

const (
	TierNone  BackoffTier = "none"
	TierShort BackoffTier = "short"
	TierLong  BackoffTier = "long"
)

// Status is a snapshot of the manager's retry state.
type Status struct {
	// Remaining is the number of short retries left before the long backoff.
	Remaining int
	Tier      BackoffTier
	// Attempts counts every Load performed by Validate.
	Attempts int
}

// Manager waits for a well-formed credential to become available.
type Manager struct {
	store        Store
	clientID     string
	clientSecret string

	short time.Duration
	long  time.Duration
	sleep func(ctx context.Context, d time.Duration) error
	wake  <-chan struct{}

	mu     sync.Mutex
	status Status
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithBackoff overrides the short and long backoff durations.
func WithBackoff(short, long time.Duration) ManagerOption {
	return func(m *Manager) {
		m.short = short
		m.long = long
	}
}

// WithSleep replaces the context-aware sleep used between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ManagerOption {
	return func(m *Manager) {
		m.sleep = fn
	}
}

// WithWake ends a pending backoff when wake receives. A signal sent while
// no backoff is pending is discarded by the next Load, which already sees
// the new record.
func WithWake(wake <-chan struct{}) ManagerOption {
	return func(m *Manager) {
		m.wake = wake
	}
}

// NewManager creates a Manager reading from store.
func NewManager(store Store, clientID, clientSecret string, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:        store,
		clientID:     clientID,
		clientSecret: clientSecret,
		short:        DefaultShortBackoff,
		long:         DefaultLongBackoff,
		sleep:        Sleep,
		status:       Status{Tier: TierNone},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Status returns the current retry state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Validate blocks until the store holds a well-formed credential.
//
// Each missing or malformed observation waits the short backoff and uses up
// one retry. When the retries run out it waits the long backoff and starts
// over with maxRetries. It returns nil once a credential is seen, ctx.Err()
// on cancellation, or [config.ErrMissing] when the client credentials are
// not configured.
func (m *Manager) Validate(ctx context.Context, maxRetries int) error {
	if m.clientID == "" || m.clientSecret == "" {
		return fmt.Errorf("%w: CLIENT_ID or CLIENT_SECRET is not set", config.ErrMissing)
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	remaining := maxRetries
	for {
		if remaining == 0 {
			slog.Warn("credential: ran out of retries, waiting for the long backoff", "wait", m.long)
			m.setStatus(remaining, TierLong, false)
			if err := m.backoff(ctx, m.long); err != nil {
				return err
			}
			remaining = maxRetries
		}

		m.setStatus(remaining, TierNone, true)
		m.drainWake()
		_, err := m.store.Load(ctx)
		if err == nil {
			slog.Info("credential: token record is present")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalid) {
			slog.Warn("credential: cannot load token record", "err", err)
		} else {
			slog.Error("credential: token record is not set properly; authorize via /api/verify or copy the example file", "err", err)
		}

		m.setStatus(remaining, TierShort, false)
		if err := m.backoff(ctx, m.short); err != nil {
			return err
		}
		remaining--
	}
}

// backoff waits d, or less when a wake arrives.
func (m *Manager) backoff(ctx context.Context, d time.Duration) error {
	if m.wake == nil {
		return m.sleep(ctx, d)
	}
	sleepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.wake:
			slog.Info("credential: woken by new authorization")
			cancel()
		case <-sleepCtx.Done():
		}
	}()
	_ = m.sleep(sleepCtx, d)
	return ctx.Err()
}

func (m *Manager) drainWake() {
	select {
	case <-m.wake:
	default:
	}
}

func (m *Manager) setStatus(remaining int, tier BackoffTier, attempt bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Remaining = remaining
	m.status.Tier = tier
	if attempt {
		m.status.Attempts++
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
