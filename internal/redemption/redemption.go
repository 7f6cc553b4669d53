// Package redemption defines the normalized channel point redemption and
// the ordered channel that carries it from the subscriber to the router.
package redemption

import (
	"context"
	"time"

	"github.com/yldhj/daftmapler/internal/twitch"
)

// Redemption is a normalized reward redemption. Values are never modified
// after creation.
type Redemption struct {
	// Name is the reward title.
	Name     string
	Username string
	Message  string
	// HasMessage reports whether the viewer supplied any text.
	HasMessage bool

	// Informational fields, used in logs only.
	RewardID     string
	RedemptionID string
	RedeemedAt   time.Time
}

// FromEvent normalizes an EventSub redemption event.
func FromEvent(ev twitch.RedemptionEvent) Redemption {
	user := ev.UserName
	if user == "" {
		user = ev.UserLogin
	}
	return Redemption{
		Name:         ev.Reward.Title,
		Username:     user,
		Message:      ev.UserInput,
		HasMessage:   ev.UserInput != "",
		RewardID:     ev.Reward.ID,
		RedemptionID: ev.ID,
		RedeemedAt:   ev.RedeemedAt,
	}
}

// DefaultBusSize is the buffer of a bus created with a non-positive size.
const DefaultBusSize = 64

// Bus is a single-producer, single-consumer ordered channel of redemptions.
type Bus struct {
	ch chan Redemption
}

// NewBus creates a Bus with the given buffer size.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = DefaultBusSize
	}
	return &Bus{ch: make(chan Redemption, size)}
}

// Publish enqueues r, blocking while the buffer is full. It returns ctx.Err()
// if ctx is done first.
func (b *Bus) Publish(ctx context.Context, r Redemption) error {
	select {
	case b.ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C returns the receive side of the bus.
func (b *Bus) C() <-chan Redemption {
	return b.ch
}
