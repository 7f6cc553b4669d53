package redemption_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yldhj/daftmapler/internal/redemption"
	"github.com/yldhj/daftmapler/internal/twitch"
)

func TestFromEvent(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		name string
		ev   twitch.RedemptionEvent
		want redemption.Redemption
	}{
		{
			name: "with message",
			ev: twitch.RedemptionEvent{
				ID: "r1", UserLogin: "viewer", UserName: "Viewer", UserInput: "hello",
				Reward: twitch.Reward{ID: "rw", Title: "Say"}, RedeemedAt: at,
			},
			want: redemption.Redemption{
				Name: "Say", Username: "Viewer", Message: "hello", HasMessage: true,
				RewardID: "rw", RedemptionID: "r1", RedeemedAt: at,
			},
		},
		{
			name: "no message, login fallback",
			ev: twitch.RedemptionEvent{
				ID: "r2", UserLogin: "viewer", Reward: twitch.Reward{ID: "rw2", Title: "Clap"},
			},
			want: redemption.Redemption{
				Name: "Clap", Username: "viewer", RewardID: "rw2", RedemptionID: "r2",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := redemption.FromEvent(tt.ev); got != tt.want {
				t.Errorf("FromEvent = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBus_Order(t *testing.T) {
	t.Parallel()

	b := redemption.NewBus(4)
	names := []string{"a", "b", "c"}
	for _, n := range names {
		if err := b.Publish(t.Context(), redemption.Redemption{Name: n}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	for _, want := range names {
		if got := (<-b.C()).Name; got != want {
			t.Errorf("received %q, want %q", got, want)
		}
	}
}

func TestBus_PublishCancelled(t *testing.T) {
	t.Parallel()

	b := redemption.NewBus(1)
	if err := b.Publish(t.Context(), redemption.Redemption{Name: "fill"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := b.Publish(ctx, redemption.Redemption{Name: "blocked"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Publish error = %v, want context.Canceled", err)
	}
}
