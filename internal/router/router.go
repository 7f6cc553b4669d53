// Package router turns redemptions into playback directives.
package router

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yldhj/daftmapler/internal/config"
	"github.com/yldhj/daftmapler/internal/observe"
	"github.com/yldhj/daftmapler/internal/push"
	"github.com/yldhj/daftmapler/internal/redemption"
)

// Router maps redemptions to directives using the current sound
// configuration. The configuration can be swapped at any time.
type Router struct {
	cfg         atomic.Pointer[config.SoundConfig]
	out         push.Broadcaster
	onDirective func(redemption.Redemption, push.Directive)
}

// Option configures a [Router].
type Option func(*Router)

// WithObserver registers fn to be called for every emitted directive.
func WithObserver(fn func(redemption.Redemption, push.Directive)) Option {
	return func(r *Router) {
		r.onDirective = fn
	}
}

// New creates a Router that emits to out.
func New(cfg *config.SoundConfig, out push.Broadcaster, opts ...Option) *Router {
	r := &Router{out: out}
	r.cfg.Store(cfg)
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetConfig replaces the sound configuration used for subsequent routes.
func (r *Router) SetConfig(cfg *config.SoundConfig) {
	r.cfg.Store(cfg)
}

// Config returns the configuration currently in use.
func (r *Router) Config() *config.SoundConfig {
	return r.cfg.Load()
}

// Route returns the directives for rd. A speech directive comes first when
// the reward is the TTS reward and carries a message; it is followed by one
// effect directive for every sound whose prefixed name equals the reward
// title, in catalog order.
func (r *Router) Route(rd redemption.Redemption) []push.Directive {
	return Route(r.cfg.Load(), rd)
}

// Route is the pure mapping used by [Router.Route].
func Route(cfg *config.SoundConfig, rd redemption.Redemption) []push.Directive {
	if cfg == nil {
		return nil
	}

	var out []push.Directive
	tts := cfg.Redeemable.TTS
	if rd.Name == tts.Name && rd.HasMessage && rd.Message != "" {
		out = append(out, push.TTS{
			Text:   rd.Message,
			Volume: volumeOr(tts.Volume, push.DefaultTTSVolume),
		})
	}
	for _, s := range cfg.Sounds {
		if rd.Name == cfg.RewardName(s) {
			out = append(out, push.SFX{
				File:   s.File,
				Volume: volumeOr(s.Volume, push.DefaultSFXVolume),
			})
		}
	}
	return out
}

// Run routes redemptions from in, in arrival order, until in is closed or
// ctx is cancelled.
func (r *Router) Run(ctx context.Context, in <-chan redemption.Redemption) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rd, ok := <-in:
			if !ok {
				return nil
			}
			if err := r.dispatch(ctx, rd); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (r *Router) dispatch(ctx context.Context, rd redemption.Redemption) error {
	ctx, span := observe.StartSpan(ctx, "router.dispatch",
		trace.WithAttributes(observe.Attr("reward", rd.Name)))
	defer span.End()
	log := observe.Logger(ctx)

	directives := r.Route(rd)
	span.SetAttributes(attribute.Int("directives", len(directives)))
	if len(directives) == 0 {
		log.Debug("router: redemption has no sound", "reward", rd.Name, "user", rd.Username)
		return nil
	}
	for _, d := range directives {
		if err := r.out.Broadcast(ctx, d); err != nil {
			span.RecordError(err)
			return err
		}
		if r.onDirective != nil {
			r.onDirective(rd, d)
		}
		log.Info("router: directive emitted", "event", d.Event(), "reward", rd.Name, "user", rd.Username)
	}
	return nil
}

func volumeOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
