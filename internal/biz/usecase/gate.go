package usecase

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
)

// GateConfig represents send pacing configuration
type GateConfig struct {
	MinDelay   time.Duration // Minimum gap between two review requests
	MaxDelay   time.Duration // Maximum gap, the actual gap is random in [MinDelay, MaxDelay]
	MaxPerHour int           // 0 disables the cap
	MaxPerDay  int           // 0 disables the cap
}

// DefaultGateConfig returns the default pacing used on a personal messaging account
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinDelay:   40 * time.Second,
		MaxDelay:   120 * time.Second,
		MaxPerHour: 10,
		MaxPerDay:  50,
	}
}

// SendGate serializes every send on a channel session.
// Review requests are additionally spaced out and capped per hour and day;
// follow-ups only wait for the gate.
type SendGate struct {
	cfg GateConfig
	sem chan struct{}

	mu       sync.Mutex
	lastSent time.Time
	history  []time.Time // Request send times within the last 24h

	now   func() time.Time
	delay func() time.Duration
}

// NewSendGate creates a send gate
func NewSendGate(cfg GateConfig) *SendGate {
	g := &SendGate{
		cfg: cfg,
		sem: make(chan struct{}, 1),
		now: time.Now,
	}
	g.delay = g.randomDelay
	return g
}

// Request runs a review request send through the gate.
// Waiting for the gate or the pacing delay is cancellable; once fn starts it runs
// on a context detached from ctx so a send is never cut in half.
func (g *SendGate) Request(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()

	if err := g.checkCaps(); err != nil {
		return err
	}
	if err := g.waitPacing(ctx); err != nil {
		return err
	}

	err := fn(context.WithoutCancel(ctx))
	if err == nil {
		g.record()
	}
	return err
}

// FollowUp runs a follow-up send through the gate without pacing or caps
func (g *SendGate) FollowUp(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()
	return fn(context.WithoutCancel(ctx))
}

// Sent returns the number of requests sent within the last hour and day
func (g *SendGate) Sent() (hour, day int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.countLocked()
}

func (g *SendGate) acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *SendGate) release() {
	<-g.sem
}

func (g *SendGate) checkCaps() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	hour, day := g.countLocked()
	if g.cfg.MaxPerHour > 0 && hour >= g.cfg.MaxPerHour {
		return domain.ErrRateLimited
	}
	if g.cfg.MaxPerDay > 0 && day >= g.cfg.MaxPerDay {
		return domain.ErrRateLimited
	}
	return nil
}

// countLocked prunes history older than a day and counts the windows
func (g *SendGate) countLocked() (hour, day int) {
	now := g.now()
	kept := g.history[:0]
	for _, t := range g.history {
		if now.Sub(t) < 24*time.Hour {
			kept = append(kept, t)
		}
	}
	g.history = kept

	for _, t := range g.history {
		if now.Sub(t) < time.Hour {
			hour++
		}
	}
	return hour, len(g.history)
}

func (g *SendGate) waitPacing(ctx context.Context) error {
	g.mu.Lock()
	last := g.lastSent
	g.mu.Unlock()
	if last.IsZero() {
		return nil
	}

	wait := last.Add(g.delay()).Sub(g.now())
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *SendGate) record() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.lastSent = now
	g.history = append(g.history, now)
}

func (g *SendGate) randomDelay() time.Duration {
	lo, hi := g.cfg.MinDelay, g.cfg.MaxDelay
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
