package outbox

import (
	"context"
	"sync"
	"time"

	"warimas-pos/internal/logger"

	"go.uber.org/zap"
)

type Prober interface {
	Ping(ctx context.Context) error
}

// Connectivity tracks whether the backend answers its health probe. It starts
// out optimistic; the first failed probe or send flips it.
type Connectivity struct {
	prober   Prober
	interval time.Duration

	mu     sync.RWMutex
	online bool
}

func NewConnectivity(prober Prober, interval time.Duration) *Connectivity {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Connectivity{prober: prober, interval: interval, online: true}
}

func (c *Connectivity) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// MarkOffline is called when a send could not reach the backend, so the next
// successful probe counts as coming back online.
func (c *Connectivity) MarkOffline() {
	c.set(false)
}

// Check probes once and reports whether the backend just came back online.
func (c *Connectivity) Check(ctx context.Context) bool {
	err := c.prober.Ping(ctx)
	was := c.set(err == nil)

	log := logger.FromCtx(ctx).With(zap.String("layer", "connectivity"))
	switch {
	case err == nil && !was:
		log.Info("backend reachable again")
		return true
	case err != nil && was:
		log.Warn("backend unreachable", zap.Error(err))
	}
	return false
}

func (c *Connectivity) set(online bool) (was bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	was = c.online
	c.online = online
	return was
}

// Run probes on every interval and calls onOnline on each offline to online
// transition.
func (c *Connectivity) Run(ctx context.Context, onOnline func()) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if c.Check(ctx) && onOnline != nil {
			onOnline()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
