// Package governor enforces the daemon's resource policy: per-caller
// sliding-window rate limits by operation class, and a global budget on
// buffered audio bytes. Every admission decision happens before any work is
// queued, so a rejected request costs the caller nothing but the round trip.
package governor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openvoiced/voiced/internal/config"
)

// Governor combines admission control and the memory budget behind one
// handle that services consult before doing work.
type Governor struct {
	limiter *RateLimiter
	budget  *MemoryBudget

	sweepEvery time.Duration
	log        *slog.Logger
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func New(cfg config.GovernorConfig, log *slog.Logger) *Governor {
	return &Governor{
		limiter:    NewRateLimiter(cfg, log),
		budget:     NewMemoryBudget(cfg.GlobalBudgetMB, cfg.PerRequestMB),
		sweepEvery: time.Duration(cfg.SweepIntervalMS) * time.Millisecond,
		log:        log,
	}
}

// Start launches the periodic stale-bucket sweep.
func (g *Governor) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(g.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.limiter.Sweep()
			}
		}
	}()
	g.log.Info("governor started", slog.Duration("sweep_interval", g.sweepEvery))
}

func (g *Governor) Close() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

// Admit checks the caller's rate limit for the operation class.
func (g *Governor) Admit(callerID string, op OpClass) error {
	return g.limiter.Admit(callerID, op)
}

// Reserve claims audio bytes against the global budget.
func (g *Governor) Reserve(n int64) (*Reservation, error) {
	return g.budget.Reserve(n)
}

// AudioBytesInUse reports currently reserved audio bytes.
func (g *Governor) AudioBytesInUse() int64 {
	return g.budget.Used()
}
