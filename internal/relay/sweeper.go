package relay

import (
	"context"
	"time"

	"github.com/chatrelay/internal/logger"
)

// Sweeper runs the periodic liveness pass. It shares the engine's timeout
// constants, so a lazy read and a sweep always agree on what is stale.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{engine: engine, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	logger.Infof("liveness sweeper started, interval=%s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("liveness sweeper stopped")
			return
		case <-ticker.C:
			s.engine.SweepExpired()
		}
	}
}
