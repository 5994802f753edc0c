package agent

import (
	"context"
	"time"

	"github.com/paperquant/trading-agent/internal/observ"
)

// Run executes cycles every interval until ctx is cancelled. The first cycle
// starts immediately. Cycles never overlap: the loop is sequential and
// RunCycle itself rejects concurrent callers (e.g. the manual API trigger).
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	observ.Logger.Info().Dur("interval", interval).Msg("scheduler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.RunCycle(ctx); err != nil && err != ErrCycleRunning {
			observ.Logger.Error().Err(err).Msg("cycle failed")
		}
		select {
		case <-ctx.Done():
			observ.Logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
