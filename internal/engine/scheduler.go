package engine

import (
	"context"
	"fmt"
	"time"

	"tradebot/internal/logger"
	"tradebot/internal/market"
)

// barBuffer gives the exchange time to finalize the bar before we read it.
const barBuffer = 2 * time.Second

// nextBarTime is the wall-clock instant of the next bar boundary plus buffer.
func nextBarTime(now time.Time, tfSec int64) time.Time {
	next := (now.Unix()/tfSec + 1) * tfSec
	return time.Unix(next, 0).Add(barBuffer)
}

// RunForever steps the portfolio once per bar boundary until the context is
// cancelled. A failing step is logged and the loop waits at least 5 seconds
// before realigning.
func RunForever(ctx context.Context, p *Portfolio) {
	tfSec, err := market.TFSeconds(p.Timeframe())
	if err != nil {
		logger.Warn("SCHED", fmt.Sprintf("bad timeframe %q, defaulting to 1m", p.Timeframe()))
		tfSec = 60
	}
	logger.Info("SCHED", fmt.Sprintf("Scheduler started (tf=%s, bar=%ds)", p.Timeframe(), tfSec))

	for {
		wait := time.Until(nextBarTime(time.Now(), tfSec))
		if !sleep(ctx, wait) {
			logger.Info("SCHED", "Scheduler stopped")
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warn("SCHED", fmt.Sprintf("step panic: %v", r))
					sleep(ctx, 5*time.Second)
				}
			}()
			p.Step()
		}()
	}
}

// RunPeriodic invokes fn on a fixed interval, backing off one hour after a
// failure. The first run happens after one full interval.
func RunPeriodic(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	logger.Info("SCHED", fmt.Sprintf("%s loop started (every %s)", name, interval))
	for {
		if !sleep(ctx, interval) {
			logger.Info("SCHED", fmt.Sprintf("%s loop stopped", name))
			return
		}
		if err := fn(ctx); err != nil {
			logger.Warn("SCHED", fmt.Sprintf("%s run failed: %v", name, err))
			if !sleep(ctx, time.Hour) {
				return
			}
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
