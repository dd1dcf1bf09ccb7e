package pipeline

import (
	"context"
	"fmt"
	"time"

	"igharvest/pkg/logger"
)

// Loop runs a batch, waits interval, and repeats until ctx is done. With
// immediate false the first batch waits one interval too.
func (p *Pipeline) Loop(ctx context.Context, interval time.Duration, immediate bool) error {
	if interval <= 0 {
		return fmt.Errorf("invalid pipeline interval %s", interval)
	}

	logger.LogComponentStart(p.logger, "pipeline", map[string]interface{}{
		"interval":  interval.String(),
		"immediate": immediate,
		"targets":   len(p.targets),
	})

	if immediate {
		p.RunOnce(ctx)
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.LogComponentStop(p.logger, "pipeline", "shutdown")
			return nil
		case <-timer.C:
			p.RunOnce(ctx)
			timer.Reset(interval)
		}
	}
}
