package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// HealthChecker is implemented by sinks backed by a database connection.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// StartHealthMonitor checks a sink immediately and then every interval until
// ctx is cancelled, recording the results in hm.
func StartHealthMonitor(ctx context.Context, hm *HealthManager, sink string, checker HealthChecker, interval time.Duration, logger *zap.SugaredLogger) {
	go func() {
		update := func() {
			err := checker.CheckHealth(ctx)
			hm.Record(sink, err)
			if err != nil {
				logger.Warnf("%s health check failed: %v", sink, err)
			} else {
				logger.Debugf("%s health check ok", sink)
			}
		}

		update()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				update()
			case <-ctx.Done():
				logger.Infof("stopping %s health monitor", sink)
				return
			}
		}
	}()
}
