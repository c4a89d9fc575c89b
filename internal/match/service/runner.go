package service

import (
	"context"
	"time"

	"codeduel/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
)

// Run starts the pairing and expiry sweeps and blocks until ctx is done and
// both sweeps have returned.
func (m *Manager) Run(ctx context.Context) {
	group := threading.NewRoutineGroup()
	group.RunSafe(func() {
		m.loop(ctx, "matchmaking", m.cfg.PairingInterval, m.sweepQueue)
	})
	group.RunSafe(func() {
		m.loop(ctx, "expiry", m.cfg.ExpiryInterval, m.SweepExpired)
	})
	group.Wait()
}

func (m *Manager) loop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context)) {
	logger.Info(ctx, "sweep started", zap.String("sweep", name), zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "sweep stopped", zap.String("sweep", name))
			return
		case <-ticker.C:
			threading.RunSafe(func() { sweep(ctx) })
		}
	}
}
