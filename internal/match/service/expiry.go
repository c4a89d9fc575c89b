package service

import (
	"context"

	"codeduel/internal/match/model"
	"codeduel/internal/metrics"
	pkgerrors "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

// SweepExpired ends every active match whose timer has passed or vanished.
// Matches already ended elsewhere are pruned from the active index.
func (m *Manager) SweepExpired(ctx context.Context) {
	ids, err := m.store.ActiveMatches(ctx)
	if err != nil {
		metrics.SweepError("expiry")
		logger.Warn(ctx, "expiry sweep skipped", zap.Error(err))
		return
	}
	now := m.now()
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		endsAt, found, err := m.store.MatchEndTime(ctx, id)
		if err != nil {
			metrics.SweepError("expiry")
			logger.Warn(ctx, "read match timer failed", zap.String("match_id", id), zap.Error(err))
			continue
		}
		if found && now.Before(endsAt) {
			continue
		}
		m.expire(ctx, id)
	}
}

func (m *Manager) expire(ctx context.Context, matchID string) {
	outcome, err := m.EndMatch(ctx, matchID, nil, model.EndReasonTimeout)
	if err != nil {
		if pkgerrors.IsConflict(err) || pkgerrors.Is(err, pkgerrors.MatchNotFound) {
			if err := m.store.RemoveActive(ctx, matchID); err != nil {
				logger.Warn(ctx, "prune active match failed", zap.String("match_id", matchID), zap.Error(err))
			}
			return
		}
		metrics.SweepError("expiry")
		logger.Error(ctx, "expire match failed", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	if err := m.Cleanup(ctx, matchID); err != nil {
		logger.Warn(ctx, "cleanup expired match failed", zap.String("match_id", matchID), zap.Error(err))
	}
	m.publishEnded(ctx, model.MatchEnded{Outcome: *outcome})
}
