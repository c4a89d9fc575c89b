package service

import (
	"context"

	"codeduel/internal/match/model"
	"codeduel/internal/matchmaking"
	"codeduel/internal/metrics"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

// TryPair makes one pairing attempt for playerID. Both entries leave the
// queue before the match is created and return to it with their original
// rating and join time if creation fails. A nil result means no pairing.
func (m *Manager) TryPair(ctx context.Context, playerID string) (*model.MatchDetails, error) {
	self, found, err := m.queue.Entry(ctx, playerID)
	if err != nil || !found {
		return nil, err
	}
	candidate, err := m.queue.FindCandidate(ctx, playerID, self.Rating, m.queue.Range(m.now().Sub(self.JoinedAt)))
	if err != nil || candidate == nil {
		return nil, err
	}

	removed, err := m.queue.RemovePair(ctx, self.PlayerID, candidate.PlayerID)
	if err != nil || !removed {
		return nil, err
	}

	details, err := m.CreateMatch(ctx, self.PlayerID, candidate.PlayerID)
	if err != nil {
		m.requeue(ctx, self, *candidate)
		return nil, err
	}
	m.publishPaired(ctx, model.MatchPaired{Details: *details})
	return details, nil
}

func (m *Manager) requeue(ctx context.Context, entries ...matchmaking.Entry) {
	for _, e := range entries {
		if err := m.queue.Rejoin(ctx, e); err != nil {
			logger.Error(ctx, "requeue after failed pairing failed", zap.String("player_id", e.PlayerID), zap.Error(err))
		}
	}
}

// sweepQueue tries to pair every entry still queued.
func (m *Manager) sweepQueue(ctx context.Context) {
	entries, err := m.queue.Entries(ctx)
	if err != nil {
		metrics.SweepError("matchmaking")
		logger.Warn(ctx, "matchmaking sweep skipped", zap.Error(err))
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.TryPair(ctx, e.PlayerID); err != nil {
			metrics.SweepError("matchmaking")
			logger.Warn(ctx, "pairing attempt failed", zap.String("player_id", e.PlayerID), zap.Error(err))
		}
	}
}
