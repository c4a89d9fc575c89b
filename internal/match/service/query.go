package service

import (
	"context"
	"fmt"

	"codeduel/internal/match/model"
	pkgerrors "codeduel/pkg/errors"
	pkgrepo "codeduel/pkg/repository"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GetMatch returns the persisted match row.
func (m *Manager) GetMatch(ctx context.Context, matchID string) (*model.Match, error) {
	match, err := m.matches.GetByID(ctx, nil, matchID)
	if err != nil {
		if pkgrepo.IsNotFoundError(err) {
			return nil, pkgerrors.NotFoundError(pkgerrors.MatchNotFound, matchID)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get match failed: %w", err), pkgerrors.DatabaseError)
	}
	return match, nil
}

// GetMatchByID returns full match details including every test case.
// Callers facing clients use MatchDetails.ForClient.
func (m *Manager) GetMatchByID(ctx context.Context, matchID string) (*model.MatchDetails, error) {
	match, err := m.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, match)
}

// GetUserActiveMatch returns the running match of playerID, or nil.
func (m *Manager) GetUserActiveMatch(ctx context.Context, playerID string) (*model.MatchDetails, error) {
	match, err := m.matches.FindActiveByPlayer(ctx, playerID)
	if err != nil {
		if pkgrepo.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("find active match failed: %w", err), pkgerrors.DatabaseError)
	}
	return m.resolve(ctx, match)
}

// GetMatchHistory lists completed matches of playerID, newest first, without test cases.
func (m *Manager) GetMatchHistory(ctx context.Context, playerID string, opts pkgrepo.PageOptions) ([]model.MatchDetails, error) {
	if err := opts.Validate(); err != nil {
		return nil, pkgerrors.BadRequest(err.Error())
	}
	matches, err := m.matches.ListCompletedByPlayer(ctx, playerID, opts)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("list match history failed: %w", err), pkgerrors.DatabaseError)
	}
	out := make([]model.MatchDetails, 0, len(matches))
	for i := range matches {
		details, err := m.resolve(ctx, &matches[i])
		if err != nil {
			return nil, err
		}
		details.Problem = details.Problem.WithoutTestCases()
		out = append(out, *details)
	}
	return out, nil
}

// ListActiveMatches summarizes every match in the active index. Matches
// that can no longer be resolved are skipped.
func (m *Manager) ListActiveMatches(ctx context.Context) ([]model.ActiveMatchSummary, error) {
	ids, err := m.store.ActiveMatches(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ActiveMatchSummary, 0, len(ids))
	for _, id := range ids {
		details, err := m.GetMatchByID(ctx, id)
		if err != nil {
			logger.Debug(ctx, "skip unresolvable active match", zap.String("match_id", id), zap.Error(err))
			continue
		}
		if details.Status != model.MatchStatusInProgress {
			continue
		}
		count, err := m.store.SpectatorCount(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, model.ActiveMatchSummary{
			ID:             details.ID,
			Player1:        details.Player1,
			Player2:        details.Player2,
			ProblemTitle:   details.Problem.Title,
			StartedAt:      details.StartedAt,
			SpectatorCount: count,
		})
	}
	return out, nil
}

func (m *Manager) resolve(ctx context.Context, match *model.Match) (*model.MatchDetails, error) {
	var (
		p1, p2  *model.Player
		problem *model.Problem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		p1, err = m.GetPlayer(gctx, match.Player1ID)
		return err
	})
	g.Go(func() error {
		var err error
		p2, err = m.GetPlayer(gctx, match.Player2ID)
		return err
	})
	g.Go(func() error {
		var err error
		problem, err = m.problems.GetByID(gctx, match.ProblemID)
		if pkgrepo.IsNotFoundError(err) {
			return pkgerrors.NotFoundError(pkgerrors.ProblemNotFound, match.ProblemID)
		}
		if err != nil {
			return pkgerrors.Wrap(fmt.Errorf("get problem failed: %w", err), pkgerrors.DatabaseError)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &model.MatchDetails{
		ID:        match.ID,
		Player1:   p1.Public(),
		Player2:   p2.Public(),
		Problem:   *problem,
		WinnerID:  match.WinnerID,
		Status:    match.Status,
		EndReason: match.EndReason,
		StartedAt: match.StartedAt,
		EndedAt:   match.EndedAt,
	}, nil
}
