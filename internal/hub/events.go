package hub

import (
	"context"

	execmodel "codeduel/internal/execution/model"
	"codeduel/internal/match/model"
	pkgerrors "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
)

// Run consumes execution results and lifecycle events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	results := h.exec.Results()
	paired := h.matches.Paired()
	ended := h.matches.Ended()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			threading.RunSafe(func() { h.routeResult(ctx, res) })
		case ev := <-paired:
			threading.RunSafe(func() { h.onPaired(ctx, ev) })
		case ev := <-ended:
			threading.RunSafe(func() { h.onEnded(ev) })
		}
	}
}

// routeResult delivers a result to its owner once. A winning submission
// ends the match; if another terminal transition got there first the
// result is still delivered and nothing else happens.
func (h *Hub) routeResult(ctx context.Context, res execmodel.Result) {
	fresh, err := h.store.ClaimResult(ctx, res.JobID)
	if err != nil {
		logger.Error(ctx, "claim result failed", zap.String("job_id", res.JobID), zap.Error(err))
		return
	}
	if !fresh {
		logger.Debug(ctx, "duplicate result ignored", zap.String("job_id", res.JobID))
		return
	}

	event := EventSubmissionResult
	if res.Mode == execmodel.ModeRun {
		event = EventRunResult
	}
	h.sendToPlayer(ctx, res.PlayerID, event, res)

	if !res.Solved() {
		return
	}
	winner := res.PlayerID
	outcome, err := h.matches.EndMatch(ctx, res.MatchID, &winner, model.EndReasonSolved)
	if err != nil {
		if pkgerrors.IsConflict(err) {
			logger.Debug(ctx, "late winning result", zap.String("match_id", res.MatchID), zap.String("job_id", res.JobID))
			return
		}
		logger.Error(ctx, "end solved match failed", zap.String("match_id", res.MatchID), zap.Error(err))
		return
	}
	h.finishMatch(ctx, outcome)
}

func (h *Hub) onPaired(ctx context.Context, ev model.MatchPaired) {
	details := ev.Details.ForClient()
	for _, pid := range []string{details.Player1.ID, details.Player2.ID} {
		c := h.clientOf(ctx, pid)
		if c == nil {
			logger.Warn(ctx, "paired player not connected", zap.String("match_id", details.ID), zap.String("player_id", pid))
			continue
		}
		h.join(c, matchRoom(details.ID))
		c.emit(EventMatchFound, details)
	}
}

func (h *Hub) onEnded(ev model.MatchEnded) {
	h.announceEnd(ev.Outcome)
}

// finishMatch removes the shadow of a match this hub ended and tells the room.
func (h *Hub) finishMatch(ctx context.Context, outcome *model.Outcome) {
	if err := h.matches.Cleanup(ctx, outcome.MatchID); err != nil {
		logger.Warn(ctx, "cleanup ended match failed", zap.String("match_id", outcome.MatchID), zap.Error(err))
	}
	h.announceEnd(*outcome)
}

func (h *Hub) announceEnd(outcome model.Outcome) {
	h.broadcast(EventMatchEnded, MatchEnded{
		MatchID:  outcome.MatchID,
		WinnerID: outcome.WinnerID,
		Reason:   outcome.Reason,
		Ratings:  outcome.RatingChanges,
	}, matchRoom(outcome.MatchID), spectateRoom(outcome.MatchID))
	h.closeRoom(spectateRoom(outcome.MatchID))
	h.closeRoom(matchRoom(outcome.MatchID))
}
