package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"codeduel/internal/match/model"
	"codeduel/internal/matchmaking"
	pkgerrors "codeduel/pkg/errors"
	pkgrepo "codeduel/pkg/repository"
)

func strPtr(s string) *string { return &s }

func TestCreateMatchWritesShadow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	details, err := f.manager.CreateMatch(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if details.Status != model.MatchStatusInProgress || details.Problem.ID != "prob-1" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.Player1.ID != "alice" || details.Player2.EloRating != 1000 {
		t.Fatalf("unexpected players: %+v / %+v", details.Player1, details.Player2)
	}

	endsAt, found, err := f.store.MatchEndTime(ctx, details.ID)
	if err != nil || !found {
		t.Fatalf("expected timer, found=%v err=%v", found, err)
	}
	if want := f.now.Add(15 * time.Minute); endsAt.UnixMilli() != want.UnixMilli() {
		t.Fatalf("timer %v, want %v", endsAt, want)
	}
	if id, _ := f.store.PlayerMatch(ctx, "bob"); id != details.ID {
		t.Fatalf("reverse lookup missing, got %q", id)
	}
	active, _ := f.store.ActiveMatches(ctx)
	if len(active) != 1 || active[0] != details.ID {
		t.Fatalf("unexpected active index: %v", active)
	}
}

func TestCreateMatchUnknownPlayer(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.CreateMatch(context.Background(), "alice", "ghost")
	if !pkgerrors.Is(err, pkgerrors.PlayerNotFound) {
		t.Fatalf("expected PlayerNotFound, got %v", err)
	}
	if len(f.matches.rows) != 0 {
		t.Fatalf("no match may be persisted")
	}
}

func TestCreateMatchNoProblem(t *testing.T) {
	f := newFixture(t)
	f.problems.rows = map[string]*model.Problem{}
	_, err := f.manager.CreateMatch(context.Background(), "alice", "bob")
	if !pkgerrors.Is(err, pkgerrors.NoProblemAvailable) {
		t.Fatalf("expected NoProblemAvailable, got %v", err)
	}
}

func TestCreateMatchCancelsWhenShadowFails(t *testing.T) {
	f := newFixture(t)
	f.mr.SetError("store down")

	_, err := f.manager.CreateMatch(context.Background(), "alice", "bob")
	if err == nil {
		t.Fatalf("expected error when the store fails")
	}
	if len(f.matches.rows) != 1 {
		t.Fatalf("expected the persisted row to remain for audit, got %d", len(f.matches.rows))
	}
	for _, m := range f.matches.rows {
		if m.Status != model.MatchStatusCancelled {
			t.Fatalf("half-created match must be cancelled, got %s", m.Status)
		}
	}
}

func TestEndMatchWithWinnerUpdatesRatings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	details, err := f.manager.CreateMatch(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	outcome, err := f.manager.EndMatch(ctx, details.ID, strPtr("alice"), model.EndReasonSolved)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if f.players.rating("alice") != 1208 {
		t.Fatalf("expected winner at 1208, got %d", f.players.rating("alice"))
	}
	if f.players.rating("bob") != 992 {
		t.Fatalf("expected loser at 992, got %d", f.players.rating("bob"))
	}
	if len(outcome.RatingChanges) != 2 || outcome.RatingChanges[0].Delta != 8 {
		t.Fatalf("unexpected rating changes: %+v", outcome.RatingChanges)
	}
	stored := f.matches.rows[details.ID]
	if stored.Status != model.MatchStatusCompleted || *stored.WinnerID != "alice" || *stored.EndReason != model.EndReasonSolved {
		t.Fatalf("unexpected stored match: %+v", stored)
	}
}

func TestEndMatchTwiceConflictsWithoutRatingChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	details, _ := f.manager.CreateMatch(ctx, "alice", "bob")

	if _, err := f.manager.EndMatch(ctx, details.ID, strPtr("alice"), model.EndReasonSolved); err != nil {
		t.Fatalf("first end failed: %v", err)
	}
	updates := f.players.updates
	aliceRating := f.players.rating("alice")

	_, err := f.manager.EndMatch(ctx, details.ID, strPtr("bob"), model.EndReasonSolved)
	if !pkgerrors.IsConflict(err) || !pkgerrors.Is(err, pkgerrors.MatchNotInProgress) {
		t.Fatalf("expected MatchNotInProgress conflict, got %v", err)
	}
	if f.players.updates != updates || f.players.rating("alice") != aliceRating {
		t.Fatalf("second end must not touch ratings")
	}
	if *f.matches.rows[details.ID].WinnerID != "alice" {
		t.Fatalf("winner must stay alice")
	}
}

func TestEndMatchRejectsOutsider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	details, _ := f.manager.CreateMatch(ctx, "alice", "bob")

	_, err := f.manager.EndMatch(ctx, details.ID, strPtr("carol"), model.EndReasonSolved)
	if !pkgerrors.Is(err, pkgerrors.NotMatchParticipant) {
		t.Fatalf("expected NotMatchParticipant, got %v", err)
	}
	if f.matches.rows[details.ID].Status != model.MatchStatusInProgress {
		t.Fatalf("match must still be running")
	}
}

func TestEndMatchUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.EndMatch(context.Background(), "nope", nil, model.EndReasonTimeout)
	if !pkgerrors.Is(err, pkgerrors.MatchNotFound) {
		t.Fatalf("expected MatchNotFound, got %v", err)
	}
}

func TestCancelMatchPublishesAndCleansUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	details, _ := f.manager.CreateMatch(ctx, "alice", "bob")

	outcome, err := f.manager.CancelMatch(ctx, details.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if outcome.WinnerID != nil || outcome.Reason != model.EndReasonCancelled {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if f.matches.rows[details.ID].Status != model.MatchStatusCancelled {
		t.Fatalf("expected CANCELLED status")
	}
	if f.players.updates != 0 {
		t.Fatalf("cancel must not change ratings")
	}
	if id, _ := f.store.PlayerMatch(ctx, "alice"); id != "" {
		t.Fatalf("shadow must be removed, got %q", id)
	}
	select {
	case ev := <-f.manager.Ended():
		if ev.Outcome.MatchID != details.ID {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatalf("expected an Ended event")
	}
}

func TestTryPairCreatesMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.queue.Join(ctx, "alice", 1200)
	_, _ = f.queue.Join(ctx, "carol", 1210)

	details, err := f.manager.TryPair(ctx, "carol")
	if err != nil || details == nil {
		t.Fatalf("expected a pairing, details=%v err=%v", details, err)
	}
	if !details.HasPlayer("alice") || !details.HasPlayer("carol") {
		t.Fatalf("unexpected players: %+v", details)
	}
	if n, _ := f.queue.Size(ctx); n != 0 {
		t.Fatalf("both players must leave the queue, size=%d", n)
	}
	select {
	case ev := <-f.manager.Paired():
		if ev.Details.ID != details.ID {
			t.Fatalf("unexpected paired event: %+v", ev)
		}
	default:
		t.Fatalf("expected a Paired event")
	}

	again, err := f.manager.TryPair(ctx, "carol")
	if err != nil || again != nil {
		t.Fatalf("a paired player cannot be paired twice, got %v err=%v", again, err)
	}
}

func TestTryPairRequeuesOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	joined := time.Now().Add(-30 * time.Second).Truncate(time.Millisecond)
	_ = f.queue.Rejoin(ctx, matchmaking.Entry{PlayerID: "alice", Rating: 1200, JoinedAt: joined})
	_ = f.queue.Rejoin(ctx, matchmaking.Entry{PlayerID: "carol", Rating: 1210, JoinedAt: joined.Add(time.Second)})
	f.matches.createErr = errors.New("db down")

	if _, err := f.manager.TryPair(ctx, "alice"); err == nil {
		t.Fatalf("expected creation error")
	}
	for _, id := range []string{"alice", "carol"} {
		entry, found, err := f.queue.Entry(ctx, id)
		if err != nil || !found {
			t.Fatalf("%s must be re-queued, found=%v err=%v", id, found, err)
		}
		if id == "alice" && (entry.Rating != 1200 || !entry.JoinedAt.Equal(joined)) {
			t.Fatalf("alice must keep rating and join time, got %+v", entry)
		}
	}
}

func TestSweepExpiredEndsOverdueMatchOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	details, _ := f.manager.CreateMatch(ctx, "alice", "bob")

	f.manager.SweepExpired(ctx)
	if f.matches.rows[details.ID].Status != model.MatchStatusInProgress {
		t.Fatalf("match is not due yet")
	}

	f.now = f.now.Add(16 * time.Minute)
	f.manager.SweepExpired(ctx)
	f.manager.SweepExpired(ctx)

	stored := f.matches.rows[details.ID]
	if stored.Status != model.MatchStatusCompleted || stored.WinnerID != nil || *stored.EndReason != model.EndReasonTimeout {
		t.Fatalf("unexpected stored match: %+v", stored)
	}
	if f.players.updates != 0 {
		t.Fatalf("timeout must not change ratings")
	}

	events := 0
	for {
		select {
		case ev := <-f.manager.Ended():
			events++
			if ev.Outcome.Reason != model.EndReasonTimeout {
				t.Fatalf("unexpected reason: %s", ev.Outcome.Reason)
			}
			continue
		default:
		}
		break
	}
	if events != 1 {
		t.Fatalf("expected exactly one Ended event, got %d", events)
	}
}

func TestSweepExpiredTreatsMissingTimerAsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	details, _ := f.manager.CreateMatch(ctx, "alice", "bob")
	f.mr.Del("match:" + details.ID + ":endtime")

	f.manager.SweepExpired(ctx)
	if f.matches.rows[details.ID].Status != model.MatchStatusCompleted {
		t.Fatalf("missing timer must end the match")
	}
}

func TestSweepExpiredPrunesAlreadyEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	details, _ := f.manager.CreateMatch(ctx, "alice", "bob")
	if _, err := f.manager.EndMatch(ctx, details.ID, strPtr("bob"), model.EndReasonForfeit); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	f.now = f.now.Add(time.Hour)
	f.manager.SweepExpired(ctx)

	if ids, _ := f.store.ActiveMatches(ctx); len(ids) != 0 {
		t.Fatalf("ended match must be pruned from the active index, got %v", ids)
	}
	if *f.matches.rows[details.ID].EndReason != model.EndReasonForfeit {
		t.Fatalf("the forfeit outcome must stand")
	}
	select {
	case ev := <-f.manager.Ended():
		t.Fatalf("pruning must be silent, got %+v", ev)
	default:
	}
}

func TestQueriesStripTestCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	details, _ := f.manager.CreateMatch(ctx, "alice", "bob")

	active, err := f.manager.GetUserActiveMatch(ctx, "bob")
	if err != nil || active == nil || active.ID != details.ID {
		t.Fatalf("expected active match, got %v err=%v", active, err)
	}
	if got := active.ForClient(); len(got.Problem.TestCases) != 2 {
		t.Fatalf("hidden cases must be stripped while running, got %d", len(got.Problem.TestCases))
	}

	summaries, err := f.manager.ListActiveMatches(ctx)
	if err != nil || len(summaries) != 1 || summaries[0].ProblemTitle != "Add Two Numbers" {
		t.Fatalf("unexpected summaries: %+v err=%v", summaries, err)
	}

	_, _ = f.manager.EndMatch(ctx, details.ID, strPtr("alice"), model.EndReasonSolved)
	history, err := f.manager.GetMatchHistory(ctx, "alice", pkgrepo.PageOptions{})
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one history entry, got %d err=%v", len(history), err)
	}
	if len(history[0].Problem.TestCases) != 0 {
		t.Fatalf("history must not carry test cases")
	}
	if none, _ := f.manager.GetUserActiveMatch(ctx, "bob"); none != nil {
		t.Fatalf("no active match expected after end")
	}
}
