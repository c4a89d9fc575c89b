package repository

import (
	"context"
	"time"

	"codeduel/internal/common/db"
	"codeduel/internal/match/model"
	pkgrepo "codeduel/pkg/repository"
)

const matchColumns = "id, player1_id, player2_id, problem_id, status, winner_id, end_reason, started_at, ended_at"

// Terminal describes the terminal transition written by Finish.
type Terminal struct {
	Status   model.MatchStatus
	WinnerID *string
	Reason   model.EndReason
	EndedAt  time.Time
}

// MatchRepository persists matches.
type MatchRepository interface {
	Create(ctx context.Context, tx db.Transaction, match *model.Match) error
	GetByID(ctx context.Context, tx db.Transaction, matchID string) (*model.Match, error)

	// Finish moves an IN_PROGRESS match to a terminal state. It returns
	// ErrConflict when the match was not IN_PROGRESS.
	Finish(ctx context.Context, tx db.Transaction, matchID string, t Terminal) error

	// FindActiveByPlayer returns the most recently started IN_PROGRESS match of playerID.
	FindActiveByPlayer(ctx context.Context, playerID string) (*model.Match, error)
	ListCompletedByPlayer(ctx context.Context, playerID string, opts pkgrepo.PageOptions) ([]model.Match, error)
}

type SQLMatchRepository struct {
	db db.Database
}

func NewMatchRepository(database db.Database) MatchRepository {
	return &SQLMatchRepository{db: database}
}

func (r *SQLMatchRepository) Create(ctx context.Context, tx db.Transaction, match *model.Match) error {
	query := `
		INSERT INTO matches (id, player1_id, player2_id, problem_id, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		match.ID, match.Player1ID, match.Player2ID, match.ProblemID, string(match.Status), match.StartedAt)
	return err
}

func (r *SQLMatchRepository) GetByID(ctx context.Context, tx db.Transaction, matchID string) (*model.Match, error) {
	var match model.Match
	query := "SELECT " + matchColumns + " FROM matches WHERE id = ?"
	if err := db.GetQuerier(r.db, tx).Get(ctx, &match, query, matchID); err != nil {
		if db.IsNoRows(err) {
			return nil, pkgrepo.ErrNotFound
		}
		return nil, err
	}
	return &match, nil
}

func (r *SQLMatchRepository) Finish(ctx context.Context, tx db.Transaction, matchID string, t Terminal) error {
	query := `
		UPDATE matches
		SET status = ?, winner_id = ?, end_reason = ?, ended_at = ?
		WHERE id = ? AND status = ?`
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		string(t.Status), t.WinnerID, string(t.Reason), t.EndedAt, matchID, string(model.MatchStatusInProgress))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return pkgrepo.ErrConflict
	}
	return nil
}

func (r *SQLMatchRepository) FindActiveByPlayer(ctx context.Context, playerID string) (*model.Match, error) {
	var match model.Match
	query := "SELECT " + matchColumns + ` FROM matches
		WHERE (player1_id = ? OR player2_id = ?) AND status = ?
		ORDER BY started_at DESC
		LIMIT 1`
	if err := r.db.Get(ctx, &match, query, playerID, playerID, string(model.MatchStatusInProgress)); err != nil {
		if db.IsNoRows(err) {
			return nil, pkgrepo.ErrNotFound
		}
		return nil, err
	}
	return &match, nil
}

func (r *SQLMatchRepository) ListCompletedByPlayer(ctx context.Context, playerID string, opts pkgrepo.PageOptions) ([]model.Match, error) {
	var matches []model.Match
	query := "SELECT " + matchColumns + ` FROM matches
		WHERE (player1_id = ? OR player2_id = ?) AND status = ?
		ORDER BY ended_at DESC
		LIMIT ? OFFSET ?`
	err := r.db.Select(ctx, &matches, query,
		playerID, playerID, string(model.MatchStatusCompleted), opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	return matches, nil
}
