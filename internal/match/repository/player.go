package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"codeduel/internal/common/db"
	"codeduel/internal/match/model"
	pkgrepo "codeduel/pkg/repository"
)

const playerColumns = "id, username, avatar_url, elo_rating"

// PlayerRepository reads players and writes their ratings.
type PlayerRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, playerID string) (*model.Player, error)

	// GetForUpdate locks the rows of ids in id order and returns them keyed by id.
	GetForUpdate(ctx context.Context, tx db.Transaction, ids ...string) (map[string]*model.Player, error)
	UpdateRating(ctx context.Context, tx db.Transaction, playerID string, rating int) error
}

type SQLPlayerRepository struct {
	db db.Database
}

func NewPlayerRepository(database db.Database) PlayerRepository {
	return &SQLPlayerRepository{db: database}
}

func (r *SQLPlayerRepository) GetByID(ctx context.Context, tx db.Transaction, playerID string) (*model.Player, error) {
	var player model.Player
	query := "SELECT " + playerColumns + " FROM users WHERE id = ?"
	if err := db.GetQuerier(r.db, tx).Get(ctx, &player, query, playerID); err != nil {
		if db.IsNoRows(err) {
			return nil, pkgrepo.ErrNotFound
		}
		return nil, err
	}
	return &player, nil
}

func (r *SQLPlayerRepository) GetForUpdate(ctx context.Context, tx db.Transaction, ids ...string) (map[string]*model.Player, error) {
	if len(ids) == 0 {
		return map[string]*model.Player{}, nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sorted)), ", ")
	query := fmt.Sprintf("SELECT %s FROM users WHERE id IN (%s) ORDER BY id FOR UPDATE", playerColumns, placeholders)
	args := make([]interface{}, 0, len(sorted))
	for _, id := range sorted {
		args = append(args, id)
	}

	var players []model.Player
	if err := db.GetQuerier(r.db, tx).Select(ctx, &players, query, args...); err != nil {
		return nil, err
	}
	out := make(map[string]*model.Player, len(players))
	for i := range players {
		out[players[i].ID] = &players[i]
	}
	for _, id := range sorted {
		if _, ok := out[id]; !ok {
			return nil, pkgrepo.ErrNotFound
		}
	}
	return out, nil
}

func (r *SQLPlayerRepository) UpdateRating(ctx context.Context, tx db.Transaction, playerID string, rating int) error {
	query := "UPDATE users SET elo_rating = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?"
	// Rows were locked by GetForUpdate; MySQL reports 0 affected when the rating is unchanged.
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query, rating, playerID)
	return err
}
