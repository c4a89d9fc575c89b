package repository

import (
	"context"
	"encoding/json"
	"time"

	"codeduel/internal/common/cache"
	"codeduel/internal/common/db"
	"codeduel/internal/match/model"
	pkgrepo "codeduel/pkg/repository"
)

const (
	defaultProblemTTL      = 30 * time.Minute
	defaultProblemEmptyTTL = 5 * time.Minute
	problemKeyPrefix       = "problem:"
)

// ProblemRepository reads the problem catalog.
type ProblemRepository interface {
	GetByID(ctx context.Context, problemID string) (*model.Problem, error)

	// ListIDs returns every problem id, filtered by difficulty when it is not empty.
	ListIDs(ctx context.Context, difficulty model.Difficulty) ([]string, error)
}

type SQLProblemRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewProblemRepository(database db.Database, cacheClient cache.Cache) ProblemRepository {
	return NewProblemRepositoryWithTTL(database, cacheClient, defaultProblemTTL, defaultProblemEmptyTTL)
}

func NewProblemRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) ProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemEmptyTTL
	}
	return &SQLProblemRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

// GetByID reads through the cache; problems never change while referenced by a match.
func (r *SQLProblemRepository) GetByID(ctx context.Context, problemID string) (*model.Problem, error) {
	if r.cache == nil {
		return r.getFromDB(ctx, problemID)
	}
	problem, err := cache.GetWithCached[*model.Problem](
		ctx,
		r.cache,
		problemKeyPrefix+problemID,
		r.ttl,
		cache.JitterTTL(r.emptyTTL),
		func(p *model.Problem) bool { return p == nil },
		marshalProblem,
		unmarshalProblem,
		func(ctx context.Context) (*model.Problem, error) {
			p, err := r.getFromDB(ctx, problemID)
			if pkgrepo.IsNotFoundError(err) {
				return nil, nil
			}
			return p, err
		},
	)
	if err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, pkgrepo.ErrNotFound
	}
	return problem, nil
}

func (r *SQLProblemRepository) ListIDs(ctx context.Context, difficulty model.Difficulty) ([]string, error) {
	var ids []string
	var err error
	if difficulty == "" {
		err = r.db.Select(ctx, &ids, "SELECT id FROM problems ORDER BY id")
	} else {
		err = r.db.Select(ctx, &ids, "SELECT id FROM problems WHERE difficulty = ? ORDER BY id", string(difficulty))
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *SQLProblemRepository) getFromDB(ctx context.Context, problemID string) (*model.Problem, error) {
	var problem model.Problem
	query := "SELECT id, title, description, difficulty, test_cases, created_at FROM problems WHERE id = ?"
	if err := r.db.Get(ctx, &problem, query, problemID); err != nil {
		if db.IsNoRows(err) {
			return nil, pkgrepo.ErrNotFound
		}
		return nil, err
	}
	return &problem, nil
}

func marshalProblem(p *model.Problem) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalProblem(data string) (*model.Problem, error) {
	var p model.Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
