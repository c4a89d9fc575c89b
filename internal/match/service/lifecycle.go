package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"codeduel/internal/common/db"
	"codeduel/internal/match/model"
	"codeduel/internal/match/repository"
	"codeduel/internal/matchmaking"
	"codeduel/internal/metrics"
	"codeduel/internal/rating"
	"codeduel/internal/state"
	pkgerrors "codeduel/pkg/errors"
	pkgrepo "codeduel/pkg/repository"
	"codeduel/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config controls match timing and background sweeps.
type Config struct {
	Duration          time.Duration    `yaml:"duration"`
	ProblemDifficulty model.Difficulty `yaml:"problemDifficulty"`
	PairingInterval   time.Duration    `yaml:"pairingInterval"`
	ExpiryInterval    time.Duration    `yaml:"expiryInterval"`
	EventBuffer       int              `yaml:"eventBuffer"`
}

func DefaultConfig() Config {
	return Config{
		Duration:        15 * time.Minute,
		PairingInterval: 2 * time.Second,
		ExpiryInterval:  5 * time.Second,
		EventBuffer:     64,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.Duration <= 0 {
		c.Duration = def.Duration
	}
	if c.PairingInterval <= 0 {
		c.PairingInterval = def.PairingInterval
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = def.ExpiryInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
}

// Manager owns match creation and the single terminal transition of every match.
type Manager struct {
	db       db.Database
	matches  repository.MatchRepository
	players  repository.PlayerRepository
	problems repository.ProblemRepository
	store    *state.Store
	queue    *matchmaking.Queue
	cfg      Config

	now   func() time.Time
	pick  func(n int) int
	newID func() string

	paired chan model.MatchPaired
	ended  chan model.MatchEnded
}

// Deps groups the collaborators of a Manager.
type Deps struct {
	DB       db.Database
	Matches  repository.MatchRepository
	Players  repository.PlayerRepository
	Problems repository.ProblemRepository
	Store    *state.Store
	Queue    *matchmaking.Queue
}

func NewManager(deps Deps, cfg Config) *Manager {
	cfg.setDefaults()
	return &Manager{
		db:       deps.DB,
		matches:  deps.Matches,
		players:  deps.Players,
		problems: deps.Problems,
		store:    deps.Store,
		queue:    deps.Queue,
		cfg:      cfg,
		now:      time.Now,
		pick:     rand.IntN,
		newID:    uuid.NewString,
		paired:   make(chan model.MatchPaired, cfg.EventBuffer),
		ended:    make(chan model.MatchEnded, cfg.EventBuffer),
	}
}

// Paired delivers matches created by the matchmaker.
func (m *Manager) Paired() <-chan model.MatchPaired { return m.paired }

// Ended delivers matches ended by the expiry sweep or the admin path.
func (m *Manager) Ended() <-chan model.MatchEnded { return m.ended }

// GetPlayer loads a player; unknown ids report PlayerNotFound.
func (m *Manager) GetPlayer(ctx context.Context, playerID string) (*model.Player, error) {
	player, err := m.players.GetByID(ctx, nil, playerID)
	if err != nil {
		if pkgrepo.IsNotFoundError(err) {
			return nil, pkgerrors.NotFoundError(pkgerrors.PlayerNotFound, playerID)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get player failed: %w", err), pkgerrors.DatabaseError)
	}
	return player, nil
}

// CreateMatch persists a new IN_PROGRESS match for the two players and
// writes its shadow state. The match is cancelled again if the shadow
// cannot be written.
func (m *Manager) CreateMatch(ctx context.Context, player1ID, player2ID string) (*model.MatchDetails, error) {
	if player1ID == "" || player2ID == "" || player1ID == player2ID {
		return nil, pkgerrors.New(pkgerrors.InvalidParams)
	}

	var p1, p2 *model.Player
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		p1, err = m.GetPlayer(gctx, player1ID)
		return err
	})
	g.Go(func() error {
		var err error
		p2, err = m.GetPlayer(gctx, player2ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	problem, err := m.pickProblem(ctx)
	if err != nil {
		return nil, err
	}

	startedAt := m.now()
	match := &model.Match{
		ID:        m.newID(),
		Player1ID: p1.ID,
		Player2ID: p2.ID,
		ProblemID: problem.ID,
		Status:    model.MatchStatusInProgress,
		StartedAt: &startedAt,
	}
	if err := m.matches.Create(ctx, nil, match); err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("create match failed: %w", err), pkgerrors.MatchCreateFailed)
	}

	shadow := state.MatchShadow{
		MatchID:   match.ID,
		Player1ID: p1.ID,
		Player2ID: p2.ID,
		EndsAt:    startedAt.Add(m.cfg.Duration),
	}
	if err := m.store.WriteMatch(ctx, shadow); err != nil {
		m.abortCreate(ctx, match)
		return nil, err
	}

	metrics.MatchCreated()
	logger.Info(ctx, "match created",
		zap.String("match_id", match.ID),
		zap.String("player1", p1.ID),
		zap.String("player2", p2.ID),
		zap.String("problem_id", problem.ID),
	)
	return &model.MatchDetails{
		ID:        match.ID,
		Player1:   p1.Public(),
		Player2:   p2.Public(),
		Problem:   *problem,
		Status:    match.Status,
		StartedAt: match.StartedAt,
	}, nil
}

func (m *Manager) abortCreate(ctx context.Context, match *model.Match) {
	err := m.matches.Finish(ctx, nil, match.ID, repository.Terminal{
		Status:  model.MatchStatusCancelled,
		Reason:  model.EndReasonCancelled,
		EndedAt: m.now(),
	})
	if err != nil {
		logger.Error(ctx, "cancel half-created match failed", zap.String("match_id", match.ID), zap.Error(err))
	}
	if err := m.store.CleanupMatch(ctx, match.ID, match.Player1ID, match.Player2ID); err != nil {
		logger.Warn(ctx, "cleanup half-created match failed", zap.String("match_id", match.ID), zap.Error(err))
	}
}

func (m *Manager) pickProblem(ctx context.Context) (*model.Problem, error) {
	ids, err := m.problems.ListIDs(ctx, m.cfg.ProblemDifficulty)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("list problems failed: %w", err), pkgerrors.DatabaseError)
	}
	if len(ids) == 0 {
		return nil, pkgerrors.New(pkgerrors.NoProblemAvailable)
	}
	id := ids[m.pick(len(ids))]
	problem, err := m.problems.GetByID(ctx, id)
	if err != nil {
		if pkgrepo.IsNotFoundError(err) {
			return nil, pkgerrors.NotFoundError(pkgerrors.ProblemNotFound, id)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get problem failed: %w", err), pkgerrors.DatabaseError)
	}
	return problem, nil
}

// EndMatch performs the terminal transition of an IN_PROGRESS match. Only
// one caller ever succeeds; every other caller gets MatchNotInProgress and
// nothing is written. With a winner both ratings are updated in the same
// transaction.
func (m *Manager) EndMatch(ctx context.Context, matchID string, winnerID *string, reason model.EndReason) (*model.Outcome, error) {
	outcome := &model.Outcome{MatchID: matchID, WinnerID: winnerID, Reason: reason}

	err := m.db.Transaction(ctx, func(tx db.Transaction) error {
		match, err := m.matches.GetByID(ctx, tx, matchID)
		if err != nil {
			if pkgrepo.IsNotFoundError(err) {
				return pkgerrors.NotFoundError(pkgerrors.MatchNotFound, matchID)
			}
			return pkgerrors.Wrap(fmt.Errorf("get match failed: %w", err), pkgerrors.DatabaseError)
		}
		if winnerID != nil && !match.HasPlayer(*winnerID) {
			return pkgerrors.New(pkgerrors.NotMatchParticipant)
		}

		err = m.matches.Finish(ctx, tx, matchID, repository.Terminal{
			Status:   reason.TerminalStatus(),
			WinnerID: winnerID,
			Reason:   reason,
			EndedAt:  m.now(),
		})
		if err != nil {
			if pkgrepo.IsConflictError(err) {
				return pkgerrors.ConflictError(pkgerrors.MatchNotInProgress, "")
			}
			return pkgerrors.Wrap(fmt.Errorf("finish match failed: %w", err), pkgerrors.DatabaseError)
		}
		if winnerID == nil {
			return nil
		}

		loserID := match.Opponent(*winnerID)
		locked, err := m.players.GetForUpdate(ctx, tx, *winnerID, loserID)
		if err != nil {
			return pkgerrors.Wrap(fmt.Errorf("lock players failed: %w", err), pkgerrors.DatabaseError)
		}
		winner, loser := locked[*winnerID], locked[loserID]
		res := rating.Compute(winner.Rating, loser.Rating)
		if err := m.players.UpdateRating(ctx, tx, winner.ID, res.NewWinner); err != nil {
			return pkgerrors.Wrap(fmt.Errorf("update winner rating failed: %w", err), pkgerrors.DatabaseError)
		}
		if err := m.players.UpdateRating(ctx, tx, loser.ID, res.NewLoser); err != nil {
			return pkgerrors.Wrap(fmt.Errorf("update loser rating failed: %w", err), pkgerrors.DatabaseError)
		}
		outcome.RatingChanges = []model.RatingChange{
			{PlayerID: winner.ID, OldRating: winner.Rating, NewRating: res.NewWinner, Delta: res.NewWinner - winner.Rating},
			{PlayerID: loser.ID, OldRating: loser.Rating, NewRating: res.NewLoser, Delta: res.NewLoser - loser.Rating},
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.TransactionFailed)
	}

	metrics.MatchEnded(string(reason))
	fields := []zap.Field{zap.String("match_id", matchID), zap.String("reason", string(reason))}
	if winnerID != nil {
		fields = append(fields, zap.String("winner_id", *winnerID))
	}
	logger.Info(ctx, "match ended", fields...)
	return outcome, nil
}

// CancelMatch is the administrative terminal path: no winner, no rating change.
// The shadow state is removed and connected clients are notified.
func (m *Manager) CancelMatch(ctx context.Context, matchID string) (*model.Outcome, error) {
	outcome, err := m.EndMatch(ctx, matchID, nil, model.EndReasonCancelled)
	if err != nil {
		return nil, err
	}
	if err := m.Cleanup(ctx, matchID); err != nil {
		logger.Warn(ctx, "cleanup cancelled match failed", zap.String("match_id", matchID), zap.Error(err))
	}
	m.publishEnded(ctx, model.MatchEnded{Outcome: *outcome})
	return outcome, nil
}

// Cleanup deletes the shadow state of a finished match.
func (m *Manager) Cleanup(ctx context.Context, matchID string) error {
	p1, p2, found, err := m.store.MatchPlayers(ctx, matchID)
	if err != nil {
		return err
	}
	if !found {
		match, err := m.matches.GetByID(ctx, nil, matchID)
		if err == nil {
			p1, p2 = match.Player1ID, match.Player2ID
		}
	}
	return m.store.CleanupMatch(ctx, matchID, p1, p2)
}

func (m *Manager) publishPaired(ctx context.Context, ev model.MatchPaired) {
	select {
	case m.paired <- ev:
	case <-ctx.Done():
	}
}

func (m *Manager) publishEnded(ctx context.Context, ev model.MatchEnded) {
	select {
	case m.ended <- ev:
	case <-ctx.Done():
	}
}
