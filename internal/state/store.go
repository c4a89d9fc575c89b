// Package state keeps the ephemeral shared state of lobbies and running
// matches in Redis.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"codeduel/internal/common/cache"
	"codeduel/internal/match/model"
	pkgerrors "codeduel/pkg/errors"
)

const (
	chatHistoryLimit = 50
	matchChatTTL     = time.Hour
	executionDoneTTL = time.Hour

	// MatchStateGrace keeps match keys alive past the end time so the expiry
	// sweep still finds them.
	MatchStateGrace = 5 * time.Minute
)

// QueueMember is one queued player with the join time recorded at insertion.
type QueueMember struct {
	PlayerID string
	Rating   int
	JoinedAt time.Time
}

// Store is the typed facade over the shared ephemeral state.
type Store struct {
	cache cache.Cache
	now   func() time.Time
}

func NewStore(c cache.Cache) *Store {
	return &Store{cache: c, now: time.Now}
}

// Ping checks that the backing store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

func wrapStore(err error, op string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, pkgerrors.CacheError, "state store %s failed", op)
}

// ---- queue ----

// Enqueue inserts (or replaces) the queue entry and its join time together.
func (s *Store) Enqueue(ctx context.Context, m QueueMember) error {
	err := s.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.ZAdd(lobbyQueueKey, cache.ZMember{Score: float64(m.Rating), Member: m.PlayerID}); err != nil {
			return err
		}
		return pipe.HMSet(lobbyJoinTimeKey, map[string]interface{}{
			m.PlayerID: strconv.FormatInt(m.JoinedAt.UnixMilli(), 10),
		})
	})
	return wrapStore(err, "enqueue")
}

// Dequeue removes the entry and its join time; removing an absent player is not an error.
func (s *Store) Dequeue(ctx context.Context, playerID string) error {
	err := s.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.ZRem(lobbyQueueKey, playerID); err != nil {
			return err
		}
		return pipe.HDel(lobbyJoinTimeKey, playerID)
	})
	return wrapStore(err, "dequeue")
}

// RemovePair atomically removes both players if both are queued.
func (s *Store) RemovePair(ctx context.Context, a, b string) (bool, error) {
	res, err := s.cache.RunScript(ctx, removePairScript, []string{lobbyQueueKey, lobbyJoinTimeKey}, a, b)
	if err != nil {
		return false, wrapStore(err, "remove pair")
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (s *Store) QueueSize(ctx context.Context) (int64, error) {
	n, err := s.cache.ZCard(ctx, lobbyQueueKey)
	return n, wrapStore(err, "queue size")
}

// QueueRank returns the 0-based rank ordered by rating, or -1 when absent.
func (s *Store) QueueRank(ctx context.Context, playerID string) (int64, error) {
	rank, err := s.cache.ZRank(ctx, lobbyQueueKey, playerID)
	if err != nil {
		return -1, wrapStore(err, "queue rank")
	}
	return rank, nil
}

// QueueMemberOf returns the queued entry of playerID.
func (s *Store) QueueMemberOf(ctx context.Context, playerID string) (QueueMember, bool, error) {
	score, found, err := s.cache.ZScore(ctx, lobbyQueueKey, playerID)
	if err != nil {
		return QueueMember{}, false, wrapStore(err, "queue score")
	}
	if !found {
		return QueueMember{}, false, nil
	}
	joined, err := s.joinTimes(ctx, playerID)
	if err != nil {
		return QueueMember{}, false, err
	}
	return QueueMember{PlayerID: playerID, Rating: int(score), JoinedAt: joined[playerID]}, true, nil
}

// QueueMembers lists every queued entry in store rank order.
func (s *Store) QueueMembers(ctx context.Context) ([]QueueMember, error) {
	members, err := s.cache.ZRangeWithScores(ctx, lobbyQueueKey, 0, -1)
	if err != nil {
		return nil, wrapStore(err, "queue range")
	}
	return s.withJoinTimes(ctx, members)
}

// QueueMembersInRange lists entries whose rating is in [min, max], in store rank order.
func (s *Store) QueueMembersInRange(ctx context.Context, min, max int) ([]QueueMember, error) {
	members, err := s.cache.ZRangeByScoreWithScores(ctx, lobbyQueueKey, float64(min), float64(max))
	if err != nil {
		return nil, wrapStore(err, "queue range by score")
	}
	return s.withJoinTimes(ctx, members)
}

func (s *Store) withJoinTimes(ctx context.Context, members []cache.ZMember) ([]QueueMember, error) {
	if len(members) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.Member)
	}
	joined, err := s.joinTimes(ctx, ids...)
	if err != nil {
		return nil, err
	}
	out := make([]QueueMember, 0, len(members))
	for _, m := range members {
		out = append(out, QueueMember{PlayerID: m.Member, Rating: int(m.Score), JoinedAt: joined[m.Member]})
	}
	return out, nil
}

// joinTimes reads recorded join times; a missing one counts as joining now.
func (s *Store) joinTimes(ctx context.Context, ids ...string) (map[string]time.Time, error) {
	values, err := s.cache.HMGet(ctx, lobbyJoinTimeKey, ids...)
	if err != nil {
		return nil, wrapStore(err, "join times")
	}
	now := s.now()
	out := make(map[string]time.Time, len(ids))
	for i, id := range ids {
		out[id] = now
		if i >= len(values) || values[i] == "" {
			continue
		}
		if ms, err := strconv.ParseInt(values[i], 10, 64); err == nil {
			out[id] = time.UnixMilli(ms)
		}
	}
	return out, nil
}

// ---- connection routing ----

// BindSocket records the connection currently serving playerID.
func (s *Store) BindSocket(ctx context.Context, playerID, connID string) error {
	return wrapStore(s.cache.Set(ctx, socketKey(playerID), connID, 0), "bind socket")
}

// SocketOf returns the bound connection id, or "" when none.
func (s *Store) SocketOf(ctx context.Context, playerID string) (string, error) {
	v, err := s.cache.Get(ctx, socketKey(playerID))
	return v, wrapStore(err, "socket lookup")
}

// UnbindSocket removes the binding only if it still points at connID.
func (s *Store) UnbindSocket(ctx context.Context, playerID, connID string) (bool, error) {
	res, err := s.cache.RunScript(ctx, unbindSocketScript, []string{socketKey(playerID)}, connID)
	if err != nil {
		return false, wrapStore(err, "unbind socket")
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// ---- match shadow ----

// MatchShadow is the state written when a match starts.
type MatchShadow struct {
	MatchID   string
	Player1ID string
	Player2ID string
	EndsAt    time.Time
}

// WriteMatch stores timer, players map, reverse lookups and active membership
// in one round trip.
func (s *Store) WriteMatch(ctx context.Context, m MatchShadow) error {
	ttl := time.Until(m.EndsAt) + MatchStateGrace
	if ttl <= 0 {
		ttl = MatchStateGrace
	}
	err := s.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.Set(matchEndTimeKey(m.MatchID), strconv.FormatInt(m.EndsAt.UnixMilli(), 10), ttl); err != nil {
			return err
		}
		if err := pipe.HMSet(matchPlayersKey(m.MatchID), map[string]interface{}{
			"player1": m.Player1ID,
			"player2": m.Player2ID,
		}); err != nil {
			return err
		}
		if err := pipe.Expire(matchPlayersKey(m.MatchID), ttl); err != nil {
			return err
		}
		if err := pipe.Set(playerMatchKey(m.Player1ID), m.MatchID, ttl); err != nil {
			return err
		}
		if err := pipe.Set(playerMatchKey(m.Player2ID), m.MatchID, ttl); err != nil {
			return err
		}
		return pipe.SAdd(activeMatchesKey, m.MatchID)
	})
	return wrapStore(err, "write match")
}

// MatchEndTime returns the stored end time; found is false when the timer is gone.
func (s *Store) MatchEndTime(ctx context.Context, matchID string) (time.Time, bool, error) {
	v, err := s.cache.Get(ctx, matchEndTimeKey(matchID))
	if err != nil {
		return time.Time{}, false, wrapStore(err, "match end time")
	}
	if v == "" {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// MatchPlayers returns both participants from the players map.
func (s *Store) MatchPlayers(ctx context.Context, matchID string) (string, string, bool, error) {
	fields, err := s.cache.HGetAll(ctx, matchPlayersKey(matchID))
	if err != nil {
		return "", "", false, wrapStore(err, "match players")
	}
	p1, p2 := fields["player1"], fields["player2"]
	if p1 == "" || p2 == "" {
		return "", "", false, nil
	}
	return p1, p2, true, nil
}

// PlayerMatch returns the id of the match playerID is in, or "".
func (s *Store) PlayerMatch(ctx context.Context, playerID string) (string, error) {
	v, err := s.cache.Get(ctx, playerMatchKey(playerID))
	return v, wrapStore(err, "player match")
}

func (s *Store) ActiveMatches(ctx context.Context) ([]string, error) {
	ids, err := s.cache.SMembers(ctx, activeMatchesKey)
	if err != nil {
		return nil, wrapStore(err, "active matches")
	}
	sort.Strings(ids)
	return ids, nil
}

// RemoveActive drops matchID from the active index only.
func (s *Store) RemoveActive(ctx context.Context, matchID string) error {
	return wrapStore(s.cache.SRem(ctx, activeMatchesKey, matchID), "remove active")
}

// CleanupMatch deletes every key of a finished match except its chat.
func (s *Store) CleanupMatch(ctx context.Context, matchID string, playerIDs ...string) error {
	keys := []string{
		matchEndTimeKey(matchID),
		matchPlayersKey(matchID),
		matchCodeKey(matchID),
		matchSpectatorKey(matchID),
	}
	for _, id := range playerIDs {
		if id != "" {
			keys = append(keys, playerMatchKey(id))
		}
	}
	err := s.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.Del(keys...); err != nil {
			return err
		}
		return pipe.SRem(activeMatchesKey, matchID)
	})
	return wrapStore(err, "cleanup match")
}

// ---- code snapshots ----

func (s *Store) SaveCode(ctx context.Context, matchID, playerID, code string) error {
	return wrapStore(s.cache.HSet(ctx, matchCodeKey(matchID), playerID, code), "save code")
}

// Code returns the latest snapshot of every player in the match.
func (s *Store) Code(ctx context.Context, matchID string) (map[string]string, error) {
	snapshots, err := s.cache.HGetAll(ctx, matchCodeKey(matchID))
	return snapshots, wrapStore(err, "load code")
}

// ---- spectators ----

func (s *Store) AddSpectator(ctx context.Context, matchID, playerID string) (int64, error) {
	if err := s.cache.SAdd(ctx, matchSpectatorKey(matchID), playerID); err != nil {
		return 0, wrapStore(err, "add spectator")
	}
	return s.SpectatorCount(ctx, matchID)
}

func (s *Store) RemoveSpectator(ctx context.Context, matchID, playerID string) (int64, error) {
	if err := s.cache.SRem(ctx, matchSpectatorKey(matchID), playerID); err != nil {
		return 0, wrapStore(err, "remove spectator")
	}
	return s.SpectatorCount(ctx, matchID)
}

func (s *Store) SpectatorCount(ctx context.Context, matchID string) (int64, error) {
	n, err := s.cache.SCard(ctx, matchSpectatorKey(matchID))
	return n, wrapStore(err, "spectator count")
}

// ---- chat ----

// AppendLobbyChat stores msg and keeps only the newest messages.
func (s *Store) AppendLobbyChat(ctx context.Context, msg model.ChatMessage) error {
	return s.appendChat(ctx, lobbyChatKey, msg, 0)
}

// AppendMatchChat stores msg in the match history, which expires an hour after the last message.
func (s *Store) AppendMatchChat(ctx context.Context, matchID string, msg model.ChatMessage) error {
	return s.appendChat(ctx, matchChatKey(matchID), msg, matchChatTTL)
}

func (s *Store) appendChat(ctx context.Context, key string, msg model.ChatMessage, ttl time.Duration) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.Wrap(fmt.Errorf("encode chat message failed: %w", err), pkgerrors.InternalServerError)
	}
	err = s.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.LPush(key, string(payload)); err != nil {
			return err
		}
		if err := pipe.LTrim(key, 0, chatHistoryLimit-1); err != nil {
			return err
		}
		if ttl > 0 {
			return pipe.Expire(key, ttl)
		}
		return nil
	})
	return wrapStore(err, "append chat")
}

func (s *Store) LobbyChat(ctx context.Context) ([]model.ChatMessage, error) {
	return s.chatHistory(ctx, lobbyChatKey)
}

func (s *Store) MatchChat(ctx context.Context, matchID string) ([]model.ChatMessage, error) {
	return s.chatHistory(ctx, matchChatKey(matchID))
}

// chatHistory returns messages oldest first; undecodable entries are skipped.
func (s *Store) chatHistory(ctx context.Context, key string) ([]model.ChatMessage, error) {
	raw, err := s.cache.LRange(ctx, key, 0, chatHistoryLimit-1)
	if err != nil {
		return nil, wrapStore(err, "chat history")
	}
	out := make([]model.ChatMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// ---- execution bookkeeping ----

// ClaimResult marks jobID as delivered. Only the first caller gets true.
func (s *Store) ClaimResult(ctx context.Context, jobID string) (bool, error) {
	ok, err := s.cache.SetNX(ctx, executionDoneKey(jobID), "1", executionDoneTTL)
	return ok, wrapStore(err, "claim result")
}

// AllowExecution counts one execution for playerID in a fixed window and
// reports whether the player is still within limit.
func (s *Store) AllowExecution(ctx context.Context, playerID string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	res, err := s.cache.RunScript(ctx, incrWindowScript, []string{executionRateKey(playerID)}, window.Milliseconds())
	if err != nil {
		return false, wrapStore(err, "execution throttle")
	}
	n, _ := res.(int64)
	return n <= int64(limit), nil
}
