package state

const (
	lobbyQueueKey    = "lobby:queue"
	lobbyJoinTimeKey = "lobby:jointime"
	activeMatchesKey = "matches:active"
	lobbyChatKey     = "chat:lobby"
)

func socketKey(playerID string) string { return "user:" + playerID + ":socket" }
func matchEndTimeKey(matchID string) string { return "match:" + matchID + ":endtime" }
func matchPlayersKey(matchID string) string { return "match:" + matchID + ":players" }
func matchCodeKey(matchID string) string { return "match:" + matchID + ":code" }
func matchSpectatorKey(matchID string) string { return "match:" + matchID + ":spectators" }
func playerMatchKey(playerID string) string { return "player:" + playerID + ":match" }
func matchChatKey(matchID string) string { return "chat:match:" + matchID }
func executionDoneKey(jobID string) string { return "execution:done:" + jobID }
func executionRateKey(playerID string) string { return "ratelimit:execution:" + playerID }
