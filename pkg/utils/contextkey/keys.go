package contextkey

// Key is a distinct type to avoid context key collisions across packages.
type Key string

const (
	TraceID   Key = "trace_id"
	RequestID Key = "request_id"
	PlayerID  Key = "player_id"
	ConnID    Key = "conn_id"
	MatchID   Key = "match_id"
)
