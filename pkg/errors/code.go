package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Identity errors
// 12000-12999: Matchmaking errors
// 13000-13999: Match lifecycle errors
// 14000-14999: Execution errors
// 15000-15999: Session hub errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008
	Conflict            ErrorCode = 10009

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransactionFailed ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10303

	// Queue errors (10400-10499)
	QueueError ErrorCode = 10400

	// Storage errors (10500-10599)
	StorageError ErrorCode = 10500

	// ========== Identity Errors (11000-11999) ==========

	PlayerNotFound ErrorCode = 11001
	TokenExpired   ErrorCode = 11003
	TokenInvalid   ErrorCode = 11004

	// ========== Matchmaking Errors (12000-12999) ==========

	AlreadyInQueue   ErrorCode = 12000
	NotInQueue       ErrorCode = 12001
	AlreadyInMatch   ErrorCode = 12002
	PairingFailed    ErrorCode = 12003
	QueueUnavailable ErrorCode = 12004

	// ========== Match Lifecycle Errors (13000-13999) ==========

	MatchNotFound       ErrorCode = 13000
	MatchNotInProgress  ErrorCode = 13001
	NotMatchParticipant ErrorCode = 13002
	ProblemNotFound     ErrorCode = 13003
	NoProblemAvailable  ErrorCode = 13004
	MatchCreateFailed   ErrorCode = 13005

	// ========== Execution Errors (14000-14999) ==========

	CodeTooLarge           ErrorCode = 14000
	UnsupportedLanguage    ErrorCode = 14001
	SubmitTooFrequently    ErrorCode = 14002
	SandboxUnavailable     ErrorCode = 14100
	CompileFailed          ErrorCode = 14101
	ExecutionFailed        ErrorCode = 14102
	ExecutionEnqueueFailed ErrorCode = 14103
	ExecutionInterrupted   ErrorCode = 14104

	// ========== Session Hub Errors (15000-15999) ==========

	UnknownEvent     ErrorCode = 15000
	MessageTooLong   ErrorCode = 15001
	MessageEmpty     ErrorCode = 15002
	SpectateOwnMatch ErrorCode = 15003
	NotInMatchRoom   ErrorCode = 15004
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",
	Conflict:            "Conflicting state",

	DatabaseError:     "Database operation failed",
	RecordNotFound:    "Record not found in database",
	TransactionFailed: "Database transaction failed",

	CacheError: "State store operation failed",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	QueueError:   "Queue operation failed",
	StorageError: "Object storage operation failed",

	PlayerNotFound: "Player not found",
	TokenExpired:   "Token has expired",
	TokenInvalid:   "Invalid token",

	AlreadyInQueue:   "Already in the lobby queue",
	NotInQueue:       "Not in the lobby queue",
	AlreadyInMatch:   "Already in a match",
	PairingFailed:    "Failed to pair players",
	QueueUnavailable: "Matchmaking queue unavailable",

	MatchNotFound:       "Match not found",
	MatchNotInProgress:  "Match is not in progress",
	NotMatchParticipant: "Not a participant of this match",
	ProblemNotFound:     "Problem not found",
	NoProblemAvailable:  "No problem available",
	MatchCreateFailed:   "Failed to create match",

	CodeTooLarge:           "Code is too large",
	UnsupportedLanguage:    "Unsupported language",
	SubmitTooFrequently:    "Submitting too frequently, please wait",
	SandboxUnavailable:     "Execution service unavailable",
	CompileFailed:          "Compilation failed",
	ExecutionFailed:        "Execution failed",
	ExecutionEnqueueFailed: "Failed to queue execution",
	ExecutionInterrupted:   "Execution was interrupted, please submit again",

	UnknownEvent:     "Unknown event",
	MessageTooLong:   "Message is too long",
	MessageEmpty:     "Message is empty",
	SpectateOwnMatch: "Cannot spectate your own match",
	NotInMatchRoom:   "Not in this match room",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c == NotMatchParticipant, c == NotInMatchRoom:
		return 403
	case c == NotFound, c == RecordNotFound, c == PlayerNotFound, c == MatchNotFound, c == ProblemNotFound:
		return 404
	case c == Conflict, c == MatchNotInProgress, c == AlreadyInMatch, c == AlreadyInQueue, c == SpectateOwnMatch:
		return 409
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == SandboxUnavailable, c == QueueUnavailable:
		return 503
	case c >= 10300 && c < 10400:
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == UnsupportedLanguage, c == MessageTooLong, c == MessageEmpty, c == UnknownEvent:
		return 400
	default:
		return 500
	}
}

// IsConflict reports whether the code belongs to the conflict class.
func (c ErrorCode) IsConflict() bool {
	return c.HTTPStatus() == 409
}
