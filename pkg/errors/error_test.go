package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "codeduel/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{MatchNotFound, "Match not found"},
		{SpectateOwnMatch, "Cannot spectate your own match"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{ValidationFailed, 400},
		{MessageTooLong, 400},
		{TokenExpired, 401},
		{NotMatchParticipant, 403},
		{PlayerNotFound, 404},
		{MatchNotInProgress, 409},
		{AlreadyInMatch, 409},
		{TooManyRequests, 429},
		{CacheError, 500},
		{SandboxUnavailable, 503},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(UnsupportedLanguage, "Unsupported language: %s", "cobol")
	if err.Error() != "Unsupported language: cobol" {
		t.Errorf("Error() = %v", err.Error())
	}
	if err.Stack == "" {
		t.Errorf("expected a captured stack")
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	err := Wrap(originalErr, CacheError)

	if err.Code != CacheError {
		t.Errorf("Code = %v, want %v", err.Code, CacheError)
	}
	if !errors.Is(err, originalErr) {
		t.Errorf("wrapped error must unwrap to the original")
	}
	if Wrap(nil, CacheError) != nil {
		t.Errorf("Wrap(nil) must be nil")
	}
}

func TestWrapKeepsDomainError(t *testing.T) {
	domain := ConflictError(MatchNotInProgress, "")
	wrapped := Wrapf(fmt.Errorf("end match: %w", domain), DatabaseError, "end match failed")

	if wrapped.Code != MatchNotInProgress {
		t.Errorf("Code = %v, want %v", wrapped.Code, MatchNotInProgress)
	}
	if !IsConflict(wrapped) {
		t.Errorf("expected conflict class")
	}
}

func TestGetCode(t *testing.T) {
	if GetCode(nil) != Success {
		t.Errorf("nil error must report Success")
	}
	if GetCode(errors.New("boom")) != InternalServerError {
		t.Errorf("foreign errors must report InternalServerError")
	}
	if !Is(fmt.Errorf("ctx: %w", New(MatchNotFound)), MatchNotFound) {
		t.Errorf("Is must see through fmt wrapping")
	}
}

func TestHelpers(t *testing.T) {
	nf := NotFoundError(PlayerNotFound, "p1")
	if nf.Details["id"] != "p1" {
		t.Errorf("NotFoundError details = %v", nf.Details)
	}

	v := ValidationError("matchId", "Match ID is required")
	if v.Code != ValidationFailed || v.Details["field"] != "matchId" || v.Error() != "Match ID is required" {
		t.Errorf("ValidationError = %+v", v)
	}

	if UnauthorizedError("").Error() != Unauthorized.Message() {
		t.Errorf("empty message must fall back to the default")
	}
	if ForbiddenError("admins only").Error() != "admins only" {
		t.Errorf("custom forbidden message lost")
	}
	if BadRequest("bad").Code != InvalidParams {
		t.Errorf("BadRequest code mismatch")
	}
}
