package identity

import (
	"context"
	"testing"
	"time"

	"codeduel/internal/match/model"
	pkgerrors "codeduel/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, key interface{}) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return token
}

func accessClaims(subject string, ttl time.Duration) tokenClaims {
	return tokenClaims{
		Role:      "player",
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "codeduel",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
}

func TestJWTVerifierAcceptsAccessToken(t *testing.T) {
	v := NewJWTVerifier(testSecret, "codeduel")
	raw := signToken(t, jwt.SigningMethodHS256, accessClaims("p-1", time.Hour), []byte(testSecret))

	claims, err := v.Verify(raw)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.PlayerID != "p-1" || claims.Role != "player" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTVerifierRejections(t *testing.T) {
	v := NewJWTVerifier(testSecret, "codeduel")

	expired := signToken(t, jwt.SigningMethodHS256, accessClaims("p-1", -time.Minute), []byte(testSecret))
	if _, err := v.Verify(expired); !pkgerrors.Is(err, pkgerrors.TokenExpired) {
		t.Fatalf("expected TokenExpired, got %v", err)
	}

	wrongKey := signToken(t, jwt.SigningMethodHS256, accessClaims("p-1", time.Hour), []byte("other"))
	if _, err := v.Verify(wrongKey); !pkgerrors.Is(err, pkgerrors.TokenInvalid) {
		t.Fatalf("expected TokenInvalid for wrong key, got %v", err)
	}

	refresh := accessClaims("p-1", time.Hour)
	refresh.TokenType = "refresh"
	if _, err := v.Verify(signToken(t, jwt.SigningMethodHS256, refresh, []byte(testSecret))); !pkgerrors.Is(err, pkgerrors.TokenInvalid) {
		t.Fatalf("expected TokenInvalid for refresh token, got %v", err)
	}

	otherIssuer := accessClaims("p-1", time.Hour)
	otherIssuer.Issuer = "elsewhere"
	if _, err := v.Verify(signToken(t, jwt.SigningMethodHS256, otherIssuer, []byte(testSecret))); !pkgerrors.Is(err, pkgerrors.TokenInvalid) {
		t.Fatalf("expected TokenInvalid for issuer, got %v", err)
	}

	hs512 := signToken(t, jwt.SigningMethodHS512, accessClaims("p-1", time.Hour), []byte(testSecret))
	if _, err := v.Verify(hs512); !pkgerrors.Is(err, pkgerrors.TokenInvalid) {
		t.Fatalf("expected TokenInvalid for HS512, got %v", err)
	}
}

func TestJWTVerifierUserIDFallback(t *testing.T) {
	v := NewJWTVerifier(testSecret, "")
	claims := tokenClaims{
		UserID: "p-9",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	got, err := v.Verify(signToken(t, jwt.SigningMethodHS256, claims, []byte(testSecret)))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if got.PlayerID != "p-9" {
		t.Fatalf("unexpected player id: %s", got.PlayerID)
	}
}

type fakePlayers map[string]*model.Player

func (f fakePlayers) GetPlayer(ctx context.Context, playerID string) (*model.Player, error) {
	p, ok := f[playerID]
	if !ok {
		return nil, pkgerrors.NotFoundError(pkgerrors.PlayerNotFound, playerID)
	}
	return p, nil
}

func TestAuthenticatorResolvesPlayer(t *testing.T) {
	players := fakePlayers{"p-1": {ID: "p-1", Username: "alice", Rating: 1300}}
	auth := NewAuthenticator(NewJWTVerifier(testSecret, ""), players)

	raw := signToken(t, jwt.SigningMethodHS256, accessClaims("p-1", time.Hour), []byte(testSecret))
	principal, err := auth.Authenticate(context.Background(), raw)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if principal.Username != "alice" || principal.Rating != 1300 {
		t.Fatalf("unexpected principal: %+v", principal)
	}

	unknown := signToken(t, jwt.SigningMethodHS256, accessClaims("p-2", time.Hour), []byte(testSecret))
	if _, err := auth.Authenticate(context.Background(), unknown); !pkgerrors.Is(err, pkgerrors.Unauthorized) {
		t.Fatalf("expected Unauthorized for unknown player, got %v", err)
	}
	if _, err := auth.Authenticate(context.Background(), ""); !pkgerrors.Is(err, pkgerrors.Unauthorized) {
		t.Fatalf("expected Unauthorized for empty token, got %v", err)
	}
}
