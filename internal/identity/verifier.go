package identity

import (
	"errors"
	"fmt"
	"strings"

	pkgerrors "codeduel/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenType = "access"

// Claims is the verified content of an access token.
type Claims struct {
	PlayerID string
	Role     string
}

// Verifier checks a raw token and returns its claims.
type Verifier interface {
	Verify(raw string) (Claims, error)
}

// JWTVerifier verifies HS256 access tokens issued by the account service.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	UserID    string `json:"userId"`
	jwt.RegisteredClaims
}

func (v *JWTVerifier) Verify(raw string) (Claims, error) {
	if raw == "" || len(v.secret) == 0 {
		return Claims{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Claims{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Claims{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return Claims{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "" && claims.TokenType != accessTokenType {
		return Claims{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}

	playerID := strings.TrimSpace(claims.Subject)
	if playerID == "" {
		playerID = strings.TrimSpace(claims.UserID)
	}
	if playerID == "" {
		return Claims{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return Claims{PlayerID: playerID, Role: claims.Role}, nil
}
