package identity

import (
	"context"

	"codeduel/internal/match/model"
	pkgerrors "codeduel/pkg/errors"
)

// Principal is an authenticated player.
type Principal struct {
	PlayerID string
	Username string
	Role     string
	Rating   int
}

// PlayerLookup loads the player a token refers to.
type PlayerLookup interface {
	GetPlayer(ctx context.Context, playerID string) (*model.Player, error)
}

// Authenticator verifies tokens and resolves them to known players.
type Authenticator struct {
	verifier Verifier
	players  PlayerLookup
}

func NewAuthenticator(verifier Verifier, players PlayerLookup) *Authenticator {
	return &Authenticator{verifier: verifier, players: players}
}

// Authenticate returns the principal for raw. Tokens of players that no
// longer exist are rejected.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (Principal, error) {
	if raw == "" {
		return Principal{}, pkgerrors.New(pkgerrors.Unauthorized).WithMessage("Authentication required")
	}
	claims, err := a.verifier.Verify(raw)
	if err != nil {
		return Principal{}, err
	}
	player, err := a.players.GetPlayer(ctx, claims.PlayerID)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.PlayerNotFound) {
			return Principal{}, pkgerrors.New(pkgerrors.Unauthorized).WithMessage("User not found")
		}
		return Principal{}, pkgerrors.Wrap(err, pkgerrors.ServiceUnavailable)
	}
	return Principal{
		PlayerID: player.ID,
		Username: player.Username,
		Role:     claims.Role,
		Rating:   player.Rating,
	}, nil
}
