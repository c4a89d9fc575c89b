package model

// DefaultRating is the rating of a newly registered player.
const DefaultRating = 1200

// Player is a registered player as read from the identity store.
type Player struct {
	ID        string  `db:"id"`
	Username  string  `db:"username"`
	AvatarURL *string `db:"avatar_url"`
	Rating    int     `db:"elo_rating"`
}

// PlayerPublic is the projection shown to other clients.
type PlayerPublic struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatarUrl"`
	EloRating int     `json:"eloRating"`
}

func (p *Player) Public() PlayerPublic {
	return PlayerPublic{
		ID:        p.ID,
		Username:  p.Username,
		AvatarURL: p.AvatarURL,
		EloRating: p.Rating,
	}
}
