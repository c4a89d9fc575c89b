package model

import "time"

type ChatMessageType string

const (
	ChatMessageUser   ChatMessageType = "user"
	ChatMessageSystem ChatMessageType = "system"
)

// ChatMessage is one lobby or match chat line.
type ChatMessage struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Type      ChatMessageType `json:"type"`
}
