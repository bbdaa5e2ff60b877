package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem is only ever built in memory for prompts; it is never stored.
	RoleSystem Role = "system"
)

// Valid reports whether the role may be persisted.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one immutable turn in a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"-"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Exchange pairs the user message with the assistant reply produced for it.
type Exchange struct {
	User      Message `json:"user"`
	Assistant Message `json:"assistant"`
}
