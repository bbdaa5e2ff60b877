package chat

import "time"

// Session is one persisted conversation owned by a single user.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OwnedBy reports whether the session belongs to userID.
func (s Session) OwnedBy(userID string) bool {
	return userID != "" && s.OwnerID == userID
}
