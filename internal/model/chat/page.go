package chat

import "github.com/zhouzirui/career-chat/backend/internal/apperr"

const (
	DefaultSessionPageSize = 20
	DefaultMessagePageSize = 30
	MaxPageSize            = 50
)

// PageRequest carries a caller-held keyset cursor. Cursor is the id of the
// last row the caller has already seen; empty means "from the start".
type PageRequest struct {
	Cursor string
	Take   int
}

// Validate rejects a Take outside [0, MaxPageSize]; zero selects the default.
func (p PageRequest) Validate() error {
	if p.Take < 0 || p.Take > MaxPageSize {
		return apperr.Invalid("take must be between 1 and %d", MaxPageSize)
	}
	return nil
}

// WithDefault fills Take when the caller left it unset.
func (p PageRequest) WithDefault(take int) PageRequest {
	if p.Take <= 0 {
		p.Take = take
	}
	if p.Take > MaxPageSize {
		p.Take = MaxPageSize
	}
	return p
}

// Page is one slice of an ordered listing. NextCursor is nil on the last page.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"nextCursor"`
}

// NewPage trims rows fetched with take+1 semantics: when an extra row is
// present it is dropped and the last kept row's id becomes the next cursor.
func NewPage[T any](rows []T, take int, id func(T) string) Page[T] {
	if rows == nil {
		rows = []T{}
	}
	if len(rows) <= take {
		return Page[T]{Items: rows}
	}
	rows = rows[:take]
	next := id(rows[len(rows)-1])
	return Page[T]{Items: rows, NextCursor: &next}
}
