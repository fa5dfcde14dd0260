package xid

import "github.com/google/uuid"

// New returns a time-ordered UUIDv7 string, falling back to a random v4 if
// the clock read fails.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
