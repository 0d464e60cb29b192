package util

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string used as a primary key.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether raw is a UUID accepted as a path identifier.
func ValidID(raw string) bool {
	_, err := uuid.Parse(raw)
	return err == nil
}
