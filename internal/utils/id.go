package utils

import "github.com/google/uuid"

// NewID returns a random identifier for connections.
func NewID() string {
	return uuid.NewString()
}
