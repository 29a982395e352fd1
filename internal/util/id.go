package util

import "github.com/google/uuid"

// NewID returns a random UUID. Used for request ids and stored object keys.
func NewID() string {
	return uuid.NewString()
}
