package model

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first eight hex characters of a random UUID.
func ShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
