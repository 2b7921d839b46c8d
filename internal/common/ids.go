package common

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a 26-char, time-sortable id.
func NewULID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for call sites that cannot surface an error.
func MustULID() string {
	return ulid.Make().String()
}

// NewIdempotencyKey returns a random UUIDv4 string.
func NewIdempotencyKey() string {
	return uuid.NewString()
}
