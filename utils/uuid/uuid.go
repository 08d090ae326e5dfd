package uuid

import (
	google_uuid "github.com/google/uuid"
)

// MustUUID returns a random (version 4) UUID string.
// It panics if the random source fails.
func MustUUID() string {
	return google_uuid.New().String()
}
