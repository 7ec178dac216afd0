package model

import "github.com/google/uuid"

// ID is the opaque 128-bit identifier shared by every entity.
type ID = uuid.UUID

// NewID allocates a fresh random identifier.
func NewID() ID {
	return uuid.New()
}

// ParseID parses the canonical string form of an ID, as found in a URL
// path segment or a bearer-token subject field.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

// ZeroID reports the nil identifier, used to mean "unset" on optional refs.
var ZeroID ID
