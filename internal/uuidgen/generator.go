package uuidgen

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityType names the kinds of identifiers the server mints
type EntityType string

const (
	EntityTypeConnection    EntityType = "connection"
	EntityTypeEditOperation EntityType = "edit_operation"
	EntityTypeRequest       EntityType = "request"
)

// NewForEntity generates a UUID appropriate for the given entity type.
// Connections and edit operations use UUIDv7 so that IDs carry their creation
// time and sort in insertion order; everything else uses UUIDv4.
func NewForEntity(entityType EntityType) (uuid.UUID, error) {
	switch entityType {
	case EntityTypeConnection, EntityTypeEditOperation:
		return uuid.NewV7()
	default:
		return uuid.NewRandom()
	}
}

// MustNewForEntity is like NewForEntity but panics on error
func MustNewForEntity(entityType EntityType) uuid.UUID {
	id, err := NewForEntity(entityType)
	if err != nil {
		panic(fmt.Sprintf("failed to generate UUID for entity type %s: %v", entityType, err))
	}
	return id
}

// NewConnectionID returns a time-ordered connection identifier
func NewConnectionID() string {
	return MustNewForEntity(EntityTypeConnection).String()
}

// NewV4 generates a random UUIDv4
func NewV4() (uuid.UUID, error) {
	return uuid.NewRandom()
}

// NewV7 generates a time-ordered UUIDv7
func NewV7() (uuid.UUID, error) {
	return uuid.NewV7()
}

// MustNewV7 is like NewV7 but panics on error
func MustNewV7() uuid.UUID {
	id, err := NewV7()
	if err != nil {
		panic(fmt.Sprintf("failed to generate UUIDv7: %v", err))
	}
	return id
}
