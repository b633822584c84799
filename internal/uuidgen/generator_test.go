package uuidgen

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewForEntity(t *testing.T) {
	tests := []struct {
		name       string
		entityType EntityType
		version    uuid.Version
	}{
		{"connection uses UUIDv7", EntityTypeConnection, 7},
		{"edit operation uses UUIDv7", EntityTypeEditOperation, 7},
		{"request uses UUIDv4", EntityTypeRequest, 4},
		{"unknown uses UUIDv4", EntityType("other"), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewForEntity(tt.entityType)
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, id)
			assert.Equal(t, tt.version, id.Version())
		})
	}
}

func TestNewConnectionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewConnectionID()
		assert.False(t, seen[id], "duplicate connection id %s", id)
		seen[id] = true

		parsed, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), parsed.Version())
	}
}

func TestNewConnectionID_TimeOrdered(t *testing.T) {
	first := uuid.MustParse(NewConnectionID())
	second := uuid.MustParse(NewConnectionID())

	firstSec, firstNsec := first.Time().UnixTime()
	secondSec, secondNsec := second.Time().UnixTime()
	assert.LessOrEqual(t, firstSec*1e9+firstNsec, secondSec*1e9+secondNsec)
}

func TestMustHelpers(t *testing.T) {
	assert.NotPanics(t, func() { MustNewV7() })
	assert.NotPanics(t, func() { MustNewForEntity(EntityTypeRequest) })

	v4, err := NewV4()
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), v4.Version())
}
