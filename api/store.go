package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ericfitz/collabd/api/models"
)

// Store is the durable side of collaboration: two write paths and a health
// probe. Nothing here is ever read back by the server.
type Store interface {
	Name() string
	UpsertPresence(ctx context.Context, presence *models.UserPresence) error
	InsertEditOperation(ctx context.Context, op *models.EditOperation) error
	Ping(ctx context.Context) error
}

// MultiStore writes to every configured store
type MultiStore struct {
	stores []Store
}

// NewMultiStore combines stores; nil entries are skipped
func NewMultiStore(stores ...Store) *MultiStore {
	m := &MultiStore{}
	for _, s := range stores {
		if s != nil {
			m.stores = append(m.stores, s)
		}
	}
	return m
}

// Len returns the number of combined stores
func (m *MultiStore) Len() int { return len(m.stores) }

// Name implements Store
func (m *MultiStore) Name() string {
	names := make([]string, len(m.stores))
	for i, s := range m.stores {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// UpsertPresence implements Store
func (m *MultiStore) UpsertPresence(ctx context.Context, presence *models.UserPresence) error {
	return m.each(func(s Store) error { return s.UpsertPresence(ctx, presence) })
}

// InsertEditOperation implements Store
func (m *MultiStore) InsertEditOperation(ctx context.Context, op *models.EditOperation) error {
	return m.each(func(s Store) error { return s.InsertEditOperation(ctx, op) })
}

// Ping implements Store
func (m *MultiStore) Ping(ctx context.Context) error {
	return m.each(func(s Store) error { return s.Ping(ctx) })
}

func (m *MultiStore) each(fn func(Store) error) error {
	var errs []error
	for _, s := range m.stores {
		if err := fn(s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
