// Package store holds the in-memory inventory ledger.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fairyhunter13/order-pipeline/internal/model"
)

var (
	ErrUnknownProduct    = errors.New("unknown product")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Store maps product ids to inventory items. The consumer is the only writer;
// lookups and snapshots may come from any goroutine.
type Store struct {
	mu sync.RWMutex
	m  map[uint64]model.InventoryItem
}

// New copies items into a new Store.
func New(items map[uint64]model.InventoryItem) *Store {
	m := make(map[uint64]model.InventoryItem, len(items))
	for id, it := range items {
		m[id] = it
	}
	return &Store{m: m}
}

// Lookup returns the item for id.
func (s *Store) Lookup(id uint64) (model.InventoryItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.m[id]
	return it, ok
}

// ApplyDebit removes qty from the stock of id. Callers must have confirmed
// sufficient stock with Lookup; the check is repeated so stock never wraps.
func (s *Store) ApplyDebit(id, qty uint64) error {
	_, err := s.TryDebit(id, qty)
	return err
}

// TryDebit checks and decrements stock under one write lock. It returns the
// item as it was before the debit.
func (s *Store) TryDebit(id, qty uint64) (model.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.m[id]
	if !ok {
		return model.InventoryItem{}, fmt.Errorf("%w: %d", ErrUnknownProduct, id)
	}
	if it.Stock < qty {
		return it, fmt.Errorf("%w: product %d has %d, want %d", ErrInsufficientStock, id, it.Stock, qty)
	}
	before := it
	it.Stock -= qty
	s.m[id] = it
	return before, nil
}

// Credit returns qty to the stock of id. It undoes a TryDebit whose
// transaction could not be recorded.
func (s *Store) Credit(id, qty uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.m[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownProduct, id)
	}
	it.Stock += qty
	s.m[id] = it
	return nil
}

// Snapshot returns all items ordered by product id.
func (s *Store) Snapshot() []model.InventoryItem {
	s.mu.RLock()
	out := make([]model.InventoryItem, 0, len(s.m))
	for _, it := range s.m {
		out = append(out, it)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Len returns the number of products.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
