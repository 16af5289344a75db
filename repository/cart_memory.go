package repository

import (
	"context"
	"sync"
	"time"

	"github.com/imramesh222/ecommerce/models"
)

// MemoryCartRepository is an in-memory CartRepository with the same
// compare-and-set semantics as the Redis implementation.
type MemoryCartRepository struct {
	mu    sync.Mutex
	carts map[string]*models.Cart
}

func NewMemoryCartRepository() *MemoryCartRepository {
	return &MemoryCartRepository{carts: make(map[string]*models.Cart)}
}

func (r *MemoryCartRepository) Get(_ context.Context, ownerID string) (*models.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[ownerID]
	if !ok {
		return nil, nil
	}
	return cart.Clone(), nil
}

func (r *MemoryCartRepository) Save(_ context.Context, cart *models.Cart, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	if stored, ok := r.carts[cart.OwnerID]; ok {
		current = stored.Version
	}
	if current != expectedVersion {
		return ErrVersionConflict
	}

	snap := cart.Clone()
	snap.Version = expectedVersion + 1
	snap.UpdatedAt = time.Now().UTC()
	r.carts[cart.OwnerID] = snap

	cart.Version = snap.Version
	cart.UpdatedAt = snap.UpdatedAt
	return nil
}

func (r *MemoryCartRepository) Delete(_ context.Context, ownerID string, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.carts[ownerID]
	if !ok {
		return nil
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	delete(r.carts, ownerID)
	return nil
}
