package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imramesh222/ecommerce/models"
)

// MemoryAttemptRepository is an in-memory AttemptRepository for tests and
// the memory store backend.
type MemoryAttemptRepository struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*models.CheckoutAttempt
}

func NewMemoryAttemptRepository() *MemoryAttemptRepository {
	return &MemoryAttemptRepository{attempts: make(map[uuid.UUID]*models.CheckoutAttempt)}
}

func copyAttempt(a *models.CheckoutAttempt) *models.CheckoutAttempt {
	cp := *a
	cp.Snapshot.Items = make([]models.CartItem, len(a.Snapshot.Items))
	copy(cp.Snapshot.Items, a.Snapshot.Items)
	if a.OrderID != nil {
		id := *a.OrderID
		cp.OrderID = &id
	}
	return &cp
}

func (r *MemoryAttemptRepository) Create(_ context.Context, attempt *models.CheckoutAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.attempts {
		if existing.IdempotencyKey == attempt.IdempotencyKey && !existing.State.Terminal() {
			return ErrDuplicateKey
		}
	}
	now := time.Now().UTC()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	r.attempts[attempt.ID] = copyAttempt(attempt)
	return nil
}

func (r *MemoryAttemptRepository) Update(_ context.Context, attempt *models.CheckoutAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[attempt.ID]; !ok {
		return ErrNotFound
	}
	attempt.UpdatedAt = time.Now().UTC()
	r.attempts[attempt.ID] = copyAttempt(attempt)
	return nil
}

func (r *MemoryAttemptRepository) FindByID(_ context.Context, id uuid.UUID) (*models.CheckoutAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAttempt(attempt), nil
}

func (r *MemoryAttemptRepository) FindCommittedByKey(_ context.Context, key string) (*models.CheckoutAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.IdempotencyKey == key && a.State == models.CheckoutCommitted {
			return copyAttempt(a), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryAttemptRepository) FindActiveByKey(_ context.Context, key string) (*models.CheckoutAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.IdempotencyKey == key && !a.State.Terminal() {
			return copyAttempt(a), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryAttemptRepository) ListExpired(_ context.Context, cutoff time.Time, limit int) ([]models.CheckoutAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CheckoutAttempt
	for _, a := range r.attempts {
		if !a.State.Terminal() && !a.ExpiresAt.After(cutoff) {
			out = append(out, *copyAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryAttemptRepository) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.attempts {
		if a.State.Terminal() && a.UpdatedAt.Before(cutoff) {
			delete(r.attempts, id)
			n++
		}
	}
	return n, nil
}
