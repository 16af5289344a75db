package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imramesh222/ecommerce/models"
)

// MemoryOrderRepository is an in-memory OrderRepository for tests and the
// memory store backend.
type MemoryOrderRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	byKey  map[string]uuid.UUID
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders: make(map[uuid.UUID]*models.Order),
		byKey:  make(map[string]uuid.UUID),
	}
}

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = make([]models.OrderItem, len(o.Items))
	copy(cp.Items, o.Items)
	return &cp
}

func (r *MemoryOrderRepository) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[order.IdempotencyKey]; exists {
		return ErrDuplicateKey
	}
	order.CreatedAt = time.Now().UTC()
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
		order.Items[i].OrderID = order.ID
	}
	r.orders[order.ID] = copyOrder(order)
	r.byKey[order.IdempotencyKey] = order.ID
	return nil
}

func (r *MemoryOrderRepository) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(order), nil
}

func (r *MemoryOrderRepository) FindByIDAndOwner(_ context.Context, id uuid.UUID, ownerID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok || order.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return copyOrder(order), nil
}

func (r *MemoryOrderRepository) FindByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(r.orders[id]), nil
}

func (r *MemoryOrderRepository) ListByOwner(_ context.Context, ownerID string, page, limit int) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	var all []models.Order
	for _, o := range r.orders {
		if o.OwnerID == ownerID {
			all = append(all, *copyOrder(o))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return []models.Order{}, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}
