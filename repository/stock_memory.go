package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imramesh222/ecommerce/models"
)

// MemoryStockRepository is an in-memory StockRepository used by tests and
// the memory store backend. A single mutex gives the same atomicity the
// Postgres implementation gets from conditional updates.
type MemoryStockRepository struct {
	mu           sync.Mutex
	stocks       map[uuid.UUID]*models.ProductStock
	reservations map[uuid.UUID]*models.Reservation
}

func NewMemoryStockRepository() *MemoryStockRepository {
	return &MemoryStockRepository{
		stocks:       make(map[uuid.UUID]*models.ProductStock),
		reservations: make(map[uuid.UUID]*models.Reservation),
	}
}

func (r *MemoryStockRepository) GetStock(_ context.Context, productID uuid.UUID) (*models.ProductStock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stock, ok := r.stocks[productID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *stock
	return &cp, nil
}

func (r *MemoryStockRepository) SetStock(_ context.Context, productID uuid.UUID, available int) (*models.ProductStock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stock, ok := r.stocks[productID]
	if !ok {
		stock = &models.ProductStock{ProductID: productID}
		r.stocks[productID] = stock
	}
	stock.Available = available
	stock.UpdatedAt = time.Now().UTC()
	cp := *stock
	return &cp, nil
}

func (r *MemoryStockRepository) Reserve(_ context.Context, res *models.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stock, ok := r.stocks[res.ProductID]
	if !ok || stock.Available < res.Quantity {
		return ErrInsufficientStock
	}
	stock.Available -= res.Quantity
	stock.Reserved += res.Quantity
	stock.UpdatedAt = time.Now().UTC()

	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	res.Status = models.ReservationActive
	res.CreatedAt = time.Now().UTC()
	cp := *res
	r.reservations[res.ID] = &cp
	return nil
}

func (r *MemoryStockRepository) Release(_ context.Context, reservationID uuid.UUID) (bool, error) {
	return r.finish(reservationID, models.ReservationReleased)
}

func (r *MemoryStockRepository) Commit(_ context.Context, reservationID uuid.UUID) (bool, error) {
	return r.finish(reservationID, models.ReservationCommitted)
}

func (r *MemoryStockRepository) finish(reservationID uuid.UUID, status models.ReservationStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[reservationID]
	if !ok {
		return false, ErrNotFound
	}
	if res.Status != models.ReservationActive {
		return false, nil
	}
	stock, ok := r.stocks[res.ProductID]
	if !ok || stock.Reserved < res.Quantity {
		return false, fmt.Errorf("ledger out of balance for product %s", res.ProductID)
	}
	res.Status = status
	stock.Reserved -= res.Quantity
	if status == models.ReservationReleased {
		stock.Available += res.Quantity
	}
	stock.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryStockRepository) ActiveByCheckout(_ context.Context, checkoutID uuid.UUID) ([]models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Reservation
	for _, res := range r.reservations {
		if res.CheckoutID == checkoutID && res.Status == models.ReservationActive {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProductID.String() < out[j].ProductID.String()
	})
	return out, nil
}

func (r *MemoryStockRepository) ExpiredActive(_ context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Reservation
	for _, res := range r.reservations {
		if res.Status == models.ReservationActive && !res.ExpiresAt.After(cutoff) {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
