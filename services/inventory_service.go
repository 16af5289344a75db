package services

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imramesh222/ecommerce/metrics"
	"github.com/imramesh222/ecommerce/models"
	"github.com/imramesh222/ecommerce/repository"
)

// InventoryService owns the stock ledger: reserving units for checkout
// attempts, releasing them on failure or expiry, and burning them on
// commit.
type InventoryService struct {
	repo           repository.StockRepository
	logger         *zap.Logger
	metrics        *metrics.Metrics
	reservationTTL time.Duration
}

func NewInventoryService(repo repository.StockRepository, logger *zap.Logger, m *metrics.Metrics, reservationTTL time.Duration) *InventoryService {
	if reservationTTL <= 0 {
		reservationTTL = 5 * time.Minute
	}
	return &InventoryService{
		repo:           repo,
		logger:         logger,
		metrics:        m,
		reservationTTL: reservationTTL,
	}
}

func (s *InventoryService) GetStock(ctx context.Context, productID uuid.UUID) (*models.ProductStock, *ServiceError) {
	stock, err := s.repo.GetStock(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ServiceError{StatusCode: http.StatusNotFound, Code: CodeNotFound, Message: "no stock record for product"}
		}
		s.logger.Error("Failed to load stock", zap.String("product_id", productID.String()), zap.Error(err))
		return nil, errInternal("failed to load stock")
	}
	return stock, nil
}

// SetStock overwrites the available count for a product. Reserved units
// are never touched by an admin write.
func (s *InventoryService) SetStock(ctx context.Context, productID uuid.UUID, available int) (*models.ProductStock, *ServiceError) {
	if available < 0 {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Code: CodeValidation, Message: "available must not be negative"}
	}
	stock, err := s.repo.SetStock(ctx, productID, available)
	if err != nil {
		s.logger.Error("Failed to set stock", zap.String("product_id", productID.String()), zap.Error(err))
		return nil, errInternal("failed to set stock")
	}
	s.logger.Info("Stock updated", zap.String("product_id", productID.String()), zap.Int("available", stock.Available))
	return stock, nil
}

// Reserve takes units for every line of a checkout attempt, walking the
// products in ascending ID order. On any failure everything reserved so
// far is rolled back and the attempt holds nothing.
func (s *InventoryService) Reserve(ctx context.Context, checkoutID uuid.UUID, items []models.CartItem) ([]models.Reservation, error) {
	sorted := make([]models.CartItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ProductID.String() < sorted[j].ProductID.String()
	})

	expires := time.Now().UTC().Add(s.reservationTTL)
	done := make([]models.Reservation, 0, len(sorted))
	for _, it := range sorted {
		res := models.Reservation{
			ID:         uuid.New(),
			CheckoutID: checkoutID,
			ProductID:  it.ProductID,
			Quantity:   it.Quantity,
			ExpiresAt:  expires,
		}
		if err := s.repo.Reserve(ctx, &res); err != nil {
			for _, r := range done {
				if _, relErr := s.repo.Release(ctx, r.ID); relErr != nil {
					s.logger.Error("Failed to roll back reservation",
						zap.String("reservation_id", r.ID.String()),
						zap.String("product_id", r.ProductID.String()),
						zap.Error(relErr))
				}
			}
			if errors.Is(err, repository.ErrInsufficientStock) {
				s.metrics.IncStockConflict()
				s.logger.Info("Reserve refused, insufficient stock",
					zap.String("checkout_id", checkoutID.String()),
					zap.String("product_id", it.ProductID.String()),
					zap.Int("quantity", it.Quantity))
			}
			return nil, err
		}
		done = append(done, res)
	}
	return done, nil
}

// ReleaseCheckout returns every active reservation of the attempt to the
// pool. Already-finished reservations are skipped, so repeated calls are
// harmless.
func (s *InventoryService) ReleaseCheckout(ctx context.Context, checkoutID uuid.UUID) error {
	active, err := s.repo.ActiveByCheckout(ctx, checkoutID)
	if err != nil {
		return err
	}
	var firstErr error
	released := 0
	for _, res := range active {
		moved, err := s.repo.Release(ctx, res.ID)
		if err != nil {
			s.logger.Error("Failed to release reservation",
				zap.String("reservation_id", res.ID.String()),
				zap.String("checkout_id", checkoutID.String()),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if moved {
			released++
		}
	}
	s.metrics.AddReservationsReleased(released)
	return firstErr
}

// CommitCheckout burns the attempt's active reservations. Reserved units
// leave the ledger for good; available is untouched.
func (s *InventoryService) CommitCheckout(ctx context.Context, checkoutID uuid.UUID) error {
	active, err := s.repo.ActiveByCheckout(ctx, checkoutID)
	if err != nil {
		return err
	}
	for _, res := range active {
		if _, err := s.repo.Commit(ctx, res.ID); err != nil {
			s.logger.Error("Failed to commit reservation",
				zap.String("reservation_id", res.ID.String()),
				zap.String("checkout_id", checkoutID.String()),
				zap.Error(err))
			return err
		}
	}
	return nil
}

// ReleaseExpired sweeps reservations past their deadline. The keep
// callback lets the caller protect reservations whose attempt can still
// commit; with a nil callback everything expired is released.
func (s *InventoryService) ReleaseExpired(ctx context.Context, now time.Time, limit int, keep func(ctx context.Context, checkoutID uuid.UUID) bool) (int, error) {
	expired, err := s.repo.ExpiredActive(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, res := range expired {
		if keep != nil && keep(ctx, res.CheckoutID) {
			continue
		}
		moved, err := s.repo.Release(ctx, res.ID)
		if err != nil {
			s.logger.Error("Failed to release expired reservation",
				zap.String("reservation_id", res.ID.String()),
				zap.Error(err))
			continue
		}
		if moved {
			released++
		}
	}
	s.metrics.AddReservationsReleased(released)
	return released, nil
}
