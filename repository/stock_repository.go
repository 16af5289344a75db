package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/imramesh222/ecommerce/models"
)

// StockRepository is the persistence port for the inventory ledger.
// Reserve, Release and Commit are atomic: no interleaving of two calls may
// observe negative counters or move the same units twice.
type StockRepository interface {
	GetStock(ctx context.Context, productID uuid.UUID) (*models.ProductStock, error)
	SetStock(ctx context.Context, productID uuid.UUID, available int) (*models.ProductStock, error)
	Reserve(ctx context.Context, res *models.Reservation) error
	Release(ctx context.Context, reservationID uuid.UUID) (bool, error)
	Commit(ctx context.Context, reservationID uuid.UUID) (bool, error)
	ActiveByCheckout(ctx context.Context, checkoutID uuid.UUID) ([]models.Reservation, error)
	ExpiredActive(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error)
}

// GormStockRepository implements StockRepository on Postgres. Counter moves
// are conditional UPDATEs, so concurrent callers serialize on the stock row
// without explicit locking.
type GormStockRepository struct {
	db *gorm.DB
}

func NewGormStockRepository(db *gorm.DB) *GormStockRepository {
	return &GormStockRepository{db: db}
}

func (r *GormStockRepository) GetStock(ctx context.Context, productID uuid.UUID) (*models.ProductStock, error) {
	var stock models.ProductStock
	err := r.db.WithContext(ctx).First(&stock, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stock, nil
}

// SetStock overwrites the available count for a product, creating the row
// if needed. Reserved units are left untouched.
func (r *GormStockRepository) SetStock(ctx context.Context, productID uuid.UUID, available int) (*models.ProductStock, error) {
	stock := models.ProductStock{ProductID: productID, Available: available}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"available":  available,
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&stock).Error
	if err != nil {
		return nil, err
	}
	return r.GetStock(ctx, productID)
}

// Reserve moves quantity from available to reserved and records the
// reservation row in one transaction. A product with no stock row or too
// few available units yields ErrInsufficientStock and no change.
func (r *GormStockRepository) Reserve(ctx context.Context, res *models.Reservation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ProductStock{}).
			Where("product_id = ? AND available >= ?", res.ProductID, res.Quantity).
			UpdateColumns(map[string]interface{}{
				"available":  gorm.Expr("available - ?", res.Quantity),
				"reserved":   gorm.Expr("reserved + ?", res.Quantity),
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrInsufficientStock
		}
		res.Status = models.ReservationActive
		return tx.Create(res).Error
	})
}

// Release returns reserved units to available. The no-op return (false,
// nil) means the reservation had already been released or committed.
func (r *GormStockRepository) Release(ctx context.Context, reservationID uuid.UUID) (bool, error) {
	return r.finish(ctx, reservationID, models.ReservationReleased)
}

// Commit burns reserved units for good.
func (r *GormStockRepository) Commit(ctx context.Context, reservationID uuid.UUID) (bool, error) {
	return r.finish(ctx, reservationID, models.ReservationCommitted)
}

func (r *GormStockRepository) finish(ctx context.Context, reservationID uuid.UUID, status models.ReservationStatus) (bool, error) {
	moved := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var res models.Reservation
		err := tx.First(&res, "id = ?", reservationID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		// the conditional status flip is the serialization point: only one
		// caller can take the reservation out of active
		result := tx.Model(&models.Reservation{}).
			Where("id = ? AND status = ?", reservationID, models.ReservationActive).
			UpdateColumn("status", status)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		cols := map[string]interface{}{
			"reserved":   gorm.Expr("reserved - ?", res.Quantity),
			"updated_at": time.Now().UTC(),
		}
		if status == models.ReservationReleased {
			cols["available"] = gorm.Expr("available + ?", res.Quantity)
		}
		result = tx.Model(&models.ProductStock{}).
			Where("product_id = ? AND reserved >= ?", res.ProductID, res.Quantity).
			UpdateColumns(cols)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("ledger out of balance for product %s", res.ProductID)
		}
		moved = true
		return nil
	})
	return moved, err
}

func (r *GormStockRepository) ActiveByCheckout(ctx context.Context, checkoutID uuid.UUID) ([]models.Reservation, error) {
	var out []models.Reservation
	err := r.db.WithContext(ctx).
		Where("checkout_id = ? AND status = ?", checkoutID, models.ReservationActive).
		Order("product_id asc").
		Find(&out).Error
	return out, err
}

func (r *GormStockRepository) ExpiredActive(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	var out []models.Reservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.ReservationActive, cutoff).
		Order("expires_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
