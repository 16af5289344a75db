package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/imramesh222/ecommerce/models"
)

// AttemptRepository persists checkout attempts. Create enforces at most
// one non-terminal attempt per idempotency key; ErrDuplicateKey signals a
// concurrent attempt with the same key.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.CheckoutAttempt) error
	Update(ctx context.Context, attempt *models.CheckoutAttempt) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutAttempt, error)
	FindCommittedByKey(ctx context.Context, key string) (*models.CheckoutAttempt, error)
	FindActiveByKey(ctx context.Context, key string) (*models.CheckoutAttempt, error)
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.CheckoutAttempt, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var terminalStates = []models.CheckoutState{models.CheckoutCommitted, models.CheckoutRejected}

type GormAttemptRepository struct {
	db *gorm.DB
}

func NewGormAttemptRepository(db *gorm.DB) *GormAttemptRepository {
	return &GormAttemptRepository{db: db}
}

func (r *GormAttemptRepository) Create(ctx context.Context, attempt *models.CheckoutAttempt) error {
	err := r.db.WithContext(ctx).Create(attempt).Error
	if isDuplicateErr(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *GormAttemptRepository) Update(ctx context.Context, attempt *models.CheckoutAttempt) error {
	return r.db.WithContext(ctx).Save(attempt).Error
}

func (r *GormAttemptRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutAttempt, error) {
	var attempt models.CheckoutAttempt
	err := r.db.WithContext(ctx).First(&attempt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// FindCommittedByKey returns the committed attempt for an idempotency key.
// At most one can exist because the order ledger is unique on the key.
func (r *GormAttemptRepository) FindCommittedByKey(ctx context.Context, key string) (*models.CheckoutAttempt, error) {
	var attempt models.CheckoutAttempt
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ? AND state = ?", key, models.CheckoutCommitted).
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *GormAttemptRepository) FindActiveByKey(ctx context.Context, key string) (*models.CheckoutAttempt, error) {
	var attempt models.CheckoutAttempt
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ? AND state NOT IN ?", key, terminalStates).
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ListExpired returns non-terminal attempts whose deadline has passed,
// oldest first. Recovery decides per attempt whether to resume or reject.
func (r *GormAttemptRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.CheckoutAttempt, error) {
	var out []models.CheckoutAttempt
	err := r.db.WithContext(ctx).
		Where("state NOT IN ? AND expires_at <= ?", terminalStates, cutoff).
		Order("expires_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *GormAttemptRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", terminalStates, cutoff).
		Delete(&models.CheckoutAttempt{})
	return result.RowsAffected, result.Error
}
