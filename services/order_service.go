package services

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imramesh222/ecommerce/models"
	"github.com/imramesh222/ecommerce/repository"
)

// MetaData carries pagination details for list responses.
type MetaData struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

type OrderPage struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

// OrderService reads the append-only order ledger. Orders are written
// exclusively by checkout commit; nothing here mutates them.
type OrderService struct {
	repo   repository.OrderRepository
	logger *zap.Logger
}

func NewOrderService(repo repository.OrderRepository, logger *zap.Logger) *OrderService {
	return &OrderService{repo: repo, logger: logger}
}

// GetOrder loads one order. Owners only see their own; an admin caller
// may read any order.
func (s *OrderService) GetOrder(ctx context.Context, ownerID string, id uuid.UUID, admin bool) (*models.Order, *ServiceError) {
	var (
		order *models.Order
		err   error
	)
	if admin {
		order, err = s.repo.FindByID(ctx, id)
	} else {
		order, err = s.repo.FindByIDAndOwner(ctx, id, ownerID)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ServiceError{StatusCode: http.StatusNotFound, Code: CodeNotFound, Message: "order not found"}
		}
		s.logger.Error("Failed to load order", zap.String("order_id", id.String()), zap.Error(err))
		return nil, errInternal("failed to load order")
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, ownerID string, page, limit int) (*OrderPage, *ServiceError) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	orders, total, err := s.repo.ListByOwner(ctx, ownerID, page, limit)
	if err != nil {
		s.logger.Error("Failed to list orders", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, errInternal("failed to list orders")
	}

	return &OrderPage{
		Orders: orders,
		Meta: MetaData{
			Page:       page,
			Limit:      limit,
			TotalItems: total,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}, nil
}
