package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imramesh222/ecommerce/models"
	"github.com/imramesh222/ecommerce/repository"
)

// CartService applies cart edits with optimistic concurrency: every write
// is a compare-and-set on the cart version, and a conflicting write comes
// back as concurrent_modification for the client to retry.
type CartService struct {
	repo       repository.CartRepository
	catalog    CatalogService
	logger     *zap.Logger
	maxPerLine int
}

func NewCartService(repo repository.CartRepository, catalog CatalogService, logger *zap.Logger, maxPerLine int) *CartService {
	if maxPerLine <= 0 {
		maxPerLine = 99
	}
	return &CartService{repo: repo, catalog: catalog, logger: logger, maxPerLine: maxPerLine}
}

// GetCart returns the owner's cart; a missing cart reads as an empty cart
// at version zero.
func (s *CartService) GetCart(ctx context.Context, ownerID string) (*models.Cart, *ServiceError) {
	cart, err := s.repo.Get(ctx, ownerID)
	if err != nil {
		s.logger.Error("Failed to load cart", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, errInternal("failed to load cart")
	}
	if cart == nil {
		cart = models.NewCart(ownerID)
	}
	return cart, nil
}

// AddItem adds quantity of a product, folding into an existing line and
// refreshing its captured unit price. A non-zero ExpectedVersion must
// match the stored version exactly.
func (s *CartService) AddItem(ctx context.Context, ownerID string, req *models.AddItemRequest) (*models.Cart, *ServiceError) {
	if req.Quantity <= 0 {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Code: CodeValidation, Message: "quantity must be positive"}
	}

	product, err := s.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, &ServiceError{StatusCode: http.StatusNotFound, Code: CodeNotFound, Message: "product not found"}
		}
		s.logger.Error("Catalog lookup failed", zap.String("product_id", req.ProductID.String()), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusBadGateway, Code: CodeCatalogUnavailable, Message: "catalog lookup failed"}
	}
	if !product.Active {
		return nil, errConflict(CodeProductUnavailable, "product is not available")
	}

	cart, svcErr := s.GetCart(ctx, ownerID)
	if svcErr != nil {
		return nil, svcErr
	}
	expected, svcErr := s.expectedVersion(cart, req.ExpectedVersion)
	if svcErr != nil {
		return nil, svcErr
	}

	if i := cart.FindItem(req.ProductID); i >= 0 {
		next := cart.Items[i].Quantity + req.Quantity
		if next > s.maxPerLine {
			return nil, &ServiceError{StatusCode: http.StatusBadRequest, Code: CodeValidation, Message: fmt.Sprintf("quantity limit is %d per item", s.maxPerLine)}
		}
		cart.Items[i].Quantity = next
		cart.Items[i].Name = product.Name
		cart.Items[i].UnitPrice = product.Price
	} else {
		if req.Quantity > s.maxPerLine {
			return nil, &ServiceError{StatusCode: http.StatusBadRequest, Code: CodeValidation, Message: fmt.Sprintf("quantity limit is %d per item", s.maxPerLine)}
		}
		cart.Items = append(cart.Items, models.CartItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  req.Quantity,
			UnitPrice: product.Price,
		})
	}

	if svcErr := s.save(ctx, cart, expected); svcErr != nil {
		return nil, svcErr
	}
	return cart, nil
}

// UpdateItem sets the quantity of an existing line; zero removes it.
func (s *CartService) UpdateItem(ctx context.Context, ownerID string, productID uuid.UUID, req *models.UpdateItemRequest) (*models.Cart, *ServiceError) {
	if req.Quantity < 0 {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Code: CodeValidation, Message: "quantity must not be negative"}
	}
	if req.Quantity > s.maxPerLine {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Code: CodeValidation, Message: fmt.Sprintf("quantity limit is %d per item", s.maxPerLine)}
	}

	cart, svcErr := s.GetCart(ctx, ownerID)
	if svcErr != nil {
		return nil, svcErr
	}
	expected, svcErr := s.expectedVersion(cart, req.ExpectedVersion)
	if svcErr != nil {
		return nil, svcErr
	}

	i := cart.FindItem(productID)
	if i < 0 {
		return nil, &ServiceError{StatusCode: http.StatusNotFound, Code: CodeNotFound, Message: "product not in cart"}
	}
	if req.Quantity == 0 {
		cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
	} else {
		cart.Items[i].Quantity = req.Quantity
	}

	if svcErr := s.save(ctx, cart, expected); svcErr != nil {
		return nil, svcErr
	}
	return cart, nil
}

// RemoveItem deletes a line outright.
func (s *CartService) RemoveItem(ctx context.Context, ownerID string, productID uuid.UUID, expectedVersion int64) (*models.Cart, *ServiceError) {
	return s.UpdateItem(ctx, ownerID, productID, &models.UpdateItemRequest{Quantity: 0, ExpectedVersion: expectedVersion})
}

// Clear empties the cart if the version still matches.
func (s *CartService) Clear(ctx context.Context, ownerID string, expectedVersion int64) (*models.Cart, *ServiceError) {
	cart, svcErr := s.GetCart(ctx, ownerID)
	if svcErr != nil {
		return nil, svcErr
	}
	if cart.IsEmpty() && cart.Version == 0 {
		return cart, nil
	}
	expected, svcErr := s.expectedVersion(cart, expectedVersion)
	if svcErr != nil {
		return nil, svcErr
	}

	if err := s.repo.Delete(ctx, ownerID, expected); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, errConflict(CodeConcurrentModification, "cart was modified concurrently")
		}
		s.logger.Error("Failed to clear cart", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, errInternal("failed to clear cart")
	}
	return models.NewCart(ownerID), nil
}

// ClearAtVersion empties the cart only if it is still at the given
// version. A conflict means the owner kept shopping after checkout began;
// the newer cart is left alone.
func (s *CartService) ClearAtVersion(ctx context.Context, ownerID string, version int64) error {
	err := s.repo.Delete(ctx, ownerID, version)
	if errors.Is(err, repository.ErrVersionConflict) {
		s.logger.Debug("Cart moved on since snapshot, leaving it",
			zap.String("owner_id", ownerID), zap.Int64("snapshot_version", version))
		return nil
	}
	return err
}

// Merge folds a guest cart into the owner's cart after login, summing
// quantities line by line, then deletes the guest cart.
func (s *CartService) Merge(ctx context.Context, ownerID, guestID string) (*models.Cart, *ServiceError) {
	if guestID == "" || guestID == ownerID {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Code: CodeValidation, Message: "invalid guest cart id"}
	}

	guest, err := s.repo.Get(ctx, guestID)
	if err != nil {
		s.logger.Error("Failed to load guest cart", zap.String("guest_id", guestID), zap.Error(err))
		return nil, errInternal("failed to load guest cart")
	}
	if guest == nil || guest.IsEmpty() {
		return s.GetCart(ctx, ownerID)
	}

	cart, svcErr := s.GetCart(ctx, ownerID)
	if svcErr != nil {
		return nil, svcErr
	}
	expected := cart.Version

	for _, it := range guest.Items {
		if i := cart.FindItem(it.ProductID); i >= 0 {
			next := cart.Items[i].Quantity + it.Quantity
			if next > s.maxPerLine {
				next = s.maxPerLine
			}
			cart.Items[i].Quantity = next
		} else {
			cart.Items = append(cart.Items, it)
		}
	}

	if svcErr := s.save(ctx, cart, expected); svcErr != nil {
		return nil, svcErr
	}
	if err := s.repo.Delete(ctx, guestID, guest.Version); err != nil && !errors.Is(err, repository.ErrVersionConflict) {
		s.logger.Warn("Guest cart not deleted after merge", zap.String("guest_id", guestID), zap.Error(err))
	}

	s.logger.Info("Merged guest cart", zap.String("owner_id", ownerID), zap.Int("lines", len(guest.Items)))
	return cart, nil
}

func (s *CartService) expectedVersion(cart *models.Cart, requested int64) (int64, *ServiceError) {
	if requested > 0 && requested != cart.Version {
		return 0, errConflict(CodeConcurrentModification, "cart was modified concurrently")
	}
	return cart.Version, nil
}

func (s *CartService) save(ctx context.Context, cart *models.Cart, expected int64) *ServiceError {
	if err := s.repo.Save(ctx, cart, expected); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return errConflict(CodeConcurrentModification, "cart was modified concurrently")
		}
		s.logger.Error("Failed to save cart", zap.String("owner_id", cart.OwnerID), zap.Error(err))
		return errInternal("failed to save cart")
	}
	return nil
}
