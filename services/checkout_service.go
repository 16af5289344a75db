package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/imramesh222/ecommerce/metrics"
	"github.com/imramesh222/ecommerce/models"
	"github.com/imramesh222/ecommerce/repository"
)

// EventPublisher pushes domain events to the message bus. Publishing is
// best-effort: a failed publish never rolls back a committed order.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, evt models.OrderCreatedEvent) error
}

// CheckoutConfig carries the tunables of the checkout pipeline.
type CheckoutConfig struct {
	Currency      string
	AttemptTTL    time.Duration
	KeyRetention  time.Duration
	RecoveryBatch int
}

type CheckoutResult struct {
	Order    *models.Order
	Replayed bool
}

// CheckoutService drives a cart through validate, reserve, pay and commit.
// Attempt state is persisted at every transition; the payment outcome is
// durable before any commit effect, so a crash at any point either loses
// nothing or is re-driven by recovery without charging again.
type CheckoutService struct {
	carts     *CartService
	inventory *InventoryService
	catalog   CatalogService
	gateway   PaymentGateway
	attempts  repository.AttemptRepository
	orders    repository.OrderRepository
	publisher EventPublisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	cfg       CheckoutConfig
	group     singleflight.Group
}

func NewCheckoutService(
	carts *CartService,
	inventory *InventoryService,
	catalog CatalogService,
	gateway PaymentGateway,
	attempts repository.AttemptRepository,
	orders repository.OrderRepository,
	publisher EventPublisher,
	logger *zap.Logger,
	m *metrics.Metrics,
	cfg CheckoutConfig,
) *CheckoutService {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.AttemptTTL <= 0 {
		cfg.AttemptTTL = 90 * time.Second
	}
	if cfg.RecoveryBatch <= 0 {
		cfg.RecoveryBatch = 100
	}
	return &CheckoutService{
		carts:     carts,
		inventory: inventory,
		catalog:   catalog,
		gateway:   gateway,
		attempts:  attempts,
		orders:    orders,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		cfg:       cfg,
	}
}

// Checkout runs the cart-to-order pipeline for one owner. Concurrent calls
// with the same idempotency key collapse into a single execution, and a
// later call with the key of a committed attempt replays the stored order.
func (s *CheckoutService) Checkout(ctx context.Context, ownerID string, req *models.CheckoutRequest) (*CheckoutResult, *ServiceError) {
	cart, svcErr := s.carts.GetCart(ctx, ownerID)
	if svcErr != nil {
		return nil, svcErr
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = deriveIdempotencyKey(ownerID, cart)
	}

	res, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.runCheckout(ctx, ownerID, key, cart, req.Payment)
	})
	if err != nil {
		var se *ServiceError
		if errors.As(err, &se) {
			return nil, se
		}
		s.logger.Error("Checkout failed", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, errInternal("checkout failed")
	}
	return res.(*CheckoutResult), nil
}

// deriveIdempotencyKey fingerprints the owner and the exact cart state so
// a blind client retry of the same cart maps onto the same attempt.
func deriveIdempotencyKey(ownerID string, cart *models.Cart) string {
	items := make([]models.CartItem, len(cart.Items))
	copy(items, cart.Items)
	sort.Slice(items, func(i, j int) bool {
		return items[i].ProductID.String() < items[j].ProductID.String()
	})

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d", ownerID, cart.Version)
	for _, it := range items {
		fmt.Fprintf(h, "|%s:%d:%s", it.ProductID, it.Quantity, it.UnitPrice.String())
	}
	return "auto-" + hex.EncodeToString(h.Sum(nil))[:32]
}

func (s *CheckoutService) runCheckout(ctx context.Context, ownerID, key string, cart *models.Cart, payment models.PaymentDetails) (*CheckoutResult, error) {
	// replay: a committed attempt with this key already produced an order
	if prior, err := s.attempts.FindCommittedByKey(ctx, key); err == nil && prior.OrderID != nil {
		order, err := s.orders.FindByID(ctx, *prior.OrderID)
		if err != nil {
			return nil, fmt.Errorf("load replayed order: %w", err)
		}
		s.logger.Info("Replayed committed checkout",
			zap.String("idempotency_key", key),
			zap.String("order_id", order.ID.String()))
		return &CheckoutResult{Order: order, Replayed: true}, nil
	}

	// the empty-cart check sits after the replay lookup on purpose: a
	// committed checkout clears the cart, and a retry of that same key
	// must still get its order back
	if cart.IsEmpty() {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Code: CodeEmptyCart, Message: "cart is empty"}
	}

	now := time.Now().UTC()
	attempt := &models.CheckoutAttempt{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		IdempotencyKey: key,
		State:          models.CheckoutInitiated,
		Snapshot: models.CartSnapshot{
			Items:       append([]models.CartItem(nil), cart.Items...),
			CartVersion: cart.Version,
			TakenAt:     now,
		},
		Currency:  s.cfg.Currency,
		ExpiresAt: now.Add(s.cfg.AttemptTTL),
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return s.resolveDuplicate(ctx, key)
		}
		return nil, fmt.Errorf("create checkout attempt: %w", err)
	}

	s.logger.Info("Checkout started",
		zap.String("checkout_id", attempt.ID.String()),
		zap.String("owner_id", ownerID),
		zap.Int("lines", len(attempt.Snapshot.Items)))

	// validate the snapshot against the catalog of record
	subtotal := decimal.Zero
	for i, it := range attempt.Snapshot.Items {
		if it.Quantity <= 0 || it.Quantity > s.carts.maxPerLine {
			return nil, s.reject(ctx, attempt, models.FailureInvalidQuantity,
				&ServiceError{StatusCode: http.StatusBadRequest, Code: CodeValidation,
					Message: fmt.Sprintf("invalid quantity for product %s", it.ProductID)})
		}
		product, err := s.catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				return nil, s.reject(ctx, attempt, models.FailureProductUnavailable,
					errConflict(CodeProductUnavailable, fmt.Sprintf("product %s is no longer sold", it.ProductID)))
			}
			return nil, s.reject(ctx, attempt, models.FailureProductUnavailable,
				&ServiceError{StatusCode: http.StatusBadGateway, Code: CodeCatalogUnavailable, Message: "catalog lookup failed"})
		}
		if !product.Active {
			return nil, s.reject(ctx, attempt, models.FailureProductUnavailable,
				errConflict(CodeProductUnavailable, fmt.Sprintf("product %s is no longer sold", it.ProductID)))
		}
		if !product.Price.Equal(it.UnitPrice) {
			return nil, s.reject(ctx, attempt, models.FailurePriceChanged,
				errConflict(CodePriceChanged, fmt.Sprintf("price of %s changed", product.Name)))
		}
		attempt.Snapshot.Items[i].Name = product.Name
		subtotal = subtotal.Add(it.LineTotal())
	}
	attempt.Subtotal = subtotal
	attempt.Total = subtotal
	attempt.State = models.CheckoutValidated
	if err := s.attempts.Update(ctx, attempt); err != nil {
		return nil, fmt.Errorf("persist validated attempt: %w", err)
	}

	// move units from available to reserved, ascending product order
	_, reserveErr := s.inventory.Reserve(ctx, attempt.ID, attempt.Snapshot.Items)
	if errors.Is(reserveErr, repository.ErrInsufficientStock) {
		// an expired hold may be starving us; sweep and try once more
		if released, err := s.inventory.ReleaseExpired(ctx, time.Now().UTC(), s.cfg.RecoveryBatch, s.keepReservation); err == nil && released > 0 {
			_, reserveErr = s.inventory.Reserve(ctx, attempt.ID, attempt.Snapshot.Items)
		}
	}
	if reserveErr != nil {
		if errors.Is(reserveErr, repository.ErrInsufficientStock) {
			return nil, s.reject(ctx, attempt, models.FailureInsufficientStock,
				errConflict(CodeInsufficientStock, "insufficient stock"))
		}
		return nil, fmt.Errorf("reserve stock: %w", reserveErr)
	}
	attempt.State = models.CheckoutReserved
	if err := s.attempts.Update(ctx, attempt); err != nil {
		s.releaseQuietly(ctx, attempt.ID)
		return nil, fmt.Errorf("persist reserved attempt: %w", err)
	}

	if time.Now().UTC().After(attempt.ExpiresAt) {
		s.releaseQuietly(ctx, attempt.ID)
		return nil, s.reject(ctx, attempt, models.FailureTimeout,
			&ServiceError{StatusCode: http.StatusRequestTimeout, Code: CodeTimeout, Message: "checkout attempt timed out"})
	}

	// no locks or transactions are held across the charge
	attempt.State = models.CheckoutPaymentPending
	if err := s.attempts.Update(ctx, attempt); err != nil {
		s.releaseQuietly(ctx, attempt.ID)
		return nil, fmt.Errorf("persist payment_pending attempt: %w", err)
	}

	result, chargeErr := s.gateway.Charge(ctx, ChargeRequest{
		CheckoutID: attempt.ID,
		OwnerID:    ownerID,
		Amount:     attempt.Total,
		Currency:   attempt.Currency,
		Details:    payment,
	})
	if chargeErr != nil {
		result = ChargeResult{Outcome: models.PaymentFailed, Reason: chargeErr.Error()}
	}

	// make the outcome durable before any commit effect runs
	attempt.PaymentOutcome = result.Outcome
	attempt.PaymentRef = result.Ref
	if err := s.attempts.Update(ctx, attempt); err != nil {
		s.logger.Error("Failed to record payment outcome",
			zap.String("checkout_id", attempt.ID.String()),
			zap.String("outcome", string(result.Outcome)),
			zap.Error(err))
		s.releaseQuietly(ctx, attempt.ID)
		return nil, &ServiceError{StatusCode: http.StatusBadGateway, Code: CodePaymentError, Message: "payment outcome could not be recorded"}
	}

	switch result.Outcome {
	case models.PaymentDeclined:
		s.releaseQuietly(ctx, attempt.ID)
		return nil, s.reject(ctx, attempt, models.FailurePaymentDeclined,
			&ServiceError{StatusCode: http.StatusPaymentRequired, Code: CodePaymentDeclined, Message: "payment declined: " + result.Reason})
	case models.PaymentFailed:
		s.releaseQuietly(ctx, attempt.ID)
		return nil, s.reject(ctx, attempt, models.FailurePaymentError,
			&ServiceError{StatusCode: http.StatusBadGateway, Code: CodePaymentError, Message: "payment provider error"})
	}

	// the client going away must not abandon an approved charge
	order, err := s.commitAttempt(context.WithoutCancel(ctx), attempt)
	if err != nil {
		return nil, fmt.Errorf("commit checkout %s: %w", attempt.ID, err)
	}
	return &CheckoutResult{Order: order}, nil
}

// resolveDuplicate handles losing the attempt insert to another attempt
// holding the same key, typically on another instance or left by a crash.
func (s *CheckoutService) resolveDuplicate(ctx context.Context, key string) (*CheckoutResult, error) {
	inProgress := &ServiceError{StatusCode: http.StatusConflict, Code: CodeCheckoutInProgress, Message: "checkout already in progress for this cart"}

	active, err := s.attempts.FindActiveByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// the other attempt just finished; replay it if it committed
			if prior, perr := s.attempts.FindCommittedByKey(ctx, key); perr == nil && prior.OrderID != nil {
				if order, oerr := s.orders.FindByID(ctx, *prior.OrderID); oerr == nil {
					return &CheckoutResult{Order: order, Replayed: true}, nil
				}
			}
		}
		return nil, inProgress
	}

	if !active.ExpiresAt.After(time.Now().UTC()) {
		// leftover of a crashed run; settle it before answering
		if res := s.settleExpired(ctx, active); res != nil {
			return res, nil
		}
	}
	return nil, inProgress
}

// reject moves the attempt to its terminal failure state and hands the
// caller's error back. svcErr must not be nil.
func (s *CheckoutService) reject(ctx context.Context, attempt *models.CheckoutAttempt, code models.FailureCode, svcErr *ServiceError) *ServiceError {
	attempt.State = models.CheckoutRejected
	attempt.FailureCode = code
	if err := s.attempts.Update(ctx, attempt); err != nil {
		s.logger.Error("Failed to persist rejected attempt",
			zap.String("checkout_id", attempt.ID.String()), zap.Error(err))
	}
	s.metrics.IncCheckoutOutcome(string(code))
	s.logger.Info("Checkout rejected",
		zap.String("checkout_id", attempt.ID.String()),
		zap.String("failure_code", string(code)))
	return svcErr
}

func (s *CheckoutService) releaseQuietly(ctx context.Context, checkoutID uuid.UUID) {
	if err := s.inventory.ReleaseCheckout(context.WithoutCancel(ctx), checkoutID); err != nil {
		s.logger.Error("Failed to release reservations",
			zap.String("checkout_id", checkoutID.String()), zap.Error(err))
	}
}

// commitAttempt applies the effects of an approved attempt: append the
// order, burn the reservations, clear the cart, mark the attempt. Every
// step is idempotent so a crashed commit can be re-driven from the top.
func (s *CheckoutService) commitAttempt(ctx context.Context, attempt *models.CheckoutAttempt) (*models.Order, error) {
	order := buildOrder(attempt)
	err := s.orders.Create(ctx, order)
	if errors.Is(err, repository.ErrDuplicateKey) {
		// an earlier run already appended it; that row wins
		s.logger.Warn("Order already appended for idempotency key",
			zap.String("checkout_id", attempt.ID.String()),
			zap.String("idempotency_key", attempt.IdempotencyKey))
		existing, ferr := s.orders.FindByIdempotencyKey(ctx, attempt.IdempotencyKey)
		if ferr != nil {
			s.logger.Error("Order ledger holds a duplicate key but no row for it",
				zap.String("idempotency_key", attempt.IdempotencyKey), zap.Error(ferr))
			return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Code: CodeDuplicateOrder, Message: "order ledger inconsistent"}
		}
		order = existing
	} else if err != nil {
		return nil, fmt.Errorf("append order: %w", err)
	}

	if err := s.inventory.CommitCheckout(ctx, attempt.ID); err != nil {
		return nil, fmt.Errorf("commit reservations: %w", err)
	}

	if err := s.carts.ClearAtVersion(ctx, attempt.OwnerID, attempt.Snapshot.CartVersion); err != nil {
		s.logger.Warn("Cart not cleared after commit",
			zap.String("owner_id", attempt.OwnerID), zap.Error(err))
	}

	attempt.State = models.CheckoutCommitted
	attempt.OrderID = &order.ID
	if err := s.attempts.Update(ctx, attempt); err != nil {
		return nil, fmt.Errorf("persist committed attempt: %w", err)
	}

	s.metrics.IncCheckoutOutcome("committed")
	s.logger.Info("Checkout committed",
		zap.String("checkout_id", attempt.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.Total.String()))

	if s.publisher != nil {
		if err := s.publisher.PublishOrderCreated(ctx, models.NewOrderCreatedEvent(order)); err != nil {
			s.logger.Error("Failed to publish order.created",
				zap.String("order_id", order.ID.String()), zap.Error(err))
		}
	}
	return order, nil
}

func buildOrder(attempt *models.CheckoutAttempt) *models.Order {
	id := uuid.New()
	now := time.Now().UTC()

	items := make([]models.OrderItem, 0, len(attempt.Snapshot.Items))
	for _, it := range attempt.Snapshot.Items {
		items = append(items, models.OrderItem{
			ID:        uuid.New(),
			OrderID:   id,
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal(),
		})
	}
	return &models.Order{
		ID:             id,
		OrderNumber:    models.NewOrderNumber(now, id),
		OwnerID:        attempt.OwnerID,
		IdempotencyKey: attempt.IdempotencyKey,
		Status:         models.OrderStatusPaid,
		Subtotal:       attempt.Subtotal,
		Total:          attempt.Total,
		Currency:       attempt.Currency,
		PaymentRef:     attempt.PaymentRef,
		Items:          items,
	}
}

// RecoverStale settles attempts past their deadline: approved ones are
// committed, everything else is released and rejected as timed out. Runs
// once at startup and then on the worker interval.
func (s *CheckoutService) RecoverStale(ctx context.Context) (int, error) {
	expired, err := s.attempts.ListExpired(ctx, time.Now().UTC(), s.cfg.RecoveryBatch)
	if err != nil {
		return 0, err
	}
	settled := 0
	for i := range expired {
		attempt := &expired[i]
		s.settleExpired(ctx, attempt)
		if attempt.State.Terminal() {
			settled++
		}
	}
	return settled, nil
}

// settleExpired finishes one expired attempt. The returned result is
// non-nil only when the attempt resumed into a committed order.
func (s *CheckoutService) settleExpired(ctx context.Context, attempt *models.CheckoutAttempt) *CheckoutResult {
	ctx = context.WithoutCancel(ctx)

	if attempt.State == models.CheckoutPaymentPending && attempt.PaymentOutcome == models.PaymentApproved {
		order, err := s.commitAttempt(ctx, attempt)
		if err != nil {
			s.logger.Error("Failed to resume approved checkout",
				zap.String("checkout_id", attempt.ID.String()), zap.Error(err))
			return nil
		}
		s.logger.Info("Resumed approved checkout",
			zap.String("checkout_id", attempt.ID.String()),
			zap.String("order_id", order.ID.String()))
		return &CheckoutResult{Order: order, Replayed: true}
	}

	s.releaseQuietly(ctx, attempt.ID)
	attempt.State = models.CheckoutRejected
	attempt.FailureCode = models.FailureTimeout
	if err := s.attempts.Update(ctx, attempt); err != nil {
		s.logger.Error("Failed to persist timed-out attempt",
			zap.String("checkout_id", attempt.ID.String()), zap.Error(err))
		return nil
	}
	s.metrics.IncCheckoutOutcome(string(models.FailureTimeout))
	s.logger.Info("Checkout timed out",
		zap.String("checkout_id", attempt.ID.String()),
		zap.String("state", string(attempt.State)))
	return nil
}

// keepReservation protects reservations whose attempt can still commit; an
// approved payment must never lose its units to the sweeper.
func (s *CheckoutService) keepReservation(ctx context.Context, checkoutID uuid.UUID) bool {
	attempt, err := s.attempts.FindByID(ctx, checkoutID)
	if err != nil {
		return false
	}
	return !attempt.State.Terminal() && attempt.PaymentOutcome == models.PaymentApproved
}

// StartWorker runs recovery, reservation expiry and idempotency pruning on
// one ticker until ctx is canceled.
func (s *CheckoutService) StartWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		s.logger.Info("Checkout worker started", zap.Duration("interval", interval))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Checkout worker stopping")
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep performs one maintenance pass. Recovery runs first so approved
// attempts commit their reservations before the expiry scan sees them.
func (s *CheckoutService) Sweep(ctx context.Context) {
	if n, err := s.RecoverStale(ctx); err != nil {
		s.logger.Error("Attempt recovery failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("Settled stale checkout attempts", zap.Int("count", n))
	}

	released, err := s.inventory.ReleaseExpired(ctx, time.Now().UTC(), s.cfg.RecoveryBatch, s.keepReservation)
	if err != nil {
		s.logger.Error("Reservation sweep failed", zap.Error(err))
	} else if released > 0 {
		s.logger.Info("Released expired reservations", zap.Int("count", released))
	}

	if s.cfg.KeyRetention > 0 {
		cutoff := time.Now().UTC().Add(-s.cfg.KeyRetention)
		if n, err := s.attempts.DeleteTerminalBefore(ctx, cutoff); err != nil {
			s.logger.Error("Attempt pruning failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("Pruned terminal checkout attempts", zap.Int64("count", n))
		}
	}
}
