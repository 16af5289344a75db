package services_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imramesh222/ecommerce/models"
	"github.com/imramesh222/ecommerce/repository"
	"github.com/imramesh222/ecommerce/services"
)

// --- Mock Publisher ---

type mockPublisher struct {
	mu     sync.Mutex
	events []models.OrderCreatedEvent
}

func (m *mockPublisher) PublishOrderCreated(_ context.Context, event models.OrderCreatedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) Events() []models.OrderCreatedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.OrderCreatedEvent, len(m.events))
	copy(out, m.events)
	return out
}

// --- Helpers ---

type checkoutEnv struct {
	svc       *services.CheckoutService
	carts     *services.CartService
	inventory *services.InventoryService
	catalog   *services.StaticCatalog
	gateway   *services.SimulatedGateway
	stocks    *repository.MemoryStockRepository
	attempts  *repository.MemoryAttemptRepository
	orders    *repository.MemoryOrderRepository
	publisher *mockPublisher
}

func newCheckoutEnv(t *testing.T, simCfg services.SimulatorConfig, cfg services.CheckoutConfig) *checkoutEnv {
	t.Helper()
	logger := zap.NewNop()

	catalog := services.NewStaticCatalog()
	stocks := repository.NewMemoryStockRepository()
	env := &checkoutEnv{
		carts:     services.NewCartService(repository.NewMemoryCartRepository(), catalog, logger, 0),
		inventory: services.NewInventoryService(stocks, logger, nil, time.Minute),
		catalog:   catalog,
		gateway:   services.NewSimulatedGateway(simCfg),
		stocks:    stocks,
		attempts:  repository.NewMemoryAttemptRepository(),
		orders:    repository.NewMemoryOrderRepository(),
		publisher: &mockPublisher{},
	}
	env.svc = services.NewCheckoutService(
		env.carts, env.inventory, catalog, env.gateway,
		env.attempts, env.orders, env.publisher, logger, nil, cfg)
	return env
}

func (e *checkoutEnv) addProduct(t *testing.T, name, price string, stock int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	e.catalog.Put(services.CatalogProduct{
		ID:     id,
		Name:   name,
		Price:  decimal.RequireFromString(price),
		Active: true,
	})
	_, svcErr := e.inventory.SetStock(context.Background(), id, stock)
	require.Nil(t, svcErr)
	return id
}

func (e *checkoutEnv) fillCart(t *testing.T, ownerID string, productID uuid.UUID, quantity int) {
	t.Helper()
	_, svcErr := e.carts.AddItem(context.Background(), ownerID, &models.AddItemRequest{
		ProductID: productID,
		Quantity:  quantity,
	})
	require.Nil(t, svcErr)
}

func (e *checkoutEnv) availability(t *testing.T, productID uuid.UUID) (available, reserved int) {
	t.Helper()
	stock, svcErr := e.inventory.GetStock(context.Background(), productID)
	require.Nil(t, svcErr)
	return stock.Available, stock.Reserved
}

func okPayment() models.PaymentDetails {
	return models.PaymentDetails{Method: "card", CardToken: "tok_visa"}
}

// --- Tests ---

func TestService_Checkout_CommitsOrder(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	mug := env.addProduct(t, "Mug", "10.00", 5)
	straw := env.addProduct(t, "Straw", "5.00", 5)
	env.fillCart(t, "alice", mug, 2)
	env.fillCart(t, "alice", straw, 1)

	res, svcErr := env.svc.Checkout(ctx, "alice", &models.CheckoutRequest{
		IdempotencyKey: "order-once",
		Payment:        okPayment(),
	})
	require.Nil(t, svcErr)
	require.NotNil(t, res.Order)
	assert.False(t, res.Replayed)

	order := res.Order
	assert.True(t, order.Total.Equal(decimal.RequireFromString("25.00")), "total was %s", order.Total)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, "USD", order.Currency)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{8}$`, order.OrderNumber)
	assert.NotEmpty(t, order.PaymentRef)
	require.Len(t, order.Items, 2)

	// reserved units are burned, not returned
	available, reserved := env.availability(t, mug)
	assert.Equal(t, 3, available)
	assert.Equal(t, 0, reserved)
	available, reserved = env.availability(t, straw)
	assert.Equal(t, 4, available)
	assert.Equal(t, 0, reserved)

	cart, svcErr := env.carts.GetCart(ctx, "alice")
	require.Nil(t, svcErr)
	assert.True(t, cart.IsEmpty(), "cart should be cleared after commit")

	attempt, err := env.attempts.FindCommittedByKey(ctx, "order-once")
	require.NoError(t, err)
	require.NotNil(t, attempt.OrderID)
	assert.Equal(t, order.ID, *attempt.OrderID)
	assert.Equal(t, models.PaymentApproved, attempt.PaymentOutcome)

	assert.Equal(t, 1, env.gateway.Charges())
	events := env.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventOrderCreated, events[0].Event)
	assert.Equal(t, order.ID.String(), events[0].OrderID)
}

func TestService_Checkout_EmptyCart(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})

	_, svcErr := env.svc.Checkout(context.Background(), "alice", &models.CheckoutRequest{Payment: okPayment()})
	require.NotNil(t, svcErr)
	assert.Equal(t, 400, svcErr.StatusCode)
	assert.Equal(t, services.CodeEmptyCart, svcErr.Code)
	assert.Equal(t, 0, env.gateway.Charges())
}

func TestService_Checkout_InsufficientStock(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	lamp := env.addProduct(t, "Lamp", "40.00", 1)
	env.fillCart(t, "bob", lamp, 2)

	_, svcErr := env.svc.Checkout(ctx, "bob", &models.CheckoutRequest{Payment: okPayment()})
	require.NotNil(t, svcErr)
	assert.Equal(t, 409, svcErr.StatusCode)
	assert.Equal(t, services.CodeInsufficientStock, svcErr.Code)

	// nothing reserved, nothing charged, cart untouched
	available, reserved := env.availability(t, lamp)
	assert.Equal(t, 1, available)
	assert.Equal(t, 0, reserved)
	assert.Equal(t, 0, env.gateway.Charges())

	cart, _ := env.carts.GetCart(ctx, "bob")
	assert.Equal(t, 2, cart.TotalItems())
}

func TestService_Checkout_PriceChanged(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	book := env.addProduct(t, "Book", "12.50", 5)
	env.fillCart(t, "carol", book, 1)

	// reprice after the line was captured
	env.catalog.Put(services.CatalogProduct{
		ID: book, Name: "Book", Price: decimal.RequireFromString("13.99"), Active: true,
	})

	_, svcErr := env.svc.Checkout(ctx, "carol", &models.CheckoutRequest{Payment: okPayment()})
	require.NotNil(t, svcErr)
	assert.Equal(t, 409, svcErr.StatusCode)
	assert.Equal(t, services.CodePriceChanged, svcErr.Code)
	assert.Equal(t, 0, env.gateway.Charges())

	available, reserved := env.availability(t, book)
	assert.Equal(t, 5, available)
	assert.Equal(t, 0, reserved)
}

func TestService_Checkout_ProductDeactivated(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	hat := env.addProduct(t, "Hat", "9.00", 5)
	env.fillCart(t, "dave", hat, 1)

	env.catalog.Put(services.CatalogProduct{
		ID: hat, Name: "Hat", Price: decimal.RequireFromString("9.00"), Active: false,
	})

	_, svcErr := env.svc.Checkout(ctx, "dave", &models.CheckoutRequest{Payment: okPayment()})
	require.NotNil(t, svcErr)
	assert.Equal(t, 409, svcErr.StatusCode)
	assert.Equal(t, services.CodeProductUnavailable, svcErr.Code)
	assert.Equal(t, 0, env.gateway.Charges())
}

func TestService_Checkout_DeclineReleasesStock(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{
		DeclineTokens: []string{"tok_declined"},
	}, services.CheckoutConfig{})
	ctx := context.Background()

	chair := env.addProduct(t, "Chair", "80.00", 3)
	env.fillCart(t, "erin", chair, 2)

	_, svcErr := env.svc.Checkout(ctx, "erin", &models.CheckoutRequest{
		IdempotencyKey: "erin-buy",
		Payment:        models.PaymentDetails{Method: "card", CardToken: "tok_declined"},
	})
	require.NotNil(t, svcErr)
	assert.Equal(t, 402, svcErr.StatusCode)
	assert.Equal(t, services.CodePaymentDeclined, svcErr.Code)
	assert.Equal(t, 1, env.gateway.Charges())

	// units go back on the shelf and the cart survives for another try
	available, reserved := env.availability(t, chair)
	assert.Equal(t, 3, available)
	assert.Equal(t, 0, reserved)
	cart, _ := env.carts.GetCart(ctx, "erin")
	assert.Equal(t, 2, cart.TotalItems())

	// the declined attempt is terminal, so the same key may try again
	res, svcErr := env.svc.Checkout(ctx, "erin", &models.CheckoutRequest{
		IdempotencyKey: "erin-buy",
		Payment:        okPayment(),
	})
	require.Nil(t, svcErr)
	assert.False(t, res.Replayed)
	assert.Equal(t, 2, env.gateway.Charges())
}

func TestService_Checkout_GatewayErrorAllowsRetry(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{
		ErrorTokens: []string{"tok_boom"},
	}, services.CheckoutConfig{})
	ctx := context.Background()

	desk := env.addProduct(t, "Desk", "150.00", 2)
	env.fillCart(t, "frank", desk, 1)

	_, svcErr := env.svc.Checkout(ctx, "frank", &models.CheckoutRequest{
		IdempotencyKey: "frank-buy",
		Payment:        models.PaymentDetails{Method: "card", CardToken: "tok_boom"},
	})
	require.NotNil(t, svcErr)
	assert.Equal(t, 502, svcErr.StatusCode)
	assert.Equal(t, services.CodePaymentError, svcErr.Code)

	available, reserved := env.availability(t, desk)
	assert.Equal(t, 2, available)
	assert.Equal(t, 0, reserved)

	res, svcErr := env.svc.Checkout(ctx, "frank", &models.CheckoutRequest{
		IdempotencyKey: "frank-buy",
		Payment:        okPayment(),
	})
	require.Nil(t, svcErr)
	require.NotNil(t, res.Order)
	assert.Equal(t, 2, env.gateway.Charges())
}

func TestService_Checkout_ReplayReturnsOriginalOrder(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	pen := env.addProduct(t, "Pen", "3.00", 10)
	env.fillCart(t, "gina", pen, 4)

	first, svcErr := env.svc.Checkout(ctx, "gina", &models.CheckoutRequest{
		IdempotencyKey: "gina-pens",
		Payment:        okPayment(),
	})
	require.Nil(t, svcErr)

	// the cart is empty now; the key must still answer with the order
	second, svcErr := env.svc.Checkout(ctx, "gina", &models.CheckoutRequest{
		IdempotencyKey: "gina-pens",
		Payment:        okPayment(),
	})
	require.Nil(t, svcErr)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.Order.OrderNumber, second.Order.OrderNumber)

	assert.Equal(t, 1, env.gateway.Charges(), "replay must not charge again")
	available, reserved := env.availability(t, pen)
	assert.Equal(t, 6, available)
	assert.Equal(t, 0, reserved)

	orders, total, err := env.orders.ListByOwner(ctx, "gina", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, orders, 1)
}

func TestService_Checkout_ConcurrentSameKey(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	cable := env.addProduct(t, "Cable", "7.00", 50)
	env.fillCart(t, "henry", cable, 1)

	const callers = 10
	results := make([]*services.CheckoutResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, svcErr := env.svc.Checkout(ctx, "henry", &models.CheckoutRequest{
				IdempotencyKey: "henry-cable",
				Payment:        okPayment(),
			})
			if svcErr == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	var orderID uuid.UUID
	for i, res := range results {
		require.NotNil(t, res, "caller %d should get the order", i)
		if orderID == uuid.Nil {
			orderID = res.Order.ID
		}
		assert.Equal(t, orderID, res.Order.ID, "every caller sees the same order")
	}
	assert.Equal(t, 1, env.gateway.Charges())

	_, total, err := env.orders.ListByOwner(ctx, "henry", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestService_Checkout_DoubleSubmitWithoutKey(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	sock := env.addProduct(t, "Sock", "4.00", 20)
	env.fillCart(t, "iris", sock, 2)

	// a double click: same owner, same cart version, no client key
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.svc.Checkout(ctx, "iris", &models.CheckoutRequest{Payment: okPayment()})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.gateway.Charges())
	_, total, err := env.orders.ListByOwner(ctx, "iris", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	available, reserved := env.availability(t, sock)
	assert.Equal(t, 18, available)
	assert.Equal(t, 0, reserved)
}

func TestService_Checkout_ConcurrentBuyersNeverOversell(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	ticket := env.addProduct(t, "Ticket", "30.00", 3)

	const buyers = 8
	for i := 0; i < buyers; i++ {
		env.fillCart(t, fmt.Sprintf("buyer-%d", i), ticket, 1)
	}

	var mu sync.Mutex
	won, lost := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, svcErr := env.svc.Checkout(ctx, fmt.Sprintf("buyer-%d", i), &models.CheckoutRequest{Payment: okPayment()})
			mu.Lock()
			defer mu.Unlock()
			if svcErr == nil {
				won++
			} else if svcErr.Code == services.CodeInsufficientStock {
				lost++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, won, "exactly the available units sell")
	assert.Equal(t, buyers-3, lost)
	assert.Equal(t, 3, env.gateway.Charges())

	available, reserved := env.availability(t, ticket)
	assert.Equal(t, 0, available)
	assert.Equal(t, 0, reserved)
}

func TestService_RecoverStale_ResumesApprovedAttempt(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	radio := env.addProduct(t, "Radio", "10.00", 5)
	env.fillCart(t, "judy", radio, 2)
	cart, svcErr := env.carts.GetCart(ctx, "judy")
	require.Nil(t, svcErr)

	// an attempt that crashed after the charge was approved and recorded
	attempt := &models.CheckoutAttempt{
		ID:             uuid.New(),
		OwnerID:        "judy",
		IdempotencyKey: "judy-radio",
		State:          models.CheckoutPaymentPending,
		Snapshot: models.CartSnapshot{
			Items:       append([]models.CartItem(nil), cart.Items...),
			CartVersion: cart.Version,
			TakenAt:     time.Now().UTC(),
		},
		Subtotal:       decimal.RequireFromString("20.00"),
		Total:          decimal.RequireFromString("20.00"),
		Currency:       "USD",
		PaymentOutcome: models.PaymentApproved,
		PaymentRef:     "sim_recovered",
		ExpiresAt:      time.Now().UTC().Add(-time.Second),
	}
	require.NoError(t, env.attempts.Create(ctx, attempt))
	_, err := env.inventory.Reserve(ctx, attempt.ID, attempt.Snapshot.Items)
	require.NoError(t, err)

	settled, err := env.svc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	order, err := env.orders.FindByIdempotencyKey(ctx, "judy-radio")
	require.NoError(t, err)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, "sim_recovered", order.PaymentRef)

	got, err := env.attempts.FindByID(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutCommitted, got.State)
	require.NotNil(t, got.OrderID)
	assert.Equal(t, order.ID, *got.OrderID)

	available, reserved := env.availability(t, radio)
	assert.Equal(t, 3, available)
	assert.Equal(t, 0, reserved)

	cart, _ = env.carts.GetCart(ctx, "judy")
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, 0, env.gateway.Charges(), "recovery never talks to the gateway")
	assert.Len(t, env.publisher.Events(), 1)

	// a second pass finds nothing left to settle
	settled, err = env.svc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
	_, total, err := env.orders.ListByOwner(ctx, "judy", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestService_RecoverStale_TimesOutUnpaidAttempt(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	vase := env.addProduct(t, "Vase", "22.00", 4)

	attempt := &models.CheckoutAttempt{
		ID:             uuid.New(),
		OwnerID:        "kate",
		IdempotencyKey: "kate-vase",
		State:          models.CheckoutReserved,
		Snapshot: models.CartSnapshot{
			Items: []models.CartItem{{
				ProductID: vase, Name: "Vase", Quantity: 3,
				UnitPrice: decimal.RequireFromString("22.00"),
			}},
			CartVersion: 1,
			TakenAt:     time.Now().UTC(),
		},
		Currency:  "USD",
		ExpiresAt: time.Now().UTC().Add(-time.Second),
	}
	require.NoError(t, env.attempts.Create(ctx, attempt))
	_, err := env.inventory.Reserve(ctx, attempt.ID, attempt.Snapshot.Items)
	require.NoError(t, err)

	available, reserved := env.availability(t, vase)
	require.Equal(t, 1, available)
	require.Equal(t, 3, reserved)

	settled, err := env.svc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	got, err := env.attempts.FindByID(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutRejected, got.State)
	assert.Equal(t, models.FailureTimeout, got.FailureCode)

	available, reserved = env.availability(t, vase)
	assert.Equal(t, 4, available)
	assert.Equal(t, 0, reserved)
}

func TestService_Sweep_KeepsUnitsOfApprovedAttempt(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	drum := env.addProduct(t, "Drum", "55.00", 5)

	// commit is still owed: the attempt is live and the charge approved,
	// so its expired reservation must survive the sweep
	attempt := &models.CheckoutAttempt{
		ID:             uuid.New(),
		OwnerID:        "liam",
		IdempotencyKey: "liam-drum",
		State:          models.CheckoutPaymentPending,
		Snapshot: models.CartSnapshot{
			Items: []models.CartItem{{
				ProductID: drum, Name: "Drum", Quantity: 2,
				UnitPrice: decimal.RequireFromString("55.00"),
			}},
			CartVersion: 1,
			TakenAt:     time.Now().UTC(),
		},
		Subtotal:       decimal.RequireFromString("110.00"),
		Total:          decimal.RequireFromString("110.00"),
		Currency:       "USD",
		PaymentOutcome: models.PaymentApproved,
		PaymentRef:     "sim_keep",
		ExpiresAt:      time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, env.attempts.Create(ctx, attempt))
	require.NoError(t, env.stocks.Reserve(ctx, &models.Reservation{
		ID:         uuid.New(),
		CheckoutID: attempt.ID,
		ProductID:  drum,
		Quantity:   2,
		Status:     models.ReservationActive,
		ExpiresAt:  time.Now().UTC().Add(-time.Minute),
	}))

	env.svc.Sweep(ctx)

	available, reserved := env.availability(t, drum)
	assert.Equal(t, 3, available)
	assert.Equal(t, 2, reserved, "approved attempt keeps its units")

	active, err := env.stocks.ActiveByCheckout(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestService_Sweep_ReleasesOrphanedReservation(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	fan := env.addProduct(t, "Fan", "18.00", 6)

	require.NoError(t, env.stocks.Reserve(ctx, &models.Reservation{
		ID:         uuid.New(),
		CheckoutID: uuid.New(),
		ProductID:  fan,
		Quantity:   4,
		Status:     models.ReservationActive,
		ExpiresAt:  time.Now().UTC().Add(-time.Minute),
	}))

	available, reserved := env.availability(t, fan)
	require.Equal(t, 2, available)
	require.Equal(t, 4, reserved)

	env.svc.Sweep(ctx)

	available, reserved = env.availability(t, fan)
	assert.Equal(t, 6, available)
	assert.Equal(t, 0, reserved)
}

func TestService_Sweep_PrunesTerminalAttempts(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{
		KeyRetention: time.Nanosecond,
	})
	ctx := context.Background()

	attempt := &models.CheckoutAttempt{
		ID:             uuid.New(),
		OwnerID:        "mona",
		IdempotencyKey: "mona-old",
		State:          models.CheckoutRejected,
		FailureCode:    models.FailurePaymentDeclined,
		Currency:       "USD",
		ExpiresAt:      time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, env.attempts.Create(ctx, attempt))
	time.Sleep(5 * time.Millisecond)

	env.svc.Sweep(ctx)

	_, err := env.attempts.FindByID(ctx, attempt.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestService_Checkout_ExpiredHoldDoesNotBlock(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	lamp := env.addProduct(t, "Lamp", "40.00", 1)
	env.fillCart(t, "omar", lamp, 1)

	// the only unit is held by a reservation whose checkout died long ago
	require.NoError(t, env.stocks.Reserve(ctx, &models.Reservation{
		ID:         uuid.New(),
		CheckoutID: uuid.New(),
		ProductID:  lamp,
		Quantity:   1,
		Status:     models.ReservationActive,
		ExpiresAt:  time.Now().UTC().Add(-time.Minute),
	}))
	available, reserved := env.availability(t, lamp)
	require.Equal(t, 0, available)
	require.Equal(t, 1, reserved)

	res, svcErr := env.svc.Checkout(ctx, "omar", &models.CheckoutRequest{Payment: okPayment()})
	require.Nil(t, svcErr, "an expired hold must not starve a live checkout")
	require.NotNil(t, res.Order)

	available, reserved = env.availability(t, lamp)
	assert.Equal(t, 0, available)
	assert.Equal(t, 0, reserved)
}

func TestService_Checkout_PartialStockContention(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	plank := env.addProduct(t, "Plank", "12.00", 5)
	env.fillCart(t, "pia", plank, 3)
	env.fillCart(t, "quinn", plank, 3)

	var mu sync.Mutex
	won, lost := 0, 0
	var wg sync.WaitGroup
	for _, owner := range []string{"pia", "quinn"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			_, svcErr := env.svc.Checkout(ctx, owner, &models.CheckoutRequest{Payment: okPayment()})
			mu.Lock()
			defer mu.Unlock()
			if svcErr == nil {
				won++
			} else if svcErr.Code == services.CodeInsufficientStock {
				lost++
			}
		}(owner)
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	// the loser's partial hold was rolled back, not leaked
	available, reserved := env.availability(t, plank)
	assert.Equal(t, 2, available)
	assert.Equal(t, 0, reserved)
}

func TestService_RecoverStale_LeavesEditedCartAlone(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	lens := env.addProduct(t, "Lens", "60.00", 4)
	env.fillCart(t, "ruth", lens, 1)

	// the crashed attempt snapshotted the cart at version 1
	attempt := &models.CheckoutAttempt{
		ID:             uuid.New(),
		OwnerID:        "ruth",
		IdempotencyKey: "ruth-lens",
		State:          models.CheckoutPaymentPending,
		Snapshot: models.CartSnapshot{
			Items: []models.CartItem{{
				ProductID: lens, Name: "Lens", Quantity: 1,
				UnitPrice: decimal.RequireFromString("60.00"),
			}},
			CartVersion: 1,
			TakenAt:     time.Now().UTC(),
		},
		Subtotal:       decimal.RequireFromString("60.00"),
		Total:          decimal.RequireFromString("60.00"),
		Currency:       "USD",
		PaymentOutcome: models.PaymentApproved,
		PaymentRef:     "sim_edited",
		ExpiresAt:      time.Now().UTC().Add(-time.Second),
	}
	require.NoError(t, env.attempts.Create(ctx, attempt))
	_, err := env.inventory.Reserve(ctx, attempt.ID, attempt.Snapshot.Items)
	require.NoError(t, err)

	// the owner kept shopping, moving the cart past the snapshot
	env.fillCart(t, "ruth", lens, 2)

	settled, err := env.svc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	order, err := env.orders.FindByIdempotencyKey(ctx, "ruth-lens")
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 1, order.Items[0].Quantity, "the order reflects the snapshot, not the newer cart")

	cart, svcErr := env.carts.GetCart(ctx, "ruth")
	require.Nil(t, svcErr)
	assert.Equal(t, 3, cart.TotalItems(), "the newer cart survives the commit")
	assert.EqualValues(t, 2, cart.Version)
}

func TestService_Checkout_SecondKeyWhileFirstActive(t *testing.T) {
	env := newCheckoutEnv(t, services.SimulatorConfig{}, services.CheckoutConfig{})
	ctx := context.Background()

	kite := env.addProduct(t, "Kite", "14.00", 5)
	env.fillCart(t, "nina", kite, 1)

	// a live attempt left by another instance holds the key
	require.NoError(t, env.attempts.Create(ctx, &models.CheckoutAttempt{
		ID:             uuid.New(),
		OwnerID:        "nina",
		IdempotencyKey: "nina-kite",
		State:          models.CheckoutReserved,
		Currency:       "USD",
		ExpiresAt:      time.Now().UTC().Add(time.Minute),
	}))

	_, svcErr := env.svc.Checkout(ctx, "nina", &models.CheckoutRequest{
		IdempotencyKey: "nina-kite",
		Payment:        okPayment(),
	})
	require.NotNil(t, svcErr)
	assert.Equal(t, 409, svcErr.StatusCode)
	assert.Equal(t, services.CodeCheckoutInProgress, svcErr.Code)
}
