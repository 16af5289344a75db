package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/imramesh222/ecommerce/controllers"
	"github.com/imramesh222/ecommerce/database"
	"github.com/imramesh222/ecommerce/kafka"
	"github.com/imramesh222/ecommerce/metrics"
	"github.com/imramesh222/ecommerce/middleware"
	"github.com/imramesh222/ecommerce/models"
	"github.com/imramesh222/ecommerce/repository"
	"github.com/imramesh222/ecommerce/routes"
	"github.com/imramesh222/ecommerce/services"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := LoadConfig()
	m := metrics.New("storefront")

	var (
		stockRepo   repository.StockRepository
		attemptRepo repository.AttemptRepository
		orderRepo   repository.OrderRepository
	)
	switch cfg.StoreBackend {
	case "memory":
		stockRepo = repository.NewMemoryStockRepository()
		attemptRepo = repository.NewMemoryAttemptRepository()
		orderRepo = repository.NewMemoryOrderRepository()
		logger.Info("Using in-memory stores")
	default:
		db, err := database.ConnectPostgres(cfg.PostgresDSN, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		stockRepo = repository.NewGormStockRepository(db)
		attemptRepo = repository.NewGormAttemptRepository(db)
		orderRepo = repository.NewGormOrderRepository(db)
	}

	var cartRepo repository.CartRepository
	if cfg.CartBackend == "memory" {
		cartRepo = repository.NewMemoryCartRepository()
		logger.Info("Using in-memory cart store")
	} else {
		rdb, err := database.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		cartRepo = repository.NewRedisCartRepository(rdb, cfg.CartTTL)
	}

	var catalog services.CatalogService
	staticCatalog := services.NewStaticCatalog()
	if cfg.CatalogURL != "" {
		catalog = services.NewHTTPCatalog(cfg.CatalogURL)
	} else {
		catalog = staticCatalog
		logger.Warn("No CATALOG_SERVICE_URL configured, products must be seeded")
	}

	if cfg.PaymentProvider != "simulated" {
		logger.Fatal("Unknown payment provider", zap.String("provider", cfg.PaymentProvider))
	}
	declineOver := decimal.Zero
	if cfg.PaymentDeclineOver != "" {
		if d, err := decimal.NewFromString(cfg.PaymentDeclineOver); err == nil {
			declineOver = d
		} else {
			logger.Warn("Ignoring invalid PAYMENT_DECLINE_OVER", zap.String("value", cfg.PaymentDeclineOver))
		}
	}
	defaultOutcome := models.PaymentOutcome(cfg.PaymentDefaultOutcome)
	if defaultOutcome != models.PaymentDeclined && defaultOutcome != models.PaymentFailed {
		defaultOutcome = models.PaymentApproved
	}
	gateway := services.NewSimulatedGateway(services.SimulatorConfig{
		DefaultOutcome: defaultOutcome,
		DeclineTokens:  cfg.PaymentDeclineTokens,
		ErrorTokens:    cfg.PaymentErrorTokens,
		DeclineOver:    declineOver,
	})

	var publisher services.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer producer.Close()
		publisher = producer
	}

	inventorySvc := services.NewInventoryService(stockRepo, logger, m, cfg.ReservationTTL)
	cartSvc := services.NewCartService(cartRepo, catalog, logger, cfg.MaxQuantityPerLine)
	orderSvc := services.NewOrderService(orderRepo, logger)
	checkoutSvc := services.NewCheckoutService(cartSvc, inventorySvc, catalog, gateway,
		attemptRepo, orderRepo, publisher, logger, m, services.CheckoutConfig{
			Currency:     cfg.Currency,
			AttemptTTL:   cfg.AttemptTTL,
			KeyRetention: cfg.KeyRetention,
		})

	if cfg.SeedDemo && cfg.CatalogURL == "" {
		seedDemo(staticCatalog, inventorySvc, logger)
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if _, err := checkoutSvc.RecoverStale(workerCtx); err != nil {
		logger.Error("Startup recovery failed", zap.Error(err))
	}
	checkoutSvc.StartWorker(workerCtx, cfg.SweepInterval)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	r.Use(metricsMiddleware(m))

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	r.Use(limiter.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	api := r.Group("/api")
	api.Use(middleware.Identity(cfg.JWTSecret))
	routes.RegisterCartRoutes(api, controllers.NewCartController(cartSvc))
	routes.RegisterCheckoutRoutes(api, controllers.NewCheckoutController(checkoutSvc))
	routes.RegisterOrderRoutes(api, controllers.NewOrderController(orderSvc))
	routes.RegisterStockRoutes(api, controllers.NewStockController(inventorySvc))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, path, metrics.StatusClass(c.Writer.Status()), time.Since(start).Seconds())
	}
}

// seedDemo fills the static catalog and the ledger with fake products so
// a memory-backed instance is usable out of the box.
func seedDemo(catalog *services.StaticCatalog, inventory *services.InventoryService, logger *zap.Logger) {
	faker := gofakeit.New(0)
	const count = 12
	for i := 0; i < count; i++ {
		id := uuid.New()
		catalog.Put(services.CatalogProduct{
			ID:     id,
			Name:   faker.ProductName(),
			Price:  decimal.NewFromFloat(faker.Price(5, 200)).Round(2),
			Active: true,
		})
		if _, svcErr := inventory.SetStock(context.Background(), id, faker.Number(25, 200)); svcErr != nil {
			logger.Warn("Failed to seed stock", zap.String("product_id", id.String()))
		}
	}
	logger.Info("Seeded demo catalog", zap.Int("products", count))
}
