package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	jwtware "github.com/gofiber/jwt/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wichananm65/storefront-backend/internal/cart"
	"github.com/wichananm65/storefront-backend/internal/category"
	"github.com/wichananm65/storefront-backend/internal/checkout"
	"github.com/wichananm65/storefront-backend/internal/config"
	"github.com/wichananm65/storefront-backend/internal/database"
	"github.com/wichananm65/storefront-backend/internal/logger"
	"github.com/wichananm65/storefront-backend/internal/metrics"
	"github.com/wichananm65/storefront-backend/internal/mpesa"
	"github.com/wichananm65/storefront-backend/internal/order"
	"github.com/wichananm65/storefront-backend/internal/owner"
	"github.com/wichananm65/storefront-backend/internal/payment"
	"github.com/wichananm65/storefront-backend/internal/product"
	"github.com/wichananm65/storefront-backend/internal/store"
	"github.com/wichananm65/storefront-backend/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	uow := store.NewPostgresUnitOfWork(db)

	userService := user.NewService(user.NewPostgresRepository(db), cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	categoryHandler := category.NewHandler(category.NewService(category.NewPostgresRepository(db)), log)

	productRepo := product.NewPostgresRepository(db)
	productHandler := product.NewHandler(product.NewService(productRepo))

	cartHandler := cart.NewHandler(cart.NewService(cart.NewPostgresRepository(db), productRepo), log)

	orderService := order.NewService(order.NewPostgresRepository(db), store.OrdersTx(uow))
	orderHandler := order.NewHandler(orderService, log)

	processor := payment.NewProcessor(uow, log, m)
	paymentHandler := payment.NewHandler(processor, log)

	assembler := order.NewAssembler(order.Pricing{
		TaxBasisPoints: cfg.Checkout.TaxBasisPoints,
		ShippingFee:    cfg.Checkout.ShippingFee,
	})
	opts := []checkout.Option{checkout.WithReconciler(processor), checkout.WithMetrics(m)}
	if cfg.Mpesa.Enabled {
		gateway, err := newMpesaClient(ctx, cfg, log, m)
		if err != nil {
			log.Fatal("Failed to set up M-Pesa client", zap.Error(err))
		}
		opts = append(opts, checkout.WithGateway(gateway, cfg.Mpesa.Timeout+5*time.Second))
	} else {
		log.Warn("M-Pesa disabled, only cash on delivery is offered")
	}
	orchestrator := checkout.NewOrchestrator(uow, assembler, log, opts...)
	checkoutHandler := checkout.NewHandler(orchestrator, orderService, checkout.NewRateLimiter(cfg.Checkout.RateLimitPerMinute), log)

	app := fiber.New(fiber.Config{
		AppName:      "storefront-backend",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(logger.RequestLogger(log))
	app.Use(m.Middleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := db.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy"})
		}
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	app.Get("/metrics", metrics.Handler(prometheus.DefaultGatherer))

	// provider callbacks and the public catalog never carry a user token
	paymentHandler.RegisterRoutes(app)
	userHandler.RegisterPublicRoutes(app)
	categoryHandler.RegisterPublicRoutes(app)
	productHandler.RegisterPublicRoutes(app)

	// guests shop anonymously, so a token is checked only when one is sent
	app.Use(jwtware.New(jwtware.Config{
		SigningKey: []byte(cfg.JWTSecret),
		Filter: func(c *fiber.Ctx) bool {
			return c.Get(fiber.HeaderAuthorization) == ""
		},
	}))
	app.Use(owner.Middleware(owner.Config{Secure: cfg.SessionCookieSecure}))

	userHandler.RegisterProtectedRoutes(app)
	cartHandler.RegisterRoutes(app)
	checkoutHandler.RegisterRoutes(app)
	orderHandler.RegisterRoutes(app)

	admin := app.Group("/api/v1/admin", user.RequireAdmin())
	categoryHandler.RegisterAdminRoutes(admin)
	productHandler.RegisterAdminRoutes(admin)
	orderHandler.RegisterAdminRoutes(admin)
	paymentHandler.RegisterAdminRoutes(admin)

	go func() {
		<-ctx.Done()
		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	log.Info("Starting server", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
	if err := app.Listen(cfg.Addr); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Server stopped", zap.Error(err))
	}
}

// newMpesaClient shares the OAuth token through Redis when REDIS_URL is set so
// every replica reuses one token.
func newMpesaClient(ctx context.Context, cfg config.Config, log *zap.Logger, m *metrics.Metrics) (*mpesa.Client, error) {
	opts := []mpesa.Option{mpesa.WithObserver(m.ObserveGateway)}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rdb := redis.NewClient(redisOpts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		opts = append(opts, mpesa.WithTokenCache(mpesa.NewRedisTokenCache(rdb, cfg.Mpesa.ShortCode)))
	}

	return mpesa.NewClient(mpesa.Config{
		BaseURL:        cfg.Mpesa.BaseURL,
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		ShortCode:      cfg.Mpesa.ShortCode,
		PassKey:        cfg.Mpesa.PassKey,
		CallbackURL:    cfg.Mpesa.CallbackURL,
		Timeout:        cfg.Mpesa.Timeout,
	}, log, opts...), nil
}
