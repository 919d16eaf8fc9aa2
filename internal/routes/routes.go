package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cbuike/wallet-service/internal/cache"
	"github.com/cbuike/wallet-service/internal/config"
	"github.com/cbuike/wallet-service/internal/middleware"
	"github.com/cbuike/wallet-service/internal/notification"
	"github.com/cbuike/wallet-service/internal/storage"
	"github.com/cbuike/wallet-service/internal/transaction"
	"github.com/cbuike/wallet-service/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. DB and Cache are nil when the
// deployment runs without them.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() && d.DB == nil {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var backend storage.Backend
	if d.DB != nil {
		backend = storage.NewPostgres(d.DB)
	} else {
		d.Logger.Warn("DATABASE_URL not set, using in-memory storage")
		backend = storage.NewMemory()
	}

	var walletCache wallet.Cache
	if d.Cache != nil {
		walletCache = cache.NewWalletCache(d.Cache, d.Cfg.WalletCacheTTL)
	}

	walletSvc := wallet.NewService(backend.Wallets(), walletCache, d.Logger)
	notifier := notification.NewLoggerNotifier(d.Logger)
	txSvc := transaction.NewService(backend, walletSvc, notifier, d.Logger)

	api := app.Group("/api/v1", middleware.RateLimit(d.Cache, d.Cfg.RateLimitPerMinute))
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, wallet.NewHandler(walletSvc))
	RegisterTransactionRoutes(api, transaction.NewHandler(txSvc))

	return nil
}
