package routes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nanda-points/nanda_points/internal/agent"
	"github.com/nanda-points/nanda_points/internal/config"
	"github.com/nanda-points/nanda_points/internal/credential"
	"github.com/nanda-points/nanda_points/internal/events"
	"github.com/nanda-points/nanda_points/internal/facilitator"
	"github.com/nanda-points/nanda_points/internal/idempotency"
	"github.com/nanda-points/nanda_points/internal/ledger"
	"github.com/nanda-points/nanda_points/internal/middleware"
	"github.com/nanda-points/nanda_points/internal/notification"
	"github.com/nanda-points/nanda_points/internal/paywall"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Stores
	ctx := context.Background()
	var ledgerStore ledger.Store
	var agentDir agent.Directory
	if d.DB != nil {
		pg := ledger.NewPostgresStore(d.DB)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ledger schema: %w", err)
		}
		pgDir := agent.NewPostgresDirectory(d.DB)
		if err := pgDir.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("agents schema: %w", err)
		}
		ledgerStore = pg
		agentDir = pgDir
	} else {
		ledgerStore = ledger.NewMemoryStore()
		agentDir = agent.NewMemoryDirectory()
	}

	var idemStore idempotency.Store
	if d.Cache != nil {
		idemStore = idempotency.NewRedisStore(d.Cache)
	} else {
		idemStore = idempotency.NewMemoryStore()
	}

	// Every posted transaction lands in the broker; the notifier is the
	// built-in consumer, others can attach for webhooks or metrics.
	broker := events.NewBroker(64)
	eventCh, _ := broker.Subscribe()
	go notification.Consume(ctx, eventCh, notification.NewLoggerNotifier(d.Logger))

	var signer credential.Signer = credential.Unkeyed{}
	if d.Cfg.ReceiptSigningSeed != "" {
		cred, err := credential.NewNaClCredential(d.Cfg.ReceiptSigningSeed)
		if err != nil {
			return fmt.Errorf("receipt credential: %w", err)
		}
		signer = cred
		d.Logger.Info("receipt signing enabled", "publicKey", cred.PublicKey())
	}

	// Services and handlers
	engine := ledger.NewEngine(ledgerStore, idemStore, broker, d.Logger, d.Cfg.IdempotencyTTL)
	agentSvc := agent.NewService(agentDir, ledgerStore)
	facilitatorSvc := facilitator.NewService(engine, ledgerStore, agentSvc, signer, d.Logger)

	ledgerHandler := ledger.NewHandler(engine, ledgerStore)
	agentHandler := agent.NewHandler(agentSvc)
	facilitatorHandler := facilitator.NewHandler(facilitatorSvc)

	// Facilitator protocol
	app.Post("/verify", facilitatorHandler.Verify)
	app.Post("/settle", facilitatorHandler.Settle)
	app.Get("/supported", facilitatorHandler.Supported)

	// Ledger API
	app.Post("/transactions", ledgerHandler.Apply)
	app.Get("/transactions/:id", ledgerHandler.Get)
	app.Get("/transactions", ledgerHandler.List)
	app.Get("/wallets/:walletId", ledgerHandler.GetWallet)

	// Agent directory
	app.Post("/agents", agentHandler.Register)
	app.Get("/agents/:name", agentHandler.Get)

	// Demo protected resource, paid for through the embedded facilitator.
	app.Post("/premium/echo",
		paywall.Protect(paywall.Config{
			Price:          d.Cfg.PaywallPrice,
			Description:    d.Cfg.PaywallDescription,
			PayTo:          d.Cfg.AgentName,
			TimeoutSeconds: d.Cfg.PaywallTimeoutSeconds,
			FacilitatorURL: d.Cfg.FacilitatorURL,
			Facilitator:    facilitatorSvc,
			Logger:         d.Logger,
		}),
		premiumEcho)

	// The paywall's payee must exist before the first settlement.
	if _, err := agentSvc.Register(ctx, d.Cfg.AgentName); err != nil && !errors.Is(err, agent.ErrAgentExists) {
		return fmt.Errorf("register paywall agent: %w", err)
	}

	return nil
}

func premiumEcho(c *fiber.Ctx) error {
	var body map[string]any
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid JSON body")
		}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"echo":     body,
		"servedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
