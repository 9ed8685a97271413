package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/saturnino-fabrica-de-software/chamada/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/chamada/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/chamada/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/chamada/internal/audit"
	"github.com/saturnino-fabrica-de-software/chamada/internal/database"
	"github.com/saturnino-fabrica-de-software/chamada/internal/ws"
)

type Dependencies struct {
	Store       handler.EnrollmentService
	Windows     handler.AttendanceWindows
	Frames      handler.FrameProcessor
	Queue       handler.OutboxService
	OutboxStats handler.OutboxStats
	Transport   handler.TransportStatus
	DB          database.Pinger
	Metrics     fiber.Handler
	Audit       audit.Logger
	Live        *ws.Hub
	AdminToken  string
	RateLimit   middleware.RateLimiterConfig
}

type Router struct {
	app         *fiber.App
	logger      *slog.Logger
	deps        *Dependencies
	rateLimiter *middleware.RateLimiter
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(logger),
		AppName:               "Chamada",
		DisableStartupMessage: true,
		BodyLimit:             1 * 1024 * 1024,
	})

	return &Router{
		app:    app,
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	// Global middlewares
	r.app.Use(requestid.New())
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(middleware.Logger(r.logger))
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization," + middleware.AdminTokenHeader,
	}))

	// Swagger documentation (no auth required)
	sw := docs.NewSwagger()
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	// Health and metrics (no auth required)
	var healthHandler *handler.HealthHandler
	if r.deps != nil {
		healthHandler = handler.NewHealthHandler(r.deps.DB, r.deps.Transport)
	} else {
		healthHandler = handler.NewHealthHandler(nil, nil)
	}
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	if r.deps == nil {
		return
	}

	if r.deps.Metrics != nil {
		r.app.Get("/metrics", r.deps.Metrics)
	}

	// API v1 group with admin token
	v1 := r.app.Group("/v1")
	r.rateLimiter = middleware.NewRateLimiter(r.deps.RateLimit)
	v1.Use(r.rateLimiter.Handler())
	v1.Use(middleware.AdminToken(r.deps.AdminToken))

	// Identities
	identityHandler := handler.NewIdentityHandler(r.deps.Store, r.deps.Windows, r.logger).WithAudit(r.deps.Audit)
	v1.Post("/identities", identityHandler.Enroll)
	v1.Get("/identities", identityHandler.List)
	v1.Get("/identities/:id", identityHandler.Get)
	v1.Delete("/identities/:id", identityHandler.Revoke)
	v1.Post("/identities/:id/override", identityHandler.Override)

	// Frames
	frameHandler := handler.NewFrameHandler(r.deps.Frames)
	v1.Post("/frames", frameHandler.Process)

	// Outbox
	outboxHandler := handler.NewOutboxHandler(r.deps.Queue, r.deps.OutboxStats, r.deps.Transport).WithAudit(r.deps.Audit)
	v1.Get("/outbox/failed", outboxHandler.Failed)
	v1.Get("/outbox/stats", outboxHandler.Stats)
	v1.Post("/outbox/:seq/requeue", outboxHandler.Requeue)

	// Live outcome feed
	if r.deps.Live != nil {
		v1.Get("/live", ws.UpgradeMiddleware(), ws.Handler(r.deps.Live))
	}
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

func (r *Router) Shutdown() error {
	// Stop rate limiter cleanup goroutine
	if r.rateLimiter != nil {
		r.rateLimiter.Stop()
	}

	return r.app.Shutdown()
}
