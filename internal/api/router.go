package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/tutorlane/payroll-engine/internal/api/handler"
	"github.com/tutorlane/payroll-engine/internal/api/middleware"
	"github.com/tutorlane/payroll-engine/internal/api/spec"
	"github.com/tutorlane/payroll-engine/internal/config"
	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/idempotency"
	"github.com/tutorlane/payroll-engine/internal/service"
)

// Router wires the HTTP surface: admin operations behind JWT auth, and
// public health/metrics/docs endpoints.
type Router struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *pgxpool.Pool
	redis      redis.Cmdable
	idemStore  *idempotency.Store
	settings   *service.SettingsService
	currency   *service.CurrencyService
	invoices   *service.InvoiceService
	generation *service.GenerationService
	audit      *service.AuditService
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	redisClient redis.Cmdable,
	idemStore *idempotency.Store,
	settings *service.SettingsService,
	currency *service.CurrencyService,
	invoices *service.InvoiceService,
	generation *service.GenerationService,
	audit *service.AuditService,
) *Router {
	return &Router{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		idemStore:  idemStore,
		settings:   settings,
		currency:   currency,
		invoices:   invoices,
		generation: generation,
		audit:      audit,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	settingsHandler := handler.NewSettingsHandler(api.settings)
	ratesHandler := handler.NewRatesHandler(api.currency)
	invoiceHandler := handler.NewInvoiceHandler(api.invoices)
	generationHandler := handler.NewGenerationHandler(api.generation)
	auditHandler := handler.NewAuditHandler(api.audit)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Get("/healthz", healthHandler.Live)
		r.Get("/readyz", healthHandler.Ready)
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))
		r.Use(middleware.RequireRole(domain.ActorRoleAdmin))

		r.Get("/v1/settings", settingsHandler.Get)
		r.Put("/v1/settings", settingsHandler.Update)
		r.Post("/v1/settings/partitions/validate", settingsHandler.ValidatePartitions)

		r.Get("/v1/rates/{base}/{target}/{year}/{month}", ratesHandler.Get)
		r.Get("/v1/rates/{base}/{target}/{year}/{month}/convert", ratesHandler.Convert)
		r.Post("/v1/rates/{base}/{target}/{year}/{month}/sources", ratesHandler.AddSource)
		r.Post("/v1/rates/{base}/{target}/{year}/{month}/active", ratesHandler.SetActive)
		r.Post("/v1/rates/refresh", ratesHandler.Refresh)

		r.Get("/v1/invoices", invoiceHandler.List)
		r.Get("/v1/invoices/{id}", invoiceHandler.Get)
		r.Post("/v1/invoices", invoiceHandler.Create)
		r.Post("/v1/invoices/{id}/bonuses", invoiceHandler.AddBonus)
		r.Delete("/v1/invoices/{id}/bonuses/{entryID}", invoiceHandler.RemoveBonus)
		r.Post("/v1/invoices/{id}/extras", invoiceHandler.AddExtra)
		r.Delete("/v1/invoices/{id}/extras/{entryID}", invoiceHandler.RemoveExtra)
		r.Put("/v1/invoices/{id}/overrides", invoiceHandler.SetOverrides)
		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/v1/invoices/{id}/publish", invoiceHandler.Publish)
		r.Post("/v1/invoices/{id}/unpublish", invoiceHandler.Unpublish)
		r.Post("/v1/invoices/{id}/pay", invoiceHandler.MarkPaid)
		r.Post("/v1/invoices/{id}/archive", invoiceHandler.Archive)
		r.Delete("/v1/invoices/{id}", invoiceHandler.Delete)
		r.Post("/v1/invoices/{id}/adjustments", invoiceHandler.CreateAdjustment)

		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/v1/generation", generationHandler.Generate)

		r.Get("/v1/audit", auditHandler.Search)
		r.Get("/v1/audit/statistics", auditHandler.Statistics)
		r.Get("/v1/audit/entity/{entityType}/{entityID}", auditHandler.ByEntity)
		r.Get("/v1/audit/actor/{actor}", auditHandler.ByActor)
	})

	return r
}
