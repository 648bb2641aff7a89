package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/partner-payout/internal/auth"
	"github.com/frahmantamala/partner-payout/internal/ledger"
	"github.com/frahmantamala/partner-payout/internal/payout"
	"github.com/frahmantamala/partner-payout/internal/report"
	"github.com/frahmantamala/partner-payout/internal/transport/middleware"
	"github.com/frahmantamala/partner-payout/internal/transport/swagger"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
)

type Handlers struct {
	Payout *payout.Handler
	Report *report.Handler
	Ledger *ledger.Handler
	Health *HealthHandler
}

type RouterOptions struct {
	AllowedOrigins []string
	OpenAPI        *OpenAPIDocument
	Tokens         auth.TokenValidator
	RBAC           *auth.RBACAuthorization
	// RateLimit is optional.
	RateLimit func(http.Handler) http.Handler
	Logger    *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, opts RouterOptions) {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, "Content-Disposition"},
		MaxAge:         300,
	}))
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.ContextLogger(opts.Logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(opts.Logger))
	router.Use(middleware.LoggingMiddleware(opts.Logger))

	if opts.OpenAPI != nil {
		router.Handle("/openapi.yml", opts.OpenAPI)
		router.Handle("/swagger/*", swagger.Handler("/openapi.yml"))
	}

	router.Route("/api/v1", func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.healthCheckHandler)
			r.Get("/ping", h.Health.pingHandler)
		}

		r.Group(func(pr chi.Router) {
			pr.Use(middleware.Authenticate(opts.Tokens, opts.Logger))
			if opts.RateLimit != nil {
				pr.Use(opts.RateLimit)
			}

			rbac := opts.RBAC

			if h.Payout != nil {
				pr.Route("/payouts", func(por chi.Router) {
					por.With(rbac.RequireViewPayouts()).Post("/preview", h.Payout.Preview)
					por.With(rbac.RequireViewPayouts()).Get("/batches/{id}", h.Payout.GetBatch)

					por.Group(func(mr chi.Router) {
						mr.Use(rbac.RequireManagePayouts())
						mr.Post("/batches", h.Payout.Submit)
						mr.Post("/batches/{id}/reconcile", h.Payout.Reconcile)
						mr.Post("/batches/{id}/release", h.Payout.Release)
					})
				})
			}

			if h.Report != nil {
				pr.Route("/reports/payouts", func(rr chi.Router) {
					rr.Use(rbac.RequireViewPayouts())
					rr.Get("/summary.csv", h.Report.SummaryCSV)
					rr.Get("/batches/{id}/items.csv", h.Report.ItemsCSV)
				})
			}

			if h.Ledger != nil {
				pr.With(rbac.RequireViewPayouts()).Get("/partners/{id}/ledger", h.Ledger.GetPartnerLedger)
			}
		})
	})
}
