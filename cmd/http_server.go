package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/partner-payout/internal/auth"
	"github.com/frahmantamala/partner-payout/internal/ledger"
	"github.com/frahmantamala/partner-payout/internal/payout"
	"github.com/frahmantamala/partner-payout/internal/report"
	"github.com/frahmantamala/partner-payout/internal/transport/middleware"
	"github.com/frahmantamala/partner-payout/internal/transport/rest"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()
	lg := deps.Logger

	router, err := setupRoutes(deps)
	if err != nil {
		lg.Error("Failed to set up routes", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if deps.Config.Reconcile.Enabled {
		scheduler := deps.NewScheduler()
		scheduler.Subscribe(deps.EventBus)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	lg.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		lg.Info("Received signal, shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			lg.Error("Server failed to start", "error", err)
			return
		}
	}

	lg.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) (*chi.Mux, error) {
	cfg := deps.Config
	lg := deps.Logger

	doc, err := rest.LoadOpenAPI(context.Background(), cfg.Server.OpenAPIPath)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}

	rateLimit, err := middleware.RateLimit(cfg.RateLimit.Rate, deps.Redis, lg)
	if err != nil {
		return nil, err
	}

	rbac := auth.NewRBACAuthorization(auth.NewPermissionChecker(), lg)
	tokens := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.TokenTTL)

	health := map[string]rest.Pinger{"postgres": deps.DB.DB}
	if deps.Redis != nil {
		health["redis"] = rest.PingFunc(func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.Handlers{
		Payout: payout.NewHandler(deps.Payouts, deps.Reconcile),
		Report: report.NewHandler(report.NewExporter(deps.DB, lg.With("component", "report")), rbac),
		Ledger: ledger.NewHandler(deps.Ledger),
		Health: rest.NewHealthHandler(health),
	}, rest.RouterOptions{
		AllowedOrigins: cfg.Server.Origins(),
		OpenAPI:        doc,
		Tokens:         tokens,
		RBAC:           rbac,
		RateLimit:      rateLimit,
		Logger:         lg,
	})
	return router, nil
}
