package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/partner-payout/internal"
	"github.com/frahmantamala/partner-payout/internal/core/events"
	"github.com/frahmantamala/partner-payout/internal/eligibility"
	eligibilitystore "github.com/frahmantamala/partner-payout/internal/eligibility/postgres"
	"github.com/frahmantamala/partner-payout/internal/ledger"
	ledgerstore "github.com/frahmantamala/partner-payout/internal/ledger/postgres"
	"github.com/frahmantamala/partner-payout/internal/paymentgateway"
	"github.com/frahmantamala/partner-payout/internal/payout"
	payoutstore "github.com/frahmantamala/partner-payout/internal/payout/postgres"
	"github.com/frahmantamala/partner-payout/internal/reconcile"
	"github.com/frahmantamala/partner-payout/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Dependencies is the object graph shared by the server and worker commands.
type Dependencies struct {
	Config *internal.Config
	DB     *sqlx.DB
	Gorm   *gorm.DB
	// Redis is nil when no redis url is configured.
	Redis  *redis.Client
	Logger *slog.Logger

	EventBus  *events.EventBus
	Ledger    *ledger.Service
	Batches   *payoutstore.BatchRepository
	Gateway   *paymentgateway.Client
	Payouts   *payout.Service
	Reconcile *reconcile.Worker
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	lg := logger.Configure(logger.Options{
		Level:      config.Observability.Logging.Level,
		Format:     config.Observability.Logging.Format,
		File:       config.Observability.Logging.File,
		MaxSizeMB:  config.Observability.Logging.MaxSizeMB,
		MaxBackups: config.Observability.Logging.MaxBackups,
		MaxAgeDays: config.Observability.Logging.MaxAgeDays,
	})

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	redisClient, err := initRedis(config.Redis)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	gateway, err := paymentgateway.NewClient(paymentgateway.Config{
		BaseURL:      config.Gateway.BaseURL,
		ClientID:     config.Gateway.ClientID,
		ClientSecret: config.Gateway.ClientSecret,
		Timeout:      config.Gateway.Timeout,
	}, lg.With("component", "paymentgateway"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	bus := events.NewEventBus(lg.With("component", "events"))
	store := ledgerstore.NewStore(gormDB)
	batches := payoutstore.NewBatchRepository(gormDB, store, lg.With("component", "payout_repository"))
	evaluator := eligibility.NewEvaluator(eligibilitystore.NewEligibilityRepository(gormDB), lg.With("component", "eligibility"))

	payouts := payout.NewService(batches, gateway, evaluator, bus, payout.Options{
		DefaultCurrency:     config.Payout.DefaultCurrency,
		DefaultNoteTemplate: config.Payout.DefaultNoteTemplate,
		AllowedCurrencies:   config.Payout.AllowedCurrencies,
		EmailSubject:        config.Gateway.EmailSubject,
		EmailMessage:        config.Gateway.EmailMessage,
	}, lg.With("component", "payout"))

	return &Dependencies{
		Config:    config,
		DB:        db,
		Gorm:      gormDB,
		Redis:     redisClient,
		Logger:    lg,
		EventBus:  bus,
		Ledger:    ledger.NewService(store, lg.With("component", "ledger")),
		Batches:   batches,
		Gateway:   gateway,
		Payouts:   payouts,
		Reconcile: reconcile.NewWorker(batches, gateway, bus, lg.With("component", "reconcile")),
	}, nil
}

// NewScheduler builds the periodic reconciliation sweep. The redis lease is
// used when redis is configured so several replicas never sweep together.
func (d *Dependencies) NewScheduler() *reconcile.Scheduler {
	var locker reconcile.Locker = reconcile.NoopLocker{}
	if d.Redis != nil {
		locker = reconcile.NewRedisLocker(d.Redis)
	}
	rc := d.Config.Reconcile
	return reconcile.NewScheduler(d.Batches, d.Reconcile, locker, reconcile.SchedulerConfig{
		Interval:   rc.Interval,
		Workers:    rc.Workers,
		QueueSize:  rc.QueueSize,
		BatchLimit: rc.BatchLimit,
		LeaseTTL:   rc.LeaseTTL,
		StaleAfter: rc.StaleAfter,
	}, d.Logger.With("component", "reconcile_scheduler"))
}

func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("Redis close error", "error", err)
		}
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("Database close error", "error", err)
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

func initRedis(cfg internal.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
