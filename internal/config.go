package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Payout        PayoutConfig        `mapstructure:"payout"`
	Reconcile     ReconcileConfig     `mapstructure:"reconcile"`
	Redis         RedisConfig         `mapstructure:"redis"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	OpenAPIPath       string        `mapstructure:"openapi_path"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
	// TokenTTL only applies to tokens minted by the token command.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type GatewayConfig struct {
	BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
	ClientID     string        `mapstructure:"client_id" validate:"required"`
	ClientSecret string        `mapstructure:"client_secret" validate:"required"`
	Timeout      time.Duration `mapstructure:"timeout"`
	EmailSubject string        `mapstructure:"email_subject"`
	EmailMessage string        `mapstructure:"email_message"`
}

type PayoutConfig struct {
	DefaultCurrency     string   `mapstructure:"default_currency"`
	DefaultNoteTemplate string   `mapstructure:"default_note_template"`
	AllowedCurrencies   []string `mapstructure:"allowed_currencies"`
}

type ReconcileConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	Workers    int           `mapstructure:"workers"`
	QueueSize  int           `mapstructure:"queue_size"`
	BatchLimit int           `mapstructure:"batch_limit"`
	LeaseTTL   time.Duration `mapstructure:"lease_ttl"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type RateLimitConfig struct {
	// Rate uses the limiter format, e.g. "60-M".
	Rate string `mapstructure:"rate"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"required,oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ----------------- ENV LOADING -----------------

// LoadConfigFromEnv builds the configuration for container deployments.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", ""),
			OpenAPIPath:       getEnv("OPENAPI_PATH", "./api/openapi.yml"),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTIssuer: getEnv("JWT_ISSUER", "partner-payout"),
			TokenTTL:  getEnvAsDuration("JWT_TOKEN_TTL", time.Hour),
		},
		Gateway: GatewayConfig{
			BaseURL:      getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
			Timeout:      getEnvAsDuration("PAYPAL_TIMEOUT", 30*time.Second),
			EmailSubject: getEnv("PAYPAL_EMAIL_SUBJECT", "You have a payout"),
			EmailMessage: getEnv("PAYPAL_EMAIL_MESSAGE", ""),
		},
		Payout: PayoutConfig{
			DefaultCurrency:     getEnv("PAYOUT_DEFAULT_CURRENCY", "USD"),
			DefaultNoteTemplate: getEnv("PAYOUT_NOTE_TEMPLATE", ""),
			AllowedCurrencies:   splitCSV(getEnv("PAYOUT_ALLOWED_CURRENCIES", "USD")),
		},
		Reconcile: ReconcileConfig{
			Enabled:    getEnvAsBool("RECONCILE_ENABLED", false),
			Interval:   getEnvAsDuration("RECONCILE_INTERVAL", 5*time.Minute),
			Workers:    getEnvAsInt("RECONCILE_WORKERS", 4),
			QueueSize:  getEnvAsInt("RECONCILE_QUEUE_SIZE", 100),
			BatchLimit: getEnvAsInt("RECONCILE_BATCH_LIMIT", 50),
			LeaseTTL:   getEnvAsDuration("RECONCILE_LEASE_TTL", 2*time.Minute),
			StaleAfter: getEnvAsDuration("RECONCILE_STALE_AFTER", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		RateLimit: RateLimitConfig{
			Rate: getEnv("RATE_LIMIT", "120-M"),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:      getEnv("LOG_LEVEL", "info"),
				Format:     getEnv("LOG_FORMAT", "json"),
				File:       getEnv("LOG_FILE", ""),
				MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
				MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
				MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 14),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills the zero values a config file is allowed to omit.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.OpenAPIPath == "" {
		c.Server.OpenAPIPath = "./api/openapi.yml"
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	if c.Payout.DefaultCurrency == "" {
		c.Payout.DefaultCurrency = "USD"
	}
	if c.Payout.DefaultNoteTemplate == "" {
		c.Payout.DefaultNoteTemplate = "Partner payout for {period_start} to {period_end}"
	}
	if len(c.Payout.AllowedCurrencies) == 0 {
		c.Payout.AllowedCurrencies = []string{c.Payout.DefaultCurrency}
	}
	if c.Reconcile.Interval <= 0 {
		c.Reconcile.Interval = 5 * time.Minute
	}
	if c.Reconcile.Workers <= 0 {
		c.Reconcile.Workers = 4
	}
	if c.Reconcile.QueueSize <= 0 {
		c.Reconcile.QueueSize = 100
	}
	if c.Reconcile.BatchLimit <= 0 {
		c.Reconcile.BatchLimit = 50
	}
	if c.Reconcile.LeaseTTL <= 0 {
		c.Reconcile.LeaseTTL = 2 * time.Minute
	}
	if c.Reconcile.StaleAfter <= 0 {
		c.Reconcile.StaleAfter = 30 * time.Minute
	}
	if c.RateLimit.Rate == "" {
		c.RateLimit.Rate = "120-M"
	}
	if c.Security.JWTIssuer == "" {
		c.Security.JWTIssuer = "partner-payout"
	}
	if c.Security.TokenTTL <= 0 {
		c.Security.TokenTTL = time.Hour
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if err := c.Payout.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payout config: %v", err))
	}

	if len(errs) > 0 {
		return NewConfigError(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		for _, origin := range c.Origins() {
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

// Origins splits AllowedOrigins into trimmed entries.
func (c *ServerConfig) Origins() []string {
	var out []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if o := strings.TrimSpace(origin); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	return nil
}

func (c *GatewayConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("client_id and client_secret are required")
	}
	return nil
}

func (c *PayoutConfig) Validate() error {
	for _, cur := range c.AllowedCurrencies {
		if len(cur) != 3 {
			return fmt.Errorf("invalid currency %q in allowed_currencies", cur)
		}
	}
	return nil
}

// IsCurrencyAllowed reports whether currency is configured for payouts.
func (c *PayoutConfig) IsCurrencyAllowed(currency string) bool {
	for _, cur := range c.AllowedCurrencies {
		if strings.EqualFold(cur, currency) {
			return true
		}
	}
	return false
}
