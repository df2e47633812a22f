package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"stock-tracker/models"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Price feed configuration
	AlphaVantage AlphaVantageConfig

	// Sync configuration
	Sync SyncConfig

	// Backtest configuration
	Backtest BacktestConfig

	// HTTP configuration
	HTTP HTTPConfig

	// Logging configuration
	Log LogConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver     string
	URL        string
	SQLitePath string
}

// AlphaVantageConfig holds Alpha Vantage API configuration
type AlphaVantageConfig struct {
	APIKey  string
	BaseURL string
}

// SyncConfig controls which symbols are synced and how
type SyncConfig struct {
	Symbols     []string
	Concurrency int
	Schedule    string // cron spec with seconds field
	MaxRetries  int
}

// BacktestConfig holds the default backtest range and depot
type BacktestConfig struct {
	StartDate time.Time // zero means from the first stored close
	EndDate   time.Time // zero means up to the last stored close
	StartCash decimal.Decimal
	Band      decimal.Decimal
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Addr               string
	CORSAllowedOrigins string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Format string // text or json
	Level  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnvString("DATABASE_DRIVER", DriverPostgres)),
			URL:        os.Getenv("DATABASE_URL"),
			SQLitePath: getEnvString("SQLITE_PATH", "stock-tracker.db"),
		},
		AlphaVantage: AlphaVantageConfig{
			APIKey:  os.Getenv("ALPHA_VANTAGE_API_KEY"),
			BaseURL: getEnvString("ALPHA_VANTAGE_BASE_URL", "https://www.alphavantage.co/query"),
		},
		Sync: SyncConfig{
			Symbols:     getEnvList("STOCK_SYMBOLS"),
			Concurrency: getEnvInt("SYNC_CONCURRENCY", 2),
			Schedule:    getEnvString("SYNC_SCHEDULE", "0 30 22 * * 1-5"),
			MaxRetries:  getEnvIntMin("SYNC_MAX_RETRIES", 3, 0),
		},
		HTTP: HTTPConfig{
			Addr:               getEnvString("HTTP_ADDR", ":8080"),
			CORSAllowedOrigins: getEnvString("CORS_ALLOWED_ORIGINS", "*"),
		},
		Log: LogConfig{
			Format: strings.ToLower(getEnvString("LOG_FORMAT", "text")),
			Level:  getEnvString("LOG_LEVEL", "info"),
		},
	}

	var err error
	if cfg.Backtest.StartDate, err = getEnvDate("BACKTEST_START_DATE"); err != nil {
		return nil, err
	}
	if cfg.Backtest.EndDate, err = getEnvDate("BACKTEST_END_DATE"); err != nil {
		return nil, err
	}
	if cfg.Backtest.StartCash, err = getEnvDecimal("BACKTEST_START_CASH", decimal.NewFromInt(10000)); err != nil {
		return nil, err
	}
	if cfg.Backtest.Band, err = getEnvDecimal("BACKTEST_BAND", decimal.NewFromInt(1)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be one of postgres, sqlite, memory, got %q", c.Database.Driver)
	}
	if c.Database.Driver == DriverSQLite && c.Database.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH must be set when DATABASE_DRIVER=sqlite")
	}

	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("SYNC_CONCURRENCY must be positive, got %d", c.Sync.Concurrency)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("SYNC_MAX_RETRIES must not be negative, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.NewParser(CronParseOptions).Parse(c.Sync.Schedule); err != nil {
			return fmt.Errorf("SYNC_SCHEDULE is not a valid cron spec: %w", err)
		}
	}

	if !c.Backtest.StartCash.IsPositive() {
		return fmt.Errorf("BACKTEST_START_CASH must be positive, got %s", c.Backtest.StartCash)
	}
	if !c.Backtest.Band.IsPositive() {
		return fmt.Errorf("BACKTEST_BAND must be positive, got %s", c.Backtest.Band)
	}
	if !c.Backtest.StartDate.IsZero() && !c.Backtest.EndDate.IsZero() && c.Backtest.EndDate.Before(c.Backtest.StartDate) {
		return fmt.Errorf("BACKTEST_END_DATE %s is before BACKTEST_START_DATE %s",
			models.FormatDate(c.Backtest.EndDate), models.FormatDate(c.Backtest.StartDate))
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// CronParseOptions is the cron dialect used for SYNC_SCHEDULE
const CronParseOptions = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// HasDatabase returns true if a Postgres connection string is available
func (c *Config) HasDatabase() bool {
	return c.Database.URL != ""
}

// HasAlphaVantage returns true if Alpha Vantage configuration is available
func (c *Config) HasAlphaVantage() bool {
	return c.AlphaVantage.APIKey != ""
}

// HasSchedule returns true if periodic syncing is enabled
func (c *Config) HasSchedule() bool {
	return c.Sync.Schedule != ""
}

// JSONLogs returns true if logs should be written as JSON
func (c *Config) JSONLogs() bool {
	return c.Log.Format == "json"
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvIntMin(key string, defaultValue, minVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed >= minVal {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value into trimmed, upper-cased symbols
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDate(key string) (time.Time, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return time.Time{}, nil
	}
	d, err := models.ParseDate(val)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a YYYY-MM-DD date: %w", key, err)
	}
	return d, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal number: %w", key, err)
	}
	return d, nil
}

// NewTestConfig creates a Config with default values for testing
func NewTestConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:     DriverMemory,
			SQLitePath: "stock-tracker.db",
		},
		AlphaVantage: AlphaVantageConfig{
			BaseURL: "https://www.alphavantage.co/query",
		},
		Sync: SyncConfig{
			Concurrency: 2,
			Schedule:    "0 30 22 * * 1-5",
			MaxRetries:  3,
		},
		Backtest: BacktestConfig{
			StartCash: decimal.NewFromInt(10000),
			Band:      decimal.NewFromInt(1),
		},
		HTTP: HTTPConfig{
			Addr:               ":8080",
			CORSAllowedOrigins: "*",
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}
