package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"billing/internal/core"
)

var validBackends = []string{"memory", "sqlite", "postgres"}

type Config struct {
	// HTTP Server
	Port string

	// Logging
	LogLevel  string
	LogFormat string

	// Backend selection
	DataBackend  string
	SnapshotPath string
	SQLiteDBPath string
	PostgresDSN  string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleCredentialsFile string
	GoogleCredentialsJSON string
	// OAuth user credentials, used instead of a service account when a
	// token file is set. cmd/oauth-init writes the token.
	GoogleOAuthClientFile string
	GoogleOAuthClientJSON string
	GoogleOAuthTokenFile  string

	// Export worker
	ExportBatchSize   int
	ExportInterval    time.Duration
	ExportMaxAttempts int

	// Invoicing
	DefaultTaxRate   decimal.Decimal
	PaymentTermsDays int
	Locale           string

	// HTTP protection
	RateLimitRequests int
	RateLimitWindow   time.Duration
	TrustedProxies    []string
}

// fileConfig mirrors Config for CONFIG_FILE. Zero values leave the default
// in place.
type fileConfig struct {
	Port      string `toml:"port" yaml:"port" json:"port"`
	LogLevel  string `toml:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat string `toml:"log_format" yaml:"log_format" json:"log_format"`

	DataBackend  string `toml:"data_backend" yaml:"data_backend" json:"data_backend"`
	SnapshotPath string `toml:"snapshot_path" yaml:"snapshot_path" json:"snapshot_path"`
	SQLiteDBPath string `toml:"sqlite_db_path" yaml:"sqlite_db_path" json:"sqlite_db_path"`
	PostgresDSN  string `toml:"database_url" yaml:"database_url" json:"database_url"`

	AMQPURL      string `toml:"amqp_url" yaml:"amqp_url" json:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange" yaml:"amqp_exchange" json:"amqp_exchange"`
	AMQPQueue    string `toml:"amqp_queue" yaml:"amqp_queue" json:"amqp_queue"`

	GoogleSpreadsheetID   string `toml:"google_spreadsheet_id" yaml:"google_spreadsheet_id" json:"google_spreadsheet_id"`
	GoogleSheetName       string `toml:"google_sheet_name" yaml:"google_sheet_name" json:"google_sheet_name"`
	GoogleCredentialsFile string `toml:"google_credentials_file" yaml:"google_credentials_file" json:"google_credentials_file"`
	GoogleOAuthClientFile string `toml:"google_oauth_client_file" yaml:"google_oauth_client_file" json:"google_oauth_client_file"`
	GoogleOAuthTokenFile  string `toml:"google_oauth_token_file" yaml:"google_oauth_token_file" json:"google_oauth_token_file"`

	ExportBatchSize   int    `toml:"export_batch_size" yaml:"export_batch_size" json:"export_batch_size"`
	ExportInterval    string `toml:"export_interval" yaml:"export_interval" json:"export_interval"`
	ExportMaxAttempts int    `toml:"export_max_attempts" yaml:"export_max_attempts" json:"export_max_attempts"`

	DefaultTaxRate   string `toml:"default_tax_rate" yaml:"default_tax_rate" json:"default_tax_rate"`
	PaymentTermsDays int    `toml:"payment_terms_days" yaml:"payment_terms_days" json:"payment_terms_days"`
	Locale           string `toml:"locale" yaml:"locale" json:"locale"`

	RateLimitRequests int      `toml:"rate_limit_requests" yaml:"rate_limit_requests" json:"rate_limit_requests"`
	RateLimitWindow   string   `toml:"rate_limit_window" yaml:"rate_limit_window" json:"rate_limit_window"`
	TrustedProxies    []string `toml:"trusted_proxies" yaml:"trusted_proxies" json:"trusted_proxies"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:      "8081",
		LogLevel:  "info",
		LogFormat: "text",

		DataBackend:  "memory",
		SQLiteDBPath: "./data/billing.db",

		AMQPExchange: "billing",
		AMQPQueue:    "invoice_exports",

		GoogleSheetName: "Invoices",

		ExportBatchSize:   10,
		ExportInterval:    30 * time.Second,
		ExportMaxAttempts: 5,

		DefaultTaxRate:   decimal.Zero,
		PaymentTermsDays: 30,
		Locale:           "en",

		RateLimitRequests: 120,
		RateLimitWindow:   time.Minute,
	}
}

// Load builds the configuration from defaults, then the file named by
// CONFIG_FILE (TOML, YAML or JSON), then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("error parsing TOML file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("error parsing YAML file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("error parsing JSON file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	setString(&c.Port, fc.Port)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	setString(&c.DataBackend, fc.DataBackend)
	setString(&c.SnapshotPath, fc.SnapshotPath)
	setString(&c.SQLiteDBPath, fc.SQLiteDBPath)
	setString(&c.PostgresDSN, fc.PostgresDSN)
	setString(&c.AMQPURL, fc.AMQPURL)
	setString(&c.AMQPExchange, fc.AMQPExchange)
	setString(&c.AMQPQueue, fc.AMQPQueue)
	setString(&c.GoogleSpreadsheetID, fc.GoogleSpreadsheetID)
	setString(&c.GoogleSheetName, fc.GoogleSheetName)
	setString(&c.GoogleCredentialsFile, fc.GoogleCredentialsFile)
	setString(&c.GoogleOAuthClientFile, fc.GoogleOAuthClientFile)
	setString(&c.GoogleOAuthTokenFile, fc.GoogleOAuthTokenFile)
	setString(&c.Locale, fc.Locale)
	setInt(&c.ExportBatchSize, fc.ExportBatchSize)
	setInt(&c.ExportMaxAttempts, fc.ExportMaxAttempts)
	setInt(&c.PaymentTermsDays, fc.PaymentTermsDays)
	setInt(&c.RateLimitRequests, fc.RateLimitRequests)
	if len(fc.TrustedProxies) > 0 {
		c.TrustedProxies = fc.TrustedProxies
	}

	if err := setDuration(&c.ExportInterval, "export_interval", fc.ExportInterval); err != nil {
		return err
	}
	if err := setDuration(&c.RateLimitWindow, "rate_limit_window", fc.RateLimitWindow); err != nil {
		return err
	}
	return setDecimal(&c.DefaultTaxRate, "default_tax_rate", fc.DefaultTaxRate)
}

func (c *Config) applyEnv() error {
	setString(&c.Port, os.Getenv("PORT"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&c.LogFormat, os.Getenv("LOG_FORMAT"))
	setString(&c.DataBackend, os.Getenv("DATA_BACKEND"))
	setString(&c.SnapshotPath, os.Getenv("SNAPSHOT_PATH"))
	setString(&c.SQLiteDBPath, os.Getenv("SQLITE_DB_PATH"))
	setString(&c.PostgresDSN, os.Getenv("DATABASE_URL"))
	setString(&c.AMQPURL, os.Getenv("AMQP_URL"))
	setString(&c.AMQPExchange, os.Getenv("AMQP_EXCHANGE"))
	setString(&c.AMQPQueue, os.Getenv("AMQP_QUEUE"))
	setString(&c.GoogleSpreadsheetID, os.Getenv("GOOGLE_SPREADSHEET_ID"))
	setString(&c.GoogleSheetName, os.Getenv("GOOGLE_SHEET_NAME"))
	setString(&c.GoogleCredentialsFile, os.Getenv("GOOGLE_CREDENTIALS_FILE"))
	setString(&c.GoogleCredentialsJSON, os.Getenv("GOOGLE_CREDENTIALS_JSON"))
	setString(&c.GoogleOAuthClientFile, os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"))
	setString(&c.GoogleOAuthClientJSON, os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"))
	setString(&c.GoogleOAuthTokenFile, os.Getenv("GOOGLE_OAUTH_TOKEN_FILE"))
	setString(&c.Locale, os.Getenv("LOCALE"))
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		c.TrustedProxies = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"EXPORT_BATCH_SIZE", &c.ExportBatchSize},
		{"EXPORT_MAX_ATTEMPTS", &c.ExportMaxAttempts},
		{"PAYMENT_TERMS_DAYS", &c.PaymentTermsDays},
		{"RATE_LIMIT_REQUESTS", &c.RateLimitRequests},
	}
	for _, v := range ints {
		raw := os.Getenv(v.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': must be a number", v.key, raw)
		}
		*v.dst = n
	}

	if err := setDuration(&c.ExportInterval, "EXPORT_INTERVAL", os.Getenv("EXPORT_INTERVAL")); err != nil {
		return err
	}
	if err := setDuration(&c.RateLimitWindow, "RATE_LIMIT_WINDOW", os.Getenv("RATE_LIMIT_WINDOW")); err != nil {
		return err
	}
	return setDecimal(&c.DefaultTaxRate, "DEFAULT_TAX_RATE", os.Getenv("DEFAULT_TAX_RATE"))
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		}
	case "memory":
		if c.SnapshotPath != "" {
			if _, err := os.Stat(c.SnapshotPath); err != nil {
				errors = append(errors, fmt.Sprintf("snapshot file is not readable: %s", c.SnapshotPath))
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.ExportBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid export batch size %d: must be at least 1", c.ExportBatchSize))
	} else if c.ExportBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid export batch size %d: must be at most 1000", c.ExportBatchSize))
	}
	if c.ExportInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid export interval %v: must be at least 1 second", c.ExportInterval))
	} else if c.ExportInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid export interval %v: must be at most 24 hours", c.ExportInterval))
	}
	if c.ExportMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid export max attempts %d: must be at least 1", c.ExportMaxAttempts))
	}

	if c.DefaultTaxRate.IsNegative() || c.DefaultTaxRate.GreaterThan(decimal.NewFromInt(100)) {
		errors = append(errors, fmt.Sprintf("invalid default tax rate %s: must be between 0 and 100", c.DefaultTaxRate))
	}
	if c.PaymentTermsDays < 0 {
		errors = append(errors, fmt.Sprintf("invalid payment terms %d: must not be negative", c.PaymentTermsDays))
	}

	if c.RateLimitRequests < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitRequests))
	}
	if c.RateLimitWindow < time.Second {
		errors = append(errors, fmt.Sprintf("invalid rate limit window %v: must be at least 1 second", c.RateLimitWindow))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ExportEnabled reports whether a Google Sheets destination is configured.
func (c *Config) ExportEnabled() bool {
	if c.GoogleSpreadsheetID == "" {
		return false
	}
	if c.GoogleCredentialsFile != "" || c.GoogleCredentialsJSON != "" {
		return true
	}
	return c.GoogleOAuthTokenFile != "" && (c.GoogleOAuthClientFile != "" || c.GoogleOAuthClientJSON != "")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", key, raw, err)
	}
	*dst = d
	return nil
}

func setDecimal(dst *decimal.Decimal, key, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := core.ParseAmount(raw)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", key, raw, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
