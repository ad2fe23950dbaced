package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        string
	AdminAPIKey string

	OTel     OTelConfig
	Trello   TrelloConfig
	BigQuery BigQueryConfig
	LLM      LLMConfig
	Retry    RetryConfig
	Drain    DrainConfig
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type TrelloConfig struct {
	Key         string
	Token       string
	CallbackURL string
	BoardID     string
}

// BigQueryConfig binds the pipeline to one project/dataset and names every
// table the store touches. Table names are configurable so staging and
// production datasets can coexist.
type BigQueryConfig struct {
	ProjectID string
	DatasetID string

	EventsTable           string
	CardsMasterTable      string
	CardsCurrentTable     string
	LineItemsMasterTable  string
	LineItemsCurrentTable string
	PendingTable          string
}

type LLMConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// RetryConfig controls the inline retry discipline for merge/delete
// operations that can hit the streaming-buffer restriction.
type RetryConfig struct {
	MaxAttempts  int           // extra attempts after the first failure
	InitialDelay time.Duration // doubled after each attempt
}

type DrainConfig struct {
	Interval   time.Duration
	MaxItems   int
	MaxRetries int // queue retries before a pending operation goes terminal
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
)

// Load loads configuration from environment variables.
// In development it reads service-specific .env files (.env.server,
// .env.worker), falling back to .env.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("ORDERFLOW_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:         getEnv("ORDERFLOW_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "orderflow"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Trello: TrelloConfig{
			Key:         getEnv("TRELLO_KEY", ""),
			Token:       getEnv("TRELLO_TOKEN", ""),
			CallbackURL: getEnv("TRELLO_WEBHOOK_CALLBACK_URL", ""),
			BoardID:     getEnv("TRELLO_BOARD_ID", ""),
		},
		BigQuery: BigQueryConfig{
			ProjectID:             getEnv("BIGQUERY_PROJECT", ""),
			DatasetID:             getEnv("BIGQUERY_DATASET", "trello_orders"),
			EventsTable:           getEnv("BIGQUERY_EVENTS_TABLE", "trello_webhook_events"),
			CardsMasterTable:      getEnv("BIGQUERY_CARDS_MASTER_TABLE", "cards_master"),
			CardsCurrentTable:     getEnv("BIGQUERY_CARDS_CURRENT_TABLE", "cards_current"),
			LineItemsMasterTable:  getEnv("BIGQUERY_LINEITEMS_MASTER_TABLE", "lineitems_master"),
			LineItemsCurrentTable: getEnv("BIGQUERY_LINEITEMS_CURRENT_TABLE", "lineitems_current"),
			PendingTable:          getEnv("BIGQUERY_PENDING_TABLE", "pending_bigquery_updates"),
		},
		LLM: LLMConfig{
			APIKey:    getEnv("EXTRACTION_LLM_API_KEY", ""),
			BaseURL:   getEnv("EXTRACTION_LLM_BASE_URL", ""),
			Model:     getEnv("EXTRACTION_LLM_MODEL", "gpt-4o-mini"),
			MaxTokens: getEnvInt("EXTRACTION_LLM_MAX_TOKENS", 4096),
		},
		Retry: RetryConfig{
			MaxAttempts:  getEnvInt("STORE_RETRY_MAX_ATTEMPTS", 2),
			InitialDelay: getEnvDuration("STORE_RETRY_INITIAL_DELAY", 2*time.Second),
		},
		Drain: DrainConfig{
			Interval:   getEnvDuration("DRAIN_INTERVAL", 5*time.Minute),
			MaxItems:   getEnvInt("DRAIN_MAX_ITEMS", 50),
			MaxRetries: getEnvInt("DRAIN_MAX_RETRIES", 5),
		},
	}

	if cfg.BigQuery.ProjectID == "" {
		return Config{}, fmt.Errorf("BIGQUERY_PROJECT is required")
	}

	if cfg.Trello.Key == "" || cfg.Trello.Token == "" {
		return Config{}, fmt.Errorf("TRELLO_KEY and TRELLO_TOKEN are required")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
