package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Port    int    `mapstructure:"port" validate:"min=1,max=65535"`
	LogMode string `mapstructure:"log_mode" validate:"oneof=development production dev prod"`

	DBDriver         string        `mapstructure:"db_driver" validate:"oneof=postgres sqlite"`
	SQLitePath       string        `mapstructure:"sqlite_path"`
	PostgresHost     string        `mapstructure:"postgres_host" validate:"required_if=DBDriver postgres"`
	PostgresPort     int           `mapstructure:"postgres_port" validate:"min=1,max=65535"`
	PostgresUser     string        `mapstructure:"postgres_user"`
	PostgresPassword string        `mapstructure:"postgres_password"`
	PostgresName     string        `mapstructure:"postgres_name" validate:"required_if=DBDriver postgres"`
	PostgresSSLMode  string        `mapstructure:"postgres_sslmode"`
	DBMaxOpenConns   int           `mapstructure:"db_max_open_conns" validate:"min=0"`
	DBMaxIdleConns   int           `mapstructure:"db_max_idle_conns" validate:"min=0"`
	DBConnMaxLife    time.Duration `mapstructure:"db_conn_max_lifetime"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"min=0"`

	AIProvider      string        `mapstructure:"ai_provider" validate:"oneof=openai gemini"`
	OpenAIAPIKey    string        `mapstructure:"openai_api_key" validate:"required_if=AIProvider openai"`
	OpenAIModel     string        `mapstructure:"openai_model"`
	OpenAIBaseURL   string        `mapstructure:"openai_base_url" validate:"omitempty,url"`
	GeminiAPIKey    string        `mapstructure:"gemini_api_key" validate:"required_if=AIProvider gemini"`
	GeminiModel     string        `mapstructure:"gemini_model"`
	AITemperature   float64       `mapstructure:"ai_temperature" validate:"min=0,max=2"`
	AIMaxTokens     int           `mapstructure:"ai_max_tokens" validate:"min=1"`
	AITimeout       time.Duration `mapstructure:"ai_timeout" validate:"min=1s"`
	AIMaxRetries    int           `mapstructure:"ai_max_retries" validate:"min=0,max=10"`
	AIRatePerSecond float64       `mapstructure:"ai_rate_per_second" validate:"min=0"`
	AIRateBurst     int           `mapstructure:"ai_rate_burst" validate:"min=0"`

	EnrichMaxAttempts int           `mapstructure:"enrich_max_attempts" validate:"min=1"`
	EnrichRetryDelay  time.Duration `mapstructure:"enrich_retry_delay" validate:"min=0"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency" validate:"min=1,max=64"`
	JobStaleRunning   time.Duration `mapstructure:"job_stale_running" validate:"min=1m"`

	SessionTTL    time.Duration `mapstructure:"session_ttl" validate:"min=1m"`
	ActivationTTL time.Duration `mapstructure:"activation_ttl" validate:"min=1m"`
	JWTSecretKey  string        `mapstructure:"jwt_secret_key" validate:"required,min=8"`
	FrontendURL   string        `mapstructure:"frontend_url" validate:"required,url"`

	SendGridAPIKey    string `mapstructure:"sendgrid_api_key"`
	SendGridFromEmail string `mapstructure:"sendgrid_from_email" validate:"omitempty,email"`
	SendGridFromName  string `mapstructure:"sendgrid_from_name"`

	Neo4jURI      string `mapstructure:"neo4j_uri"`
	Neo4jUser     string `mapstructure:"neo4j_user"`
	Neo4jPassword string `mapstructure:"neo4j_password"`
	Neo4jDatabase string `mapstructure:"neo4j_database"`

	MetricsEnabled  bool    `mapstructure:"metrics_enabled"`
	OtelEnabled     bool    `mapstructure:"otel_enabled"`
	OtelServiceName string  `mapstructure:"otel_service_name"`
	OtelEndpoint    string  `mapstructure:"otel_exporter_otlp_endpoint"`
	OtelHeaders     string  `mapstructure:"otel_exporter_otlp_headers"`
	OtelInsecure    bool    `mapstructure:"otel_exporter_otlp_insecure"`
	OtelSampleRatio float64 `mapstructure:"otel_sample_ratio" validate:"min=0,max=1"`
	Environment     string  `mapstructure:"environment"`
}

var defaults = map[string]any{
	"port":     8080,
	"log_mode": "development",

	"db_driver":            "postgres",
	"sqlite_path":          "kanda.db",
	"postgres_host":        "localhost",
	"postgres_port":        5432,
	"postgres_user":        "postgres",
	"postgres_password":    "",
	"postgres_name":        "kanda",
	"postgres_sslmode":     "disable",
	"db_max_open_conns":    20,
	"db_max_idle_conns":    5,
	"db_conn_max_lifetime": "30m",

	"redis_addr":     "",
	"redis_password": "",
	"redis_db":       0,

	"ai_provider":        "openai",
	"openai_api_key":     "",
	"openai_model":       "gpt-4o-mini",
	"openai_base_url":    "",
	"gemini_api_key":     "",
	"gemini_model":       "gemini-2.0-flash",
	"ai_temperature":     0.7,
	"ai_max_tokens":      2000,
	"ai_timeout":         "120s",
	"ai_max_retries":     2,
	"ai_rate_per_second": 2.0,
	"ai_rate_burst":      4,

	"enrich_max_attempts": 3,
	"enrich_retry_delay":  "300s",
	"worker_concurrency":  4,
	"job_stale_running":   "30m",

	"session_ttl":    "24h",
	"activation_ttl": "72h",
	"jwt_secret_key": "",
	"frontend_url":   "http://localhost:5173",

	"sendgrid_api_key":    "",
	"sendgrid_from_email": "no-reply@kanda.app",
	"sendgrid_from_name":  "Kanda",

	"neo4j_uri":      "",
	"neo4j_user":     "neo4j",
	"neo4j_password": "",
	"neo4j_database": "",

	"metrics_enabled":             true,
	"otel_enabled":                false,
	"otel_service_name":           "kanda-backend",
	"otel_exporter_otlp_endpoint": "",
	"otel_exporter_otlp_headers":  "",
	"otel_exporter_otlp_insecure": false,
	"otel_sample_ratio":           1.0,
	"environment":                 "development",
}

// LoadConfig reads defaults, then an optional config.yaml in the working
// directory, then environment variables (PORT, POSTGRES_HOST, ...).
func LoadConfig(configFile string) (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
