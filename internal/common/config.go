package common

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	LLM      LLMConfig
	Catalog  CatalogConfig
	Chat     ChatConfig
	Queue    QueueConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Log      LogConfig
	Storage  StorageConfig
	Trace    TraceConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // postgres | sqlite
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	AutoMigrate      bool
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Provider    string // mock | openai
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
	// Locale is the language of extracted cards and generated names.
	Locale string
}

// CatalogConfig holds the ERP catalog connection.
type CatalogConfig struct {
	Provider string // mock | http
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Seed     bool
}

// ChatConfig selects the conversational backend.
type ChatConfig struct {
	Backend      string // mock | openai | webhook
	WebhookURL   string
	Timeout      time.Duration
	DefaultModel string
	SystemPrompt string
	// DraftWait holds the draft widget back until extraction finishes, up to this long.
	DraftWait time.Duration
}

// QueueConfig tunes the extraction worker pool.
type QueueConfig struct {
	Workers        int
	Size           int
	ProcessTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// RedisConfig enables lifecycle event publishing when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// AuthConfig enables bearer auth on the API when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string
}

type LogConfig struct {
	Level  string
	Format string // text | json
}

type StorageConfig struct {
	ArtifactDir string
	// InboxDir, when set, is watched for product files to ingest.
	InboxDir      string
	InboxDebounce time.Duration
}

// TraceConfig enables OpenTelemetry tracing. Spans go to the OTLP endpoint when
// one is set, otherwise to the log output.
type TraceConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// LoadConfig loads configuration from environment variables and an optional
// config file named by DRAFTS_CONFIG.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("DRAFTS_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewAppError(CodeConfig, "read config file", err)
		}
	}
	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_URL", "file:drafts.db?_pragma=busy_timeout(5000)")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	v.SetDefault("DB_MAX_CONN_IDLE_TIME", 5*time.Minute)
	v.SetDefault("DB_DIAL_TIMEOUT", 3*time.Second)
	v.SetDefault("DB_STATEMENT_TIMEOUT", time.Duration(0))
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", 15*time.Second)
	v.SetDefault("CORS_ORIGINS", "*")

	v.SetDefault("PROVIDER", "mock")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("OPENAI_TEMPERATURE", 0.0)
	v.SetDefault("OPENAI_TIMEOUT", 45*time.Second)
	v.SetDefault("LOCALE", "en")

	v.SetDefault("CATALOG_PROVIDER", "mock")
	v.SetDefault("ERP_TIMEOUT", 30*time.Second)
	v.SetDefault("CATALOG_SEED", true)

	v.SetDefault("CHAT_BACKEND", "mock")
	v.SetDefault("CHAT_TIMEOUT", 300*time.Second)
	v.SetDefault("CHAT_DEFAULT_MODEL", "fastapi")
	v.SetDefault("CHAT_DRAFT_WAIT", time.Duration(0))

	v.SetDefault("WORKERS", 4)
	v.SetDefault("QUEUE_SIZE", 256)
	v.SetDefault("PROCESS_TIMEOUT", 3*time.Minute)
	v.SetDefault("MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BACKOFF", 2*time.Second)

	v.SetDefault("REDIS_CHANNEL", "drafts.events")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("ARTIFACT_DIR", "./tmp")
	v.SetDefault("INBOX_DEBOUNCE", 500*time.Millisecond)

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "catalog-drafts")
	v.SetDefault("OTEL_SAMPLER_RATIO", 1.0)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(v.GetString("DB_DRIVER")),
			DSN:              v.GetString("DB_URL"),
			MaxConns:         v.GetInt32("DB_MAX_CONNS"),
			MinConns:         v.GetInt32("DB_MIN_CONNS"),
			MaxConnLifetime:  v.GetDuration("DB_MAX_CONN_LIFETIME"),
			MaxConnIdleTime:  v.GetDuration("DB_MAX_CONN_IDLE_TIME"),
			DialTimeout:      v.GetDuration("DB_DIAL_TIMEOUT"),
			StatementTimeout: v.GetDuration("DB_STATEMENT_TIMEOUT"),
			AutoMigrate:      v.GetBool("DB_AUTO_MIGRATE"),
		},
		Server: ServerConfig{
			HTTPAddr:        v.GetString("HTTP_ADDR"),
			GRPCAddr:        v.GetString("GRPC_ADDR"),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
			CORSOrigins:     splitList(v.GetString("CORS_ORIGINS")),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(v.GetString("PROVIDER")),
			Model:       v.GetString("OPENAI_MODEL"),
			APIKey:      v.GetString("OPENAI_API_KEY"),
			BaseURL:     v.GetString("OPENAI_BASE_URL"),
			Temperature: float32(v.GetFloat64("OPENAI_TEMPERATURE")),
			Timeout:     v.GetDuration("OPENAI_TIMEOUT"),
			Locale:      v.GetString("LOCALE"),
		},
		Catalog: CatalogConfig{
			Provider: strings.ToLower(v.GetString("CATALOG_PROVIDER")),
			BaseURL:  v.GetString("ERP_BASE_URL"),
			APIKey:   v.GetString("ERP_API_KEY"),
			Timeout:  v.GetDuration("ERP_TIMEOUT"),
			Seed:     v.GetBool("CATALOG_SEED"),
		},
		Chat: ChatConfig{
			Backend:      strings.ToLower(v.GetString("CHAT_BACKEND")),
			WebhookURL:   v.GetString("CHAT_WEBHOOK_URL"),
			Timeout:      v.GetDuration("CHAT_TIMEOUT"),
			DefaultModel: v.GetString("CHAT_DEFAULT_MODEL"),
			SystemPrompt: v.GetString("CHAT_SYSTEM_PROMPT"),
			DraftWait:    v.GetDuration("CHAT_DRAFT_WAIT"),
		},
		Queue: QueueConfig{
			Workers:        v.GetInt("WORKERS"),
			Size:           v.GetInt("QUEUE_SIZE"),
			ProcessTimeout: v.GetDuration("PROCESS_TIMEOUT"),
			MaxAttempts:    v.GetInt("MAX_ATTEMPTS"),
			RetryBackoff:   v.GetDuration("RETRY_BACKOFF"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Channel:  v.GetString("REDIS_CHANNEL"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("LOG_LEVEL")),
			Format: strings.ToLower(v.GetString("LOG_FORMAT")),
		},
		Storage: StorageConfig{
			ArtifactDir:   v.GetString("ARTIFACT_DIR"),
			InboxDir:      v.GetString("INBOX_DIR"),
			InboxDebounce: v.GetDuration("INBOX_DEBOUNCE"),
		},
		Trace: TraceConfig{
			Enabled:     v.GetBool("OTEL_ENABLED"),
			ServiceName: v.GetString("OTEL_SERVICE_NAME"),
			Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:    v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
			SampleRatio: v.GetFloat64("OTEL_SAMPLER_RATIO"),
		},
	}
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

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("DB_URL", c.Database.DSN, Required)
	v.Field("DB_DRIVER", c.Database.Driver, OneOf("postgres", "sqlite"))
	v.Field("HTTP_ADDR", c.Server.HTTPAddr, Required)
	v.Field("GRPC_ADDR", c.Server.GRPCAddr, Required)
	v.Field("PROVIDER", c.LLM.Provider, OneOf("mock", "openai"))
	v.Field("CATALOG_PROVIDER", c.Catalog.Provider, OneOf("mock", "http"))
	v.Field("CHAT_BACKEND", c.Chat.Backend, OneOf("mock", "openai", "webhook"))
	v.Field("LOG_FORMAT", c.Log.Format, OneOf("text", "json"))

	if c.LLM.Provider == "openai" || c.Chat.Backend == "openai" {
		v.Field("OPENAI_API_KEY", c.LLM.APIKey, Required)
	}
	if c.Catalog.Provider == "http" {
		v.Field("ERP_BASE_URL", c.Catalog.BaseURL, Required, URL)
	}
	if c.Chat.Backend == "webhook" {
		v.Field("CHAT_WEBHOOK_URL", c.Chat.WebhookURL, Required, URL)
	}
	if v.HasErrors() {
		return NewAppError(CodeConfig, v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}
