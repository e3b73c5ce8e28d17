package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"receiptiq"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"receiptiq"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI           bool   `envconfig:"ENABLE_API" default:"true"`
	EnableIndexerWorker bool   `envconfig:"ENABLE_INDEXER_WORKER" default:"true"`
	MigrationPath       string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY"`

	// OCR engine lifecycle
	TesseractLang                 string  `envconfig:"TESSERACT_LANG" default:"eng"`
	EngineInitTimeoutSeconds      int     `envconfig:"ENGINE_INIT_TIMEOUT_SECONDS" default:"20"`
	EngineCooldownSeconds         int     `envconfig:"ENGINE_COOLDOWN_SECONDS" default:"30"`
	EngineIncompatCooldownSeconds int     `envconfig:"ENGINE_INCOMPATIBLE_COOLDOWN_SECONDS" default:"3600"`
	ExtractionMinConfidence       float32 `envconfig:"EXTRACTION_MIN_CONFIDENCE" default:"0.6"`

	// Chat
	GenerationTimeoutSeconds int     `envconfig:"GENERATION_TIMEOUT_SECONDS" default:"30"`
	MaxSessionTurns          int     `envconfig:"MAX_SESSION_TURNS" default:"20"`
	PromptCharBudget         int     `envconfig:"PROMPT_CHAR_BUDGET" default:"12000"`
	RetrievalTopK            int     `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	MinSimilarity            float32 `envconfig:"MIN_SIMILARITY" default:"0.3"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"20"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.MaxSessionTurns <= 0 {
		return fmt.Errorf("%w: MAX_SESSION_TURNS must be positive", ErrMissingRequired)
	}
	if c.PromptCharBudget <= 0 {
		return fmt.Errorf("%w: PROMPT_CHAR_BUDGET must be positive", ErrMissingRequired)
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("%w: RETRIEVAL_TOP_K must be positive", ErrMissingRequired)
	}
	return nil
}

func (c *Config) EngineInitTimeout() time.Duration {
	return time.Duration(c.EngineInitTimeoutSeconds) * time.Second
}

func (c *Config) EngineCooldown() time.Duration {
	return time.Duration(c.EngineCooldownSeconds) * time.Second
}

func (c *Config) EngineIncompatCooldown() time.Duration {
	return time.Duration(c.EngineIncompatCooldownSeconds) * time.Second
}

func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}
