package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Integrity IntegrityConfig `mapstructure:"integrity"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configuration and model routing.
type LLMConfig struct {
	Provider            string        `mapstructure:"provider"`
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	ChatModel           string        `mapstructure:"chat_model"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	Temperature         float64       `mapstructure:"temperature"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if strings.TrimSpace(l.ChatModel) == "" {
		return fmt.Errorf("llm.chat_model is required")
	}
	if strings.TrimSpace(l.EmbeddingModel) == "" {
		return fmt.Errorf("llm.embedding_model is required")
	}
	if l.EmbeddingDimensions <= 0 {
		return fmt.Errorf("llm.embedding_dimensions must be > 0")
	}
	return nil
}

// ChunkingConfig controls how documents are split before embedding.
// Sizes are counted in whitespace-delimited tokens.
type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// Normalize applies defaults for unset chunking values.
func (c ChunkingConfig) Normalize() ChunkingConfig {
	if c.Size <= 0 {
		c.Size = 200
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	return c
}

func (c ChunkingConfig) Validate() error {
	if c.Overlap >= c.Size {
		return fmt.Errorf("chunking.overlap (%d) must be smaller than chunking.size (%d)", c.Overlap, c.Size)
	}
	return nil
}

// RetrievalConfig controls similarity search behaviour.
type RetrievalConfig struct {
	TopK           int     `mapstructure:"top_k"`
	ScoreThreshold float64 `mapstructure:"score_threshold"`
}

// Normalize applies defaults for unset retrieval values.
func (r RetrievalConfig) Normalize() RetrievalConfig {
	if r.TopK <= 0 {
		r.TopK = 5
	}
	if r.ScoreThreshold <= 0 {
		r.ScoreThreshold = 0.25
	}
	return r
}

// IngestionConfig controls the course-material ingestion pipeline.
type IngestionConfig struct {
	CorpusDir  string `mapstructure:"corpus_dir"`
	MarkerFile string `mapstructure:"marker_file"`
	Workers    int    `mapstructure:"workers"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// Normalize applies defaults for unset ingestion values.
func (i IngestionConfig) Normalize() IngestionConfig {
	if i.Workers <= 0 {
		i.Workers = 4
	}
	if i.BatchSize <= 0 {
		i.BatchSize = 32
	}
	if strings.TrimSpace(i.MarkerFile) == "" && i.CorpusDir != "" {
		i.MarkerFile = filepath.Join(i.CorpusDir, ".ingested")
	}
	return i
}

// AssistantConfig bounds a single chat turn.
type AssistantConfig struct {
	MaxToolIterations  int           `mapstructure:"max_tool_iterations"`
	TurnTimeout        time.Duration `mapstructure:"turn_timeout"`
	HistoryLimit       int           `mapstructure:"history_limit"`
	ContextTokenBudget int           `mapstructure:"context_token_budget"`
}

// Normalize applies defaults for unset assistant values.
func (a AssistantConfig) Normalize() AssistantConfig {
	if a.MaxToolIterations <= 0 {
		a.MaxToolIterations = 4
	}
	if a.TurnTimeout <= 0 {
		a.TurnTimeout = 60 * time.Second
	}
	if a.HistoryLimit <= 0 {
		a.HistoryLimit = 20
	}
	if a.ContextTokenBudget <= 0 {
		a.ContextTokenBudget = 3000
	}
	return a
}

// IntegrityConfig controls the academic-integrity validator.
type IntegrityConfig struct {
	RuleFile string `mapstructure:"rule_file"`
}

// ToolsConfig configures model-callable functions beyond retrieval.
type ToolsConfig struct {
	WebSearchAPIKey   string `mapstructure:"web_search_api_key"`
	WebSearchEndpoint string `mapstructure:"web_search_endpoint"`
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file, applying STUDIUM_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.chat_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.embedding_dimensions", 1536)
	viper.SetDefault("llm.timeout", "30s")
	viper.SetDefault("llm.max_retries", 3)
	viper.SetDefault("chunking.size", 200)
	viper.SetDefault("chunking.overlap", 20)
	viper.SetDefault("retrieval.top_k", 5)
	viper.SetDefault("retrieval.score_threshold", 0.25)
	viper.SetDefault("assistant.max_tool_iterations", 4)
	viper.SetDefault("assistant.turn_timeout", "60s")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("STUDIUM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Chunking = config.Chunking.Normalize()
	config.Retrieval = config.Retrieval.Normalize()
	config.Ingestion = config.Ingestion.Normalize()
	config.Assistant = config.Assistant.Normalize()

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Chunking.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &config
}
