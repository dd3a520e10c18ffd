package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	LLM         ProviderConfig    `yaml:"llm"`
	Embedding   ProviderConfig    `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Search      SearchConfig      `yaml:"search"`
}

type AppConfig struct {
	Port               string `yaml:"port" validate:"required"`
	Environment        string `yaml:"environment"`
	LogFilePath        string `yaml:"log_file_path"`
	CorsAllowedOrigins string `yaml:"cors_allowed_origins"`
	NatsURL            string `yaml:"nats_url"`
	RedisURL           string `yaml:"redis_url"`
	JWTSecret          string `yaml:"jwt_secret"`
	// AnswerCacheTTL of zero disables the redis answer cache.
	AnswerCacheTTL time.Duration `yaml:"answer_cache_ttl"`
}

type DatabaseConfig struct {
	Connection string `yaml:"connection"`
}

// ProviderConfig selects one backend of a closed set.
type ProviderConfig struct {
	Provider string `yaml:"provider" validate:"required"`
	Model    string `yaml:"model" validate:"required"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

type VectorStoreConfig struct {
	Provider          string            `yaml:"provider" validate:"required,oneof=pgvector qdrant memory"`
	Endpoint          string            `yaml:"endpoint" validate:"required_if=Provider qdrant"`
	APIKey            string            `yaml:"api_key"`
	DefaultCollection string            `yaml:"default_collection"`
	Descriptions      map[string]string `yaml:"descriptions"`
}

// SearchConfig holds the loop defaults and per-call timeouts.
type SearchConfig struct {
	MaxRounds        int      `yaml:"max_rounds" validate:"min=1,max=20"`
	TokenBudget      int      `yaml:"token_budget" validate:"min=0"`
	TopK             int      `yaml:"top_k" validate:"min=1,max=100"`
	FanOut           int      `yaml:"fan_out" validate:"min=1,max=16"`
	MinScore         float64  `yaml:"min_score" validate:"min=0,max=1"` // 0 keeps every hit
	Concurrency      int      `yaml:"concurrency" validate:"min=1,max=64"`
	MinNewChunks     int      `yaml:"min_new_chunks" validate:"min=0"`
	MinScoreGain     float64  `yaml:"min_score_gain" validate:"min=0"`
	RouteCollections bool     `yaml:"route_collections"`
	// Rerank has the model accept or reject every new chunk before it is merged.
	Rerank           bool     `yaml:"rerank"`
	MaxChunkChars    int      `yaml:"max_chunk_chars" validate:"min=0"`
	SynthesisChunks  int      `yaml:"synthesis_chunks" validate:"min=0"`
	ReflectionChunks int      `yaml:"reflection_chunks" validate:"min=0"`
	Timeouts         Timeouts `yaml:"timeouts"`
}

type Timeouts struct {
	Embed      time.Duration `yaml:"embed" validate:"gt=0"`
	Search     time.Duration `yaml:"search" validate:"gt=0"`
	Plan       time.Duration `yaml:"plan" validate:"gt=0"`
	Reflect    time.Duration `yaml:"reflect" validate:"gt=0"`
	Synthesize time.Duration `yaml:"synthesize" validate:"gt=0"`
}

var (
	llmProviders       = []string{"ollama", "huggingface", "openai"}
	embeddingProviders = []string{"ollama", "gemini", "jina", "openai"}
)

// Default returns the configuration used when neither a file nor the
// environment sets a value.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Port:               "3000",
			Environment:        "development",
			LogFilePath:        "deepsearch.log",
			CorsAllowedOrigins: "http://localhost:5173",
			NatsURL:            "nats://localhost:4222",
			RedisURL:           "redis://localhost:6379",
			AnswerCacheTTL:     10 * time.Minute,
		},
		LLM: ProviderConfig{
			Provider: "ollama",
			Model:    "qwen2.5",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: ProviderConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		VectorStore: VectorStoreConfig{
			Provider: "pgvector",
		},
		Search: SearchConfig{
			MaxRounds:        3,
			TopK:             5,
			FanOut:           4,
			Concurrency:      8,
			MinNewChunks:     1,
			RouteCollections: true,
			MaxChunkChars:    1500,
			SynthesisChunks:  20,
			ReflectionChunks: 30,
			Timeouts: Timeouts{
				Embed:      15 * time.Second,
				Search:     15 * time.Second,
				Plan:       60 * time.Second,
				Reflect:    60 * time.Second,
				Synthesize: 120 * time.Second,
			},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by DEEPSEARCH_CONFIG and the environment, in that order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	cfg := Default()
	if path := os.Getenv("DEEPSEARCH_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.App.Port = getEnv("APP_PORT", c.App.Port)
	c.App.Environment = getEnv("GO_ENV", c.App.Environment)
	c.App.LogFilePath = getEnv("LOG_FILE_PATH", c.App.LogFilePath)
	c.App.CorsAllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", c.App.CorsAllowedOrigins)
	c.App.NatsURL = getEnv("NATS_URL", c.App.NatsURL)
	c.App.RedisURL = getEnv("REDIS_URL", c.App.RedisURL)
	c.App.JWTSecret = getEnv("JWT_SECRET", c.App.JWTSecret)
	c.App.AnswerCacheTTL = getEnvAsDuration("ANSWER_CACHE_TTL", c.App.AnswerCacheTTL)

	c.Database.Connection = getEnv("DB_CONNECTION_STRING", c.Database.Connection)

	c.LLM.Provider = getEnv("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)

	c.Embedding.Provider = getEnv("EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = getEnv("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", c.Embedding.APIKey)

	c.VectorStore.Provider = getEnv("VECTOR_STORE_PROVIDER", c.VectorStore.Provider)
	c.VectorStore.Endpoint = getEnv("VECTOR_STORE_ENDPOINT", c.VectorStore.Endpoint)
	c.VectorStore.APIKey = getEnv("VECTOR_STORE_API_KEY", c.VectorStore.APIKey)
	c.VectorStore.DefaultCollection = getEnv("DEFAULT_COLLECTION", c.VectorStore.DefaultCollection)

	c.Search.MaxRounds = getEnvAsInt("SEARCH_MAX_ROUNDS", c.Search.MaxRounds)
	c.Search.TokenBudget = getEnvAsInt("SEARCH_TOKEN_BUDGET", c.Search.TokenBudget)
	c.Search.TopK = getEnvAsInt("SEARCH_TOP_K", c.Search.TopK)
	c.Search.FanOut = getEnvAsInt("SEARCH_FAN_OUT", c.Search.FanOut)
	c.Search.Concurrency = getEnvAsInt("SEARCH_CONCURRENCY", c.Search.Concurrency)
	c.Search.RouteCollections = getEnvAsBool("SEARCH_ROUTE_COLLECTIONS", c.Search.RouteCollections)
	c.Search.Rerank = getEnvAsBool("SEARCH_RERANK", c.Search.Rerank)
}

// Validate checks struct constraints and the provider enumerations.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !contains(llmProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid configuration: llm provider %q must be one of %s", c.LLM.Provider, strings.Join(llmProviders, ", "))
	}
	if !contains(embeddingProviders, c.Embedding.Provider) {
		return fmt.Errorf("invalid configuration: embedding provider %q must be one of %s", c.Embedding.Provider, strings.Join(embeddingProviders, ", "))
	}
	if c.VectorStore.Provider == "pgvector" && c.Database.Connection == "" {
		return fmt.Errorf("invalid configuration: pgvector store requires DB_CONNECTION_STRING")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
