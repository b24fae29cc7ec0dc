package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fabfab/aiact-explorer/corpus"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	Store       StoreConfig     `yaml:"store"`
	PostgresDSN string          `yaml:"postgres_dsn"`
	Neo4jURI    string          `yaml:"neo4j_uri"`
	Neo4jUser   string          `yaml:"neo4j_user"`
	Neo4jPass   string          `yaml:"neo4j_password"`
	RedisURL    string          `yaml:"redis_url"`
	DataDir     string          `yaml:"data_dir"`
	Embeddings  EmbeddingConfig `yaml:"embeddings"`
	LLM         LLMConfig       `yaml:"llm"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
	Server      ServerConfig    `yaml:"server"`
	Log         LogConfig       `yaml:"log"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
}

type StoreConfig struct {
	Provider   string `yaml:"provider"`
	SQLitePath string `yaml:"sqlite_path"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// RetrievalConfig tunes the similarity search. The low default threshold
// favours recall: statutory defined terms often score modestly against a
// paraphrased question.
type RetrievalConfig struct {
	Threshold  float64 `yaml:"threshold"`
	MaxResults int     `yaml:"max_results"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Store:       StoreConfig{Provider: StorePostgres, SQLitePath: "./data/aiact.db"},
		PostgresDSN: "postgres://localhost:5432/aiact?sslmode=disable",
		Neo4jUser:   "neo4j",
		DataDir:     "./corpus",
		Embeddings: EmbeddingConfig{
			Provider:  ProviderOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
		LLM: LLMConfig{
			Provider:  ProviderOpenAI,
			Model:     "gpt-4o-mini",
			MaxTokens: 1500,
		},
		Retrieval: RetrievalConfig{
			Threshold:  corpus.DefaultThreshold,
			MaxResults: corpus.DefaultMaxResults,
		},
		Server: ServerConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// AIACT_CONFIG, a .env file in the working directory, and finally the process
// environment. Later sources win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("AIACT_CONFIG"); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var result *multierror.Error

	cfg.Store.Provider = getEnv("STORE_PROVIDER", cfg.Store.Provider)
	cfg.Store.SQLitePath = getEnv("SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.Neo4jURI = getEnv("NEO4J_URI", cfg.Neo4jURI)
	cfg.Neo4jUser = getEnv("NEO4J_USERNAME", cfg.Neo4jUser)
	cfg.Neo4jPass = getEnv("NEO4J_PASSWORD", cfg.Neo4jPass)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)

	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)

	cfg.Embeddings.Provider = getEnv("EMBEDDING_PROVIDER", cfg.Embeddings.Provider)
	cfg.Embeddings.Model = getEnv("EMBEDDING_MODEL", cfg.Embeddings.Model)
	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)

	if err := envInt("EMBEDDING_DIMENSION", &cfg.Embeddings.Dimension); err != nil {
		result = multierror.Append(result, err)
	}
	if err := envInt("LLM_MAX_TOKENS", &cfg.LLM.MaxTokens); err != nil {
		result = multierror.Append(result, err)
	}
	if err := envInt("RETRIEVAL_MAX_RESULTS", &cfg.Retrieval.MaxResults); err != nil {
		result = multierror.Append(result, err)
	}
	if err := envFloat("RETRIEVAL_THRESHOLD", &cfg.Retrieval.Threshold); err != nil {
		result = multierror.Append(result, err)
	}

	cfg.Server.Addr = getEnv("HTTP_ADDR", cfg.Server.Addr)
	if origins := getEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	return result.ErrorOrNil()
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var result *multierror.Error

	switch c.Store.Provider {
	case StorePostgres:
		if c.PostgresDSN == "" {
			result = multierror.Append(result, fmt.Errorf("POSTGRES_DSN is required for the postgres store"))
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			result = multierror.Append(result, fmt.Errorf("SQLITE_PATH is required for the sqlite store"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown store provider: %q", c.Store.Provider))
	}

	if err := validateProvider("embedding", c.Embeddings.Provider, c.OpenAIAPIKey); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateProvider("llm", c.LLM.Provider, c.OpenAIAPIKey); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Embeddings.Model == "" {
		result = multierror.Append(result, fmt.Errorf("embedding model is required"))
	}
	if c.LLM.Model == "" {
		result = multierror.Append(result, fmt.Errorf("llm model is required"))
	}
	if c.Embeddings.Dimension <= 0 {
		result = multierror.Append(result, fmt.Errorf("embedding dimension must be positive, got %d", c.Embeddings.Dimension))
	}
	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		result = multierror.Append(result, fmt.Errorf("retrieval threshold must be within [-1, 1], got %v", c.Retrieval.Threshold))
	}
	if c.Retrieval.MaxResults <= 0 || c.Retrieval.MaxResults > corpus.MaxResultsCeiling {
		result = multierror.Append(result, fmt.Errorf("retrieval max results must be within [1, %d], got %d", corpus.MaxResultsCeiling, c.Retrieval.MaxResults))
	}

	return result.ErrorOrNil()
}

func validateProvider(kind, provider, apiKey string) error {
	switch provider {
	case ProviderOllama:
		return nil
	case ProviderOpenAI:
		if apiKey == "" {
			return fmt.Errorf("%s provider openai selected but OPENAI_API_KEY not set", kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown %s provider: %q", kind, provider)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func envInt(key string, dst *int) error {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = v
	return nil
}

func envFloat(key string, dst *float64) error {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = v
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
