package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Embedding provider names.
const (
	ProviderVoyage    = "voyage"
	ProviderClipLocal = "clip_local"
)

// Vector store backend names.
const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	App       App       `mapstructure:"app"`
	AI        AI        `mapstructure:"ai"`
	Embedding Embedding `mapstructure:"embedding"`
	Store     Store     `mapstructure:"store"`
	Search    Search    `mapstructure:"search"`
	Solver    Solver    `mapstructure:"solver"`
	Server    Server    `mapstructure:"server"`
}

// App holds general application configuration
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// AI holds the OpenAI configuration used by the vision extractor and the
// mission synthesizer.
type AI struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig holds OpenAI configuration
type OpenAIConfig struct {
	APIKey          string `mapstructure:"api_key"`
	VisionModel     string `mapstructure:"vision_model"`
	SynthesisModel  string `mapstructure:"synthesis_model"`
	MaxTokens       int    `mapstructure:"max_tokens"`
	SynthesisTokens int    `mapstructure:"synthesis_tokens"`
	Timeout         string `mapstructure:"timeout"`
}

// Embedding holds embedder provider configuration
type Embedding struct {
	Provider string       `mapstructure:"provider"` // voyage | clip_local
	Voyage   VoyageConfig `mapstructure:"voyage"`
	Clip     ClipConfig   `mapstructure:"clip"`
}

// VoyageConfig holds Voyage AI multimodal embedding configuration
type VoyageConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"` // 256, 512, 1024 or 2048
	BaseURL   string `mapstructure:"base_url"`
}

// ClipConfig holds the local CLIP sidecar configuration
type ClipConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Dimension int    `mapstructure:"dimension"`
}

// Store holds vector store configuration
type Store struct {
	Backend     string `mapstructure:"backend"` // supabase | postgres
	SupabaseURL string `mapstructure:"supabase_url"`
	SupabaseKey string `mapstructure:"supabase_key"`
	DatabaseURL string `mapstructure:"database_url"`
	Dimension   int    `mapstructure:"dimension"` // Embedding column dimension of the index
}

// Search holds retrieval defaults
type Search struct {
	DefaultTopK         int     `mapstructure:"default_top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"` // Advisory; not enforced as a cutoff
}

// Solver holds optimizer configuration
type Solver struct {
	TimeLimit string `mapstructure:"time_limit"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

var globalConfig *Config

// Load loads configuration from .env, environment variables and an optional
// config file. Precedence: defaults, then file, then env.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".manifest")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	globalConfig = &config
	return globalConfig, nil
}

// Get returns the loaded configuration, loading with defaults if needed.
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("configuration error: %v", err))
		}
		return cfg
	}
	return globalConfig
}

func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")

	viper.SetDefault("ai.openai.vision_model", "gpt-4o")
	viper.SetDefault("ai.openai.synthesis_model", "gpt-4o")
	viper.SetDefault("ai.openai.max_tokens", 800)
	viper.SetDefault("ai.openai.synthesis_tokens", 2000)
	viper.SetDefault("ai.openai.timeout", "60s")

	viper.SetDefault("embedding.provider", ProviderVoyage)
	viper.SetDefault("embedding.voyage.model", "voyage-multimodal-3")
	viper.SetDefault("embedding.voyage.dimension", 1024)
	viper.SetDefault("embedding.voyage.base_url", "https://api.voyageai.com/v1")
	viper.SetDefault("embedding.clip.endpoint", "http://localhost:8765")
	viper.SetDefault("embedding.clip.dimension", 512)

	viper.SetDefault("store.backend", BackendSupabase)
	viper.SetDefault("store.dimension", 0) // 0 = adopt the embedder's dimension

	viper.SetDefault("search.default_top_k", 15)
	viper.SetDefault("search.similarity_threshold", 0.25)

	viper.SetDefault("solver.time_limit", "5s")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 120*time.Second)
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.openai.api_key", []string{
		"OPENAI_API_KEY",
	})

	bindEnvKeys("embedding.voyage.api_key", []string{
		"VOYAGE_API_KEY",
	})

	bindEnvKeys("embedding.provider", []string{
		"EMBEDDING_PROVIDER",
	})

	bindEnvKeys("embedding.clip.endpoint", []string{
		"CLIP_ENDPOINT",
	})

	bindEnvKeys("store.supabase_url", []string{
		"SUPABASE_URL",
	})

	bindEnvKeys("store.supabase_key", []string{
		"SUPABASE_SERVICE_KEY",
		"SUPABASE_KEY",
	})

	bindEnvKeys("store.backend", []string{
		"VECTOR_BACKEND",
	})

	bindEnvKeys("store.database_url", []string{
		"DATABASE_URL",
		"POSTGRES_URL",
	})

	bindEnvKeys("search.default_top_k", []string{
		"DEFAULT_TOP_K",
	})

	bindEnvKeys("search.similarity_threshold", []string{
		"SIMILARITY_THRESHOLD",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"MANIFEST_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// EmbeddingDimension returns the vector dimension of the active provider.
func (c *Config) EmbeddingDimension() int {
	switch c.Embedding.Provider {
	case ProviderClipLocal:
		return c.Embedding.Clip.Dimension
	default:
		return c.Embedding.Voyage.Dimension
	}
}

// StoreDimension returns the configured index dimension, defaulting to the
// embedder's dimension when unset.
func (c *Config) StoreDimension() int {
	if c.Store.Dimension > 0 {
		return c.Store.Dimension
	}
	return c.EmbeddingDimension()
}

// SolverTimeLimit parses the solver time limit, falling back to 5s.
func (c *Config) SolverTimeLimit() time.Duration {
	d, err := time.ParseDuration(c.Solver.TimeLimit)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// validateConfig ensures required configuration is present. Failures here are
// fatal at startup.
func validateConfig(config *Config) error {
	var errors []string

	if config.AI.OpenAI.APIKey == "" {
		errors = append(errors, "OpenAI API key is required for context extraction and synthesis. Set OPENAI_API_KEY")
	}

	switch config.Embedding.Provider {
	case ProviderVoyage:
		if config.Embedding.Voyage.APIKey == "" {
			errors = append(errors, "Voyage API key is required for the voyage embedding provider. Set VOYAGE_API_KEY or switch EMBEDDING_PROVIDER to clip_local")
		}
		switch config.Embedding.Voyage.Dimension {
		case 256, 512, 1024, 2048:
		default:
			errors = append(errors, fmt.Sprintf("Unsupported voyage output dimension: %d. Supported: 256, 512, 1024, 2048", config.Embedding.Voyage.Dimension))
		}
	case ProviderClipLocal:
		if config.Embedding.Clip.Endpoint == "" {
			errors = append(errors, "CLIP endpoint is required for the clip_local embedding provider. Set CLIP_ENDPOINT")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown embedding provider: %s. Supported: voyage, clip_local", config.Embedding.Provider))
	}

	switch config.Store.Backend {
	case BackendSupabase:
		if config.Store.SupabaseURL == "" || config.Store.SupabaseKey == "" {
			errors = append(errors, "Supabase vector store requires both URL and service key. Set SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
	case BackendPostgres:
		if config.Store.DatabaseURL == "" {
			errors = append(errors, "Postgres vector store requires a connection string. Set DATABASE_URL")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown vector store backend: %s. Supported: supabase, postgres", config.Store.Backend))
	}

	if config.Store.Dimension > 0 && config.Store.Dimension != config.EmbeddingDimension() {
		errors = append(errors, fmt.Sprintf(
			"Embedding dimension mismatch: provider %s produces %d-dim vectors but the store index is %d-dim. Re-embed the catalog or fix store.dimension",
			config.Embedding.Provider, config.EmbeddingDimension(), config.Store.Dimension))
	}

	if config.AI.OpenAI.Timeout != "" {
		if _, err := time.ParseDuration(config.AI.OpenAI.Timeout); err != nil {
			errors = append(errors, fmt.Sprintf("invalid duration for ai.openai.timeout: %s", config.AI.OpenAI.Timeout))
		}
	}
	if config.Solver.TimeLimit != "" {
		if _, err := time.ParseDuration(config.Solver.TimeLimit); err != nil {
			errors = append(errors, fmt.Sprintf("invalid duration for solver.time_limit: %s", config.Solver.TimeLimit))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Convenience getters for commonly used configuration values
func GetOpenAIAPIKey() string      { return Get().AI.OpenAI.APIKey }
func GetEmbeddingProvider() string { return Get().Embedding.Provider }
func GetDefaultTopK() int          { return Get().Search.DefaultTopK }
func IsDebugMode() bool            { return Get().App.Debug }

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
