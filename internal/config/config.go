package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string
	MaxFileSize int64

	// PublicBaseURL is where the widget script is served from, used in embed codes.
	PublicBaseURL string

	// Secrets
	JWTSecret    string
	APIKeySecret string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	RateLimitReqs   int
	RateLimitWindow int

	// Conversation sessions
	SessionBackend  string // "memory" (default), "redis"
	SessionMaxTurns int
	SessionIdleTTL  time.Duration

	// Chunking and retrieval
	ChunkSize    int
	ChunkOverlap int
	RetrievalK   int

	// Embeddings configuration
	EmbeddingsProvider    string // "google" (default), "openai", "local"
	GoogleEmbeddingsModel string
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIEmbeddingsModel string
	VectorDimensions      int
	EmbeddingCacheTTL     time.Duration

	// Generation configuration
	GenerationProvider  string // "gemini" (default), "openai", "ollama"
	GeminiAPIKey        string
	GeminiModel         string
	GeminiTier          string
	OpenAIChatModel     string
	OllamaBaseURL       string
	OllamaModel         string
	ContextWindowTokens int
	MaxOutputTokens     int
	MaxResponseChars    int
	Temperature         float64

	// Timeouts
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
	BuildTimeout    time.Duration
	ScrapeTimeout   time.Duration

	// Scraping
	ScrapeMaxChars int
	ScrapeMaxPages int
	ScrapeRenderJS bool

	// Background work
	WorkerConcurrency int
	RefreshInterval   time.Duration

	// Telemetry
	TelemetryEnabled bool
	OTLPEndpoint     string
	TraceSampleRatio float64
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017/rag_chatbot"),
		DBName:        getEnv("DB_NAME", "rag_chatbot"),
		Port:          getEnv("PORT", "8080"),
		GinMode:       getEnv("GIN_MODE", "debug"),
		CORSOrigins:   strings.Split(getEnv("CORS_ORIGINS", "*"), ","),
		MaxFileSize:   getEnvInt64("MAX_FILE_SIZE", 20<<20),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		APIKeySecret: getEnv("API_KEY_SECRET", ""),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		SessionBackend:  getEnv("SESSION_BACKEND", "memory"),
		SessionMaxTurns: getEnvInt("SESSION_MAX_TURNS", 10),
		SessionIdleTTL:  getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 500),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 50),
		RetrievalK:   getEnvInt("RETRIEVAL_K", 4),

		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "google"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		OpenAIEmbeddingsModel: getEnv("OPENAI_EMBEDDINGS_MODEL", "text-embedding-3-small"),
		VectorDimensions:      getEnvInt("VECTOR_DIM", 768),
		EmbeddingCacheTTL:     getEnvDuration("EMBEDDING_CACHE_TTL", 24*time.Hour),

		GenerationProvider:  getEnv("GENERATION_PROVIDER", "gemini"),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTier:          getEnv("GEMINI_TIER", "free"),
		OpenAIChatModel:     getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OllamaBaseURL:       getEnv("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
		OllamaModel:         getEnv("OLLAMA_MODEL", "llama3.2:1b"),
		ContextWindowTokens: getEnvInt("CONTEXT_WINDOW_TOKENS", 8192),
		MaxOutputTokens:     getEnvInt("MAX_OUTPUT_TOKENS", 512),
		MaxResponseChars:    getEnvInt("MAX_RESPONSE_CHARS", 500),
		Temperature:         getEnvFloat64("TEMPERATURE", 0.7),

		EmbedTimeout:    getEnvDuration("EMBED_TIMEOUT", 30*time.Second),
		GenerateTimeout: getEnvDuration("GENERATE_TIMEOUT", 60*time.Second),
		BuildTimeout:    getEnvDuration("BUILD_TIMEOUT", 2*time.Minute),
		ScrapeTimeout:   getEnvDuration("SCRAPE_TIMEOUT", 30*time.Second),

		ScrapeMaxChars: getEnvInt("SCRAPE_MAX_CHARS", 5000),
		ScrapeMaxPages: getEnvInt("SCRAPE_MAX_PAGES", 1),
		ScrapeRenderJS: getEnvBool("SCRAPE_RENDER_JS", false),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),
		RefreshInterval:   getEnvDuration("REFRESH_INTERVAL", 0),

		TelemetryEnabled: getEnvBool("OTEL_ENABLED", false),
		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TraceSampleRatio: getEnvFloat64("OTEL_TRACE_SAMPLE_RATIO", 0.1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and provider-specific credentials.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required - set it in .env file")
	}
	if c.APIKeySecret == "" {
		return fmt.Errorf("API_KEY_SECRET is required - set it in .env file")
	}

	switch c.GenerationProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when GENERATION_PROVIDER=gemini")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when GENERATION_PROVIDER=openai")
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown GENERATION_PROVIDER %q", c.GenerationProvider)
	}

	switch c.EmbeddingsProvider {
	case "google":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when EMBEDDINGS_PROVIDER=google")
		}
	case "openai":
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL is required when EMBEDDINGS_PROVIDER=openai")
		}
	case "local":
	default:
		return fmt.Errorf("unknown EMBEDDINGS_PROVIDER %q", c.EmbeddingsProvider)
	}

	if c.SessionBackend != "memory" && c.SessionBackend != "redis" {
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.VectorDimensions <= 0 {
		return fmt.Errorf("VECTOR_DIM must be positive")
	}
	if c.ContextWindowTokens > 0 && c.MaxOutputTokens >= c.ContextWindowTokens {
		return fmt.Errorf("MAX_OUTPUT_TOKENS must be smaller than CONTEXT_WINDOW_TOKENS")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
