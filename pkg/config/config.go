// Package config loads runtime configuration from the environment.
//
// All knobs follow twelve-factor style environment variables with a .env
// file picked up for local development. Sections carry SetDefaults and
// Validate so callers always see a complete, sane configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	Memory   MemoryConfig
	Database DatabaseConfig
	Vector   VectorConfig
	Embedder EmbedderConfig
	LLM      LLMConfig
	Server   ServerConfig
}

// MemoryConfig controls the hierarchical memory and the heartbeat policies.
type MemoryConfig struct {
	// CtxWindow is the model context window in tokens.
	CtxWindow int

	// WarnFrac and FlushFrac are occupancy fractions of CtxWindow at which
	// the loop emits a persistence warning / runs the recursive summarizer.
	WarnFrac  float64
	FlushFrac float64

	// FlushTgtFrac is the occupancy the flush tries to compress down to.
	FlushTgtFrac float64

	// FIFOMin is the eviction floor: a flush never shrinks the FIFO queue
	// below this length just to evict a user turn.
	FIFOMin int

	// OverthinkN is the number of consecutive heartbeats without user
	// interaction before the model is asked to re-evaluate.
	OverthinkN int

	// ChunkMaxTokens caps archival chunk size.
	ChunkMaxTokens int

	// PersonaMaxWords caps persona length in words.
	PersonaMaxWords int

	// PageSize is the result page size for recall/archival searches;
	// ChatLogPageSize the same for the chat log.
	PageSize        int
	ChatLogPageSize int

	// HeartbeatIntervalMin is the offline heartbeat period in minutes.
	HeartbeatIntervalMin int

	// TokenizerModel selects the tiktoken encoding used for occupancy.
	TokenizerModel string
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// Driver is one of postgres, sqlite, mysql.
	Driver string

	Host     string
	Port     int
	User     string
	Password string
	Database string

	// Path is the database file for the sqlite driver.
	Path string

	MaxConns int
	MaxIdle  int
}

// ConnectionString builds a driver-appropriate DSN.
func (c *DatabaseConfig) ConnectionString() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "sqlite":
		return c.Path
	default:
		return ""
	}
}

// VectorConfig configures the archival vector store.
type VectorConfig struct {
	// Provider is one of chromem, qdrant.
	Provider string

	// ChromemPath enables file persistence for the embedded provider.
	ChromemPath string

	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantUseTLS bool
}

// EmbedderConfig configures the embedding backend used by the vector store.
type EmbedderConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
}

// LLMBackend is one OpenAI-compatible chat backend with an ordered model list.
type LLMBackend struct {
	Name    string
	BaseURL string
	APIKey  string
	Models  []string
}

// LLMConfig is the ordered backend list tried by the chain.
type LLMConfig struct {
	Backends []LLMBackend

	// MaxRetries bounds schema/summarizer retry loops.
	MaxRetries int
}

// ServerConfig configures the HTTP facade.
type ServerConfig struct {
	Addr string
}

// Load reads configuration from the environment, loading a .env file first
// if one is present.
func Load() (*Config, error) {
	// Best effort: absence of a .env file is not an error
	_ = godotenv.Load()

	cfg := &Config{
		Memory: MemoryConfig{
			CtxWindow:            envInt("CTX_WINDOW", 8192),
			WarnFrac:             envFloat("WARN_FRAC", 0.8),
			FlushFrac:            envFloat("FLUSH_FRAC", 0.95),
			FlushTgtFrac:         envFloat("FLUSH_TGT_FRAC", 0.6),
			FIFOMin:              envInt("FMIN", 5),
			OverthinkN:           envInt("OVERTHINK_N", 10),
			ChunkMaxTokens:       envInt("CHUNK_MAX_TOKENS", 128),
			PersonaMaxWords:      envInt("PERSONA_MAX_WORDS", 100),
			PageSize:             envInt("PAGE_SIZE", 10),
			ChatLogPageSize:      envInt("CHAT_LOG_PAGE_SIZE", 10),
			HeartbeatIntervalMin: envInt("HEARTBEAT_INTERVAL_MIN", 60),
			TokenizerModel:       envStr("TOKENIZER_MODEL", "gpt-4"),
		},
		Database: DatabaseConfig{
			Driver:   envStr("DB_DRIVER", "sqlite"),
			Host:     envStr("DB_HOST", "localhost"),
			Port:     envInt("DB_PORT", 5432),
			User:     envStr("POSTGRES_USER", ""),
			Password: envStr("POSTGRES_PASSWORD", ""),
			Database: envStr("POSTGRES_DB", "memkeep"),
			Path:     envStr("DB_PATH", ".memkeep/memkeep.db"),
			MaxConns: envInt("DB_MAX_CONNS", 10),
			MaxIdle:  envInt("DB_MAX_IDLE", 5),
		},
		Vector: VectorConfig{
			Provider:     envStr("VECTOR_PROVIDER", "chromem"),
			ChromemPath:  envStr("CHROMEM_PATH", ".memkeep/vectors"),
			QdrantHost:   envStr("QDRANT_HOST", "localhost"),
			QdrantPort:   envInt("QDRANT_PORT", 6334),
			QdrantAPIKey: envStr("QDRANT_API_KEY", ""),
			QdrantUseTLS: envBool("QDRANT_USE_TLS", false),
		},
		Embedder: EmbedderConfig{
			BaseURL:   envStr("EMBEDDER_BASE_URL", "https://api.openai.com/v1"),
			APIKey:    envStr("EMBEDDER_API_KEY", ""),
			Model:     envStr("EMBEDDER_MODEL", "text-embedding-3-small"),
			Dimension: envInt("EMBEDDER_DIMENSION", 1536),
		},
		LLM: LLMConfig{
			MaxRetries: envInt("LLM_MAX_RETRIES", 10),
		},
		Server: ServerConfig{
			Addr: envStr("SERVER_ADDR", ":8080"),
		},
	}

	cfg.LLM.Backends = loadBackends()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadBackends assembles the ordered backend list from the LLM_* and
// optional VLM_* variable groups.
func loadBackends() []LLMBackend {
	var backends []LLMBackend

	if base := os.Getenv("LLM_API_BASE_URL"); base != "" {
		backends = append(backends, LLMBackend{
			Name:    "llm",
			BaseURL: base,
			APIKey:  os.Getenv("LLM_API_KEY"),
			Models:  splitModels(os.Getenv("LLM_MODELS")),
		})
	}

	if base := os.Getenv("VLM_API_BASE_URL"); base != "" {
		backends = append(backends, LLMBackend{
			Name:    "vlm",
			BaseURL: base,
			APIKey:  os.Getenv("VLM_API_KEY"),
			Models:  splitModels(os.Getenv("VLM_MODELS")),
		})
	}

	return backends
}

func splitModels(s string) []string {
	var models []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	return models
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	m := &c.Memory

	if m.CtxWindow <= 0 {
		return fmt.Errorf("CTX_WINDOW must be positive, got %d", m.CtxWindow)
	}

	for name, frac := range map[string]float64{
		"WARN_FRAC":      m.WarnFrac,
		"FLUSH_FRAC":     m.FlushFrac,
		"FLUSH_TGT_FRAC": m.FlushTgtFrac,
	} {
		if frac <= 0 || frac >= 1 {
			return fmt.Errorf("%s must be in (0,1), got %g", name, frac)
		}
	}

	if m.FlushTgtFrac >= m.FlushFrac {
		return fmt.Errorf("FLUSH_TGT_FRAC (%g) must be below FLUSH_FRAC (%g)",
			m.FlushTgtFrac, m.FlushFrac)
	}

	if m.FIFOMin < 0 {
		return fmt.Errorf("FMIN must be non-negative, got %d", m.FIFOMin)
	}

	if m.PersonaMaxWords <= 0 {
		return fmt.Errorf("PERSONA_MAX_WORDS must be positive, got %d", m.PersonaMaxWords)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s (supported: postgres, sqlite, mysql)", c.Database.Driver)
	}

	switch c.Vector.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unsupported VECTOR_PROVIDER: %s (supported: chromem, qdrant)", c.Vector.Provider)
	}

	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return def
}
