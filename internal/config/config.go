// Package config loads service configuration from defaults, an optional
// YAML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

// Config is the root service configuration.
type Config struct {
	Port      int    `yaml:"port" validate:"min=1,max=65535"`
	DocsDir   string `yaml:"docs_dir" validate:"required"`
	IndexDir  string `yaml:"index_dir" validate:"required"`
	MemoryDir string `yaml:"memory_dir" validate:"required"`

	RAG       RAGConfig       `yaml:"rag"`
	Memory    MemoryConfig    `yaml:"memory"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Lock      LockConfig      `yaml:"lock"`
	Watch     WatchConfig     `yaml:"watch"`

	DatabaseURL     string   `yaml:"database_url"`
	RedisURL        string   `yaml:"redis_url"`
	PDFExtractorURL string   `yaml:"pdf_extractor_url" validate:"omitempty,url"`
	CORSOrigins     []string `yaml:"cors_origins"`
	OTelEnabled     bool     `yaml:"otel_enabled"`

	// APIKeys are ambient provider secrets. Read from the environment only.
	APIKeys map[string]string `yaml:"-"`
}

// RAGConfig controls chunking, loading and retrieval.
type RAGConfig struct {
	ChunkSize          int      `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap       int      `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	TopK               int      `yaml:"top_k" validate:"gt=0"`
	NaiveChunkMaxChars int      `yaml:"naive_chunk_max_chars" validate:"gte=0"` // 0 means 2 x ChunkSize
	AllowedExtensions  []string `yaml:"allowed_extensions" validate:"min=1,dive,startswith=."`
	MaxFileBytes       int64    `yaml:"max_file_bytes" validate:"gt=0"`
	LoadConcurrency    int      `yaml:"load_concurrency" validate:"gt=0"`
}

// MemoryConfig controls the conversation log.
type MemoryConfig struct {
	RecentTurns int `yaml:"recent_turns" validate:"gt=0"`
}

// EmbeddingConfig selects the ambient embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider" validate:"oneof=openai google ollama none"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url" validate:"omitempty,url"`
}

// IndexConfig selects where the whole-pool index is persisted.
type IndexConfig struct {
	Backend string `yaml:"backend" validate:"oneof=sqlite postgres"`
}

// LockConfig selects the backend serialising index rebuilds.
type LockConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory redis postgres"`
}

// WatchConfig controls the pool watcher.
type WatchConfig struct {
	Enabled     bool          `yaml:"enabled"`
	AutoRebuild bool          `yaml:"auto_rebuild"`
	Debounce    time.Duration `yaml:"debounce" validate:"gte=0"`
}

// ambientKeyEnv maps provider names to the environment variables holding their keys.
var ambientKeyEnv = map[string]string{
	string(domain.AIProviderOpenAI):     "OPENAI_API_KEY",
	string(domain.AIProviderGoogle):     "GOOGLE_API_KEY",
	string(domain.AIProviderPerplexity): "PERPLEXITY_API_KEY",
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Port:      8080,
		DocsDir:   "memory/docs",
		IndexDir:  "memory/rag_index",
		MemoryDir: "memory",
		RAG: RAGConfig{
			ChunkSize:         1000,
			ChunkOverlap:      200,
			TopK:              5,
			AllowedExtensions: []string{".md", ".txt", ".pdf"},
			MaxFileBytes:      10 << 20,
			LoadConcurrency:   4,
		},
		Memory:    MemoryConfig{RecentTurns: 6},
		Embedding: EmbeddingConfig{Provider: "none"},
		Index:     IndexConfig{Backend: "sqlite"},
		Lock:      LockConfig{Backend: "memory"},
		Watch:     WatchConfig{Debounce: 2 * time.Second},
		APIKeys:   map[string]string{},
	}
}

// Load builds the configuration: defaults, then the YAML file at path if it
// exists, then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.DocsDir = getEnv("SERCHA_DOCS_DIR", c.DocsDir)
	c.IndexDir = getEnv("SERCHA_INDEX_DIR", c.IndexDir)
	c.MemoryDir = getEnv("SERCHA_MEMORY_DIR", c.MemoryDir)

	c.RAG.ChunkSize = getEnvInt("RAG_CHUNK_SIZE", c.RAG.ChunkSize)
	c.RAG.ChunkOverlap = getEnvInt("RAG_CHUNK_OVERLAP", c.RAG.ChunkOverlap)
	c.RAG.TopK = getEnvInt("RAG_TOP_K", c.RAG.TopK)
	c.RAG.NaiveChunkMaxChars = getEnvInt("RAG_NAIVE_CHUNK_MAX_CHARS", c.RAG.NaiveChunkMaxChars)
	c.RAG.AllowedExtensions = getEnvList("RAG_ALLOWED_EXTENSIONS", c.RAG.AllowedExtensions)
	c.RAG.MaxFileBytes = int64(getEnvInt("RAG_MAX_FILE_BYTES", int(c.RAG.MaxFileBytes)))
	c.RAG.LoadConcurrency = getEnvInt("RAG_LOAD_CONCURRENCY", c.RAG.LoadConcurrency)

	c.Memory.RecentTurns = getEnvInt("MEMORY_RECENT_TURNS", c.Memory.RecentTurns)

	c.Embedding.Provider = strings.ToLower(getEnv("EMBEDDING_PROVIDER", c.Embedding.Provider))
	c.Embedding.Model = getEnv("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", c.Embedding.BaseURL)

	c.Index.Backend = strings.ToLower(getEnv("INDEX_BACKEND", c.Index.Backend))
	c.Lock.Backend = strings.ToLower(getEnv("LOCK_BACKEND", c.Lock.Backend))
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)

	c.Watch.Enabled = getEnvBool("WATCH_POOL", c.Watch.Enabled)
	c.Watch.AutoRebuild = getEnvBool("WATCH_AUTO_REBUILD", c.Watch.AutoRebuild)
	c.Watch.Debounce = getEnvDuration("WATCH_DEBOUNCE", c.Watch.Debounce)

	c.PDFExtractorURL = getEnv("PDF_EXTRACTOR_URL", c.PDFExtractorURL)
	c.CORSOrigins = getEnvList("CORS_ORIGINS", c.CORSOrigins)
	c.OTelEnabled = getEnvBool("OTEL_ENABLED", c.OTelEnabled)

	if c.APIKeys == nil {
		c.APIKeys = map[string]string{}
	}
	for provider, env := range ambientKeyEnv {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			c.APIKeys[provider] = v
		}
	}
}

func (c *Config) applyDerived() {
	if c.RAG.NaiveChunkMaxChars == 0 {
		c.RAG.NaiveChunkMaxChars = 2 * c.RAG.ChunkSize
	}
	for i, ext := range c.RAG.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.RAG.AllowedExtensions[i] = ext
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and backend requirements.
// Every failure wraps domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fieldRule(fe)))
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	if (c.Index.Backend == "postgres" || c.Lock.Backend == "postgres") && c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required for the postgres backend", domain.ErrInvalidConfig)
	}
	if c.Lock.Backend == "redis" && c.RedisURL == "" {
		return fmt.Errorf("%w: REDIS_URL is required for the redis lock", domain.ErrInvalidConfig)
	}
	return nil
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// EmbeddingSettings converts the embedding section for the AI factory.
// The API key is resolved from the ambient keys.
func (c *Config) EmbeddingSettings() domain.EmbeddingSettings {
	provider := domain.AIProvider(c.Embedding.Provider)
	return domain.EmbeddingSettings{
		Provider: provider,
		Model:    c.Embedding.Model,
		APIKey:   c.APIKeys[string(provider)],
		BaseURL:  c.Embedding.BaseURL,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
