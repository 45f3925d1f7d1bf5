// Package config provides configuration management for semcache.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

const (
	// DefaultEmbeddingProvider selects the built-in OpenAI-compatible model
	// when no provider is configured.
	DefaultEmbeddingProvider = "openai"

	// DefaultEmbeddingWorkerCount sizes the embedding dispatcher pool when
	// unset.
	DefaultEmbeddingWorkerCount = 1

	// DefaultMemoryCapacity sizes each model's in-process hot set.
	DefaultMemoryCapacity = 1000

	// DefaultSimilarityThreshold is the acceptance threshold for short
	// queries.
	DefaultSimilarityThreshold = 0.8

	// DefaultSimilarityThresholdLong is the acceptance threshold once a
	// query exceeds DefaultLongQueryTokenBoundary tokens.
	DefaultSimilarityThresholdLong = 0.9

	// DefaultLongQueryTokenBoundary is the token count past which the long
	// threshold applies.
	DefaultLongQueryTokenBoundary = 64

	// DefaultQueryLogWorkers sizes the audit-log writer pool.
	DefaultQueryLogWorkers = 6
)

// Config holds the application configuration.
type Config struct {
	// Embedding
	EmbeddingProvider    string `json:"embedding_provider"`
	EmbeddingAPIKey      string `json:"embedding_api_key"`
	EmbeddingBaseURL     string `json:"embedding_base_url"`
	EmbeddingModelName   string `json:"embedding_model_name"`
	EmbeddingDimensions  int    `json:"embedding_dimensions"`
	EmbeddingWorkerCount int    `json:"embedding_worker_count"`

	// Similarity
	SimilarityMetric       string  `json:"similarity_metric"` // "cosine" or "l2"
	SimilarityNormalized   bool    `json:"similarity_normalized"`
	SimilarityThreshold    float64 `json:"similarity_threshold"`
	SimilarityThresholdLng float64 `json:"similarity_threshold_long"`
	LongQueryTokenBoundary int     `json:"long_query_token_boundary"`

	// MemoryCache
	MemoryCapacity int    `json:"memory_capacity"`
	MemoryPolicy   string `json:"memory_policy"` // "arc" or "w-tinylfu"

	// Backend selection; backend-specific connection details live in the
	// per-backend ini files (see ini.go) so they can be hot-reloaded
	// without restarting the process.
	ScalarBackend string `json:"scalar_backend"` // "sqlite" or "postgres"
	VectorBackend string `json:"vector_backend"` // "memory", "pgvector", or "chroma"
	ObjectBackend string `json:"object_backend"` // "", "fs", or "redis"

	QueryLogWorkers int `json:"query_log_workers"`

	ConfigDir string `json:"-"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.semcache).
func DataDir() string {
	if dir := os.Getenv("SEMCACHE_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".semcache")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		EmbeddingProvider:      DefaultEmbeddingProvider,
		EmbeddingWorkerCount:   DefaultEmbeddingWorkerCount,
		SimilarityMetric:       "cosine",
		SimilarityNormalized:   true,
		SimilarityThreshold:    DefaultSimilarityThreshold,
		SimilarityThresholdLng: DefaultSimilarityThresholdLong,
		LongQueryTokenBoundary: DefaultLongQueryTokenBoundary,
		MemoryCapacity:         DefaultMemoryCapacity,
		MemoryPolicy:           "arc",
		ScalarBackend:          "sqlite",
		VectorBackend:          "memory",
		ObjectBackend:          "",
		QueryLogWorkers:        DefaultQueryLogWorkers,
		ConfigDir:              DataDir(),
	}
}

// Load loads configuration from the settings file, merging with defaults,
// then applies environment overrides (env always wins).
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		cfg = Default() // keep defaults on parse error
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SEMCACHE_EMBEDDING_PROVIDER"); v != "" {
		cfg.EmbeddingProvider = v
	}
	if v := os.Getenv("SEMCACHE_EMBEDDING_API_KEY"); v != "" {
		cfg.EmbeddingAPIKey = v
	}
	if v := os.Getenv("SEMCACHE_EMBEDDING_BASE_URL"); v != "" {
		cfg.EmbeddingBaseURL = v
	}
	if v := os.Getenv("SEMCACHE_EMBEDDING_MODEL_NAME"); v != "" {
		cfg.EmbeddingModelName = v
	}
	if v := os.Getenv("SEMCACHE_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EmbeddingDimensions = n
		}
	}
	if v := os.Getenv("SEMCACHE_SCALAR_BACKEND"); v != "" {
		cfg.ScalarBackend = v
	}
	if v := os.Getenv("SEMCACHE_VECTOR_BACKEND"); v != "" {
		cfg.VectorBackend = v
	}
	if v := os.Getenv("SEMCACHE_OBJECT_BACKEND"); v != "" {
		cfg.ObjectBackend = v
	}
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Reset clears the cached global configuration, forcing the next Get to
// reload. Used by tests and by the fsnotify watcher after a settings edit.
func Reset() {
	configMu.Lock()
	defer configMu.Unlock()
	globalConfig = nil
	configOnce = sync.Once{}
}

// GetEmbeddingAPIKey returns the configured embedding provider API key.
func GetEmbeddingAPIKey() string { return Get().EmbeddingAPIKey }

// GetEmbeddingBaseURL returns the configured embedding provider base URL.
func GetEmbeddingBaseURL() string { return Get().EmbeddingBaseURL }

// GetEmbeddingModelName returns the configured embedding model name.
func GetEmbeddingModelName() string { return Get().EmbeddingModelName }

// GetEmbeddingDimensions returns the configured embedding dimension.
func GetEmbeddingDimensions() int { return Get().EmbeddingDimensions }
