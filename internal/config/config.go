package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Fetch       FetchConfig
	Embedding   EmbeddingConfig
	SearchStore SearchStoreConfig
	Pipeline    PipelineConfig
	Storage     StorageConfig
	Server      ServerConfig
}

type FetchConfig struct {
	// MinIntervalMs is the minimum spacing between requests to one host.
	MinIntervalMs int
	TimeoutSec    int
	MaxRetries    int
	MaxBodyKB     int
	UserAgent     string
}

type EmbeddingConfig struct {
	BaseURL    string
	Model      string
	TimeoutSec int
	CacheSize  int
}

type SearchStoreConfig struct {
	Endpoint  string
	APIKey    string
	IndexName string
	BatchSize int
}

type PipelineConfig struct {
	Workers            int
	MaxPagesPerSubject int
	MaxPerSubject      int
	RunTimeoutMin      int
	CatalogPath        string
}

type StorageConfig struct {
	DataDir string
}

type ServerConfig struct {
	Port     int
	MCPPort  int
	APIToken string
}

func defaults() Config {
	return Config{
		Fetch: FetchConfig{
			MinIntervalMs: 1500,
			TimeoutSec:    30,
			MaxRetries:    3,
			MaxBodyKB:     2048,
			UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			TimeoutSec: 60,
			CacheSize:  10000,
		},
		SearchStore: SearchStoreConfig{
			IndexName: "educational-content",
			BatchSize: 50,
		},
		Pipeline: PipelineConfig{
			Workers:            3,
			MaxPagesPerSubject: 10,
			MaxPerSubject:      200,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/edupipe/config.json, with EDUPIPE_* environment
// variables overriding backend values.
//
// The search-store API key is secret and is only read from the
// environment (EDUPIPE_SEARCH_API_KEY), never from the config file.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "edupipe-data"
		}
	}
	return filepath.Join(dir, "edupipe")
}
