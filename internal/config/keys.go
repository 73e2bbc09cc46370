package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	apply  func(cfg *Config, v any)
	get    func(cfg *Config) any
}

var specs = []keySpec{
	{
		key: "fetch.min_interval_ms", typ: kInt, env: "EDUPIPE_FETCH_MIN_INTERVAL_MS",
		apply: func(cfg *Config, v any) { cfg.Fetch.MinIntervalMs = v.(int) },
		get:   func(cfg *Config) any { return cfg.Fetch.MinIntervalMs },
	},
	{
		key: "fetch.timeout_sec", typ: kInt, env: "EDUPIPE_FETCH_TIMEOUT_SEC",
		apply: func(cfg *Config, v any) { cfg.Fetch.TimeoutSec = v.(int) },
		get:   func(cfg *Config) any { return cfg.Fetch.TimeoutSec },
	},
	{
		key: "fetch.max_retries", typ: kInt, env: "EDUPIPE_FETCH_MAX_RETRIES",
		apply: func(cfg *Config, v any) { cfg.Fetch.MaxRetries = v.(int) },
		get:   func(cfg *Config) any { return cfg.Fetch.MaxRetries },
	},
	{
		key: "fetch.max_body_kb", typ: kInt, env: "EDUPIPE_FETCH_MAX_BODY_KB",
		apply: func(cfg *Config, v any) { cfg.Fetch.MaxBodyKB = v.(int) },
		get:   func(cfg *Config) any { return cfg.Fetch.MaxBodyKB },
	},
	{
		key: "fetch.user_agent", typ: kString, env: "EDUPIPE_FETCH_USER_AGENT",
		apply: func(cfg *Config, v any) { cfg.Fetch.UserAgent = v.(string) },
		get:   func(cfg *Config) any { return cfg.Fetch.UserAgent },
	},
	{
		key: "embedding.base_url", typ: kString, env: "EDUPIPE_EMBEDDING_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		get:   func(cfg *Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.model", typ: kString, env: "EDUPIPE_EMBEDDING_MODEL",
		apply: func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		get:   func(cfg *Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.timeout_sec", typ: kInt, env: "EDUPIPE_EMBEDDING_TIMEOUT_SEC",
		apply: func(cfg *Config, v any) { cfg.Embedding.TimeoutSec = v.(int) },
		get:   func(cfg *Config) any { return cfg.Embedding.TimeoutSec },
	},
	{
		key: "embedding.cache_size", typ: kInt, env: "EDUPIPE_EMBEDDING_CACHE_SIZE",
		apply: func(cfg *Config, v any) { cfg.Embedding.CacheSize = v.(int) },
		get:   func(cfg *Config) any { return cfg.Embedding.CacheSize },
	},
	{
		key: "search.endpoint", typ: kString, env: "EDUPIPE_SEARCH_ENDPOINT",
		apply: func(cfg *Config, v any) { cfg.SearchStore.Endpoint = v.(string) },
		get:   func(cfg *Config) any { return cfg.SearchStore.Endpoint },
	},
	{
		key: "search.api_key", typ: kString, env: "EDUPIPE_SEARCH_API_KEY", secret: true,
		apply: func(cfg *Config, v any) { cfg.SearchStore.APIKey = v.(string) },
		get:   func(cfg *Config) any { return cfg.SearchStore.APIKey },
	},
	{
		key: "search.index_name", typ: kString, env: "EDUPIPE_SEARCH_INDEX_NAME",
		apply: func(cfg *Config, v any) { cfg.SearchStore.IndexName = v.(string) },
		get:   func(cfg *Config) any { return cfg.SearchStore.IndexName },
	},
	{
		key: "search.batch_size", typ: kInt, env: "EDUPIPE_SEARCH_BATCH_SIZE",
		apply: func(cfg *Config, v any) { cfg.SearchStore.BatchSize = v.(int) },
		get:   func(cfg *Config) any { return cfg.SearchStore.BatchSize },
	},
	{
		key: "pipeline.workers", typ: kInt, env: "EDUPIPE_PIPELINE_WORKERS",
		apply: func(cfg *Config, v any) { cfg.Pipeline.Workers = v.(int) },
		get:   func(cfg *Config) any { return cfg.Pipeline.Workers },
	},
	{
		key: "pipeline.max_pages_per_subject", typ: kInt, env: "EDUPIPE_PIPELINE_MAX_PAGES_PER_SUBJECT",
		apply: func(cfg *Config, v any) { cfg.Pipeline.MaxPagesPerSubject = v.(int) },
		get:   func(cfg *Config) any { return cfg.Pipeline.MaxPagesPerSubject },
	},
	{
		key: "pipeline.max_per_subject", typ: kInt, env: "EDUPIPE_PIPELINE_MAX_PER_SUBJECT",
		apply: func(cfg *Config, v any) { cfg.Pipeline.MaxPerSubject = v.(int) },
		get:   func(cfg *Config) any { return cfg.Pipeline.MaxPerSubject },
	},
	{
		key: "pipeline.run_timeout_min", typ: kInt, env: "EDUPIPE_PIPELINE_RUN_TIMEOUT_MIN",
		apply: func(cfg *Config, v any) { cfg.Pipeline.RunTimeoutMin = v.(int) },
		get:   func(cfg *Config) any { return cfg.Pipeline.RunTimeoutMin },
	},
	{
		key: "pipeline.catalog_path", typ: kString, env: "EDUPIPE_PIPELINE_CATALOG_PATH",
		apply: func(cfg *Config, v any) { cfg.Pipeline.CatalogPath = v.(string) },
		get:   func(cfg *Config) any { return cfg.Pipeline.CatalogPath },
	},
	{
		key: "storage.data_dir", typ: kString, env: "EDUPIPE_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		get:   func(cfg *Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "server.port", typ: kInt, env: "EDUPIPE_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		get:   func(cfg *Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "EDUPIPE_SERVER_MCP_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		get:   func(cfg *Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.api_token", typ: kString, env: "EDUPIPE_SERVER_API_TOKEN", secret: true,
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		get:   func(cfg *Config) any { return cfg.Server.APIToken },
	},
}

// applyBackend overlays values from the backend onto cfg. Secret keys are
// never read from the backend.
func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

// applyEnvOverrides overlays EDUPIPE_* environment variables onto cfg.
// Malformed integer values are ignored rather than failing the load.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw, ok := os.LookupEnv(s.env)
		if !ok || raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if v, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, v)
			}
		}
	}
}

// KeyValue is one configuration key with its effective value, rendered
// for display.
type KeyValue struct {
	Key   string
	Value string
}

// ShowAll renders every known key with its effective value. Secret values
// are masked; only whether they are set is shown.
func ShowAll(cfg Config) []KeyValue {
	out := make([]KeyValue, 0, len(specs))
	for _, s := range specs {
		kv := KeyValue{Key: s.key, Value: fmt.Sprintf("%v", s.get(&cfg))}
		if s.secret {
			kv.Value = ""
			if s.get(&cfg) != "" {
				kv.Value = "(set)"
			}
		}
		out = append(out, kv)
	}
	return out
}

// SetKey writes one key to the config file backend. Secret keys are
// rejected; they are only ever read from the environment.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(), key, value)
}

func setKeyWith(b Backend, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("%s is secret; set it via %s instead", key, s.env)
		}
		switch s.typ {
		case kString:
			return b.SetString(key, value)
		case kInt:
			v, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s expects an integer: %w", key, err)
			}
			return b.SetInt(key, v)
		}
	}
	return fmt.Errorf("unknown config key %q", key)
}

// UnsetKey removes one key from the config file backend, reverting it to
// its default.
func UnsetKey(key string) error {
	return unsetKeyWith(newFileBackend(), key)
}

func unsetKeyWith(b Backend, key string) error {
	for _, s := range specs {
		if s.key == key {
			return b.Delete(key)
		}
	}
	return fmt.Errorf("unknown config key %q", key)
}
