// Package config assembles the memory backend's configuration from a
// YAML file overlaid with environment variables, the way
// cmd/kernel/main.go built kernel.Config from getEnv calls.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the companion memory
// backend binary.
type Config struct {
	DGraphAddress string `yaml:"dgraph_address"`
	RedisAddress  string `yaml:"redis_address"`
	NATSAddress   string `yaml:"nats_address"`
	QdrantAddress string `yaml:"qdrant_address"`
	BleveIndexDir string `yaml:"bleve_index_dir"`
	SQLitePath    string `yaml:"sqlite_path"`

	LLM LLMConfig `yaml:"llm"`

	// ContextCompactThreshold is R: compaction fires once
	// len(recent)/2 >= R (spec.md §4.D).
	ContextCompactThreshold int           `yaml:"context_compact_threshold"`
	// SessionTTL is T_session: a running summary is cleared on the next
	// read once no message has been appended for longer than this
	// (spec.md §4.D).
	SessionTTL           time.Duration `yaml:"session_ttl"`
	IngestionLockTimeout time.Duration `yaml:"ingestion_lock_timeout"`
	WhisperCooldown      time.Duration `yaml:"whisper_cooldown"`
}

// LLMConfig names the providers the gateway can route to. Each
// provider's API key is read from its own environment variable, never
// from the YAML file, so credentials never land in a config file on
// disk.
type LLMConfig struct {
	Provider       string `yaml:"provider"`
	ChatModel      string `yaml:"chat_model"`
	JSONModel      string `yaml:"json_model"`
	EmbeddingModel string `yaml:"embedding_model"`
	BaseURL        string `yaml:"base_url"`
}

// Default returns the configuration a fresh deployment starts from,
// mirroring the localhost defaults of the teacher's cmd/kernel/main.go.
func Default() Config {
	return Config{
		DGraphAddress:         getEnv("DGRAPH_URL", "localhost:9180"),
		RedisAddress:          getEnv("REDIS_URL", "localhost:6379"),
		NATSAddress:           getEnv("NATS_URL", "nats://localhost:4222"),
		QdrantAddress:         getEnv("QDRANT_URL", "localhost:6334"),
		BleveIndexDir:         getEnv("BLEVE_INDEX_DIR", "./data/bleve"),
		SQLitePath:              getEnv("SQLITE_PATH", "./data/companion.db"),
		ContextCompactThreshold: 50,
		SessionTTL:              3 * time.Hour,
		IngestionLockTimeout:    30 * time.Second,
		WhisperCooldown:         2 * time.Hour,
		LLM: LLMConfig{
			Provider:       getEnv("LLM_PROVIDER", "openai"),
			ChatModel:      getEnv("LLM_CHAT_MODEL", "gpt-4o-mini"),
			JSONModel:      getEnv("LLM_JSON_MODEL", "gpt-4o-mini"),
			EmbeddingModel: getEnv("LLM_EMBED_MODEL", "text-embedding-3-small"),
			BaseURL:        getEnv("LLM_BASE_URL", ""),
		},
	}
}

// Load reads path if it exists, overlays it on Default, then re-applies
// environment overrides so an explicitly set env var always wins over
// whatever the file says.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DGraphAddress = overrideFromEnv("DGRAPH_URL", cfg.DGraphAddress)
	cfg.RedisAddress = overrideFromEnv("REDIS_URL", cfg.RedisAddress)
	cfg.NATSAddress = overrideFromEnv("NATS_URL", cfg.NATSAddress)
	cfg.QdrantAddress = overrideFromEnv("QDRANT_URL", cfg.QdrantAddress)
	cfg.BleveIndexDir = overrideFromEnv("BLEVE_INDEX_DIR", cfg.BleveIndexDir)
	cfg.SQLitePath = overrideFromEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.LLM.Provider = overrideFromEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.ChatModel = overrideFromEnv("LLM_CHAT_MODEL", cfg.LLM.ChatModel)
	cfg.LLM.JSONModel = overrideFromEnv("LLM_JSON_MODEL", cfg.LLM.JSONModel)
	cfg.LLM.EmbeddingModel = overrideFromEnv("LLM_EMBED_MODEL", cfg.LLM.EmbeddingModel)
	cfg.LLM.BaseURL = overrideFromEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
}

func overrideFromEnv(key, current string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return current
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
