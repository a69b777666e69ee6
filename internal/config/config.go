// Package config loads layered configuration: built-in defaults, an
// optional YAML file, then FEEDRANK_* environment variables on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "FEEDRANK_CONFIG"

const envPrefix = "FEEDRANK_"

type Config struct {
	Log     LogConfig     `koanf:"log"`
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Ollama  OllamaConfig  `koanf:"ollama"`
	Worker  WorkerConfig  `koanf:"worker"`
	Ranking RankingConfig `koanf:"ranking"`
}

type LogConfig struct {
	Level string `koanf:"level"` // "debug" or "info"
}

type ServerConfig struct {
	Addr  string `koanf:"addr"`
	Token string `koanf:"token"`
}

type StorageConfig struct {
	DataDir string `koanf:"data_dir"`
}

type OllamaConfig struct {
	BaseURL    string        `koanf:"base_url"`
	EmbedModel string        `koanf:"embed_model"`
	Timeout    time.Duration `koanf:"timeout"`
}

type WorkerConfig struct {
	PollInterval   time.Duration `koanf:"poll_interval"`
	DocumentWindow int           `koanf:"document_window"`
	// StaleRequeueAfter enables the stale-job reaper when set; zero
	// leaves abandoned in_progress jobs alone.
	StaleRequeueAfter time.Duration `koanf:"stale_requeue_after"`
}

type RankingConfig struct {
	SimilarityWeight float64 `koanf:"similarity_weight"`
	CategoryWeight   float64 `koanf:"category_weight"`
	DomainWeight     float64 `koanf:"domain_weight"`
	FreshnessWeight  float64 `koanf:"freshness_weight"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			Timeout:    30 * time.Second,
		},
		Worker: WorkerConfig{
			PollInterval:   2 * time.Second,
			DocumentWindow: 200,
		},
		Ranking: RankingConfig{
			SimilarityWeight: 0.5,
			CategoryWeight:   0.25,
			DomainWeight:     0.15,
			FreshnessWeight:  0.1,
		},
	}
}

// Load builds the configuration from defaults, the config file (if one
// exists), and environment variables, in that order of precedence.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// FEEDRANK_WORKER_POLL_INTERVAL -> worker.poll_interval. Only the
	// first underscore becomes a separator; section names are single words.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services would misbehave under.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "", "debug", "info":
	default:
		return fmt.Errorf("log.level must be debug or info, got %q", c.Log.Level)
	}
	if c.Worker.DocumentWindow < 0 {
		return fmt.Errorf("worker.document_window must not be negative")
	}
	weights := []struct {
		name  string
		value float64
	}{
		{"ranking.similarity_weight", c.Ranking.SimilarityWeight},
		{"ranking.category_weight", c.Ranking.CategoryWeight},
		{"ranking.domain_weight", c.Ranking.DomainWeight},
		{"ranking.freshness_weight", c.Ranking.FreshnessWeight},
	}
	sum := 0.0
	for _, w := range weights {
		if w.value < 0 {
			return fmt.Errorf("%s must not be negative", w.name)
		}
		sum += w.value
	}
	if sum == 0 {
		return fmt.Errorf("ranking weights must not all be zero")
	}
	return nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	path := filepath.Join(configHome(), "feedrank", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "share", "feedrank")
}
