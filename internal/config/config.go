// Package config loads the daemon's YAML configuration file and applies
// environment overrides: a missing config file falls back to compiled-in
// defaults rather than an error, and a nearby .env file is loaded via
// joho/godotenv before reading process environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kestrel-dev/agentmem/internal/conflict"
	"github.com/kestrel-dev/agentmem/internal/memory"
)

// Config is the full recognized configuration surface.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Conflict  ConflictConfig  `yaml:"conflict"`
	Decay     DecayConfig     `yaml:"decay"`
	Search    SearchConfig    `yaml:"search"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	MaxTitle   int    `yaml:"max_title"`
	MaxSummary int    `yaml:"max_summary"`
	MaxContent int    `yaml:"max_content"`
	MaxTags    int    `yaml:"max_tags"`
}

type EmbeddingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Provider     string `yaml:"provider"`
	ModelPath    string `yaml:"model_path"`
	VocabPath    string `yaml:"vocab_path"`
	Dimensions   int    `yaml:"dimensions"`
	MaxSeqLen    int    `yaml:"max_seq_len"`
	AutoDownload bool   `yaml:"auto_download"`
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"-"` // never read from the config file; env only
	Model        string `yaml:"model"`
}

type ConflictConfig struct {
	DuplicateThreshold float64  `yaml:"duplicate_threshold"`
	SupersedeThreshold float64  `yaml:"supersede_threshold"`
	CoexistThreshold   float64  `yaml:"coexist_threshold"`
	SingularTags       []string `yaml:"singular_tags"`
}

type DecayConfig struct {
	DefaultRate   float64 `yaml:"default_rate"`
	StrengthCap   float64 `yaml:"strength_cap"`
	WeakThreshold float64 `yaml:"weak_threshold"`
}

type SearchConfig struct {
	MaxCandidateFactor int `yaml:"max_candidate_factor"`
}

// Default returns a Config with every documented default applied.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:       "./agentmem-data",
			MaxTitle:   memory.DefaultMaxTitle,
			MaxSummary: memory.DefaultMaxSummary,
			MaxContent: memory.DefaultMaxContent,
			MaxTags:    memory.DefaultMaxTags,
		},
		Embedding: EmbeddingConfig{
			Enabled:    false,
			Dimensions: 1536,
			MaxSeqLen:  512,
		},
		Conflict: ConflictConfig{
			DuplicateThreshold: conflict.DefaultDuplicateThreshold,
			SupersedeThreshold: conflict.DefaultSupersedeThreshold,
			CoexistThreshold:   conflict.DefaultCoexistThreshold,
			SingularTags:       conflict.DefaultSingularTags(),
		},
		Decay: DecayConfig{
			DefaultRate:   memory.DefaultDecayRate,
			StrengthCap:   memory.StrengthCap,
			WeakThreshold: 0.1,
		},
		Search: SearchConfig{
			MaxCandidateFactor: 3,
		},
	}
}

// Load reads configPath (YAML) over the defaults, then applies environment
// overrides from a .env file (if present in dir) and process environment. A
// missing config file is not an error — Load returns pure defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load(envFileNear(configPath))
	applyEnvOverrides(cfg)
	return cfg, nil
}

func envFileNear(configPath string) string {
	if configPath == "" {
		return ".env"
	}
	return filepath.Join(filepath.Dir(configPath), ".env")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTMEM_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("AGENTMEM_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
		cfg.Embedding.Enabled = true
	}
	if v := os.Getenv("AGENTMEM_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("AGENTMEM_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("AGENTMEM_EMBEDDING_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("AGENTMEM_DECAY_DEFAULT_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Decay.DefaultRate = f
		}
	}
	if v := os.Getenv("AGENTMEM_SINGULAR_TAGS"); v != "" {
		cfg.Conflict.SingularTags = splitAndTrim(v)
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Limits converts the storage configuration into memory.Limits.
func (c *Config) Limits() memory.Limits {
	return memory.Limits{
		MaxTitle:   c.Storage.MaxTitle,
		MaxSummary: c.Storage.MaxSummary,
		MaxContent: c.Storage.MaxContent,
		MaxTags:    c.Storage.MaxTags,
	}
}
