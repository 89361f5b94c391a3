package embedding

import (
	"os"
	"strconv"
)

// Config selects and parameterizes an Embedder. The zero value auto-detects a
// backend (see New).
type Config struct {
	Provider string // "openai", "ollama", "" (auto-detect), or "none"
	BaseURL  string
	APIKey   string
	Model    string
	Dims     int
}

// New builds an Embedder from cfg, auto-detecting a backend when
// cfg.Provider is empty: a reachable local Ollama server wins, otherwise an
// OPENAI_API_KEY in the environment, otherwise Noop.
func New(cfg Config) Embedder {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY")), cfg.BaseURL, cfg.Model, dimsOrDefault(cfg.Dims))
	case "ollama":
		return NewOllama(cfg.BaseURL, cfg.Model, dimsOrDefault(cfg.Dims))
	case "none":
		return Noop()
	case "":
		// fall through to auto-detect
	default:
		return Noop()
	}

	ollama := NewOllama(cfg.BaseURL, cfg.Model, dimsOrDefault(cfg.Dims))
	if ollama.IsAvailable() {
		return ollama
	}
	if key := firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY")); key != "" {
		return NewOpenAI(key, cfg.BaseURL, cfg.Model, dimsOrDefault(cfg.Dims))
	}
	return Noop()
}

func dimsOrDefault(d int) int {
	if d > 0 {
		return d
	}
	if v := os.Getenv("AGENTMEM_EMBEDDING_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 1536
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
