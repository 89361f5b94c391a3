package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kestrel-dev/agentmem/internal/vectormath"
)

var errUnavailable = errors.New("embedding port unavailable")

const ollamaDefaultBaseURL = "http://localhost:11434"

// Ollama is an Embedder backed by a local Ollama server's /api/embeddings
// endpoint.
type Ollama struct {
	baseURL string
	model   string
	dims    int
	http    *http.Client
}

// NewOllama builds an Ollama embedder. model defaults to "nomic-embed-text".
func NewOllama(baseURL, model string, dims int) *Ollama {
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dims:    dims,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *Ollama) Dimensions() int { return o.dims }

// IsAvailable probes the server's /api/tags endpoint with a short timeout.
func (o *Ollama) IsAvailable() bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(o.baseURL + "/api/tags")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed calls /api/embeddings and returns the L2-normalized vector.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	text = Sanitize(text)

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: unmarshal response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("embedding: empty embedding in response")
	}
	return vectormath.Normalize(parsed.Embedding), nil
}
