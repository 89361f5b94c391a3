package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kestrel-dev/agentmem/internal/vectormath"
)

// OpenAI is an Embedder backed by an OpenAI-compatible /embeddings endpoint,
// using a raw net/http request rather than the official SDK.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	http    *http.Client
}

// NewOpenAI builds an OpenAI embedder. baseURL defaults to the public API;
// dims is the dimensionality the caller expects back (e.g. 1536 for
// text-embedding-3-small) and is what Dimensions reports; the length of a
// returned vector is not checked against it.
func NewOpenAI(apiKey, baseURL, model string, dims int) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAI{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OpenAI) Dimensions() int   { return o.dims }
func (o *OpenAI) IsAvailable() bool { return o.apiKey != "" }

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed sends text to the /embeddings endpoint and returns the L2-normalized
// vector. OpenAI embeddings are already near-unit-norm but are normalized
// explicitly to satisfy the port's unit-vector contract exactly.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if !o.IsAvailable() {
		return nil, errUnavailable
	}
	text = Sanitize(text)

	body, err := json.Marshal(openAIEmbedRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

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

	var parsed openAIEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embedding: API error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding: no data in response")
	}
	return vectormath.Normalize(parsed.Data[0].Embedding), nil
}
