package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Provider configuration
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultOllamaModel = "qwen3-embedding"
	DefaultOpenAIModel = "text-embedding-3-small"

	// Dimensions
	OllamaDimension = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	DefaultTimeout = 30 * time.Second

	// Batch limits
	MaxBatchSize        = 100
	ollamaParallelCalls = 4

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// postJSON sends body to url and decodes a 200 response into out
func postJSON(ctx context.Context, client *http.Client, url, bearer string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// OllamaProvider implements Embedder against an Ollama server's
// /api/embeddings endpoint
type OllamaProvider struct {
	host       string
	model      string
	dimension  int
	timeout    time.Duration
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

// NewOllamaProvider creates an embedder for host (e.g. http://localhost:11434)
func NewOllamaProvider(host, model string, dimension int, timeout time.Duration, cache *Cache) (*OllamaProvider, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("%w: ollama host not set", ErrNoProviderEnabled)
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if dimension <= 0 {
		dimension = OllamaDimension
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OllamaProvider{
		host:       strings.TrimRight(host, "/"),
		model:      model,
		dimension:  dimension,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		retry:      DefaultRetryConfig(),
	}, nil
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return embedOne(ctx, o, req)
}

func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := checkTexts(req.Texts); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = o.model
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	embeddings, err := cachedBatch(ctx, o.cache, o.retry, ProviderOllama, model, req.Texts, o.callAPI)
	if err != nil {
		return nil, err
	}
	return &BatchEmbeddingResponse{Embeddings: embeddings, Provider: ProviderOllama, Model: model}, nil
}

// callAPI embeds each text with its own request; the endpoint takes one
// prompt at a time
func (o *OllamaProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	out := make([]*Embedding, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ollamaParallelCalls)

	for i, text := range texts {
		g.Go(func() error {
			var apiResp struct {
				Embedding []float32 `json:"embedding"`
			}
			body := map[string]interface{}{"model": model, "prompt": text}
			if err := postJSON(gctx, o.httpClient, o.host+"/api/embeddings", "", body, &apiResp); err != nil {
				return err
			}
			if len(apiResp.Embedding) == 0 {
				return fmt.Errorf("empty embedding for text %d", i)
			}
			out[i] = &Embedding{
				Vector:    apiResp.Embedding,
				Dimension: len(apiResp.Embedding),
				Provider:  ProviderOllama,
				Model:     model,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *OllamaProvider) Dimension() int   { return o.dimension }
func (o *OllamaProvider) Provider() string { return ProviderOllama }
func (o *OllamaProvider) Model() string    { return o.model }

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// OpenAIProvider implements Embedder using the OpenAI embeddings API
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(apiKey, model string, timeout time.Duration, cache *Cache) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key not set", ErrNoProviderEnabled)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    "https://api.openai.com/v1",
		model:      model,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		retry:      DefaultRetryConfig(),
	}, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return embedOne(ctx, o, req)
}

func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := checkTexts(req.Texts); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = o.model
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	embeddings, err := cachedBatch(ctx, o.cache, o.retry, ProviderOpenAI, model, req.Texts, o.callAPI)
	if err != nil {
		return nil, err
	}
	return &BatchEmbeddingResponse{Embeddings: embeddings, Provider: ProviderOpenAI, Model: model}, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	body := map[string]interface{}{"input": texts, "model": model}
	if err := postJSON(ctx, o.httpClient, o.baseURL+"/embeddings", o.apiKey, body, &apiResp); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(texts))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		embeddings[data.Index] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  ProviderOpenAI,
			Model:     apiResp.Model,
		}
	}
	for i, e := range embeddings {
		if e == nil {
			return nil, fmt.Errorf("missing embedding for text %d", i)
		}
	}
	return embeddings, nil
}

func (o *OpenAIProvider) Dimension() int   { return OpenAIDimension }
func (o *OpenAIProvider) Provider() string { return ProviderOpenAI }
func (o *OpenAIProvider) Model() string    { return o.model }

func (o *OpenAIProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}
