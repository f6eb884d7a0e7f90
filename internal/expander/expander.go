// Package expander rewrites short catalog queries into richer descriptions
// before they are embedded.
package expander

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/catalog-mcp/internal/config"
	"github.com/dshills/catalog-mcp/internal/observability"
)

// Expander turns a short query into a longer one. Implementations never
// fail: on any problem they return the input unchanged.
type Expander interface {
	Expand(ctx context.Context, query string) string
}

// Noop returns queries unchanged
type Noop struct{}

func (Noop) Expand(_ context.Context, query string) string { return query }

const promptTemplate = "Rewrite this furniture catalog search query as a short product description. " +
	"Answer with the description only.\nQuery: %s"

// LLMExpander calls an Ollama-compatible /api/generate endpoint
type LLMExpander struct {
	host    string
	model   string
	timeout time.Duration
	client  *http.Client
	cache   *lru.Cache[string, string]
	log     *observability.Logger
}

// New returns a Noop unless expansion is enabled
func New(cfg config.ExpansionConfig, log *observability.Logger) Expander {
	if !cfg.Enabled || strings.TrimSpace(cfg.Host) == "" {
		return Noop{}
	}
	return NewLLMExpander(cfg.Host, cfg.Model, cfg.Timeout, log)
}

// NewLLMExpander creates an expander for host
func NewLLMExpander(host, model string, timeout time.Duration, log *observability.Logger) *LLMExpander {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cache, _ := lru.New[string, string](1024)
	return &LLMExpander{
		host:    strings.TrimRight(host, "/"),
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
		log:     observability.OrNop(log).WithComponent("expander"),
	}
}

// Expand returns the model's rewrite of query, or query itself on failure,
// timeout or an empty answer
func (e *LLMExpander) Expand(ctx context.Context, query string) string {
	q := strings.TrimSpace(query)
	if q == "" {
		return query
	}
	if cached, ok := e.cache.Get(q); ok {
		return cached
	}

	out, err := e.generate(ctx, q)
	if err != nil {
		e.log.Warn().Err(err).Str("query", q).Msg("query expansion failed, using original query")
		return query
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return query
	}
	e.cache.Add(q, out)
	return out
}

func (e *LLMExpander) generate(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]interface{}{
		"model":  e.model,
		"prompt": fmt.Sprintf(promptTemplate, query),
		"stream": false,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate returned status %d", resp.StatusCode)
	}
	var body struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return body.Response, nil
}
