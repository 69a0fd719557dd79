package openai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

// Client is an OpenAI-compatible embeddings client. It serves two rungs of
// the embedding ladder: pointed at a locally hosted sentence-embedding
// server it is the primary strategy, pointed at a hosted API it is the
// second. Responses in both the OpenAI shape and the Ollama-native shape are
// accepted.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int

	// One client instance serves every concurrent upload and question, so
	// the lazily observed dimension is guarded like the vectorizer's fitted
	// state.
	mu        sync.Mutex
	dimension int
}

// Config configures an embeddings client.
type Config struct {
	// Name identifies the ladder rung, e.g. "local" or "openai".
	Name    string
	BaseURL string
	// APIKeyEnv names the environment variable holding the API key. Empty
	// means unauthenticated (typical for a local server).
	APIKeyEnv string
	Model     string
	// Dimension is the expected vector length. Responses with a different
	// length are rejected so the strategy fails over instead of poisoning
	// the index. Zero accepts whatever the server returns.
	Dimension int
	Timeout   time.Duration
}

// NewClient creates an embeddings client from the configuration.
func NewClient(cfg Config) (*Client, error) {
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
		}
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("embeddings base URL is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return &Client{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: t},
		maxRetries: 3,
	}, nil
}

// Name returns the identifier of this embedding strategy.
func (c *Client) Name() string { return c.name }

// Dimension returns the expected vector length, or the length observed on
// the first successful call when none was configured.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// EmbedBatch returns one vector per input text, in input order.
func (c *Client) EmbedBatch(texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload, err := c.request(texts)
	if err != nil {
		return nil, err
	}
	vectors, err := decodeVectors(payload)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%s embeddings: expected %d vectors, got %d", c.name, len(texts), len(vectors))
	}
	c.mu.Lock()
	if c.dimension == 0 {
		c.dimension = len(vectors[0])
	}
	dim := c.dimension
	c.mu.Unlock()
	for _, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%s embeddings: dimension %d, want %d", c.name, len(v), dim)
		}
	}
	return vectors, nil
}

func (c *Client) request(texts []string) ([]byte, error) {
	body, _ := json.Marshal(map[string]any{
		"input": texts,
		"model": c.model,
	})
	url := c.baseURL + "/embeddings"
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(retryDelay(attempt))
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			delay := retryDelay(attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					delay = time.Duration(secs) * time.Second
				}
			}
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("%s embeddings failed: %s", c.name, resp.Status)
			time.Sleep(delay)
			continue
		}
		if resp.StatusCode >= 300 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%s embeddings failed: %s", c.name, resp.Status)
		}
		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			time.Sleep(retryDelay(attempt))
			continue
		}
		return payload, nil
	}
	return nil, lastErr
}

func decodeVectors(payload []byte) ([][]float64, error) {
	// OpenAI-compatible response
	var openaiOut struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil && len(openaiOut.Data) > 0 {
		vectors := make([][]float64, len(openaiOut.Data))
		for i, d := range openaiOut.Data {
			idx := d.Index
			if idx < 0 || idx >= len(vectors) {
				idx = i
			}
			vectors[idx] = d.Embedding
		}
		return vectors, nil
	}
	// Ollama-native batch shape: { "embeddings": [[...], ...] }
	var ollamaOut struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil && len(ollamaOut.Embeddings) > 0 {
		return ollamaOut.Embeddings, nil
	}
	return nil, errors.New("no embeddings returned")
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
