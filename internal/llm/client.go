// Package llm provides the language-model and embedding clients for the
// summarization and indexing stages, speaking the OpenAI-compatible HTTP
// API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Static errors for LLM client operations.
var (
	// ErrAPIKeyNotSet is returned when no API key is provided and the
	// LLM_API_KEY environment variable is not set.
	ErrAPIKeyNotSet = errors.New("llm: LLM_API_KEY environment variable is not set")
	// ErrModelRequired is returned when the model identifier is not provided.
	ErrModelRequired = errors.New("llm: model is required")
	// ErrEmptyCompletion is returned when the provider returns no choices.
	ErrEmptyCompletion = errors.New("llm: empty completion")
	// ErrServerError is returned when the provider returns a 5xx status code.
	ErrServerError = errors.New("llm: server error")
	// ErrRequestFailed is returned when the request fails with a non-2xx,
	// non-429 status code.
	ErrRequestFailed = errors.New("llm: request failed")
)

// RateLimitError is the distinguished rate-limit failure. Advised carries
// the provider's suggested wait when it could be parsed from the response,
// zero otherwise.
type RateLimitError struct {
	Message string
	Advised time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("llm: rate limited: %s", e.Message)
}

// Client is the summarization stage's language-model port.
type Client interface {
	// Summarize issues one chat completion with the given prompts and
	// returns the raw text reply. Rate-limit failures surface as
	// *RateLimitError.
	Summarize(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Embedder is the indexing stage's embedding-model port. Embed is batched:
// one call per input slice, one vector per input in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HTTPClient implements Client and Embedder against an OpenAI-compatible
// endpoint.
type HTTPClient struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	temperature    float64
	httpClient     *http.Client
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithBaseURL sets a custom base URL for the provider API.
func WithBaseURL(url string) ClientOption {
	return func(c *HTTPClient) {
		c.baseURL = url
	}
}

// WithEmbeddingModel sets the model used for Embed calls.
func WithEmbeddingModel(model string) ClientOption {
	return func(c *HTTPClient) {
		c.embeddingModel = model
	}
}

// WithTemperature sets the sampling temperature for completions.
func WithTemperature(t float64) ClientOption {
	return func(c *HTTPClient) {
		c.temperature = t
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// NewClient creates an HTTPClient for the given completion model. The API
// key can be set via WithAPIKey; if not provided it is read from the
// LLM_API_KEY environment variable.
func NewClient(model string, opts ...ClientOption) (*HTTPClient, error) {
	if model == "" {
		return nil, ErrModelRequired
	}

	c := &HTTPClient{
		baseURL:        "https://api.openai.com/v1",
		model:          model,
		embeddingModel: "text-embedding-3-small",
		temperature:    0.2,
		httpClient:     &http.Client{Timeout: 120 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("LLM_API_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize issues one chat completion and returns the reply text.
func (c *HTTPClient) Summarize(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.temperature,
	}

	var resp chatResponse
	if err := c.doRequest(ctx, c.baseURL+"/chat/completions", reqBody, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		if resp.Error != nil {
			return "", fmt.Errorf("%w: %s", ErrEmptyCompletion, resp.Error.Message)
		}
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns one embedding vector per input text, in input order.
func (c *HTTPClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := embeddingRequest{Model: c.embeddingModel, Input: texts}

	var resp embeddingResponse
	if err := c.doRequest(ctx, c.baseURL+"/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("llm: embeddings count %d does not match inputs %d", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("llm: embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// doRequest performs a single JSON POST and decodes the response.
func (c *HTTPClient) doRequest(ctx context.Context, url string, reqBody, result interface{}) error {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests {
			msg := string(respBody)
			return &RateLimitError{Message: msg, Advised: ParseAdvisedWait(msg)}
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("llm: unmarshal response: %w", err)
	}
	return nil
}
