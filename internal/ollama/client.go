// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// Endpoint selects which completion endpoint Complete uses.
type Endpoint string

const (
	EndpointChat     Endpoint = "chat"     // POST /v1/chat/completions
	EndpointGenerate Endpoint = "generate" // POST /api/generate
)

// =============================================================================
// INTERFACES
// =============================================================================

// Completer produces a completion for a transcript.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// Backend is everything the session layer needs from a model server.
type Backend interface {
	Completer
	ListModels(ctx context.Context) ([]ModelInfo, error)
	ModelExists(ctx context.Context, name string) (bool, error)
	CheckRunning(ctx context.Context) error
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434)
	BaseURL string

	// Timeout bounds each call, applied as a context deadline (default: 30s)
	Timeout time.Duration

	// DefaultModel is used when a request names no model (default: gemma3:1b)
	DefaultModel string

	// Endpoint selects chat completions or legacy generate (default: chat)
	Endpoint Endpoint

	// RateLimit caps requests per second; 0 means unlimited
	RateLimit float64

	// Logger receives request diagnostics (default: no-op)
	Logger *zap.Logger

	// HTTPClient overrides the transport, mostly for tests
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "http://localhost:11434",
		Timeout:      30 * time.Second,
		DefaultModel: "gemma3:1b",
		Endpoint:     EndpointChat,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

var _ Backend = (*Client)(nil)

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
// Zero fields are filled from DefaultConfig.
func NewClientWithConfig(config *ClientConfig) *Client {
	defaults := DefaultConfig()
	cfg := *defaults
	if config != nil {
		cfg = *config
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaults.DefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	// Timeouts come from per-call contexts, not the transport.
	// Ollama runs locally over plain HTTP.
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		config:     &cfg,
		httpClient: httpClient,
		log:        cfg.Logger.Named("ollama"),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Config returns a copy of the client configuration.
func (c *Client) Config() ClientConfig {
	return *c.config
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Kind: KindUnknown, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err, "")
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Kind:       KindServerError,
			Message:    "unexpected status from Ollama",
			StatusCode: resp.StatusCode,
		}
	}
	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all installed models from GET /api/tags.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Kind: KindUnknown, Message: "failed to create request", Cause: err}
	}

	var result ListModelsResponse
	if err := c.do(req, "", &result); err != nil {
		return nil, err
	}
	if result.Models == nil {
		result.Models = []ModelInfo{}
	}
	return result.Models, nil
}

// ModelExists reports whether name is installed. A bare name also matches
// its ":latest" tag.
func (c *Client) ModelExists(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	return containsModel(models, name), nil
}

func containsModel(models []ModelInfo, name string) bool {
	for _, m := range models {
		if m.Name == name || m.Name == name+":latest" || m.Model == name {
			return true
		}
	}
	return false
}

// =============================================================================
// COMPLETIONS
// =============================================================================

// Complete sends the transcript to the configured endpoint and returns the
// reply. The whole call is bounded by the configured timeout.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if req.Model == "" {
		req.Model = c.config.DefaultModel
	}
	if len(req.Messages) == 0 {
		return nil, &ClientError{Kind: KindInvalidInput, Message: "no messages to send", Model: req.Model}
	}

	if err := c.wait(ctx, req.Model); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	var (
		res *CompletionResult
		err error
	)
	if c.config.Endpoint == EndpointGenerate {
		res, err = c.generate(ctx, req.Model, FlattenPrompt(req.Messages))
	} else {
		res, err = c.chatCompletion(ctx, req)
	}
	elapsed := time.Since(start)

	if err != nil {
		c.log.Debug("completion failed",
			zap.String("model", req.Model),
			zap.String("kind", string(KindOf(err))),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	res.Duration = elapsed
	c.log.Debug("completion finished",
		zap.String("model", res.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

// Generate calls the legacy POST /api/generate endpoint with one prompt.
func (c *Client) Generate(ctx context.Context, model, prompt string) (*CompletionResult, error) {
	if model == "" {
		model = c.config.DefaultModel
	}
	if err := c.wait(ctx, model); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	res, err := c.generate(ctx, model, prompt)
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (c *Client) chatCompletion(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	body := ChatCompletionRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   false,
	}

	var out ChatCompletionResponse
	if err := c.postJSON(ctx, "/v1/chat/completions", req.Model, body, &out); err != nil {
		return nil, err
	}

	if len(out.Choices) == 0 || out.Choices[0].Message == nil || out.Choices[0].Message.Content == nil {
		return nil, &ClientError{
			Kind:    KindMalformedResponse,
			Message: "response has no choices[0].message.content",
			Model:   req.Model,
		}
	}

	model := out.Model
	if model == "" {
		model = req.Model
	}
	return &CompletionResult{
		Content: *out.Choices[0].Message.Content,
		Model:   model,
		Usage:   out.Usage,
	}, nil
}

func (c *Client) generate(ctx context.Context, model, prompt string) (*CompletionResult, error) {
	body := GenerateRequest{Model: model, Prompt: prompt, Stream: false}

	var out GenerateResponse
	if err := c.postJSON(ctx, "/api/generate", model, body, &out); err != nil {
		return nil, err
	}
	if out.Response == nil {
		return nil, &ClientError{Kind: KindMalformedResponse, Message: "response has no response field", Model: model}
	}

	res := &CompletionResult{Content: *out.Response, Model: model}
	if out.PromptEvalCount > 0 || out.EvalCount > 0 {
		res.Usage = &Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		}
	}
	return res, nil
}

// FlattenPrompt renders a transcript as a single prompt for /api/generate.
// A lone user message is sent as-is.
func FlattenPrompt(messages []Message) string {
	if len(messages) == 1 && messages[0].Role == "user" {
		return messages[0].Content
	}
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			sb.WriteString("System: ")
		case "assistant":
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString("User: ")
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Assistant:")
	return sb.String()
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) wait(ctx context.Context, model string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return classifyTransportError(err, model)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path, model string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &ClientError{Kind: KindUnknown, Message: "failed to marshal request", Model: model, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &ClientError{Kind: KindUnknown, Message: "failed to create request", Model: model, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, model, out)
}

// do executes req and decodes a 200 body into out, mapping every failure to
// a ClientError.
func (c *Client) do(req *http.Request, model string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err, model)
	}
	defer drainAndClose(resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransportError(err, model)
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, data, model)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &ClientError{Kind: KindMalformedResponse, Message: "failed to decode response", Model: model, Cause: err}
	}
	return nil
}

// statusError maps a non-200 reply. A 404 whose body mentions the model is
// ModelNotFound; anything else is a ServerError carrying the status.
func statusError(status int, body []byte, model string) *ClientError {
	var eb errorBody
	detail := ""
	if json.Unmarshal(body, &eb) == nil {
		detail = eb.message()
	}

	if status == http.StatusNotFound && strings.Contains(strings.ToLower(detail), "model") {
		return &ClientError{Kind: KindModelNotFound, Message: detail, StatusCode: status, Model: model}
	}

	if detail == "" {
		detail = http.StatusText(status)
	}
	return &ClientError{Kind: KindServerError, Message: detail, StatusCode: status, Model: model}
}

func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, r)
	r.Close()
}
