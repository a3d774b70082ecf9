// Package gateway provides clients for the external integrations the
// screening service depends on: the model provider API for image
// classification and analysis, and file storage for uploaded radiographs.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/osteoscope/screening-service/internal/observability"
)

const (
	// defaultChatCompletionsPath is the OpenAI chat completions endpoint path.
	defaultChatCompletionsPath = "/v1/chat/completions"

	// defaultTemperature matches the conservative setting used for clinical prompts.
	defaultTemperature = 0.2
)

// Invocation describes one model call. Prompt text and any attached image
// URLs become a single user message; Schema, when set, constrains the output
// to a JSON document matching it.
type Invocation struct {
	// Operation labels the call for metrics and logs (e.g., "classify_image").
	Operation string

	// System is the optional system prompt.
	System string

	// Prompt is the user prompt text.
	Prompt string

	// FileURLs are image URLs attached to the user message.
	FileURLs []string

	// Schema is the JSON schema the response must conform to. When nil the
	// model returns free text.
	Schema json.RawMessage

	// SchemaName names the schema for the provider. Defaults to "response".
	SchemaName string

	// Temperature overrides the client default when non-nil.
	Temperature *float64
}

// LLMClient invokes the model provider.
type LLMClient interface {
	// Invoke sends the invocation and returns the raw text output.
	Invoke(ctx context.Context, inv Invocation) (string, error)

	// Model returns the model identifier being used.
	Model() string
}

// InvokeStructured sends the invocation and unmarshals the JSON output into out.
func InvokeStructured(ctx context.Context, c LLMClient, inv Invocation, out any) error {
	text, err := c.Invoke(ctx, inv)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("parse structured model output: %w", err)
	}
	return nil
}

// chatRequest is the request body for the chat completions API.
type chatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatMessage represents a single message. Content is either a plain string
// or a list of content parts for multimodal messages.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// contentPart is one element of a multimodal message.
type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// responseFormat requests schema-constrained JSON output.
type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema jsonSchemaSpec `json:"json_schema"`
}

type jsonSchemaSpec struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// chatResponse is the response body from the chat completions API.
type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// openaiAPIErrorDetail represents the nested error object in an API error response.
type openaiAPIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// openaiErrorResponse wraps the error payload from the API.
type openaiErrorResponse struct {
	Error openaiAPIErrorDetail `json:"error"`
}

// OpenAIClient implements LLMClient using the OpenAI chat completions API.
type OpenAIClient struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxRetries  int
	retryDelay  time.Duration
	limiter     *RateLimiter
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// OpenAIConfig holds the parameters needed to create an OpenAI client.
// This is defined in the gateway package to avoid importing the config package.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the model identifier (e.g., "gpt-4o-mini").
	Model string
	// BaseURL is the API base URL.
	BaseURL string
	// RequestsPerSecond caps the sustained request rate. Zero disables limiting.
	RequestsPerSecond float64
	// Burst is the rate limiter burst size.
	Burst int
}

// NewOpenAIClient creates a new OpenAIClient with the given configuration.
// The timeout parameter controls the HTTP client timeout for API calls.
// The maxRetries parameter controls how many times transient errors are retried.
func NewOpenAIClient(cfg OpenAIConfig, timeout time.Duration, maxRetries int, metrics *observability.Metrics, logger zerolog.Logger) *OpenAIClient {
	var limiter *RateLimiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = NewRateLimiter(cfg.RequestsPerSecond, burst)
	}
	return &OpenAIClient{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: defaultTemperature,
		maxRetries:  maxRetries,
		retryDelay:  time.Second,
		limiter:     limiter,
		metrics:     metrics,
		logger:      logger.With().Str("component", "gateway").Logger(),
	}
}

// Model returns the model identifier being used.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Invoke sends the invocation to the chat completions API and returns the
// text content of the first choice.
//
// Transient HTTP errors (status 429 and 5xx) are retried up to maxRetries
// times with exponential backoff. Context cancellation is respected between
// retries.
func (c *OpenAIClient) Invoke(ctx context.Context, inv Invocation) (string, error) {
	apiReq := c.buildRequest(inv)

	start := time.Now()
	var resp *chatResponse
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("openai: context cancelled during retry: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("openai: rate limit wait: %w", err)
			}
		}

		resp, lastErr = c.sendRequest(ctx, apiReq)
		if lastErr == nil {
			break
		}

		// Only retry on transient errors.
		if !isTransientError(lastErr) {
			c.recordFailure(inv.Operation, lastErr)
			return "", lastErr
		}
	}

	if lastErr != nil {
		c.recordFailure(inv.Operation, lastErr)
		return "", fmt.Errorf("openai: all %d retries exhausted: %w", c.maxRetries, lastErr)
	}

	if c.metrics != nil {
		c.metrics.RecordLLMRequest(inv.Operation, c.model, time.Since(start).Seconds())
	}

	return c.extractContent(resp)
}

// buildRequest assembles the wire request from the invocation. Image URLs
// turn the user message into a multimodal content part list.
func (c *OpenAIClient) buildRequest(inv Invocation) chatRequest {
	temperature := c.temperature
	if inv.Temperature != nil {
		temperature = *inv.Temperature
	}

	var messages []chatMessage
	if inv.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: inv.System})
	}

	if len(inv.FileURLs) == 0 {
		messages = append(messages, chatMessage{Role: "user", Content: inv.Prompt})
	} else {
		parts := []contentPart{{Type: "text", Text: inv.Prompt}}
		for _, url := range inv.FileURLs {
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: url},
			})
		}
		messages = append(messages, chatMessage{Role: "user", Content: parts})
	}

	req := chatRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages:    messages,
	}

	if inv.Schema != nil {
		name := inv.SchemaName
		if name == "" {
			name = "response"
		}
		req.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaSpec{
				Name:   name,
				Schema: inv.Schema,
			},
		}
	}

	return req
}

// sendRequest sends a single request to the chat completions API and returns
// the parsed response or an error.
func (c *OpenAIClient) sendRequest(ctx context.Context, apiReq chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + defaultChatCompletionsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are considered transient and eligible for retry.
		return nil, &APIError{
			Provider:   "openai",
			StatusCode: 0,
			Message:    fmt.Sprintf("request failed: %v", err),
			Type:       "network_error",
		}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, &APIError{
			Provider:   "openai",
			StatusCode: 0,
			Message:    fmt.Sprintf("failed to read response body: %v", err),
			Type:       "network_error",
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseOpenAIAPIError(httpResp.StatusCode, respBody)
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("openai: failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

// extractContent returns the text content of the first choice.
func (c *OpenAIClient) extractContent(resp *chatResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: response contains no choices")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("openai: response contains empty content")
	}
	return content, nil
}

func (c *OpenAIClient) recordFailure(operation string, err error) {
	if c.metrics == nil {
		return
	}
	errorType := "request_error"
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Type != "" {
		errorType = apiErr.Type
	}
	c.metrics.RecordLLMRequestFailed(operation, c.model, errorType)
}

// parseOpenAIAPIError parses an API error from the response status code and body.
func parseOpenAIAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   "openai",
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp openaiErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
		apiErr.Code = errResp.Error.Code
	}

	return apiErr
}
