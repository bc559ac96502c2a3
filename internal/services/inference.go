package services

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

	"github.com/sethvargo/go-retry"

	"github.com/platewise/mealscan/internal/logging"
	"github.com/platewise/mealscan/internal/metrics"
)

const (
	defaultInferenceTimeout = 12 * time.Second
	transientRetries        = 1
	retryBaseDelay          = 500 * time.Millisecond
)

// Error kinds for failed inference calls
const (
	InferenceErrTimeout   = "timeout"
	InferenceErrTransient = "transient"
	InferenceErrCall      = "call"
)

// InferenceError classifies a failed call to the model provider. Reason()
// produces the stable string recorded as a fallback reason on analyses.
type InferenceError struct {
	Kind   string
	Detail string
	Err    error
}

func (e *InferenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("inference %s: %s", e.Kind, e.Detail)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Reason encodes the failure for storage, e.g. "TIMEOUT:deadline exceeded"
func (e *InferenceError) Reason() string {
	switch e.Kind {
	case InferenceErrTimeout:
		return "TIMEOUT:" + e.Detail
	case InferenceErrTransient:
		return "TRANSIENT:" + e.Detail
	default:
		return "CALL_ERR:" + e.Detail
	}
}

// InferenceCallInput carries everything one completion call needs. Values
// come from live tier settings, so two calls may hit different providers.
type InferenceCallInput struct {
	BaseURL  string
	APIKey   string
	Model    string
	Prompt   string
	Text     string
	ImageURL string
	Timeout  time.Duration
}

// InferenceClient talks to an OpenAI-compatible chat completions endpoint
type InferenceClient struct {
	httpClient *http.Client
	metrics    *metrics.Registry
	logger     logging.Logger
}

// NewInferenceClient creates a client. Timeouts are applied per call from
// the input rather than on the underlying http.Client.
func NewInferenceClient(registry *metrics.Registry, logger logging.Logger) *InferenceClient {
	return &InferenceClient{
		httpClient: &http.Client{},
		metrics:    registry,
		logger:     logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *imageURLBlock `json:"image_url,omitempty"`
}

type imageURLBlock struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Call sends one chat completion request and returns the raw model output.
// The timeout covers the whole call including the single retry granted to
// transient failures. Errors are always *InferenceError.
func (c *InferenceClient) Call(ctx context.Context, input InferenceCallInput) (string, error) {
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = defaultInferenceTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(buildChatRequest(input))
	if err != nil {
		return "", &InferenceError{Kind: InferenceErrCall, Detail: "encode request", Err: err}
	}

	endpoint := strings.TrimSuffix(input.BaseURL, "/") + "/chat/completions"

	start := time.Now()
	var content string

	backoff := retry.WithMaxRetries(transientRetries, retry.NewFibonacci(retryBaseDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var attemptErr error
		content, attemptErr = c.attempt(ctx, endpoint, input.APIKey, payload)
		return attemptErr
	})

	elapsed := time.Since(start)
	outcome := "success"
	var infErr *InferenceError
	if err != nil {
		if !errors.As(err, &infErr) {
			infErr = classifyTransportError(err)
			err = infErr
		}
		outcome = infErr.Kind
	}
	c.metrics.Observe("inference_call_duration_seconds", metrics.Labels{"outcome": outcome}, elapsed.Seconds())

	if err != nil {
		c.logger.Warn(ctx, "inference call failed",
			"model", input.Model, "kind", infErr.Kind, "detail", infErr.Detail,
			"elapsed_ms", elapsed.Milliseconds(), "has_image", input.ImageURL != "", "timeout", timeout)
		return "", err
	}

	c.logger.Debug(ctx, "inference call completed",
		"model", input.Model, "elapsed_ms", elapsed.Milliseconds(),
		"has_image", input.ImageURL != "", "timeout", timeout)
	return content, nil
}

func (c *InferenceClient) attempt(ctx context.Context, endpoint, apiKey string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &InferenceError{Kind: InferenceErrCall, Detail: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		infErr := classifyTransportError(err)
		if infErr.Kind == InferenceErrTransient {
			return "", retry.RetryableError(infErr)
		}
		return "", infErr
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		infErr := &InferenceError{Kind: InferenceErrTransient, Detail: fmt.Sprintf("provider returned %d", resp.StatusCode)}
		return "", retry.RetryableError(infErr)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		detail := fmt.Sprintf("provider returned %d", resp.StatusCode)
		if msg := strings.TrimSpace(string(body)); msg != "" {
			detail += ": " + msg
		}
		return "", &InferenceError{Kind: InferenceErrCall, Detail: detail}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &InferenceError{Kind: InferenceErrCall, Detail: "decode response", Err: err}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", &InferenceError{Kind: InferenceErrCall, Detail: "empty completion"}
	}

	return parsed.Choices[0].Message.Content, nil
}

func buildChatRequest(input InferenceCallInput) chatRequest {
	var userContent any = input.Text
	if input.ImageURL != "" {
		userContent = []contentPart{
			{Type: "text", Text: input.Text},
			{Type: "image_url", ImageURL: &imageURLBlock{URL: input.ImageURL}},
		}
	}

	return chatRequest{
		Model: input.Model,
		Messages: []chatMessage{
			{Role: "system", Content: input.Prompt},
			{Role: "user", Content: userContent},
		},
		MaxTokens: 1024,
	}
}

func classifyTransportError(err error) *InferenceError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &InferenceError{Kind: InferenceErrTimeout, Detail: "deadline exceeded", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &InferenceError{Kind: InferenceErrCall, Detail: "request cancelled", Err: err}
	}
	return &InferenceError{Kind: InferenceErrTransient, Detail: "transport error", Err: err}
}
