package anthropic

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/storytest/ai/tracker"
	"github.com/teranos/storytest/errors"
	"github.com/teranos/storytest/internal/httpclient"
	"github.com/teranos/storytest/internal/util"
	"github.com/teranos/storytest/logger"
)

const (
	// DefaultModel is the default Claude model
	DefaultModel = "claude-sonnet-4-20250514"

	// BaseURL is the Anthropic API endpoint
	BaseURL = "https://api.anthropic.com/v1"

	// APIVersion is the required Anthropic API version header
	APIVersion = "2023-06-01"

	// StopReasonMaxTokens marks a response cut off by the token limit
	StopReasonMaxTokens = "max_tokens"

	provider = "anthropic"
)

// UsageRecorder persists one row per model request
type UsageRecorder interface {
	TrackUsage(ctx context.Context, usage *tracker.ModelUsage) error
}

// Config holds Anthropic client configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	HTTP        *httpclient.Client
	Usage       UsageRecorder // optional
	Logger      *zap.SugaredLogger
}

// Client represents an Anthropic API client
type Client struct {
	config Config
	http   *httpclient.Client
	usage  UsageRecorder
	logger *zap.SugaredLogger
	sleep  func(context.Context, time.Duration) error
}

// NewClient creates a new Anthropic API client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = BaseURL
	}
	if config.Temperature == 0 {
		config.Temperature = 0.2 // Deterministic default
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 8000
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.HTTP == nil {
		config.HTTP = httpclient.New(httpclient.Options{Timeout: 300 * time.Second})
	}

	return &Client{
		config: config,
		http:   config.HTTP,
		usage:  config.Usage,
		logger: logger.OrNop(config.Logger),
		sleep:  sleepContext,
	}
}

// MessagesRequest represents a request to the Anthropic Messages API
type MessagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature"`
}

// Message represents a message in the conversation
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// MessagesResponse represents the response from the Messages API
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlock represents a content block in the response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage represents token usage information
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request is one prompt plus the context recorded alongside its usage
type Request struct {
	Prompt string
	System string

	OperationType string // e.g. "generate-tests"
	EntityType    string // e.g. "story"
	EntityID      string // e.g. "PROJ-123"
	RunID         string
}

// Completion is the text answer and its accounting
type Completion struct {
	Text         string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
	Attempts     int
	Raw          json.RawMessage // full response envelope, for diagnostics
}

// Truncated reports whether the model stopped at the token limit
func (c *Completion) Truncated() bool {
	return c.StopReason == StopReasonMaxTokens
}

// Complete sends the prompt and returns the concatenated text blocks.
// Network errors, timeouts, 429 and 5xx are retried with linear backoff.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	if !c.IsConfigured() {
		return nil, errors.NewNotConfiguredError("anthropic.api_key")
	}

	body := MessagesRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		System:      req.System,
		Messages: []Message{
			{Role: "user", Content: req.Prompt},
		},
	}

	log := logger.FromContext(ctx, c.logger)
	requestTime := time.Now().UTC()

	var resp *MessagesResponse
	var raw json.RawMessage
	var err error
	attempts := 0
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			log.Infow("Retrying model request",
				logger.FieldAttempt, attempt+1,
				logger.FieldInterval, delay.String(),
			)
			if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
				err = sleepErr
				break
			}
		}

		attempts++
		resp, raw, err = c.createMessages(ctx, body)
		if err == nil {
			break
		}

		log.Warnw("Model request failed",
			logger.FieldAttempt, attempt+1,
			logger.FieldError, err.Error(),
		)
		if !isRetryableError(err) {
			break
		}
	}

	if err != nil {
		c.trackUsage(ctx, req, requestTime, nil, attempts, err)
		return nil, errors.Wrapf(err, "anthropic request failed after %d attempt(s)", attempts)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	completion := &Completion{
		Text:         text.String(),
		Model:        c.config.Model,
		StopReason:   resp.StopReason,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Attempts:     attempts,
		Raw:          raw,
	}
	if resp.Model != "" {
		completion.Model = resp.Model
	}

	if completion.Truncated() {
		log.Warnw("Model response truncated at the token limit; output may be incomplete",
			"used", completion.OutputTokens,
			"limit", c.config.MaxTokens,
		)
	}
	log.Debugw("Model response received",
		logger.FieldModel, completion.Model,
		logger.FieldInputTokens, completion.InputTokens,
		logger.FieldOutputTokens, completion.OutputTokens,
		logger.FieldStopReason, completion.StopReason,
		logger.FieldSize, len(completion.Text),
	)

	c.trackUsage(ctx, req, requestTime, completion, attempts, nil)
	return completion, nil
}

// createMessages sends a single request to the Messages API
func (c *Client) createMessages(ctx context.Context, body MessagesRequest) (*MessagesResponse, json.RawMessage, error) {
	headers := http.Header{}
	headers.Set("x-api-key", c.config.APIKey)
	headers.Set("anthropic-version", APIVersion)

	var raw json.RawMessage
	url := strings.TrimRight(c.config.BaseURL, "/") + "/messages"
	if err := c.http.DoJSON(ctx, http.MethodPost, url, headers, body, &raw); err != nil {
		return nil, nil, err
	}

	var resp MessagesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, raw, errors.Wrapf(err, "failed to decode messages response: %s", httpclient.Preview(raw, 200))
	}
	return &resp, raw, nil
}

// isRetryableError checks if an error is worth retrying
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, transient := range []string{
		"connection reset by peer",
		"connection refused",
		"i/o timeout",
		"temporary failure",
		"network is unreachable",
		"eof",
	} {
		if strings.Contains(errStr, transient) {
			return true
		}
	}
	return false
}

// trackUsage records the request; recording failures are logged, never returned
func (c *Client) trackUsage(ctx context.Context, req Request, requestTime time.Time, completion *Completion, attempts int, requestErr error) {
	if c.usage == nil {
		return
	}

	usage := &tracker.ModelUsage{
		OperationType:     req.OperationType,
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		ModelName:         c.config.Model,
		ModelProvider:     provider,
		ModelConfig:       tracker.NewModelConfig(util.Ptr(c.config.Temperature), util.Ptr(c.config.MaxTokens)),
		RequestTimestamp:  requestTime,
		ResponseTimestamp: util.Ptr(time.Now().UTC()),
		Success:           requestErr == nil,
	}
	metadata := tracker.UsageMetadata{
		RunID:        req.RunID,
		Attempts:     attempts,
		PromptLength: util.Ptr(len(req.Prompt)),
	}

	if completion != nil {
		usage.ModelName = completion.Model
		usage.InputTokens = util.Ptr(completion.InputTokens)
		usage.OutputTokens = util.Ptr(completion.OutputTokens)
		usage.StopReason = util.Ptr(completion.StopReason)
		usage.Cost = util.Ptr(CalculateCost(completion.Model, completion.InputTokens, completion.OutputTokens))
		metadata.ResponseLength = util.Ptr(len(completion.Text))
	}
	if requestErr != nil {
		usage.ErrorMessage = util.Ptr(requestErr.Error())
	}
	usage.Metadata = tracker.NewUsageMetadata(metadata)

	// Record even when the request context was cancelled
	if err := c.usage.TrackUsage(context.WithoutCancel(ctx), usage); err != nil {
		c.logger.Warnw("Failed to record model usage", logger.FieldError, err.Error())
	}
}

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.config.Model
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
