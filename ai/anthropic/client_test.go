package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/storytest/ai/tracker"
	"github.com/teranos/storytest/errors"
	"github.com/teranos/storytest/internal/httpclient"
)

type recordedUsage struct {
	rows []*tracker.ModelUsage
}

func (r *recordedUsage) TrackUsage(_ context.Context, usage *tracker.ModelUsage) error {
	r.rows = append(r.rows, usage)
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, usage UsageRecorder, log *zap.SugaredLogger) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Config{
		APIKey:  "sk-test",
		BaseURL: server.URL,
		HTTP:    httpclient.Wrap(server.Client()),
		Usage:   usage,
		Logger:  log,
	})
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return client
}

func writeMessage(w http.ResponseWriter, text, stopReason string, in, out int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(MessagesResponse{
		Type:       "message",
		Role:       "assistant",
		Model:      DefaultModel,
		Content:    []ContentBlock{{Type: "text", Text: text}},
		StopReason: stopReason,
		Usage:      Usage{InputTokens: in, OutputTokens: out},
	})
}

func TestComplete_SendsMessagesRequest(t *testing.T) {
	usage := &recordedUsage{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))

		var req MessagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		assert.Equal(t, 8000, req.MaxTokens)
		assert.InDelta(t, 0.2, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "Write tests for PROJ-1", req.Messages[0].Content)

		writeMessage(w, `[{"summary":"S"}]`, "end_turn", 120, 40)
	}, usage, nil)

	completion, err := client.Complete(context.Background(), Request{
		Prompt:        "Write tests for PROJ-1",
		OperationType: "generate-tests",
		EntityType:    "story",
		EntityID:      "PROJ-1",
	})
	require.NoError(t, err)

	assert.Equal(t, `[{"summary":"S"}]`, completion.Text)
	assert.Equal(t, 120, completion.InputTokens)
	assert.Equal(t, 40, completion.OutputTokens)
	assert.False(t, completion.Truncated())
	assert.Equal(t, 1, completion.Attempts)

	require.Len(t, usage.rows, 1)
	row := usage.rows[0]
	assert.True(t, row.Success)
	assert.Equal(t, "PROJ-1", row.EntityID)
	assert.Equal(t, "anthropic", row.ModelProvider)
	require.NotNil(t, row.Cost)
	assert.InDelta(t, CalculateCost(DefaultModel, 120, 40), *row.Cost, 1e-12)
}

func TestComplete_TruncationIsAWarningNotAnError(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, `[{"summary":"cut`, StopReasonMaxTokens, 10, 8000)
	}, nil, zap.New(core).Sugar())

	completion, err := client.Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.True(t, completion.Truncated())

	entries := logs.FilterMessageSnippet("truncated").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 8000, fields["used"])
	assert.EqualValues(t, 8000, fields["limit"])
}

func TestComplete_RetriesOverloaded(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(529)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error"}}`))
			return
		}
		writeMessage(w, "ok", "end_turn", 1, 1)
	}, nil, nil)

	completion, err := client.Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", completion.Text)
	assert.Equal(t, 3, completion.Attempts)
	assert.EqualValues(t, 3, calls.Load())
}

func TestComplete_DoesNotRetryAuthFailure(t *testing.T) {
	var calls atomic.Int32
	usage := &recordedUsage{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid x-api-key"}}`))
	}, usage, nil)

	_, err := client.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, errors.IsUnauthorized(err))
	assert.EqualValues(t, 1, calls.Load())

	require.Len(t, usage.rows, 1)
	assert.False(t, usage.rows[0].Success)
	require.NotNil(t, usage.rows[0].ErrorMessage)
	assert.Contains(t, *usage.rows[0].ErrorMessage, "401")
}

func TestComplete_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, nil, nil)

	_, err := client.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempt(s)")
	assert.EqualValues(t, 3, calls.Load())
}

func TestComplete_NotConfigured(t *testing.T) {
	client := NewClient(Config{})

	_, err := client.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotConfigured))
	assert.False(t, client.IsConfigured())
}

func TestCalculateCost(t *testing.T) {
	assert.InDelta(t, 3.0+15.0, CalculateCost("claude-sonnet-4-20250514", 1_000_000, 1_000_000), 1e-9)
	assert.Equal(t, DefaultPricingFallback, CalculateCost("unknown-model", 10, 10))
}
