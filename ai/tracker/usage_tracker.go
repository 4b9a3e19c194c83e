package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/storytest/errors"
)

// ModelUsage represents a record of language model usage
type ModelUsage struct {
	ID                int        `json:"id" db:"id"`
	OperationType     string     `json:"operation_type" db:"operation_type"` // e.g. "generate-tests"
	EntityType        string     `json:"entity_type" db:"entity_type"`       // e.g. "story"
	EntityID          string     `json:"entity_id" db:"entity_id"`           // e.g. "PROJ-123"
	ModelName         string     `json:"model_name" db:"model_name"`
	ModelProvider     string     `json:"model_provider" db:"model_provider"`
	ModelConfig       *string    `json:"model_config,omitempty" db:"model_config"`
	RequestTimestamp  time.Time  `json:"request_timestamp" db:"request_timestamp"`
	ResponseTimestamp *time.Time `json:"response_timestamp,omitempty" db:"response_timestamp"`
	InputTokens       *int       `json:"input_tokens,omitempty" db:"input_tokens"`
	OutputTokens      *int       `json:"output_tokens,omitempty" db:"output_tokens"`
	StopReason        *string    `json:"stop_reason,omitempty" db:"stop_reason"`
	Cost              *float64   `json:"cost,omitempty" db:"cost"`
	Success           bool       `json:"success" db:"success"`
	ErrorMessage      *string    `json:"error_message,omitempty" db:"error_message"`
	Metadata          *string    `json:"metadata,omitempty" db:"metadata"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// ModelConfig represents the configuration used for a model request
type ModelConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// UsageMetadata represents additional context for model usage
type UsageMetadata struct {
	RunID           string `json:"run_id,omitempty"`
	OperationDetail string `json:"operation_detail,omitempty"`
	Attempts        int    `json:"attempts,omitempty"`
	PromptLength    *int   `json:"prompt_length,omitempty"`
	ResponseLength  *int   `json:"response_length,omitempty"`
}

// UsageTracker records model usage in the ai_model_usage table
type UsageTracker struct {
	db *sql.DB
}

// NewUsageTracker creates a new usage tracker
func NewUsageTracker(db *sql.DB) *UsageTracker {
	return &UsageTracker{db: db}
}

// TrackUsage records model usage in the database
func (t *UsageTracker) TrackUsage(ctx context.Context, usage *ModelUsage) error {
	query := `
		INSERT INTO ai_model_usage (
			operation_type, entity_type, entity_id, model_name, model_provider,
			model_config, request_timestamp, response_timestamp, input_tokens,
			output_tokens, stop_reason, cost, success, error_message, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := t.db.ExecContext(ctx, query,
		usage.OperationType, usage.EntityType, usage.EntityID,
		usage.ModelName, usage.ModelProvider, usage.ModelConfig,
		usage.RequestTimestamp, usage.ResponseTimestamp, usage.InputTokens,
		usage.OutputTokens, usage.StopReason, usage.Cost, usage.Success,
		usage.ErrorMessage, usage.Metadata,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record model usage")
	}
	return nil
}

// UsageStats represents aggregated usage statistics
type UsageStats struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	InputTokens        int     `json:"input_tokens"`
	OutputTokens       int     `json:"output_tokens"`
	TotalCost          float64 `json:"total_cost"`
	Truncated          int     `json:"truncated"` // responses cut off at max_tokens
}

// GetUsageStats returns usage statistics since the given time
func (t *UsageTracker) GetUsageStats(ctx context.Context, since time.Time) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN success = 1 THEN 1 END),
			COALESCE(SUM(COALESCE(input_tokens, 0)), 0),
			COALESCE(SUM(COALESCE(output_tokens, 0)), 0),
			COALESCE(SUM(COALESCE(cost, 0)), 0),
			COUNT(CASE WHEN stop_reason = 'max_tokens' THEN 1 END)
		FROM ai_model_usage
		WHERE request_timestamp >= ?`

	var stats UsageStats
	err := t.db.QueryRowContext(ctx, query, since).Scan(
		&stats.TotalRequests, &stats.SuccessfulRequests,
		&stats.InputTokens, &stats.OutputTokens, &stats.TotalCost, &stats.Truncated,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage stats")
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}
	return &stats, nil
}

// ModelBreakdown represents usage statistics for a specific model
type ModelBreakdown struct {
	ModelName         string   `json:"model_name"`
	ModelProvider     string   `json:"model_provider"`
	RequestCount      int      `json:"request_count"`
	InputTokens       int      `json:"input_tokens"`
	OutputTokens      int      `json:"output_tokens"`
	TotalCost         float64  `json:"total_cost"`
	AvgResponseTimeMs *float64 `json:"avg_response_time_ms,omitempty"`
}

// GetModelBreakdown returns successful usage grouped by model, costliest first
func (t *UsageTracker) GetModelBreakdown(ctx context.Context, since time.Time) ([]ModelBreakdown, error) {
	query := `
		SELECT
			model_name,
			model_provider,
			COUNT(*),
			SUM(COALESCE(input_tokens, 0)),
			SUM(COALESCE(output_tokens, 0)),
			SUM(COALESCE(cost, 0)),
			AVG(CASE WHEN response_timestamp IS NOT NULL THEN
				(julianday(response_timestamp) - julianday(request_timestamp)) * 86400000
				ELSE NULL END)
		FROM ai_model_usage
		WHERE request_timestamp >= ? AND success = 1
		GROUP BY model_name, model_provider
		ORDER BY SUM(COALESCE(cost, 0)) DESC`

	rows, err := t.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query model breakdown")
	}
	defer rows.Close()

	var breakdown []ModelBreakdown
	for rows.Next() {
		var mb ModelBreakdown
		if err := rows.Scan(&mb.ModelName, &mb.ModelProvider, &mb.RequestCount,
			&mb.InputTokens, &mb.OutputTokens, &mb.TotalCost, &mb.AvgResponseTimeMs); err != nil {
			return nil, errors.Wrap(err, "failed to scan model breakdown")
		}
		breakdown = append(breakdown, mb)
	}
	return breakdown, rows.Err()
}

// NewModelConfig creates a ModelConfig and serializes it to JSON
func NewModelConfig(temperature *float64, maxTokens *int) *string {
	if temperature == nil && maxTokens == nil {
		return nil
	}
	return marshalJSON(ModelConfig{Temperature: temperature, MaxTokens: maxTokens})
}

// NewUsageMetadata serializes metadata to JSON
func NewUsageMetadata(metadata UsageMetadata) *string {
	return marshalJSON(metadata)
}

func marshalJSON(v interface{}) *string {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}
