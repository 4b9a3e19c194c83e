// Package testcase defines the canonical test-case shape shared by the
// recovery pipeline, the case store and the Xray submitter.
package testcase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Placeholders substituted when a field is missing after recovery
const (
	PlaceholderAction = "User performs an action"
	PlaceholderData   = "Test data"
	PlaceholderResult = "Expected result"
)

// Step is one action/data/expected-result triple
type Step struct {
	Action string `json:"action"`
	Data   string `json:"data"`
	Result string `json:"result"`
}

// TestCase is a titled scenario with ordered steps
type TestCase struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

// Field aliases seen in model output, in lookup order
var (
	actionKeys      = []string{"action", "step", "Action"}
	dataKeys        = []string{"data", "test_data", "testData", "Data"}
	resultKeys      = []string{"result", "expected_result", "expectedResult", "expected", "Result"}
	summaryKeys     = []string{"summary", "title", "name", "Summary"}
	descriptionKeys = []string{"description", "Description"}
	stepsKeys       = []string{"steps", "test_steps", "testSteps", "Steps"}
)

// UnmarshalJSON accepts the canonical keys and the common aliases models emit.
// Non-string scalars are kept as their JSON text.
func (s *Step) UnmarshalJSON(b []byte) error {
	fields, err := objectFields(b)
	if err != nil {
		return err
	}
	if s.Action, err = pickString(fields, actionKeys); err != nil {
		return err
	}
	if s.Data, err = pickString(fields, dataKeys); err != nil {
		return err
	}
	if s.Result, err = pickString(fields, resultKeys); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON accepts the canonical keys plus title/name and test_steps aliases
func (tc *TestCase) UnmarshalJSON(b []byte) error {
	fields, err := objectFields(b)
	if err != nil {
		return err
	}
	if tc.Summary, err = pickString(fields, summaryKeys); err != nil {
		return err
	}
	if tc.Description, err = pickString(fields, descriptionKeys); err != nil {
		return err
	}

	tc.Steps = nil
	for _, key := range stepsKeys {
		raw, ok := fields[key]
		if !ok || isNull(raw) {
			continue
		}
		if err := json.Unmarshal(raw, &tc.Steps); err != nil {
			return fmt.Errorf("steps: %w", err)
		}
		break
	}
	return nil
}

// IsBlank reports whether the case carries no content at all
func (tc TestCase) IsBlank() bool {
	return strings.TrimSpace(tc.Summary) == "" &&
		strings.TrimSpace(tc.Description) == "" &&
		len(tc.Steps) == 0
}

// Normalize fills missing summaries and step fields with placeholders.
// title, when non-empty, prefixes generated summaries. Input is not modified.
func Normalize(cases []TestCase, title string) []TestCase {
	out := make([]TestCase, len(cases))
	for i, tc := range cases {
		if strings.TrimSpace(tc.Summary) == "" {
			tc.Summary = PlaceholderSummary(title, i+1)
		}
		steps := make([]Step, len(tc.Steps))
		for j, step := range tc.Steps {
			steps[j] = step.withPlaceholders()
		}
		if tc.Steps == nil {
			steps = nil
		}
		tc.Steps = steps
		out[i] = tc
	}
	return out
}

// PlaceholderSummary names the n-th case (1-based) when the model gave none
func PlaceholderSummary(title string, n int) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Sprintf("Generated Test Case %d", n)
	}
	return fmt.Sprintf("%s: Generated Test Case %d", title, n)
}

func (s Step) withPlaceholders() Step {
	if strings.TrimSpace(s.Action) == "" {
		s.Action = PlaceholderAction
	}
	if strings.TrimSpace(s.Data) == "" {
		s.Data = PlaceholderData
	}
	if strings.TrimSpace(s.Result) == "" {
		s.Result = PlaceholderResult
	}
	return s
}

func objectFields(b []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		// JSON null
		return map[string]json.RawMessage{}, nil
	}
	return fields, nil
}

// pickString returns the first present key's value as text
func pickString(fields map[string]json.RawMessage, keys []string) (string, error) {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || isNull(raw) {
			continue
		}
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] == '"' {
			var s string
			if err := json.Unmarshal(trimmed, &s); err != nil {
				return "", fmt.Errorf("%s: %w", key, err)
			}
			return s, nil
		}
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			return "", fmt.Errorf("%s: expected a string, got %s", key, kindOf(trimmed[0]))
		}
		return string(trimmed), nil
	}
	return "", nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func kindOf(first byte) string {
	if first == '{' {
		return "an object"
	}
	return "an array"
}
