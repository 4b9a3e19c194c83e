package testcase

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/storytest/errors"
)

func TestStepAliases(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Step
	}{
		{"canonical", `{"action":"a","data":"d","result":"r"}`, Step{"a", "d", "r"}},
		{"snake case", `{"step":"a","test_data":"d","expected_result":"r"}`, Step{"a", "d", "r"}},
		{"camel case", `{"action":"a","testData":"d","expectedResult":"r"}`, Step{"a", "d", "r"}},
		{"expected", `{"action":"a","expected":"r"}`, Step{"a", "", "r"}},
		{"numbers kept as text", `{"action":"enter age","data":42,"result":true}`, Step{"enter age", "42", "true"}},
		{"null is empty", `{"action":null,"data":"d","result":"r"}`, Step{"", "d", "r"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Step
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStepRejectsNestedValues(t *testing.T) {
	var s Step
	assert.Error(t, json.Unmarshal([]byte(`{"action":{"nested":true}}`), &s))
}

func TestTestCaseAliases(t *testing.T) {
	var tc TestCase
	require.NoError(t, json.Unmarshal([]byte(`{
		"title": "Login works",
		"description": "d",
		"test_steps": [{"action":"a","data":"b","result":"c"}]
	}`), &tc))

	assert.Equal(t, "Login works", tc.Summary)
	assert.Equal(t, []Step{{"a", "b", "c"}}, tc.Steps)
}

func TestTestCaseRoundTripUsesCanonicalKeys(t *testing.T) {
	data, err := json.Marshal(TestCase{Summary: "S", Description: "D", Steps: []Step{{"a", "b", "c"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"S","description":"D","steps":[{"action":"a","data":"b","result":"c"}]}`, string(data))
}

func TestNormalize(t *testing.T) {
	in := []TestCase{
		{Summary: "", Description: "first", Steps: []Step{{Action: "click"}}},
		{Summary: "Kept", Description: "second"},
	}

	out := Normalize(in, "PROJ-1 Login")

	assert.Equal(t, "PROJ-1 Login: Generated Test Case 1", out[0].Summary)
	assert.Equal(t, Step{"click", PlaceholderData, PlaceholderResult}, out[0].Steps[0])
	assert.Equal(t, "Kept", out[1].Summary)
	assert.Nil(t, out[1].Steps, "no steps are synthesized for structured output")

	assert.Equal(t, "", in[0].Summary, "input must not be modified")
	assert.Equal(t, "", in[0].Steps[0].Data)
}

func TestNormalize_WellFormedIsIdentity(t *testing.T) {
	in := []TestCase{{Summary: "S", Description: "D", Steps: []Step{{"a", "b", "c"}}}}
	assert.Equal(t, in, Normalize(in, "title"))
}

func TestPlaceholderSummaryWithoutTitle(t *testing.T) {
	assert.Equal(t, "Generated Test Case 2", PlaceholderSummary("  ", 2))
}

func TestIsBlank(t *testing.T) {
	assert.True(t, TestCase{}.IsBlank())
	assert.True(t, TestCase{Summary: "  "}.IsBlank())
	assert.False(t, TestCase{Description: "x"}.IsBlank())
}

func TestValidateJSON(t *testing.T) {
	valid := `[{"summary":"S","description":"D","steps":[{"action":"a","data":"","result":"r"}]}]`
	assert.NoError(t, ValidateJSON([]byte(valid)))

	tests := []struct {
		name string
		in   string
	}{
		{"not JSON", `[{"summary":`},
		{"empty list", `[]`},
		{"object instead of list", `{"summary":"S","description":"D","steps":[]}`},
		{"empty summary", `[{"summary":"","description":"D","steps":[]}]`},
		{"step missing result", `[{"summary":"S","description":"D","steps":[{"action":"a","data":"d"}]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJSON([]byte(tt.in))
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequest(err))
		})
	}
}

func TestValidateCaseJSON(t *testing.T) {
	assert.NoError(t, ValidateCaseJSON([]byte(`{"summary":"S","description":"","steps":[]}`)))
	assert.Error(t, ValidateCaseJSON([]byte(`{"summary":"S"}`)))
}
