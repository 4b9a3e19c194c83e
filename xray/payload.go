package xray

import (
	"strings"

	"github.com/teranos/storytest/testcase"
)

// DefaultTestType is used when no test type is configured
const DefaultTestType = "Manual"

// TestRecord is one test in an import request
type TestRecord struct {
	Fields   RecordFields `json:"fields"`
	TestType string       `json:"testtype"`
	Steps    []RecordStep `json:"steps"`
}

// RecordFields are the Jira fields of the created Test issue
type RecordFields struct {
	Summary     string  `json:"summary"`
	Description string  `json:"description"`
	Project     Project `json:"project"`
	IssueType   Type    `json:"issuetype"`
}

// Project references a Jira project by key
type Project struct {
	Key string `json:"key"`
}

// Type references an issue type by name
type Type struct {
	Name string `json:"name"`
}

// RecordStep is a manual test step
type RecordStep struct {
	Action string `json:"action"`
	Data   string `json:"data"`
	Result string `json:"result"`
}

// BuildRecords converts cases into import records for projectKey
func BuildRecords(cases []testcase.TestCase, projectKey, testType string) []TestRecord {
	if testType == "" {
		testType = DefaultTestType
	}
	records := make([]TestRecord, 0, len(cases))
	for _, tc := range cases {
		steps := make([]RecordStep, 0, len(tc.Steps))
		for _, s := range tc.Steps {
			steps = append(steps, RecordStep{Action: s.Action, Data: s.Data, Result: s.Result})
		}
		records = append(records, TestRecord{
			Fields: RecordFields{
				Summary:     tc.Summary,
				Description: PadTableCells(tc.Description),
				Project:     Project{Key: projectKey},
				IssueType:   Type{Name: "Test"},
			},
			TestType: testType,
			Steps:    steps,
		})
	}
	return records
}

// PadTableCells rewrites markdown table rows as "| a | b |" so Jira renders
// them consistently. Text without a multi-line table is returned unchanged.
func PadTableCells(text string) string {
	if !strings.Contains(text, "|") || !strings.Contains(text, "\n") {
		return text
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) < 2 || !strings.HasPrefix(trimmed, "|") || !strings.HasSuffix(trimmed, "|") {
			continue
		}
		cells := strings.Split(trimmed[1:len(trimmed)-1], "|")
		for j, cell := range cells {
			cells[j] = strings.TrimSpace(cell)
		}
		lines[i] = "| " + strings.Join(cells, " | ") + " |"
	}
	return strings.Join(lines, "\n")
}
