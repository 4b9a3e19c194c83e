package recovery

import (
	"encoding/json"
	"regexp"

	"github.com/teranos/storytest/testcase"
)

// Fixed content for cases and steps the manual extractor has to invent
const (
	DefaultCaseSummary     = "Default Test Case"
	DefaultCaseDescription = "This is a default test case created because the response could not be parsed correctly."

	genericStepAction = "User performs the action required by this test case"
	genericStepData   = "Test data specific to this scenario"
	genericStepResult = "Expected outcome based on the test description"

	defaultStepAction = "User performs the action required by the scenario"
	defaultStepData   = "Test data specific to this scenario"
	defaultStepResult = "Expected outcome based on the scenario"
)

// quoted matches a JSON string body, escapes included
const quoted = `"((?:[^"\\]|\\.)*)"`

var (
	summaryField     = regexp.MustCompile(`"summary"\s*:\s*` + quoted)
	descriptionField = regexp.MustCompile(`"description"\s*:\s*` + quoted)
	stepsBlock       = regexp.MustCompile(`(?s)"steps"\s*:\s*(\[\s*\{[^\]]*\}\s*\])`)
	actionField      = regexp.MustCompile(`"action"\s*:\s*` + quoted)
	dataField        = regexp.MustCompile(`"data"\s*:\s*` + quoted)
	resultField      = regexp.MustCompile(`"result"\s*:\s*` + quoted)
)

// ExtractManual regex-scans text for summary/description pairs and their step
// blocks. It always returns at least one case: when no pair is found the
// result is a single default case.
func ExtractManual(text string) []testcase.TestCase {
	summaries := findStrings(summaryField, text)
	descriptions := findStrings(descriptionField, text)
	blocks := stepsBlock.FindAllStringSubmatch(text, -1)

	n := min(len(summaries), len(descriptions))
	if n == 0 {
		return []testcase.TestCase{DefaultCase()}
	}

	cases := make([]testcase.TestCase, 0, n)
	for i := 0; i < n; i++ {
		var block string
		if i < len(blocks) {
			block = blocks[i][1]
		}
		cases = append(cases, testcase.TestCase{
			Summary:     summaries[i],
			Description: descriptions[i],
			Steps:       manualSteps(block),
		})
	}
	return cases
}

// DefaultCase is the case produced when nothing at all could be recovered
func DefaultCase() testcase.TestCase {
	return testcase.TestCase{
		Summary:     DefaultCaseSummary,
		Description: DefaultCaseDescription,
		Steps: []testcase.Step{{
			Action: defaultStepAction,
			Data:   defaultStepData,
			Result: defaultStepResult,
		}},
	}
}

func genericStep() testcase.Step {
	return testcase.Step{
		Action: genericStepAction,
		Data:   genericStepData,
		Result: genericStepResult,
	}
}

// manualSteps parses a steps block, falling back to field-by-field scanning
func manualSteps(block string) []testcase.Step {
	if block == "" {
		return []testcase.Step{genericStep()}
	}

	var steps []testcase.Step
	if err := json.Unmarshal([]byte(block), &steps); err == nil && len(steps) > 0 {
		return fillSteps(steps)
	}

	actions := findStrings(actionField, block)
	datas := findStrings(dataField, block)
	results := findStrings(resultField, block)

	n := max(len(actions), len(datas), len(results))
	if n == 0 {
		return []testcase.Step{genericStep()}
	}

	steps = make([]testcase.Step, n)
	for i := range steps {
		steps[i] = testcase.Step{
			Action: at(actions, i),
			Data:   at(datas, i),
			Result: at(results, i),
		}
	}
	return fillSteps(steps)
}

func fillSteps(steps []testcase.Step) []testcase.Step {
	filled := testcase.Normalize([]testcase.TestCase{{Summary: "-", Steps: steps}}, "")
	return filled[0].Steps
}

// findStrings returns the decoded first group of every match
func findStrings(re *regexp.Regexp, text string) []string {
	matches := re.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, unquote(m[1]))
	}
	return out
}

// unquote decodes JSON escapes, keeping the raw body when they are malformed
func unquote(body string) string {
	var s string
	if err := json.Unmarshal([]byte(`"`+body+`"`), &s); err != nil {
		return body
	}
	return s
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}
