package recovery

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/teranos/storytest/testcase"
)

var (
	scenarioMarker = regexp.MustCompile(`\*Scenario\s+\d+\*`)

	givenClause = regexp.MustCompile(`(?i)\bgiven\s+`)
	whenClause  = regexp.MustCompile(`(?i)\bwhen\s+`)
	thenClause  = regexp.MustCompile(`(?i)\bthen\s+`)

	givenEnd = regexp.MustCompile(`(?i),|\n|\bwhen\b|\bthen\b`)
	whenEnd  = regexp.MustCompile(`(?i),|\n|\bthen\b`)
	thenEnd  = regexp.MustCompile(`,|\n`)
)

// ScenarioFallback builds coarse cases straight from a requirement whose
// description is written as "*Scenario N*" blocks with Given/When/Then
// clauses. It is used when the model call itself fails. A description without
// scenario markers yields no cases.
func ScenarioFallback(summary, description string) []testcase.TestCase {
	bounds := scenarioMarker.FindAllStringIndex(description, -1)
	cases := make([]testcase.TestCase, 0, len(bounds))

	for i, b := range bounds {
		end := len(description)
		if i+1 < len(bounds) {
			end = bounds[i+1][0]
		}
		scenario := strings.TrimSpace(description[b[1]:end])

		tc := testcase.TestCase{
			Summary:     fmt.Sprintf("%s: Scenario %d Test", summary, i+1),
			Description: "Test case to verify the scenario: " + scenario,
			Steps:       []testcase.Step{},
		}
		if given, ok := clause(scenario, givenClause, givenEnd); ok {
			tc.Steps = append(tc.Steps, testcase.Step{
				Action: "User ensures " + given,
				Data:   "N/A",
				Result: "Precondition is established",
			})
		}
		if when, ok := clause(scenario, whenClause, whenEnd); ok {
			tc.Steps = append(tc.Steps, testcase.Step{
				Action: "User " + when,
				Data:   "Appropriate test data",
				Result: "Action is performed",
			})
		}
		if then, ok := clause(scenario, thenClause, thenEnd); ok {
			tc.Steps = append(tc.Steps, testcase.Step{
				Action: "User verifies the result",
				Data:   "N/A",
				Result: then,
			})
		}
		cases = append(cases, tc)
	}
	return cases
}

// clause returns the text after the first keyword match, up to the first stop match
func clause(text string, keyword, stop *regexp.Regexp) (string, bool) {
	loc := keyword.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	rest := text[loc[1]:]
	if end := stop.FindStringIndex(rest); end != nil {
		rest = rest[:end[0]]
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}
