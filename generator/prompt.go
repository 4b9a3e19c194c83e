package generator

import (
	"regexp"
	"strings"
)

// Prompt template placeholders
const (
	PlaceholderSummary     = "{USER_STORY_SUMMARY}"
	PlaceholderDescription = "{USER_STORY_DESCRIPTION}"
	PlaceholderTitle       = "{USER_STORY_TITLE}"
)

// DefaultPromptTemplate asks for a bare JSON array of test cases
const DefaultPromptTemplate = `You are a quality assurance expert specialized in analyzing user stories and generating comprehensive test cases. Focus on both functional tests (verifying behavior) and edge cases (validating handling of unexpected inputs or situations).

User Story Title: {USER_STORY_SUMMARY}

User Story Description:
{USER_STORY_DESCRIPTION}

Create a set of detailed test cases for this user story, considering different scenarios, edge cases, and validation requirements. Each test case should include:

1. A specific, descriptive title starting with "{USER_STORY_TITLE}"
2. A clear description of what the test is verifying
3. Detailed test steps including:
   - Action (what the user does)
   - Test data (specific inputs to use)
   - Expected result (what should happen)

Format your response as a JSON array of test case objects with the following structure:
` + "```json" + `
[
  {
    "summary": "Title of the test case",
    "description": "Detailed description of what this test verifies",
    "steps": [
      {
        "action": "Specific user action",
        "data": "Test data to use",
        "result": "Expected outcome"
      }
    ]
  }
]
` + "```" + `

Important guidelines:
- Cover all functional requirements mentioned in the user story
- Include boundary conditions and edge cases
- Add validation tests (data validation, error handling)
- Include at least one negative test scenario
- Keep test steps clear, specific and actionable

Return ONLY the valid JSON array of test cases, with no additional explanation.
`

var (
	colorMarkup = regexp.MustCompile(`\{color(?::[^}]*)?\}`)
	blankRuns   = regexp.MustCompile(`\n\s*\n\s*\n`)
)

// CleanMarkup strips Jira {color} markup and collapses the blank-line runs it leaves
func CleanMarkup(text string) string {
	text = colorMarkup.ReplaceAllString(text, "")
	return blankRuns.ReplaceAllString(text, "\n\n")
}

// BuildPrompt fills template with the cleaned story fields. An empty
// template selects DefaultPromptTemplate.
func BuildPrompt(template, summary, description string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultPromptTemplate
	}
	summary = CleanMarkup(summary)
	return strings.NewReplacer(
		PlaceholderSummary, summary,
		PlaceholderDescription, CleanMarkup(description),
		PlaceholderTitle, summary,
	).Replace(template)
}
