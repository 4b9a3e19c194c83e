package recovery

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/storytest/logger"
	"github.com/teranos/storytest/testcase"
)

// Strategy is one way of pulling a test-case list out of model text.
// Extract returns false when the strategy does not apply or finds nothing usable.
type Strategy struct {
	Name    string
	Extract func(text string) ([]testcase.TestCase, bool)
}

// Wrapper keys some models put around the case list
var wrapperKeys = []string{"test_cases", "testCases", "tests"}

var fencedBlock = regexp.MustCompile("(?s)```json\\s*(.+?)\\s*```")

// DefaultStrategies returns the structured strategies in evaluation order
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "whole", Extract: extractWhole},
		{Name: "object", Extract: extractObject},
		{Name: "brackets", Extract: extractBrackets},
		{Name: "fenced", Extract: extractFenced},
	}
}

// Extractor runs strategies in order and keeps the first success
type Extractor struct {
	strategies []Strategy
	logger     *zap.SugaredLogger
}

// NewExtractor builds an extractor over strategies, or DefaultStrategies when none are given
func NewExtractor(log *zap.SugaredLogger, strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies, logger: logger.OrNop(log)}
}

// Extract returns the first non-empty list any strategy produces
func (e *Extractor) Extract(text string) ([]testcase.TestCase, bool) {
	cases, _, ok := e.ExtractNamed(text)
	return cases, ok
}

// ExtractNamed is Extract that also reports which strategy succeeded
func (e *Extractor) ExtractNamed(text string) ([]testcase.TestCase, string, bool) {
	for _, s := range e.strategies {
		cases, ok := e.run(s, text)
		if ok {
			e.logger.Debugw("Structured extraction succeeded",
				logger.FieldStrategy, s.Name,
				logger.FieldCount, len(cases))
			return cases, s.Name, true
		}
	}
	return nil, "", false
}

// run evaluates one strategy; a panic counts as a miss
func (e *Extractor) run(s Strategy, text string) (cases []testcase.TestCase, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warnw("Extraction strategy panicked",
				logger.FieldStrategy, s.Name,
				logger.FieldError, fmt.Sprint(r))
			cases, ok = nil, false
		}
	}()

	cases, ok = s.Extract(text)
	if !ok {
		return nil, false
	}
	cases = dropBlank(cases)
	return cases, len(cases) > 0
}

func extractWhole(text string) ([]testcase.TestCase, bool) {
	return decodeList(text)
}

func extractObject(text string) ([]testcase.TestCase, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil, false
	}
	return decodeObject(trimmed)
}

func extractBrackets(text string) ([]testcase.TestCase, bool) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, false
	}
	return decodeList(Sanitize(text[start : end+1]))
}

func extractFenced(text string) ([]testcase.TestCase, bool) {
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		block := m[1]
		if cases, ok := decodeAny(block); ok {
			return cases, true
		}
		if cases, ok := decodeAny(Sanitize(block)); ok {
			return cases, true
		}
	}
	return nil, false
}

// decodeAny accepts either a list or an object
func decodeAny(text string) ([]testcase.TestCase, bool) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		return decodeObject(trimmed)
	}
	return decodeList(trimmed)
}

func decodeList(text string) ([]testcase.TestCase, bool) {
	var cases []testcase.TestCase
	if err := json.Unmarshal([]byte(text), &cases); err != nil {
		return nil, false
	}
	return cases, len(cases) > 0
}

// decodeObject reads a single case, or unwraps {"test_cases": [...]}
func decodeObject(text string) ([]testcase.TestCase, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, false
	}
	for _, key := range wrapperKeys {
		if raw, ok := fields[key]; ok {
			return decodeList(string(raw))
		}
	}

	var tc testcase.TestCase
	if err := json.Unmarshal([]byte(text), &tc); err != nil {
		return nil, false
	}
	return []testcase.TestCase{tc}, true
}

func dropBlank(cases []testcase.TestCase) []testcase.TestCase {
	kept := cases[:0:0]
	for _, tc := range cases {
		if !tc.IsBlank() {
			kept = append(kept, tc)
		}
	}
	return kept
}
