package knowledge

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/storytest/errors"
	"github.com/teranos/storytest/logger"
)

const (
	// DefaultThreshold is the minimum relevance for a document to be used
	DefaultThreshold = 0.65
	// DefaultMaxDocuments caps how many documents are appended to a prompt
	DefaultMaxDocuments = 3

	maxSampleSummaries = 3
	contextHeader      = "KNOWLEDGE BASE CONTEXT:"
	contextFooter      = "Please incorporate the relevant knowledge from above when generating test cases for this user story."
)

// Match is a document scored against a story
type Match struct {
	Document *Document
	Score    float64
}

// Enhancer appends relevant knowledge documents to a generation prompt
type Enhancer struct {
	Dir          string
	Threshold    float64
	MaxDocuments int
	logger       *zap.SugaredLogger
}

// NewEnhancer reads documents from dir on every call to Enhance
func NewEnhancer(dir string, threshold float64, maxDocuments int, log *zap.SugaredLogger) *Enhancer {
	if maxDocuments <= 0 {
		maxDocuments = DefaultMaxDocuments
	}
	return &Enhancer{
		Dir:          dir,
		Threshold:    threshold,
		MaxDocuments: maxDocuments,
		logger:       logger.OrNop(log),
	}
}

// Rank scores every readable document against the story text and returns
// those at or above the threshold, best first, capped at MaxDocuments.
// Unreadable documents are logged and skipped.
func (e *Enhancer) Rank(title, description string) ([]Match, error) {
	files, err := ListFiles(e.Dir)
	if err != nil {
		return nil, err
	}

	keywords := ExtractKeywords(title + " " + description)
	e.logger.Debugw("Extracted story keywords",
		logger.FieldCount, len(keywords),
		"keywords", strings.Join(keywords, ", "))

	var matches []Match
	for _, path := range files {
		doc, err := LoadFile(path)
		if err != nil {
			e.logger.Warnw("Skipping unreadable knowledge document",
				logger.FieldFile, path,
				logger.FieldError, err)
			continue
		}
		score := doc.Relevance(keywords)
		if score < e.Threshold {
			continue
		}
		e.logger.Infow("Found relevant knowledge document",
			logger.FieldFile, path,
			"score", fmt.Sprintf("%.2f", score))
		matches = append(matches, Match{Document: doc, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > e.MaxDocuments {
		matches = matches[:e.MaxDocuments]
	}
	return matches, nil
}

// Enhance returns prompt with a knowledge context section appended, or
// prompt unchanged when the directory is missing or nothing is relevant
func (e *Enhancer) Enhance(prompt, title, description string) string {
	matches, err := e.Rank(title, description)
	if err != nil {
		if errors.IsNotFound(err) {
			e.logger.Warnw("Knowledge base directory not found", logger.FieldPath, e.Dir)
		} else {
			e.logger.Warnw("Knowledge base unavailable", logger.FieldError, err)
		}
		return prompt
	}
	if len(matches) == 0 {
		e.logger.Infow("No relevant knowledge base documents found")
		return prompt
	}
	return prompt + RenderContext(matches)
}

// RenderContext formats matches as the section appended to a prompt
func RenderContext(matches []Match) string {
	var b strings.Builder
	b.WriteString("\n\n" + contextHeader + "\n")

	for _, m := range matches {
		doc := m.Document
		fmt.Fprintf(&b, "\n## Domain: %s\n", doc.DomainOrDefault())
		if doc.Guidelines != "" {
			fmt.Fprintf(&b, "Guidelines: %s\n", doc.Guidelines)
		}
		if len(doc.SampleTests) > 0 {
			b.WriteString("Sample test cases:\n")
			for i, t := range doc.SampleTests {
				if i == maxSampleSummaries {
					break
				}
				summary := t.Summary
				if summary == "" {
					summary = fmt.Sprintf("Test case %d", i+1)
				}
				fmt.Fprintf(&b, "- %s\n", summary)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("\n" + contextFooter)
	return b.String()
}
