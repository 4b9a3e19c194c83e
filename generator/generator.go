// Package generator turns a Jira story into imported, linked Xray tests:
// prompt construction, model call, response recovery, case files, import
// and run history.
package generator

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/teranos/storytest/ai/anthropic"
	"github.com/teranos/storytest/casestore"
	"github.com/teranos/storytest/diag"
	"github.com/teranos/storytest/errors"
	"github.com/teranos/storytest/history"
	"github.com/teranos/storytest/jira"
	"github.com/teranos/storytest/logger"
	"github.com/teranos/storytest/recovery"
	"github.com/teranos/storytest/testcase"
	"github.com/teranos/storytest/xray"
)

// OperationGenerateTests tags model usage rows written by Generate
const OperationGenerateTests = "generate-tests"

// StoryReader fetches the story to generate for
type StoryReader interface {
	GetIssue(ctx context.Context, key string) (*jira.Issue, error)
}

// Model completes a prompt
type Model interface {
	Complete(ctx context.Context, req anthropic.Request) (*anthropic.Completion, error)
}

// Enhancer appends knowledge-base context to a prompt
type Enhancer interface {
	Enhance(prompt, title, description string) string
}

// Submitter imports cases into Xray
type Submitter interface {
	Submit(ctx context.Context, cases []testcase.TestCase, storyKey string, opts xray.SubmitOptions) *xray.ImportResult
}

// IssueCreator creates Test issues one by one when bulk import is off
type IssueCreator interface {
	xray.Linker
	CreateTestIssue(ctx context.Context, tc testcase.TestCase) (*jira.CreatedIssue, error)
}

// RunRecorder persists run history
type RunRecorder interface {
	Start(ctx context.Context, storyKey, storySummary, outputDir string) (*history.Run, error)
	Finish(ctx context.Context, run *history.Run) error
}

// Config wires a Generator. Enhancer, History and Sink are optional.
type Config struct {
	Stories   StoryReader
	Model     Model
	Enhancer  Enhancer
	Store     *casestore.Store
	Submitter Submitter
	Issues    IssueCreator
	History   RunRecorder
	Sink      diag.Sink
	Logger    *zap.SugaredLogger

	PromptTemplate string
	UseBulkImport  bool
	Submit         xray.SubmitOptions
}

// Options adjusts a single run
type Options struct {
	SkipImport bool // generate and save only
}

// CaseOutcome is the fate of one test case
type CaseOutcome struct {
	Summary  string `json:"summary"`
	FilePath string `json:"filePath,omitempty"`
	Key      string `json:"key,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Report describes a finished run
type Report struct {
	RunID     string             `json:"runId"`
	StoryKey  string             `json:"userStory"`
	Title     string             `json:"title"`
	Source    string             `json:"source"`             // history source: model, manual, scenario, import
	Strategy  string             `json:"strategy,omitempty"` // recovery strategy that produced the cases
	OutputDir string             `json:"outputDir,omitempty"`
	Cases     []CaseOutcome      `json:"testCases"`
	Import    *xray.ImportResult `json:"import,omitempty"`
	Links     *xray.LinkReport   `json:"links,omitempty"`
	Skipped   bool               `json:"skipped,omitempty"`
	Message   string             `json:"message"`
}

// Success reports whether every case was imported
func (r *Report) Success() bool {
	if r.Import != nil {
		return r.Import.Success
	}
	if r.Skipped {
		return true
	}
	if len(r.Cases) == 0 {
		return false
	}
	for _, c := range r.Cases {
		if !c.Success {
			return false
		}
	}
	return true
}

// ImportedKeys returns the created test keys in case order
func (r *Report) ImportedKeys() []string {
	keys := []string{}
	for _, c := range r.Cases {
		if c.Key != "" {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// Generator runs the story-to-tests workflow
type Generator struct {
	config     Config
	sink       diag.Sink
	reconciler *xray.Reconciler
	logger     *zap.SugaredLogger
}

// New creates a generator
func New(config Config) *Generator {
	log := logger.OrNop(config.Logger)
	sink := config.Sink
	if sink == nil {
		sink = diag.Nop{}
	}
	var linker xray.Linker
	if config.Issues != nil {
		linker = config.Issues
	}
	return &Generator{
		config:     config,
		sink:       sink,
		reconciler: xray.NewReconciler(linker, log),
		logger:     log,
	}
}

// Generate fetches storyKey, generates cases, saves and imports them.
// Only a failure to read the story or write case files is returned as an
// error; import problems are described in the report.
func (g *Generator) Generate(ctx context.Context, storyKey string, opts Options) (*Report, error) {
	ctx = logger.WithStoryKey(ctx, storyKey)
	log := logger.FromContext(ctx, g.logger)
	log.Infow("Generating test cases")

	issue, err := g.config.Stories.GetIssue(ctx, storyKey)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read story %s", storyKey)
	}
	title := issue.Fields.Summary
	log.Infow("Retrieved user story", "summary", title)

	report := &Report{
		StoryKey:  storyKey,
		Title:     title,
		OutputDir: g.config.Store.Dir(title),
		Cases:     []CaseOutcome{},
	}
	run := g.startRun(ctx, report)
	ctx = logger.WithRunID(ctx, report.RunID)

	cases := g.generate(ctx, issue, report)
	cases = PostProcess(title, cases)
	log.Infow("Generated test cases", logger.FieldCount, len(cases), logger.FieldStrategy, report.Strategy)

	if len(cases) == 0 {
		report.Message = "No test cases could be generated for this story"
		g.finishRun(ctx, run, report, 0)
		return report, nil
	}

	saved, err := g.config.Store.Save(title, cases)
	if err != nil {
		report.Message = "Failed to save test cases"
		g.finishRun(ctx, run, report, len(cases))
		return report, errors.Wrap(err, "failed to save test cases")
	}
	for _, s := range saved {
		report.Cases = append(report.Cases, CaseOutcome{Summary: s.Case.Summary, FilePath: s.Path})
	}

	g.importCases(ctx, storyKey, cases, report, opts)
	g.finishRun(ctx, run, report, len(cases))
	return report, nil
}

// Import submits previously saved case files from dir
func (g *Generator) Import(ctx context.Context, storyKey, dir string, opts Options) (*Report, error) {
	ctx = logger.WithStoryKey(ctx, storyKey)

	cases, err := casestore.Load(dir)
	if err != nil {
		return nil, err
	}

	report := &Report{
		StoryKey:  storyKey,
		Title:     filepath.Base(dir),
		Source:    history.SourceImport,
		OutputDir: dir,
		Cases:     make([]CaseOutcome, 0, len(cases)),
	}
	for _, tc := range cases {
		report.Cases = append(report.Cases, CaseOutcome{Summary: tc.Summary})
	}

	run := g.startRun(ctx, report)
	ctx = logger.WithRunID(ctx, report.RunID)

	g.importCases(ctx, storyKey, cases, report, opts)
	g.finishRun(ctx, run, report, len(cases))
	return report, nil
}

// generate asks the model and recovers cases from its answer. When the
// model call fails the story's own scenarios are used instead.
func (g *Generator) generate(ctx context.Context, issue *jira.Issue, report *Report) []testcase.TestCase {
	log := logger.FromContext(ctx, g.logger)
	title, description := issue.Fields.Summary, issue.Fields.Description

	prompt := BuildPrompt(g.config.PromptTemplate, title, description)
	if g.config.Enhancer != nil {
		prompt = g.config.Enhancer.Enhance(prompt, CleanMarkup(title), CleanMarkup(description))
	}
	g.sink.Record(diag.KindPrompt, []byte(prompt))

	completion, err := g.config.Model.Complete(ctx, anthropic.Request{
		Prompt:        prompt,
		OperationType: OperationGenerateTests,
		EntityType:    "story",
		EntityID:      issue.Key,
		RunID:         report.RunID,
	})
	if err != nil {
		log.Errorw("Model call failed; deriving cases from story scenarios", logger.FieldError, err)
		report.Source = history.SourceScenario
		report.Strategy = history.SourceScenario
		return recovery.ScenarioFallback(title, description)
	}
	if len(completion.Raw) > 0 {
		g.sink.Record(diag.KindResponseObject, completion.Raw)
	}

	pipeline := recovery.NewPipeline(
		recovery.WithTitle(title),
		recovery.WithSink(g.sink),
		recovery.WithLogger(log),
	)
	result := pipeline.RecoverResult(completion.Text)
	report.Strategy = result.Source
	report.Source = history.SourceModel
	if result.Source == recovery.SourceManual {
		report.Source = history.SourceManual
	}
	return result.Cases
}

func (g *Generator) importCases(ctx context.Context, storyKey string, cases []testcase.TestCase, report *Report, opts Options) {
	switch {
	case opts.SkipImport:
		report.Skipped = true
		report.Message = fmt.Sprintf("Saved %d test cases; import skipped", len(cases))
	case g.config.UseBulkImport:
		g.importBulk(ctx, storyKey, cases, report)
	default:
		g.importEach(ctx, storyKey, cases, report)
	}
}

// importBulk submits through Xray and maps keys back onto cases. Xray
// returns keys in element order, skipping elements it rejected.
func (g *Generator) importBulk(ctx context.Context, storyKey string, cases []testcase.TestCase, report *Report) {
	log := logger.FromContext(ctx, g.logger)
	result := g.config.Submitter.Submit(ctx, cases, storyKey, g.config.Submit)
	report.Import = result
	report.Links = result.Links
	report.Message = result.Message

	rejected := map[int]string{}
	for _, e := range result.Errors {
		rejected[e.ElementNumber] = e.String()
	}

	if !result.Success {
		log.Errorw("Import failed", "message", result.Message, logger.FieldError, result.Error)
		for i := range report.Cases {
			if reason, ok := rejected[i]; ok {
				report.Cases[i].Error = "Import error: " + reason
			} else if result.Error != "" {
				report.Cases[i].Error = result.Error
			} else {
				report.Cases[i].Error = result.Message
			}
		}
		return
	}

	if result.JobID != "" && len(result.ImportedTests) == 0 && !result.Status.IsTerminal() {
		// Not waited on; keys arrive with the job
		return
	}

	keys := result.ImportedTests
	next := 0
	for i := range report.Cases {
		if reason, ok := rejected[i]; ok {
			report.Cases[i].Error = "Import error: " + reason
			continue
		}
		if next < len(keys) {
			report.Cases[i].Key = keys[next]
			report.Cases[i].Success = true
			next++
		} else {
			report.Cases[i].Error = fmt.Sprintf("No test key found in import result. Status: %s", result.Status)
		}
	}
	if len(result.Errors) > 0 {
		log.Warnw("Some test cases were rejected", logger.FieldCount, len(result.Errors))
	}
}

// importEach creates one Jira Test issue per case and links it to the story
func (g *Generator) importEach(ctx context.Context, storyKey string, cases []testcase.TestCase, report *Report) {
	log := logger.FromContext(ctx, g.logger)
	if g.config.Issues == nil {
		report.Message = "Individual import is not configured"
		for i := range report.Cases {
			report.Cases[i].Error = report.Message
		}
		return
	}

	links := xray.LinkReport{Linked: []string{}, Failed: []string{}}
	created := 0
	for i, tc := range cases {
		issue, err := g.config.Issues.CreateTestIssue(ctx, tc)
		if err != nil {
			log.Errorw("Failed to create test issue", "summary", tc.Summary, logger.FieldError, err)
			report.Cases[i].Error = err.Error()
			continue
		}
		created++
		report.Cases[i].Key = issue.Key
		report.Cases[i].Success = true

		links.Attempted++
		if g.reconciler.Link(ctx, issue.Key, storyKey) {
			links.Linked = append(links.Linked, issue.Key)
		} else {
			links.Failed = append(links.Failed, issue.Key)
		}
	}
	report.Links = &links
	report.Message = fmt.Sprintf("Created %d of %d test issues", created, len(cases))
}

func (g *Generator) startRun(ctx context.Context, report *Report) *history.Run {
	if g.config.History == nil {
		report.RunID = history.NewRunID()
		return nil
	}
	run, err := g.config.History.Start(ctx, report.StoryKey, report.Title, report.OutputDir)
	if err != nil {
		g.logger.Warnw("Failed to record run start", logger.FieldError, err)
		report.RunID = history.NewRunID()
		return nil
	}
	report.RunID = run.ID
	return run
}

func (g *Generator) finishRun(ctx context.Context, run *history.Run, report *Report, generated int) {
	if run == nil {
		return
	}
	run.Source = report.Source
	if run.Source == "" {
		run.Source = history.SourceModel
	}
	run.GeneratedCount = generated
	run.Success = report.Success()
	run.Message = report.Message
	if report.Import != nil {
		run.JobID = report.Import.JobID
		run.JobStatus = string(report.Import.Status)
	}

	linked := map[string]bool{}
	if report.Links != nil {
		run.LinkedCount = len(report.Links.Linked)
		for _, key := range report.Links.Linked {
			linked[key] = true
		}
	}
	for _, key := range report.ImportedKeys() {
		run.Tests = append(run.Tests, history.ImportedTest{Key: key, Linked: linked[key]})
	}
	run.ImportedCount = len(run.Tests)

	if err := g.config.History.Finish(context.WithoutCancel(ctx), run); err != nil {
		logger.FromContext(ctx, g.logger).Warnw("Failed to record run outcome", logger.FieldError, err)
	}
}
