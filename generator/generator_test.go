package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/storytest/ai/anthropic"
	"github.com/teranos/storytest/casestore"
	"github.com/teranos/storytest/diag"
	"github.com/teranos/storytest/errors"
	"github.com/teranos/storytest/history"
	sttest "github.com/teranos/storytest/internal/testing"
	"github.com/teranos/storytest/jira"
	"github.com/teranos/storytest/testcase"
	"github.com/teranos/storytest/xray"
)

type fakeStories struct {
	issue *jira.Issue
	err   error
}

func (f fakeStories) GetIssue(context.Context, string) (*jira.Issue, error) {
	return f.issue, f.err
}

type fakeModel struct {
	text    string
	err     error
	request anthropic.Request
}

func (f *fakeModel) Complete(_ context.Context, req anthropic.Request) (*anthropic.Completion, error) {
	f.request = req
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.Completion{Text: f.text, Raw: json.RawMessage(`{"id":"msg_1"}`)}, nil
}

type fakeSubmitter struct {
	result *xray.ImportResult
	got    []testcase.TestCase
	calls  int
}

func (f *fakeSubmitter) Submit(_ context.Context, cases []testcase.TestCase, _ string, _ xray.SubmitOptions) *xray.ImportResult {
	f.calls++
	f.got = cases
	return f.result
}

type fakeIssues struct {
	next    int
	failOn  string
	linkErr error
	links   []string
}

func (f *fakeIssues) CreateTestIssue(_ context.Context, tc testcase.TestCase) (*jira.CreatedIssue, error) {
	if f.failOn != "" && strings.Contains(tc.Summary, f.failOn) {
		return nil, errors.New("field summary is too long")
	}
	f.next++
	return &jira.CreatedIssue{Key: fmt.Sprintf("QA-%d", f.next)}, nil
}

func (f *fakeIssues) CreateTestLink(_ context.Context, testKey, storyKey string) error {
	if f.linkErr != nil {
		return f.linkErr
	}
	f.links = append(f.links, testKey+"->"+storyKey)
	return nil
}

type fakeEnhancer struct{}

func (fakeEnhancer) Enhance(prompt, title, _ string) string {
	return prompt + "\nKB:" + title
}

func story(description string) *jira.Issue {
	return &jira.Issue{Key: "PROJ-1", Fields: jira.IssueFields{Summary: "Login", Description: description}}
}

const twoCases = `[
  {"summary": "valid password", "description": "Checks login\\n|field|value|\\n|---|---|\\n|user|alice|", "steps": [{"action": "log in", "data": "alice", "result": "home page"}]},
  {"summary": "Login: wrong password", "description": "Rejects", "steps": [{"action": "log in", "data": "bad", "result": "error"}]}
]`

func newTestGenerator(t *testing.T, cfg Config) (*Generator, *history.Store, *diag.Memory) {
	t.Helper()
	store := history.NewStore(sttest.CreateTestDB(t))
	sink := &diag.Memory{}
	if cfg.Store == nil {
		cfg.Store = casestore.New(t.TempDir())
	}
	cfg.History = store
	cfg.Sink = sink
	return New(cfg), store, sink
}

func TestGenerate_BulkImport(t *testing.T) {
	model := &fakeModel{text: "Here you go:\n```json\n" + twoCases + "\n```"}
	submitter := &fakeSubmitter{result: &xray.ImportResult{
		Success:       true,
		JobID:         "job-1",
		Status:        xray.StatusSuccessful,
		ImportedTests: []string{"QA-1", "QA-2"},
		Errors:        []xray.ElementError{},
		Message:       "Job completed. Successfully imported: 2, Failed: 0",
		Links:         &xray.LinkReport{Attempted: 2, Linked: []string{"QA-1"}, Failed: []string{"QA-2"}},
	}}
	gen, store, sink := newTestGenerator(t, Config{
		Stories:       fakeStories{issue: story("As a user {color:red}I log in{color}")},
		Model:         model,
		Enhancer:      fakeEnhancer{},
		Submitter:     submitter,
		UseBulkImport: true,
	})

	report, err := gen.Generate(context.Background(), "PROJ-1", Options{})
	require.NoError(t, err)

	assert.True(t, report.Success())
	assert.Equal(t, history.SourceModel, report.Source)
	assert.Equal(t, "brackets", report.Strategy)
	require.Len(t, report.Cases, 2)
	assert.Equal(t, "Login: valid password", report.Cases[0].Summary)
	assert.Equal(t, "Login: wrong password", report.Cases[1].Summary)
	assert.Equal(t, []string{"QA-1", "QA-2"}, report.ImportedKeys())
	assert.FileExists(t, report.Cases[0].FilePath)

	// descriptions are cleaned before upload
	require.Len(t, submitter.got, 2)
	assert.Equal(t, "Checks login\n\n• user: alice\n", submitter.got[0].Description)

	assert.NotContains(t, model.request.Prompt, "{color")
	assert.Contains(t, model.request.Prompt, "KB:Login")
	assert.Equal(t, OperationGenerateTests, model.request.OperationType)
	assert.Equal(t, report.RunID, model.request.RunID)

	assert.Len(t, sink.OfKind(diag.KindPrompt), 1)
	assert.Len(t, sink.OfKind(diag.KindResponseObject), 1)
	assert.Len(t, sink.OfKind(diag.KindResponse), 1)

	run, err := store.Get(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.GeneratedCount)
	assert.Equal(t, 2, run.ImportedCount)
	assert.Equal(t, 1, run.LinkedCount)
	assert.Equal(t, "job-1", run.JobID)
	assert.True(t, run.Success)
}

func TestGenerate_ModelFailureUsesScenarios(t *testing.T) {
	submitter := &fakeSubmitter{result: &xray.ImportResult{Success: true, ImportedTests: []string{"QA-7"}}}
	gen, store, _ := newTestGenerator(t, Config{
		Stories:       fakeStories{issue: story("*Scenario 1* Given a user When they log in Then the home page shows")},
		Model:         &fakeModel{err: errors.New("status 529: overloaded")},
		Submitter:     submitter,
		UseBulkImport: true,
	})

	report, err := gen.Generate(context.Background(), "PROJ-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, history.SourceScenario, report.Source)
	require.Len(t, submitter.got, 1)
	assert.Equal(t, "Login: Scenario 1 Test", submitter.got[0].Summary)
	assert.Len(t, submitter.got[0].Steps, 3)

	run, err := store.Get(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, history.SourceScenario, run.Source)
}

func TestGenerate_NothingToImport(t *testing.T) {
	submitter := &fakeSubmitter{}
	gen, _, _ := newTestGenerator(t, Config{
		Stories:       fakeStories{issue: story("No scenarios here")},
		Model:         &fakeModel{err: errors.New("timeout")},
		Submitter:     submitter,
		UseBulkImport: true,
	})

	report, err := gen.Generate(context.Background(), "PROJ-1", Options{})
	require.NoError(t, err)
	assert.Empty(t, report.Cases)
	assert.False(t, report.Success())
	assert.Zero(t, submitter.calls)
}

func TestGenerate_StoryReadFails(t *testing.T) {
	gen, _, _ := newTestGenerator(t, Config{
		Stories: fakeStories{err: errors.ErrNotFound},
		Model:   &fakeModel{},
	})
	_, err := gen.Generate(context.Background(), "PROJ-404", Options{})
	assert.True(t, errors.IsNotFound(err))
}

func TestGenerate_SkipImport(t *testing.T) {
	submitter := &fakeSubmitter{}
	gen, _, _ := newTestGenerator(t, Config{
		Stories:       fakeStories{issue: story("")},
		Model:         &fakeModel{text: twoCases},
		Submitter:     submitter,
		UseBulkImport: true,
	})

	report, err := gen.Generate(context.Background(), "PROJ-1", Options{SkipImport: true})
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.True(t, report.Success())
	assert.Zero(t, submitter.calls)
	assert.Contains(t, report.Message, "import skipped")
}

func TestGenerate_BulkFailureMarksCases(t *testing.T) {
	submitter := &fakeSubmitter{result: &xray.ImportResult{
		Status:  xray.StatusUnsuccessful,
		JobID:   "job-2",
		Message: "Job failed or timed out with status: unsuccessful",
		Errors:  []xray.ElementError{{ElementNumber: 1, Errors: json.RawMessage(`{"summary":"too long"}`)}},
	}}
	gen, _, _ := newTestGenerator(t, Config{
		Stories:       fakeStories{issue: story("")},
		Model:         &fakeModel{text: twoCases},
		Submitter:     submitter,
		UseBulkImport: true,
	})

	report, err := gen.Generate(context.Background(), "PROJ-1", Options{})
	require.NoError(t, err)
	assert.False(t, report.Success())
	assert.Equal(t, "Job failed or timed out with status: unsuccessful", report.Cases[0].Error)
	assert.Contains(t, report.Cases[1].Error, "Import error:")
	assert.Contains(t, report.Cases[1].Error, "too long")
}

func TestGenerate_PartialBulkSkipsRejectedElements(t *testing.T) {
	submitter := &fakeSubmitter{result: &xray.ImportResult{
		Success:       true,
		Status:        xray.StatusPartiallySuccessful,
		ImportedTests: []string{"QA-9"},
		Errors:        []xray.ElementError{{ElementNumber: 0, Errors: json.RawMessage(`["bad"]`)}},
	}}
	gen, _, _ := newTestGenerator(t, Config{
		Stories:       fakeStories{issue: story("")},
		Model:         &fakeModel{text: twoCases},
		Submitter:     submitter,
		UseBulkImport: true,
	})

	report, err := gen.Generate(context.Background(), "PROJ-1", Options{})
	require.NoError(t, err)
	assert.False(t, report.Cases[0].Success)
	assert.Equal(t, "QA-9", report.Cases[1].Key)
}

func TestGenerate_IndividualImport(t *testing.T) {
	issues := &fakeIssues{failOn: "wrong password"}
	gen, _, _ := newTestGenerator(t, Config{
		Stories: fakeStories{issue: story("")},
		Model:   &fakeModel{text: twoCases},
		Issues:  issues,
	})

	report, err := gen.Generate(context.Background(), "PROJ-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, "QA-1", report.Cases[0].Key)
	assert.True(t, report.Cases[0].Success)
	assert.Equal(t, "field summary is too long", report.Cases[1].Error)
	assert.Equal(t, []string{"QA-1->PROJ-1"}, issues.links)
	assert.Equal(t, "Created 1 of 2 test issues", report.Message)
	assert.False(t, report.Success())
}

func TestGenerate_LinkFailureKeepsImport(t *testing.T) {
	issues := &fakeIssues{linkErr: errors.New("link type missing")}
	gen, _, _ := newTestGenerator(t, Config{
		Stories: fakeStories{issue: story("")},
		Model:   &fakeModel{text: twoCases},
		Issues:  issues,
	})

	report, err := gen.Generate(context.Background(), "PROJ-1", Options{})
	require.NoError(t, err)
	assert.True(t, report.Success())
	require.NotNil(t, report.Links)
	assert.Len(t, report.Links.Failed, 2)
}

func TestImport_SavedCases(t *testing.T) {
	root := t.TempDir()
	cs := casestore.New(root)
	_, err := cs.Save("Login", []testcase.TestCase{
		{Summary: "Login: a", Description: "d", Steps: []testcase.Step{{Action: "x", Data: "y", Result: "z"}}},
	})
	require.NoError(t, err)

	submitter := &fakeSubmitter{result: &xray.ImportResult{Success: true, ImportedTests: []string{"QA-3"}}}
	gen, store, _ := newTestGenerator(t, Config{Store: cs, Submitter: submitter, UseBulkImport: true})

	report, err := gen.Import(context.Background(), "PROJ-1", cs.Dir("Login"), Options{})
	require.NoError(t, err)
	assert.Equal(t, history.SourceImport, report.Source)
	assert.Equal(t, []string{"QA-3"}, report.ImportedKeys())

	runs, err := store.Recent(context.Background(), "PROJ-1", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.SourceImport, runs[0].Source)
}

func TestImport_InvalidFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"summary": 3}`), 0644))

	gen, _, _ := newTestGenerator(t, Config{Submitter: &fakeSubmitter{}})
	_, err := gen.Import(context.Background(), "PROJ-1", dir, Options{})
	assert.True(t, errors.IsInvalidRequest(err))
}
