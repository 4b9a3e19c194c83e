package xray

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/storytest/diag"
	"github.com/teranos/storytest/errors"
	"github.com/teranos/storytest/internal/httpclient"
	"github.com/teranos/storytest/testcase"
)

// fakeXray serves the Xray endpoints the submitter uses
type fakeXray struct {
	mu           sync.Mutex
	authStatus   int
	statuses     []string // raw status bodies; the last repeats
	singleBody   string
	bulkBody     string
	calls        map[string]int
	bodies       map[string][]byte
	statusReads  int
	bearerTokens []string
}

func newFakeXray() *fakeXray {
	return &fakeXray{
		authStatus: http.StatusOK,
		singleBody: `{"key": "QA-1"}`,
		bulkBody:   `{"jobId": "job-1"}`,
		calls:      map[string]int{},
		bodies:     map[string][]byte{},
	}
}

func (f *fakeXray) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	f.calls[r.Method+" "+r.URL.Path]++
	f.bodies[r.URL.Path] = body
	if auth := r.Header.Get("Authorization"); auth != "" {
		f.bearerTokens = append(f.bearerTokens, auth)
	}

	switch {
	case r.URL.Path == "/api/v2/authenticate":
		w.WriteHeader(f.authStatus)
		if f.authStatus == http.StatusOK {
			_, _ = w.Write([]byte(`"tok-123"`))
		}
	case r.URL.Path == "/api/v2/import/test":
		_, _ = w.Write([]byte(f.singleBody))
	case r.URL.Path == "/api/v2/import/test/bulk":
		_, _ = w.Write([]byte(f.bulkBody))
	case strings.HasSuffix(r.URL.Path, "/status"):
		body := f.statuses[min(f.statusReads, len(f.statuses)-1)]
		f.statusReads++
		_, _ = w.Write([]byte(body))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeXray) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type fakeLinker struct {
	mu     sync.Mutex
	fail   map[string]bool
	linked []string
}

func (l *fakeLinker) CreateTestLink(_ context.Context, testKey, storyKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail[testKey] {
		return errors.Newf("link %s failed", testKey)
	}
	l.linked = append(l.linked, testKey+"->"+storyKey)
	return nil
}

func newTestSubmitter(t *testing.T, fx *fakeXray, linker Linker) (*Submitter, *diag.Memory) {
	t.Helper()
	srv := httptest.NewServer(fx)
	t.Cleanup(srv.Close)

	sink := &diag.Memory{}
	client := NewClient(Config{
		BaseURL:      srv.URL + "/api/v2",
		ClientID:     "id",
		ClientSecret: "secret",
		HTTP:         httpclient.Wrap(srv.Client()),
		Sink:         sink,
	})
	tracker := NewTracker(client, nil)
	tracker.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	return NewSubmitter(SubmitterConfig{
		Opener:     client,
		Tracker:    tracker,
		Reconciler: NewReconciler(linker, nil),
		ProjectKey: "QA",
		TestType:   "Manual",
	}), sink
}

func cases(n int) []testcase.TestCase {
	out := make([]testcase.TestCase, n)
	for i := range out {
		out[i] = testcase.TestCase{
			Summary:     fmt.Sprintf("Case %d", i+1),
			Description: "desc",
			Steps:       []testcase.Step{{Action: "a", Data: "d", Result: "r"}},
		}
	}
	return out
}

func waitOpts() SubmitOptions {
	return SubmitOptions{WaitForCompletion: true, MaxAttempts: 20, Interval: time.Second}
}

func TestSubmit_EmptyInputMakesNoCalls(t *testing.T) {
	fx := newFakeXray()
	s, _ := newTestSubmitter(t, fx, nil)

	res := s.Submit(context.Background(), nil, "PROJ-1", waitOpts())
	assert.False(t, res.Success)
	assert.Equal(t, "No test cases to import", res.Message)
	assert.Empty(t, fx.calls)
}

func TestSubmit_SingleCaseUsesTestEndpoint(t *testing.T) {
	fx := newFakeXray()
	linker := &fakeLinker{}
	s, sink := newTestSubmitter(t, fx, linker)

	res := s.Submit(context.Background(), cases(1), "PROJ-1", waitOpts())

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"QA-1"}, res.ImportedTests)
	assert.Equal(t, 1, fx.count("POST /api/v2/import/test"))
	assert.Zero(t, fx.count("POST /api/v2/import/test/bulk"))
	assert.Equal(t, []string{"QA-1->PROJ-1"}, linker.linked)
	assert.Equal(t, "Bearer tok-123", fx.bearerTokens[0])

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(fx.bodies["/api/v2/import/test"], &record))
	assert.Equal(t, "Manual", record["testtype"])
	fields := record["fields"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"key": "QA"}, fields["project"])
	assert.Equal(t, map[string]interface{}{"name": "Test"}, fields["issuetype"])
	assert.Equal(t, "Case 1", fields["summary"])

	assert.Len(t, sink.OfKind(diag.KindImportRequest), 1)
	assert.Len(t, sink.OfKind(diag.KindImportResponse), 1)
}

func TestSubmit_BulkWaitsForJob(t *testing.T) {
	fx := newFakeXray()
	fx.statuses = []string{
		`{"status": "queued", "progressValue": 0}`,
		`{"status": "working", "progressValue": 30, "progress": ["validating"]}`,
		`{"status": "working", "progressValue": 60}`,
		`{"status": "partially_successful", "progressValue": 100, "result": {
			"issues": [{"id": "1", "key": "QA-1"}, {"id": "2", "key": "QA-2"}, {"id": "3", "key": "QA-3"}],
			"errors": [{"elementNumber": 3, "errors": {"summary": "too long"}}]}}`,
	}
	linker := &fakeLinker{fail: map[string]bool{"QA-2": true}}
	s, _ := newTestSubmitter(t, fx, linker)

	res := s.Submit(context.Background(), cases(4), "PROJ-1", waitOpts())

	require.True(t, res.Success, res.Message)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, StatusPartiallySuccessful, res.Status)
	assert.Equal(t, []string{"QA-1", "QA-2", "QA-3"}, res.ImportedTests)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].ElementNumber)
	assert.JSONEq(t, `{"summary": "too long"}`, string(res.Errors[0].Errors))
	assert.Equal(t, "Job completed. Successfully imported: 3, Failed: 1", res.Message)

	// initial read plus three polling reads
	assert.Equal(t, 4, fx.statusReads)
	assert.Equal(t, 1, fx.count("POST /api/v2/import/test/bulk"))
	// one token for the import, a fresh one for the polling loop
	assert.Equal(t, 2, fx.count("POST /api/v2/authenticate"))

	require.NotNil(t, res.Links)
	assert.Equal(t, 3, res.Links.Attempted)
	assert.Equal(t, []string{"QA-1", "QA-3"}, res.Links.Linked)
	assert.Equal(t, []string{"QA-2"}, res.Links.Failed)
}

func TestSubmit_BulkWithoutWaiting(t *testing.T) {
	fx := newFakeXray()
	fx.statuses = []string{`{"status": "working", "progressValue": 10, "progress": ["queued"]}`}
	s, _ := newTestSubmitter(t, fx, &fakeLinker{})

	res := s.Submit(context.Background(), cases(2), "PROJ-1", SubmitOptions{})

	require.True(t, res.Success)
	assert.Equal(t, StatusWorking, res.Status)
	assert.Equal(t, 10, res.ProgressValue)
	assert.Equal(t, []string{"queued"}, res.Progress)
	assert.Equal(t, "Bulk import job created with ID: job-1", res.Message)
	assert.Equal(t, 1, fx.statusReads)
	assert.Nil(t, res.Links)
}

func TestSubmit_JobNeverFinishes(t *testing.T) {
	fx := newFakeXray()
	fx.statuses = []string{`{"status": "working"}`}
	linker := &fakeLinker{}
	s, _ := newTestSubmitter(t, fx, linker)

	res := s.Submit(context.Background(), cases(2), "PROJ-1",
		SubmitOptions{WaitForCompletion: true, MaxAttempts: 5, Interval: time.Second})

	assert.False(t, res.Success)
	assert.Equal(t, StatusWorking, res.Status)
	assert.Equal(t, "Job failed or timed out with status: working", res.Message)
	assert.Equal(t, 6, fx.statusReads)
	assert.Empty(t, linker.linked)
}

func TestSubmit_JobUnsuccessfulKeepsErrors(t *testing.T) {
	fx := newFakeXray()
	fx.statuses = []string{`{"status": "unsuccessful", "result": {"errors": [
		{"elementNumber": 0, "errors": ["project QA does not exist"]},
		{"elementNumber": 1, "errors": ["project QA does not exist"]}]}}`}
	s, _ := newTestSubmitter(t, fx, &fakeLinker{})

	res := s.Submit(context.Background(), cases(2), "PROJ-1", waitOpts())

	assert.False(t, res.Success)
	assert.Equal(t, StatusUnsuccessful, res.Status)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, "Job failed or timed out with status: unsuccessful", res.Message)
}

func TestSubmit_AuthFailureIsAResult(t *testing.T) {
	fx := newFakeXray()
	fx.authStatus = http.StatusUnauthorized
	s, _ := newTestSubmitter(t, fx, nil)

	res := s.Submit(context.Background(), cases(2), "PROJ-1", waitOpts())

	assert.False(t, res.Success)
	assert.Equal(t, "Failed to authenticate with Xray", res.Message)
	assert.Contains(t, res.Error, "401")
	assert.Zero(t, fx.count("POST /api/v2/import/test/bulk"))
}

func TestSubmit_ImportRejected(t *testing.T) {
	fx := newFakeXray()
	s, _ := newTestSubmitter(t, fx, nil)
	fx.singleBody = `not json`

	res := s.Submit(context.Background(), cases(1), "PROJ-1", waitOpts())
	assert.False(t, res.Success)
	assert.Equal(t, "Failed to import test cases to Xray", res.Message)
	assert.NotEmpty(t, res.Error)
}

func TestSubmit_BulkWithoutJobID(t *testing.T) {
	fx := newFakeXray()
	fx.bulkBody = `{"message": "accepted"}`
	s, _ := newTestSubmitter(t, fx, nil)

	res := s.Submit(context.Background(), cases(2), "PROJ-1", waitOpts())
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no job id")
}

func TestOpen_NotConfigured(t *testing.T) {
	_, err := NewClient(Config{}).Open(context.Background())
	assert.True(t, errors.Is(err, errors.ErrNotConfigured))
}

func TestParseImportResponse(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		keys  []string
		jobID string
	}{
		{"single key", `{"key": "QA-1"}`, []string{"QA-1"}, ""},
		{"test keys", `{"testKeys": ["QA-1", "QA-2"]}`, []string{"QA-1", "QA-2"}, ""},
		{"bare list", `["QA-1"]`, []string{"QA-1"}, ""},
		{"issue list", `[{"id": "1", "key": "QA-5"}]`, []string{"QA-5"}, ""},
		{"job", `{"jobId": "abc"}`, nil, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseImportResponse(json.RawMessage(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.keys, resp.Keys)
			assert.Equal(t, tt.jobID, resp.JobID)
		})
	}
}

func TestReconciler_NilLinker(t *testing.T) {
	report := NewReconciler(nil, nil).LinkAll(context.Background(), []string{"QA-1"}, "PROJ-1")
	assert.Zero(t, report.Attempted)
	assert.Empty(t, report.Linked)
}
