package xray

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/storytest/logger"
	"github.com/teranos/storytest/testcase"
)

// SubmitOptions controls whether and how long Submit waits for a bulk job
type SubmitOptions struct {
	WaitForCompletion bool
	MaxAttempts       int
	Interval          time.Duration
}

// ImportResult is the outcome of one Submit call. Failures are described
// here rather than returned as errors.
type ImportResult struct {
	Success       bool           `json:"success"`
	JobID         string         `json:"jobId,omitempty"`
	Status        JobStatus      `json:"status,omitempty"`
	ImportedTests []string       `json:"importedTests"`
	Errors        []ElementError `json:"errors"`
	Message       string         `json:"message"`
	Error         string         `json:"error,omitempty"`
	Progress      []string       `json:"progress,omitempty"`
	ProgressValue int            `json:"progressValue,omitempty"`
	Links         *LinkReport    `json:"links,omitempty"`
}

// SubmitterConfig wires a Submitter
type SubmitterConfig struct {
	Opener     Opener
	Tracker    *Tracker
	Reconciler *Reconciler
	ProjectKey string
	TestType   string
	Logger     *zap.SugaredLogger
}

// Submitter uploads test cases and reconciles links
type Submitter struct {
	opener     Opener
	tracker    *Tracker
	reconciler *Reconciler
	projectKey string
	testType   string
	logger     *zap.SugaredLogger
}

// NewSubmitter creates a submitter; a missing tracker or reconciler gets a default
func NewSubmitter(config SubmitterConfig) *Submitter {
	log := logger.OrNop(config.Logger)
	if config.Tracker == nil {
		config.Tracker = NewTracker(config.Opener, log)
	}
	if config.Reconciler == nil {
		config.Reconciler = NewReconciler(nil, log)
	}
	return &Submitter{
		opener:     config.Opener,
		tracker:    config.Tracker,
		reconciler: config.Reconciler,
		projectKey: config.ProjectKey,
		testType:   config.TestType,
		logger:     log,
	}
}

// Submit imports cases for storyKey. A single case goes to the single-test
// endpoint, several go through a bulk job that is optionally waited on.
// Imported tests are linked to storyKey when the import succeeds.
func (s *Submitter) Submit(ctx context.Context, cases []testcase.TestCase, storyKey string, opts SubmitOptions) *ImportResult {
	log := logger.FromContext(ctx, s.logger).With(logger.FieldStoryKey, storyKey)

	if len(cases) == 0 {
		return &ImportResult{Message: "No test cases to import", ImportedTests: []string{}, Errors: []ElementError{}}
	}

	records := BuildRecords(cases, s.projectKey, s.testType)
	log.Infow("Importing test cases to Xray", logger.FieldCount, len(records))

	session, err := s.opener.Open(ctx)
	if err != nil {
		log.Errorw("Xray authentication failed", logger.FieldError, err)
		return failure(err, "Failed to authenticate with Xray")
	}

	if len(records) == 1 {
		resp, err := session.ImportTest(ctx, records[0])
		if err != nil {
			log.Errorw("Single test import failed", logger.FieldError, err)
			return failure(err, "Failed to import test cases to Xray")
		}
		if resp.JobID == "" {
			return s.direct(ctx, resp, storyKey)
		}
		return s.job(ctx, session, resp.JobID, storyKey, opts)
	}

	resp, err := session.ImportBulk(ctx, records)
	if err != nil {
		log.Errorw("Bulk import failed", logger.FieldError, err)
		return failure(err, "Failed to import test cases to Xray")
	}
	if resp.JobID == "" {
		log.Warnw("Bulk import response carried no job id")
		return &ImportResult{
			Message:       "Unexpected response from Xray bulk import: no job id",
			ImportedTests: []string{},
			Errors:        nonNil(resp.Errors),
		}
	}
	return s.job(ctx, session, resp.JobID, storyKey, opts)
}

// direct handles an import answered synchronously with keys
func (s *Submitter) direct(ctx context.Context, resp *ImportResponse, storyKey string) *ImportResult {
	links := s.reconciler.LinkAll(ctx, resp.Keys, storyKey)
	return &ImportResult{
		Success:       true,
		ImportedTests: nonNilKeys(resp.Keys),
		Errors:        nonNil(resp.Errors),
		Message:       fmt.Sprintf("Successfully imported %d test cases", len(resp.Keys)),
		Links:         &links,
	}
}

// job reads the initial status and, when asked, waits for the job to end
func (s *Submitter) job(ctx context.Context, session Session, jobID, storyKey string, opts SubmitOptions) *ImportResult {
	log := logger.FromContext(ctx, s.logger).With(logger.FieldJobID, jobID)
	log.Infow("Import job created")

	initial := s.tracker.check(ctx, session, jobID)
	if !opts.WaitForCompletion {
		job := initial.Job()
		return &ImportResult{
			Success:       true,
			JobID:         jobID,
			Status:        job.Status,
			ImportedTests: []string{},
			Errors:        []ElementError{},
			Progress:      job.Progress,
			ProgressValue: job.ProgressValue,
			Message:       fmt.Sprintf("Bulk import job created with ID: %s", jobID),
		}
	}

	maxAttempts, interval := opts.MaxAttempts, opts.Interval
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if interval < 0 {
		interval = DefaultInterval
	}

	final := s.tracker.Poll(ctx, jobID, maxAttempts, interval)
	job := final.Job()

	if _, done := final.(Terminal); !done || !job.Status.Succeeded() {
		result := &ImportResult{
			JobID:         jobID,
			Status:        job.Status,
			ImportedTests: []string{},
			Errors:        nonNil(job.ElementErrors()),
			Message:       fmt.Sprintf("Job failed or timed out with status: %s", job.Status),
			Error:         job.Error,
		}
		log.Errorw("Import job did not succeed", logger.FieldStatus, string(job.Status))
		return result
	}

	keys := job.Keys()
	links := s.reconciler.LinkAll(ctx, keys, storyKey)
	errs := nonNil(job.ElementErrors())
	return &ImportResult{
		Success:       true,
		JobID:         jobID,
		Status:        job.Status,
		ImportedTests: nonNilKeys(keys),
		Errors:        errs,
		ProgressValue: job.ProgressValue,
		Message:       fmt.Sprintf("Job completed. Successfully imported: %d, Failed: %d", len(keys), len(errs)),
		Links:         &links,
	}
}

func failure(err error, message string) *ImportResult {
	return &ImportResult{
		Message:       message,
		Error:         err.Error(),
		ImportedTests: []string{},
		Errors:        []ElementError{},
	}
}

func nonNil(errs []ElementError) []ElementError {
	if errs == nil {
		return []ElementError{}
	}
	return errs
}

func nonNilKeys(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
