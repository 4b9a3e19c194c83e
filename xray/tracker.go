package xray

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/storytest/logger"
)

// Polling defaults
const (
	DefaultMaxAttempts = 20
	DefaultInterval    = 5 * time.Second
)

// Tracker follows bulk import jobs
type Tracker struct {
	opener Opener
	sleep  func(context.Context, time.Duration) error
	logger *zap.SugaredLogger
}

// NewTracker creates a tracker that authenticates through opener
func NewTracker(opener Opener, log *zap.SugaredLogger) *Tracker {
	return &Tracker{
		opener: opener,
		sleep:  sleepContext,
		logger: logger.OrNop(log),
	}
}

// Check reads the job status once with a fresh session
func (t *Tracker) Check(ctx context.Context, jobID string) Observation {
	session, err := t.opener.Open(ctx)
	if err != nil {
		return t.failed(jobID, err)
	}
	return t.check(ctx, session, jobID)
}

// Poll reads the job status until it is terminal or maxAttempts reads have
// been made, sleeping interval between reads. A failed read counts as an
// attempt. The last observation is returned, including when ctx ends the wait.
func (t *Tracker) Poll(ctx context.Context, jobID string, maxAttempts int, interval time.Duration) Observation {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	log := logger.FromContext(ctx, t.logger).With(logger.FieldJobID, jobID)
	log.Infow("Polling import job",
		"max_attempts", maxAttempts,
		logger.FieldInterval, interval.String())

	session, err := t.opener.Open(ctx)
	if err != nil {
		return t.failed(jobID, err)
	}

	var last Observation
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && ctx.Err() != nil {
			break
		}

		last = t.check(ctx, session, jobID)
		if _, done := last.(Terminal); done {
			log.Infow("Import job finished",
				logger.FieldStatus, string(last.Job().Status),
				logger.FieldAttempt, attempt)
			return last
		}

		if attempt < maxAttempts {
			log.Debugw("Import job still in progress",
				logger.FieldAttempt, attempt,
				logger.FieldProgress, last.Job().ProgressValue)
			if err := t.sleep(ctx, interval); err != nil {
				log.Warnw("Stopped waiting for import job", logger.FieldError, err)
				return last
			}
		}
	}

	log.Warnw("Import job did not finish in time",
		logger.FieldStatus, string(last.Job().Status))
	return last
}

// check performs one status read and classifies it
func (t *Tracker) check(ctx context.Context, reader StatusReader, jobID string) Observation {
	job, err := reader.JobStatus(ctx, jobID)
	if err != nil {
		return t.failed(jobID, err)
	}

	obs := observe(job)
	switch obs.(type) {
	case Terminal:
		t.logger.Infow("Import job completed",
			logger.FieldJobID, jobID,
			logger.FieldStatus, string(job.Status),
			logger.FieldCount, len(job.Keys()),
			"errors", len(job.ElementErrors()))
		for _, e := range job.ElementErrors() {
			t.logger.Warnw("Import element rejected",
				logger.FieldJobID, jobID,
				logger.FieldError, e.String())
		}
	default:
		t.logger.Infow("Import job status",
			logger.FieldJobID, jobID,
			logger.FieldStatus, string(job.Status),
			logger.FieldProgress, job.ProgressValue,
			"latest", job.LatestProgress())
	}
	return obs
}

func (t *Tracker) failed(jobID string, err error) Observation {
	t.logger.Warnw("Import job status check failed",
		logger.FieldJobID, jobID,
		logger.FieldError, err)
	return pollingError(jobID, err)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
