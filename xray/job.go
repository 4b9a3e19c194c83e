package xray

import (
	"encoding/json"
	"fmt"
)

// JobStatus is the lifecycle state of a bulk import job
type JobStatus string

const (
	StatusQueued              JobStatus = "queued"
	StatusWorking             JobStatus = "working"
	StatusSuccessful          JobStatus = "successful"
	StatusPartiallySuccessful JobStatus = "partially_successful"
	StatusUnsuccessful        JobStatus = "unsuccessful"
	StatusFailed              JobStatus = "failed"
	StatusUnknown             JobStatus = "unknown"

	// StatusError is never reported by Xray; it marks a status read that failed locally
	StatusError JobStatus = "error"
)

// IsTerminal reports whether the job will not change state again
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusSuccessful, StatusPartiallySuccessful, StatusUnsuccessful, StatusFailed:
		return true
	}
	return false
}

// Succeeded reports whether at least part of the import went through
func (s JobStatus) Succeeded() bool {
	return s == StatusSuccessful || s == StatusPartiallySuccessful
}

// Issue is a test created by an import
type Issue struct {
	ID   string `json:"id,omitempty"`
	Key  string `json:"key"`
	Self string `json:"self,omitempty"`
}

// ElementError reports why one record of an import was rejected.
// Errors is kept verbatim; Xray sends either an object keyed by field or a list of messages.
type ElementError struct {
	ElementNumber int             `json:"elementNumber"`
	Errors        json.RawMessage `json:"errors,omitempty"`
}

// String renders the error for logs and terminal output
func (e ElementError) String() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("element %d: unknown error", e.ElementNumber)
	}
	return fmt.Sprintf("element %d: %s", e.ElementNumber, string(e.Errors))
}

// JobResult is present once a job is terminal
type JobResult struct {
	Issues   []Issue         `json:"issues,omitempty"`
	Errors   []ElementError  `json:"errors,omitempty"`
	Warnings json.RawMessage `json:"warnings,omitempty"`
}

// ImportJob is one status snapshot of a bulk import
type ImportJob struct {
	JobID         string     `json:"jobId,omitempty"`
	Status        JobStatus  `json:"status"`
	ProgressValue int        `json:"progressValue"`
	Progress      []string   `json:"progress,omitempty"`
	Result        *JobResult `json:"result,omitempty"`

	// Error is set only on the synthetic StatusError snapshot
	Error string `json:"error,omitempty"`
}

// Keys returns the keys of the created issues
func (j *ImportJob) Keys() []string {
	if j == nil || j.Result == nil {
		return nil
	}
	keys := make([]string, 0, len(j.Result.Issues))
	for _, issue := range j.Result.Issues {
		if issue.Key != "" {
			keys = append(keys, issue.Key)
		}
	}
	return keys
}

// ElementErrors returns the per-record errors, if any
func (j *ImportJob) ElementErrors() []ElementError {
	if j == nil || j.Result == nil {
		return nil
	}
	return j.Result.Errors
}

// LatestProgress returns the most recent progress message
func (j *ImportJob) LatestProgress() string {
	if j == nil || len(j.Progress) == 0 {
		return ""
	}
	return j.Progress[len(j.Progress)-1]
}

// Observation is the outcome of reading a job's status.
// It is one of Terminal, InProgress or PollingError.
type Observation interface {
	Job() *ImportJob
	isObservation()
}

// Terminal is a job that finished, successfully or not
type Terminal struct{ job *ImportJob }

// InProgress is a job still queued or working
type InProgress struct{ job *ImportJob }

// PollingError is a status read that failed
type PollingError struct {
	Err error
	job *ImportJob
}

func (o Terminal) Job() *ImportJob     { return o.job }
func (o InProgress) Job() *ImportJob   { return o.job }
func (o PollingError) Job() *ImportJob { return o.job }

func (Terminal) isObservation()     {}
func (InProgress) isObservation()   {}
func (PollingError) isObservation() {}

// observe classifies a successfully read snapshot
func observe(job *ImportJob) Observation {
	if job.Status == "" {
		job.Status = StatusUnknown
	}
	if job.Status.IsTerminal() {
		return Terminal{job: job}
	}
	return InProgress{job: job}
}

// pollingError builds the synthetic snapshot for a failed read
func pollingError(jobID string, err error) PollingError {
	return PollingError{
		Err: err,
		job: &ImportJob{JobID: jobID, Status: StatusError, Error: err.Error()},
	}
}
