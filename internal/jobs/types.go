package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeRegister runs the classification pipeline for a register request.
	JobTypeRegister JobType = "register"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries applies when a job is published without MaxRetries.
const DefaultMaxRetries = 3

// ErrJobNotFound is returned by stores for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// RegisterResult summarizes a finished register job.
type RegisterResult struct {
	Count             int      `json:"count"`
	PersistedCount    int      `json:"persisted_count"`
	PersistedEntryIDs []string `json:"persisted_entry_ids,omitempty"`
	CSVExportID       string   `json:"csv_export_id,omitempty"`
	CSVDownloadURL    string   `json:"csv_download_url,omitempty"`
	Errors            []string `json:"errors"`
}

// RegisterJob classifies and registers one batch of transactions
// asynchronously.
type RegisterJob struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`

	// Request is the register request body, decoded by the handler.
	Request json.RawMessage `json:"-"`

	Status JobStatus       `json:"status"`
	Result *RegisterResult `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Clone returns a deep copy of j.
func (j *RegisterJob) Clone() *RegisterJob {
	c := *j
	c.Request = append(json.RawMessage(nil), j.Request...)
	if j.Result != nil {
		r := *j.Result
		r.PersistedEntryIDs = append([]string(nil), j.Result.PersistedEntryIDs...)
		r.Errors = append([]string(nil), j.Result.Errors...)
		c.Result = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *RegisterJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *RegisterJob) GetType() JobType {
	return JobTypeRegister
}

// GetStatus implements the Job interface.
func (j *RegisterJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	PublishRegister(ctx context.Context, job *RegisterJob) error
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
// Errors wrapped with Permanent are not retried.
type JobHandler func(ctx context.Context, job Job) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	SaveJob(ctx context.Context, job *RegisterJob) error
	GetJob(ctx context.Context, jobID string) (*RegisterJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*RegisterJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	TenantID string
	Status   JobStatus
	Limit    int
	Offset   int
}
