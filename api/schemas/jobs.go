package schemas

import (
	"time"
)

// -- Job Schemas --

// JobType defines which workflow a job runs.
type JobType string

const (
	JobAuthenticate JobType = "authenticate"
	JobScrapeUsers  JobType = "scrape_users"
	JobProvision    JobType = "provision_user"
	JobDeprovision  JobType = "deprovision_user"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobAuthenticate, JobScrapeUsers, JobProvision, JobDeprovision:
		return true
	}
	return false
}

// Idempotent reports whether a job of this type can be retried safely.
// Provisioning and deprovisioning mutate the remote system and are never retried.
func (t JobType) Idempotent() bool {
	return t == JobAuthenticate || t == JobScrapeUsers
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobParameters carries the inputs of every job type. Only the fields relevant
// to the job's type are read.
type JobParameters struct {
	BaseURL    string            `json:"base_url"`
	Username   string            `json:"username,omitempty"`
	Password   string            `json:"password,omitempty"`
	OTPCode    string            `json:"otp_code,omitempty"`
	MaxPages   int               `json:"max_pages,omitempty"`
	User       map[string]string `json:"user,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
}

// Job is an automation request tracked by the orchestrator. Results holds the
// final WorkflowResult once the job has finished.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"job_type"`
	Status      JobStatus       `json:"status"`
	Parameters  JobParameters   `json:"parameters"`
	Results     *WorkflowResult `json:"results,omitempty"`
	Log         []string        `json:"logs"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
