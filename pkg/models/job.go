package models

import "time"

// JobStatus is the lifecycle state of an asynchronous query job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job tracks one asynchronous, long-running query dispatched to the backend.
// Terminal states are reported once via the relay; afterwards the record may
// be discarded. The executing backend owns the job's results.
type Job struct {
	JobID      string    `json:"job_id"`
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	TabID      string    `json:"tab_id"`
	ReportID   string    `json:"report_id"`
	Status     JobStatus `json:"status"`
	DispatchAt time.Time `json:"dispatched_at"`
}

// JobCompletionEvent is published on the per-tenant relay channel when the
// backend calls back with a finished job.
type JobCompletionEvent struct {
	TenantID string    `json:"tenant_id"`
	UserID   string    `json:"user_id"`
	TabID    string    `json:"tab_id"`
	ReportID string    `json:"report_id"`
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status"`
}
