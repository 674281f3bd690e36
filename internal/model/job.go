package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// RegisterJobTrigger names the source a register job was started from.
type RegisterJobTrigger string

const (
	TriggerCSV RegisterJobTrigger = "CSV"
	TriggerAPI RegisterJobTrigger = "API"
)

// RegisterJobStatus is a state of the register job state machine.
type RegisterJobStatus string

const (
	StatusStarting                        RegisterJobStatus = "STARTING"
	StatusRunning                         RegisterJobStatus = "RUNNING"
	StatusFinishedSuccess                 RegisterJobStatus = "FINISHED_SUCCESS"
	StatusFinishedFailureValidationErrors RegisterJobStatus = "FINISHED_FAILURE_VALIDATION_ERRORS"
	StatusStartupFailureNoSourceFile      RegisterJobStatus = "STARTUP_FAILURE_NO_SOURCE_FILE"
	StatusStartupFailureNoAccessToSource  RegisterJobStatus = "STARTUP_FAILURE_NO_ACCESS_TO_SOURCE"
	StatusStartupFailureMissingUploaderID RegisterJobStatus = "STARTUP_FAILURE_MISSING_UPLOADER_ID"
	StatusStartupFailureInvalidUploaderID RegisterJobStatus = "STARTUP_FAILURE_INVALID_UPLOADER_ID"
	StatusStartupFailureTooLargeFile      RegisterJobStatus = "STARTUP_FAILURE_TOO_LARGE_FILE"
	StatusAborted                         RegisterJobStatus = "ABORTED"
	StatusUnknownFailure                  RegisterJobStatus = "UNKNOWN_FAILURE"
)

// ActiveStatuses are the statuses of jobs that may still write to the register.
var ActiveStatuses = []RegisterJobStatus{StatusStarting, StatusRunning}

// IsActive reports whether the job has not reached a terminal state.
func (s RegisterJobStatus) IsActive() bool {
	return s == StatusStarting || s == StatusRunning
}

// RegisterJob tracks one asynchronous reconciliation of a submission.
type RegisterJob struct {
	ID                  int64
	Name                string // unique
	Trigger             RegisterJobTrigger
	UploaderID          uuid.UUID // uuid.Nil until known
	CorrelationID       string
	Status              RegisterJobStatus
	Errors              []ValidationError // ordered by line number
	ImpactedAuthorities []int             // licensing authority ids locked by the job
	InsertedAt          time.Time
	UpdatedAt           time.Time
}

// RegisterJobInfo is per-authority metadata stored for a successful job.
type RegisterJobInfo struct {
	JobID   int64
	Changes AuthorityChanges
}
