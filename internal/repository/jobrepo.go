package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/phv-register/internal/model"
)

// RegisterJobRepository persists register jobs.
type RegisterJobRepository interface {
	// Insert stores a new job and returns its id; a taken name yields errs.ErrAlreadyExists.
	Insert(ctx context.Context, job model.RegisterJob) (int64, error)
	// UpdateStatus moves a job to a new status.
	UpdateStatus(ctx context.Context, jobID int64, status model.RegisterJobStatus) error
	// AssignUploader records the uploader once it is known.
	AssignUploader(ctx context.Context, jobID int64, uploaderID uuid.UUID) error
	// UpdateErrors sets a terminal status together with the job errors.
	UpdateErrors(ctx context.Context, jobID int64, status model.RegisterJobStatus, errors []model.ValidationError) error
	// CountActiveByAuthorities counts active jobs holding any of the named authorities.
	CountActiveByAuthorities(ctx context.Context, authorityNames []string) (int, error)
	// LockAuthorities records the authorities impacted by a job unless another
	// active job holds any of them, in which case errs.ErrActiveJobExists is returned.
	LockAuthorities(ctx context.Context, jobID int64, authorityNames []string) error
	// FindByName loads a job by its unique name.
	FindByName(ctx context.Context, name string) (*model.RegisterJob, error)
	// FindByID loads a job by id.
	FindByID(ctx context.Context, jobID int64) (*model.RegisterJob, error)
}

// RegisterJobInfoRepository stores per-authority metadata of successful jobs.
type RegisterJobInfoRepository interface {
	// Finish stores changes and marks the job FINISHED_SUCCESS atomically.
	Finish(ctx context.Context, jobID int64, changes []model.AuthorityChanges) error
}
