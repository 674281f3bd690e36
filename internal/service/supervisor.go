package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/phv-register/internal/errs"
	"github.com/and161185/phv-register/internal/model"
	"github.com/and161185/phv-register/internal/repository"
)

const jobNameTimeLayout = "20060102_150405"

// JobRecorder observes job lifecycle transitions.
type JobRecorder interface {
	JobStarted(trigger model.RegisterJobTrigger)
	JobFinished(status model.RegisterJobStatus)
}

// StartParams describes a job to be started.
type StartParams struct {
	Trigger       model.RegisterJobTrigger
	UploaderID    uuid.UUID // uuid.Nil when not yet known
	CorrelationID string
	SourceName    string // suffix of the generated job name, random when empty
	// Invoke dispatches the actual work for the new job.
	Invoke func(ctx context.Context, jobID int64, jobName string) error
}

// JobSupervisor drives the register job state machine.
type JobSupervisor struct {
	jobs      repository.RegisterJobRepository
	infos     repository.RegisterJobInfoRepository
	recorder  JobRecorder
	log       *zap.Logger
	maxErrors int
	now       func() time.Time
}

// NewJobSupervisor constructs a JobSupervisor persisting at most maxErrors errors per job.
func NewJobSupervisor(jobs repository.RegisterJobRepository, infos repository.RegisterJobInfoRepository,
	recorder JobRecorder, maxErrors int, log *zap.Logger) *JobSupervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &JobSupervisor{jobs: jobs, infos: infos, recorder: recorder, log: log, maxErrors: maxErrors, now: time.Now}
}

// Start persists a STARTING job and hands its id to p.Invoke. A generated
// name already present in the store yields errs.ErrJobNameConflict and
// Invoke is not called.
func (s *JobSupervisor) Start(ctx context.Context, p StartParams) (string, error) {
	if p.Invoke == nil {
		return "", fmt.Errorf("%w: nil job invoker", errs.ErrInvalidArgument)
	}
	name := s.jobName(p.Trigger, p.SourceName)
	id, err := s.jobs.Insert(ctx, model.RegisterJob{
		Name:          name,
		Trigger:       p.Trigger,
		UploaderID:    p.UploaderID,
		CorrelationID: p.CorrelationID,
		Status:        model.StatusStarting,
	})
	if errors.Is(err, errs.ErrAlreadyExists) {
		return "", fmt.Errorf("%w: %s", errs.ErrJobNameConflict, name)
	}
	if err != nil {
		return "", fmt.Errorf("insert register job: %w", err)
	}
	if s.recorder != nil {
		s.recorder.JobStarted(p.Trigger)
	}
	s.log.Info("register job started",
		zap.String("job", name), zap.Int64("job_id", id),
		zap.String("trigger", string(p.Trigger)), zap.String("correlation_id", p.CorrelationID))

	if err := p.Invoke(ctx, id, name); err != nil {
		if uerr := s.UpdateStatus(ctx, id, model.StatusUnknownFailure); uerr != nil {
			s.log.Error("mark job failure", zap.Int64("job_id", id), zap.Error(uerr))
		}
		return "", fmt.Errorf("invoke register job %s: %w", name, err)
	}
	return name, nil
}

func (s *JobSupervisor) jobName(trigger model.RegisterJobTrigger, source string) string {
	suffix := sanitizeSuffix(source)
	if suffix == "" {
		suffix = strings.ReplaceAll(uuid.Must(uuid.NewV4()).String(), "-", "")[:12]
	}
	return fmt.Sprintf("%s_%s_%s", s.now().UTC().Format(jobNameTimeLayout), trigger, suffix)
}

func sanitizeSuffix(s string) string {
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

// HasActiveJobs reports whether any active job holds one of the named authorities.
// The answer may be stale by the time it is used; LockImpactedAuthorities is authoritative.
func (s *JobSupervisor) HasActiveJobs(ctx context.Context, authorityNames []string) (bool, error) {
	if len(authorityNames) == 0 {
		return false, nil
	}
	n, err := s.jobs.CountActiveByAuthorities(ctx, authorityNames)
	if err != nil {
		return false, fmt.Errorf("count active jobs: %w", err)
	}
	return n > 0, nil
}

// LockImpactedAuthorities records the authorities jobID is about to write.
// errs.ErrActiveJobExists means another active job already holds one of them.
func (s *JobSupervisor) LockImpactedAuthorities(ctx context.Context, jobID int64, authorityNames []string) error {
	return s.jobs.LockAuthorities(ctx, jobID, authorityNames)
}

// AssignUploader records the uploader of a job.
func (s *JobSupervisor) AssignUploader(ctx context.Context, jobID int64, uploaderID uuid.UUID) error {
	return s.jobs.AssignUploader(ctx, jobID, uploaderID)
}

// UpdateStatus moves the job to status.
func (s *JobSupervisor) UpdateStatus(ctx context.Context, jobID int64, status model.RegisterJobStatus) error {
	if err := s.jobs.UpdateStatus(ctx, jobID, status); err != nil {
		return fmt.Errorf("update job %d status: %w", jobID, err)
	}
	s.finished(status)
	return nil
}

// MarkSuccessfullyFinished stores per-authority change counts and finishes the
// job in one write; on error neither is persisted.
func (s *JobSupervisor) MarkSuccessfullyFinished(ctx context.Context, jobID int64, result model.RegisterResult) error {
	if err := s.infos.Finish(ctx, jobID, result.Affected()); err != nil {
		return fmt.Errorf("finish job %d: %w", jobID, err)
	}
	s.finished(model.StatusFinishedSuccess)
	return nil
}

// MarkFailure persists errors ordered by line number and capped, together with status.
func (s *JobSupervisor) MarkFailure(ctx context.Context, jobID int64, status model.RegisterJobStatus, verrs []model.ValidationError) error {
	sorted := append([]model.ValidationError(nil), verrs...)
	model.SortByLineNumber(sorted)
	sorted = model.CapErrors(sorted, s.maxErrors)
	if err := s.jobs.UpdateErrors(ctx, jobID, status, sorted); err != nil {
		return fmt.Errorf("update job %d errors: %w", jobID, err)
	}
	s.finished(status)
	return nil
}

// FindByName loads a job by name.
func (s *JobSupervisor) FindByName(ctx context.Context, name string) (*model.RegisterJob, error) {
	return s.jobs.FindByName(ctx, name)
}

func (s *JobSupervisor) finished(status model.RegisterJobStatus) {
	if s.recorder != nil && !status.IsActive() {
		s.recorder.JobFinished(status)
	}
}
