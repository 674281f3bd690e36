package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/phv-register/internal/errs"
	"github.com/and161185/phv-register/internal/events"
	"github.com/and161185/phv-register/internal/model"
	"github.com/and161185/phv-register/internal/service"
)

const activeJobDetail = "Previous upload for the same licensing authority is still being processed. Please try again later"

const finalizeTimeout = 10 * time.Second

// Supervisor is the job state machine used by the pipeline.
type Supervisor interface {
	HasActiveJobs(ctx context.Context, authorityNames []string) (bool, error)
	LockImpactedAuthorities(ctx context.Context, jobID int64, authorityNames []string) error
	AssignUploader(ctx context.Context, jobID int64, uploaderID uuid.UUID) error
	UpdateStatus(ctx context.Context, jobID int64, status model.RegisterJobStatus) error
	MarkSuccessfullyFinished(ctx context.Context, jobID int64, result model.RegisterResult) error
	MarkFailure(ctx context.Context, jobID int64, status model.RegisterJobStatus, verrs []model.ValidationError) error
}

// Registrar reconciles licences with the register.
type Registrar interface {
	Register(ctx context.Context, licences []model.Licence, uploaderID uuid.UUID) (model.RegisterResult, error)
}

// PermissionChecker verifies an uploader may modify licensing authorities.
type PermissionChecker interface {
	CheckPermissions(ctx context.Context, uploaderID uuid.UUID, wanted []string) error
}

// Mailer sends templated emails.
type Mailer interface {
	Send(ctx context.Context, e events.Email) error
}

// EmailTemplates are template ids of job completion emails.
type EmailTemplates struct {
	Success string
	Failure string
}

// Job identifies the job a pipeline run belongs to.
type Job struct {
	ID   int64
	Name string
}

// Pipeline executes one prepared job end to end.
type Pipeline struct {
	supervisor Supervisor
	sentinel   PermissionChecker
	registrar  Registrar
	resolvers  map[model.RegisterJobTrigger]ExceptionResolver
	mailer     Mailer
	templates  EmailTemplates
	background *events.Detached
	log        *zap.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithMailer enables completion emails.
func WithMailer(m Mailer, t EmailTemplates, background *events.Detached) PipelineOption {
	return func(p *Pipeline) {
		p.mailer, p.templates, p.background = m, t, background
	}
}

// WithResolver overrides the resolver used for a trigger.
func WithResolver(trigger model.RegisterJobTrigger, r ExceptionResolver) PipelineOption {
	return func(p *Pipeline) { p.resolvers[trigger] = r }
}

// NewPipeline constructs a Pipeline.
func NewPipeline(supervisor Supervisor, sentinel PermissionChecker, registrar Registrar, log *zap.Logger, opts ...PipelineOption) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		supervisor: supervisor,
		sentinel:   sentinel,
		registrar:  registrar,
		resolvers:  map[model.RegisterJobTrigger]ExceptionResolver{model.TriggerCSV: CSVResolver{}},
		log:        log,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Execute runs cmd for job and leaves the job in a terminal status, also when
// the run panics.
func (p *Pipeline) Execute(ctx context.Context, job Job, cmd Command) {
	log := p.log.With(zap.String("job", job.Name), zap.Int64("job_id", job.ID), zap.String("trigger", string(cmd.Trigger())))
	var (
		committed bool
		finalized bool
	)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error("register job panicked", zap.Any("panic", r), zap.Stack("stack"))
		if finalized {
			return
		}
		status, verrs := unknownFailure()
		p.finish(ctx, job, cmd, log, outcome{status: status, verrs: verrs, committed: committed})
	}()

	out := p.run(ctx, job, cmd, log, &committed)
	finalized = true
	p.finish(ctx, job, cmd, log, out)
}

// outcome is how a run ended. committed is set once licences were written,
// whatever happens to the job bookkeeping afterwards.
type outcome struct {
	status    model.RegisterJobStatus
	verrs     []model.ValidationError
	committed bool
}

func failed(status model.RegisterJobStatus, verrs []model.ValidationError) outcome {
	return outcome{status: status, verrs: verrs}
}

func (p *Pipeline) finish(ctx context.Context, job Job, cmd Command, log *zap.Logger, out outcome) {
	// Terminal writes must land even when the job context is already cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	switch {
	case out.status == model.StatusFinishedSuccess:
		log.Info("register job finished")
	case out.committed:
		log.Error("licences written but job not finished, forcing success status")
		p.forceStatus(ctx, job, log, model.StatusFinishedSuccess)
		out.status = model.StatusFinishedSuccess
	default:
		log.Info("register job failed", zap.String("status", string(out.status)), zap.Int("errors", len(out.verrs)))
		if err := p.supervisor.MarkFailure(ctx, job.ID, out.status, out.verrs); err != nil {
			log.Error("mark job failure", zap.Error(err))
			p.forceStatus(ctx, job, log, out.status)
		}
		cmd.OnFailure(ctx)
	}
	p.notify(ctx, job, cmd, out.status)
}

// forceStatus moves the job out of an active status so its licensing
// authorities are released.
func (p *Pipeline) forceStatus(ctx context.Context, job Job, log *zap.Logger, status model.RegisterJobStatus) {
	if err := p.supervisor.UpdateStatus(ctx, job.ID, status); err != nil {
		log.Error("job left in active status", zap.String("status", string(status)), zap.Error(err))
	}
}

func (p *Pipeline) run(ctx context.Context, job Job, cmd Command, log *zap.Logger, committed *bool) outcome {
	if err := cmd.BeforeExecute(ctx); err != nil {
		log.Warn("prepare submission", zap.Error(err))
		res, status := p.resolver(cmd.Trigger()).Resolve(err)
		return failed(status, res.Errors())
	}
	verrs, verr := cmd.ValidationErrors()
	licences, lerr := cmd.Licences()
	uploaderID, uerr := cmd.UploaderID()
	if err := errors.Join(verr, lerr, uerr); err != nil {
		log.Error("read prepared submission", zap.Error(err))
		return failed(unknownFailure())
	}
	if len(verrs) > 0 {
		return failed(model.StatusFinishedFailureValidationErrors, verrs)
	}
	wanted := service.AuthorityNames(licences)

	if err := p.sentinel.CheckPermissions(ctx, uploaderID, wanted); err != nil {
		var perm *service.InsufficientPermissionsError
		if errors.As(err, &perm) {
			return failed(model.StatusFinishedFailureValidationErrors, []model.ValidationError{{
				Kind: model.KindInsufficientPermissions, Detail: perm.Error(),
			}})
		}
		log.Error("check permissions", zap.Error(err))
		return failed(unknownFailure())
	}

	active, err := p.supervisor.HasActiveJobs(ctx, wanted)
	if err != nil {
		log.Error("check active jobs", zap.Error(err))
		return failed(unknownFailure())
	}
	if active {
		return failed(model.StatusAborted, []model.ValidationError{model.InternalError(activeJobDetail)})
	}
	if err := p.supervisor.LockImpactedAuthorities(ctx, job.ID, wanted); err != nil {
		if errors.Is(err, errs.ErrActiveJobExists) {
			return failed(model.StatusAborted, []model.ValidationError{model.InternalError(activeJobDetail)})
		}
		log.Error("lock licensing authorities", zap.Error(err))
		return failed(unknownFailure())
	}

	if err := p.supervisor.AssignUploader(ctx, job.ID, uploaderID); err != nil {
		log.Error("assign uploader", zap.Error(err))
		return failed(unknownFailure())
	}
	if err := p.supervisor.UpdateStatus(ctx, job.ID, model.StatusRunning); err != nil {
		log.Error("mark job running", zap.Error(err))
		return failed(unknownFailure())
	}

	res, err := p.registrar.Register(ctx, licences, uploaderID)
	if err != nil {
		log.Error("register licences", zap.Error(err))
		return failed(unknownFailure())
	}
	if !res.IsSuccess() {
		return failed(model.StatusFinishedFailureValidationErrors, res.Errors())
	}
	*committed = true
	if err := p.supervisor.MarkSuccessfullyFinished(ctx, job.ID, res); err != nil {
		log.Error("mark job finished", zap.Error(err))
		status, verrs := unknownFailure()
		return outcome{status: status, verrs: verrs, committed: true}
	}
	for _, a := range res.Affected() {
		log.Info("licensing authority reconciled", zap.String("authority", a.Authority.Name),
			zap.Int("inserted", a.Inserted), zap.Int("updated", a.Updated), zap.Int("deleted", a.Deleted))
	}
	return outcome{status: model.StatusFinishedSuccess, committed: true}
}

func (p *Pipeline) resolver(t model.RegisterJobTrigger) ExceptionResolver {
	if r, ok := p.resolvers[t]; ok {
		return r
	}
	return DefaultResolver{}
}

func (p *Pipeline) notify(ctx context.Context, job Job, cmd Command, status model.RegisterJobStatus) {
	to := cmd.UploaderEmail()
	if p.mailer == nil || to == "" {
		return
	}
	tpl := p.templates.Failure
	if status == model.StatusFinishedSuccess {
		tpl = p.templates.Success
	}
	if tpl == "" {
		return
	}
	email := events.Email{
		TemplateID:      tpl,
		EmailAddress:    to,
		Reference:       job.Name,
		Personalisation: map[string]string{"jobName": job.Name, "status": string(status)},
	}
	send := func(ctx context.Context) error { return p.mailer.Send(ctx, email) }
	if p.background == nil {
		if err := send(ctx); err != nil {
			p.log.Warn("send job email", zap.String("job", job.Name), zap.Error(err))
		}
		return
	}
	p.background.Go(ctx, "job email", send)
}

func unknownFailure() (model.RegisterJobStatus, []model.ValidationError) {
	return model.StatusUnknownFailure, []model.ValidationError{
		model.InternalError("Unknown error occurred while processing the submission"),
	}
}
