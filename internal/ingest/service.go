package ingest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/phv-register/internal/csvsource"
	"github.com/and161185/phv-register/internal/errs"
	"github.com/and161185/phv-register/internal/model"
	"github.com/and161185/phv-register/internal/repository"
	"github.com/and161185/phv-register/internal/service"
	"github.com/and161185/phv-register/internal/worker"
)

// JobStarter creates and looks up register jobs.
type JobStarter interface {
	Start(ctx context.Context, p service.StartParams) (string, error)
	HasActiveJobs(ctx context.Context, authorityNames []string) (bool, error)
	FindByName(ctx context.Context, name string) (*model.RegisterJob, error)
}

// Dispatcher runs tasks in the background.
type Dispatcher interface {
	Submit(task worker.Task) error
}

// CSVCommandFactory builds the command for an uploaded file.
type CSVCommandFactory func(bucket, file string) Command

// FileStore stores uploaded files together with their metadata.
type FileStore interface {
	Put(ctx context.Context, bucket, name string, r io.Reader, metadata map[string]string) error
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithUploads enables UploadCSV.
func WithUploads(store FileStore) ServiceOption {
	return func(s *Service) { s.uploads = store }
}

// Service is the entry point for submissions and job queries.
type Service struct {
	jobs        JobStarter
	pipeline    *Pipeline
	dispatcher  Dispatcher
	authorities repository.AuthorityRepository
	licences    repository.LicenceRepository
	converter   Converter
	newCSV      CSVCommandFactory
	uploads     FileStore
	log         *zap.Logger
}

// NewService constructs a Service.
func NewService(jobs JobStarter, pipeline *Pipeline, dispatcher Dispatcher,
	authorities repository.AuthorityRepository, licences repository.LicenceRepository,
	converter Converter, newCSV CSVCommandFactory, log *zap.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		jobs: jobs, pipeline: pipeline, dispatcher: dispatcher,
		authorities: authorities, licences: licences,
		converter: converter, newCSV: newCSV, log: log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SubmitCSV starts a job for a file uploaded to bucket. The uploader is read
// from the file metadata once the job runs.
func (s *Service) SubmitCSV(ctx context.Context, bucket, file, correlationID string) (string, error) {
	if strings.TrimSpace(bucket) == "" || strings.TrimSpace(file) == "" {
		return "", fmt.Errorf("%w: bucket and filename are required", errs.ErrInvalidArgument)
	}
	cmd := s.newCSV(bucket, file)
	return s.jobs.Start(ctx, service.StartParams{
		Trigger:       model.TriggerCSV,
		CorrelationID: correlationID,
		SourceName:    file,
		Invoke:        s.invoker(cmd),
	})
}

// UploadCSV stores r as bucket/file tagged with the uploader and then starts a
// CSV job for it, as if the file had been uploaded by the frontend.
func (s *Service) UploadCSV(ctx context.Context, uploaderID uuid.UUID, email, bucket, file string, r io.Reader, correlationID string) (string, error) {
	if s.uploads == nil {
		return "", fmt.Errorf("%w: uploads are disabled", errs.ErrInvalidArgument)
	}
	if uploaderID == uuid.Nil {
		return "", fmt.Errorf("%w: empty uploader id", errs.ErrInvalidArgument)
	}
	if strings.TrimSpace(bucket) == "" || strings.TrimSpace(file) == "" || strings.ContainsAny(file, "/\\") {
		return "", fmt.Errorf("%w: invalid bucket or filename", errs.ErrInvalidArgument)
	}
	meta := map[string]string{csvsource.MetaUploaderID: uploaderID.String()}
	if email = strings.TrimSpace(email); email != "" {
		meta[csvsource.MetaEmail] = email
	}
	if err := s.uploads.Put(ctx, bucket, file, r, meta); err != nil {
		return "", fmt.Errorf("store upload %s/%s: %w", bucket, file, err)
	}
	return s.SubmitCSV(ctx, bucket, file, correlationID)
}

// SubmitAPI starts a job for rows submitted by a known uploader. Unknown
// uploaders yield errs.ErrNotFound and a submission touching a licensing
// authority held by an active job yields errs.ErrActiveJobExists; in both
// cases no job is created.
func (s *Service) SubmitAPI(ctx context.Context, uploaderID uuid.UUID, rows []model.VehicleDto, correlationID string) (string, error) {
	if uploaderID == uuid.Nil {
		return "", fmt.Errorf("%w: empty uploader id", errs.ErrInvalidArgument)
	}
	exists, err := s.authorities.UploaderExists(ctx, uploaderID)
	if err != nil {
		return "", fmt.Errorf("check uploader: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("uploader %s: %w", uploaderID, errs.ErrNotFound)
	}
	active, err := s.jobs.HasActiveJobs(ctx, requestedAuthorities(rows))
	if err != nil {
		return "", err
	}
	if active {
		return "", errs.ErrActiveJobExists
	}
	cmd := NewAPICommand(uploaderID, rows, s.converter)
	return s.jobs.Start(ctx, service.StartParams{
		Trigger:       model.TriggerAPI,
		UploaderID:    uploaderID,
		CorrelationID: correlationID,
		Invoke:        s.invoker(cmd),
	})
}

func (s *Service) invoker(cmd Command) func(ctx context.Context, jobID int64, jobName string) error {
	return func(_ context.Context, jobID int64, jobName string) error {
		job := Job{ID: jobID, Name: jobName}
		return s.dispatcher.Submit(func(ctx context.Context) {
			s.pipeline.Execute(ctx, job, cmd)
		})
	}
}

// JobByName returns the job, or errs.ErrNotFound.
func (s *Service) JobByName(ctx context.Context, name string) (*model.RegisterJob, error) {
	return s.jobs.FindByName(ctx, name)
}

// LicencesByVRM returns stored licences of a vehicle.
func (s *Service) LicencesByVRM(ctx context.Context, vrm string) ([]model.Licence, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(vrm), " ", ""))
	if norm == "" {
		return nil, fmt.Errorf("%w: empty vrm", errs.ErrInvalidArgument)
	}
	return s.licences.FindByVRM(ctx, norm)
}

func requestedAuthorities(rows []model.VehicleDto) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rows {
		name := strings.TrimSpace(r.LicensingAuthorityName)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
