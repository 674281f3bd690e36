package ingest

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/phv-register/internal/csvsource"
	"github.com/and161185/phv-register/internal/events"
	"github.com/and161185/phv-register/internal/model"
	"github.com/and161185/phv-register/internal/service"
	"github.com/and161185/phv-register/internal/worker"
)

type fakeSupervisor struct {
	active     bool
	lockErr    error
	statuses   []model.RegisterJobStatus
	locked     []string
	lockCalls  int
	uploader   uuid.UUID
	failStatus model.RegisterJobStatus
	failErrs   []model.ValidationError
	failErr    error
	succeeded  bool
	finishErr  error
}

func (f *fakeSupervisor) HasActiveJobs(context.Context, []string) (bool, error) { return f.active, nil }
func (f *fakeSupervisor) LockImpactedAuthorities(_ context.Context, _ int64, names []string) error {
	f.lockCalls++
	f.locked = names
	return f.lockErr
}
func (f *fakeSupervisor) AssignUploader(_ context.Context, _ int64, u uuid.UUID) error {
	f.uploader = u
	return nil
}
func (f *fakeSupervisor) UpdateStatus(_ context.Context, _ int64, s model.RegisterJobStatus) error {
	f.statuses = append(f.statuses, s)
	return nil
}
func (f *fakeSupervisor) MarkSuccessfullyFinished(context.Context, int64, model.RegisterResult) error {
	if f.finishErr != nil {
		return f.finishErr
	}
	f.succeeded = true
	return nil
}
func (f *fakeSupervisor) MarkFailure(_ context.Context, _ int64, s model.RegisterJobStatus, e []model.ValidationError) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.failStatus, f.failErrs = s, e
	return nil
}

type fakeSentinel struct {
	err   error
	calls int
}

func (f *fakeSentinel) CheckPermissions(context.Context, uuid.UUID, []string) error {
	f.calls++
	return f.err
}

type fakeRegistrar struct {
	res   model.RegisterResult
	err   error
	calls int
	crash bool
}

func (f *fakeRegistrar) Register(context.Context, []model.Licence, uuid.UUID) (model.RegisterResult, error) {
	f.calls++
	if f.crash {
		var counts map[string]int
		counts["inserted"]++
	}
	return f.res, f.err
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []events.Email
}

func (f *fakeMailer) Send(_ context.Context, e events.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, e)
	return nil
}

type fakeSource struct {
	meta     csvsource.FileMetadata
	metaErr  error
	rows     []model.VehicleDto
	parseErr []model.ValidationError
	purged   int
}

func (f *fakeSource) Extract(context.Context, string, string) (csvsource.FileMetadata, error) {
	return f.meta, f.metaErr
}
func (f *fakeSource) FindAll(context.Context, string, string) ([]model.VehicleDto, []model.ValidationError, error) {
	return f.rows, f.parseErr, nil
}
func (f *fakeSource) Purge(context.Context, string, string) error {
	f.purged++
	return nil
}

type fakeStarter struct {
	active bool
	starts int
	params service.StartParams
	jobs   map[string]*model.RegisterJob
}

func (f *fakeStarter) Start(ctx context.Context, p service.StartParams) (string, error) {
	f.starts++
	f.params = p
	name := "job-" + string(p.Trigger)
	if err := p.Invoke(ctx, int64(f.starts), name); err != nil {
		return "", err
	}
	return name, nil
}
func (f *fakeStarter) HasActiveJobs(context.Context, []string) (bool, error) { return f.active, nil }
func (f *fakeStarter) FindByName(_ context.Context, name string) (*model.RegisterJob, error) {
	return f.jobs[name], nil
}

type syncDispatcher struct{ ran int }

func (d *syncDispatcher) Submit(task worker.Task) error {
	d.ran++
	task(context.Background())
	return nil
}

func row(vrm, la string, line int) model.VehicleDto {
	return model.VehicleDto{VRM: vrm, Start: "2024-01-01", End: "2025-01-01", Description: "taxi",
		LicensingAuthorityName: la, LicencePlateNumber: "P1", LineNumber: line}
}
