package service

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/phv-register/internal/errs"
	"github.com/and161185/phv-register/internal/model"
	"github.com/and161185/phv-register/internal/repository"
)

type fakeAuthorities struct {
	all        []model.LicensingAuthority
	allowed    []model.LicensingAuthority
	exists     bool
	err        error
	allowCalls int
}

var _ repository.AuthorityRepository = (*fakeAuthorities)(nil)

func (f *fakeAuthorities) FindAll(context.Context) ([]model.LicensingAuthority, error) {
	return f.all, f.err
}
func (f *fakeAuthorities) FindAllowedForUploader(context.Context, uuid.UUID) ([]model.LicensingAuthority, error) {
	f.allowCalls++
	return f.allowed, f.err
}
func (f *fakeAuthorities) UploaderExists(context.Context, uuid.UUID) (bool, error) {
	return f.exists, f.err
}

type fakeLicences struct {
	mu       sync.Mutex
	stored   map[int][]model.Licence
	applied  []model.LicenceChanges
	applyErr error
}

var _ repository.LicenceRepository = (*fakeLicences)(nil)

func (f *fakeLicences) FindByAuthority(_ context.Context, id int) ([]model.Licence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Licence(nil), f.stored[id]...), nil
}
func (f *fakeLicences) FindByVRM(_ context.Context, vrm string) ([]model.Licence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Licence
	for _, ls := range f.stored {
		for _, l := range ls {
			if l.VRM == vrm {
				out = append(out, l)
			}
		}
	}
	return out, nil
}
func (f *fakeLicences) Apply(_ context.Context, c model.LicenceChanges) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, c)
	return f.applyErr
}

type fakeEvictor struct{ calls [][]string }

func (f *fakeEvictor) Evict(_ context.Context, vrms ...string) error {
	f.calls = append(f.calls, vrms)
	return nil
}

type fakePurger struct {
	calls [][]string
	err   error
}

func (f *fakePurger) PurgeVRMs(_ context.Context, vrms []string) error {
	f.calls = append(f.calls, vrms)
	return f.err
}

type fakeJobs struct {
	mu         sync.Mutex
	nextID     int64
	byID       map[int64]*model.RegisterJob
	insertErr  error
	activeCnt  int
	lockErr    error
	locked     map[int64][]string
	statusHist map[int64][]model.RegisterJobStatus
}

var _ repository.RegisterJobRepository = (*fakeJobs)(nil)

func newFakeJobs() *fakeJobs {
	return &fakeJobs{byID: map[int64]*model.RegisterJob{}, locked: map[int64][]string{}, statusHist: map[int64][]model.RegisterJobStatus{}}
}

func (f *fakeJobs) Insert(_ context.Context, j model.RegisterJob) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	for _, e := range f.byID {
		if e.Name == j.Name {
			return 0, errs.ErrAlreadyExists
		}
	}
	f.nextID++
	j.ID = f.nextID
	f.byID[j.ID] = &j
	f.statusHist[j.ID] = append(f.statusHist[j.ID], j.Status)
	return j.ID, nil
}
func (f *fakeJobs) UpdateStatus(_ context.Context, id int64, s model.RegisterJobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	j.Status = s
	f.statusHist[id] = append(f.statusHist[id], s)
	return nil
}
func (f *fakeJobs) AssignUploader(_ context.Context, id int64, u uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	j.UploaderID = u
	return nil
}
func (f *fakeJobs) UpdateErrors(_ context.Context, id int64, s model.RegisterJobStatus, e []model.ValidationError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	j.Status, j.Errors = s, e
	f.statusHist[id] = append(f.statusHist[id], s)
	return nil
}
func (f *fakeJobs) CountActiveByAuthorities(context.Context, []string) (int, error) {
	return f.activeCnt, nil
}
func (f *fakeJobs) LockAuthorities(_ context.Context, id int64, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return f.lockErr
	}
	f.locked[id] = names
	return nil
}
func (f *fakeJobs) FindByName(_ context.Context, name string) (*model.RegisterJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.byID {
		if j.Name == name {
			c := *j
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeJobs) FindByID(_ context.Context, id int64) (*model.RegisterJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *j
	return &c, nil
}

type fakeInfos struct {
	jobs    *fakeJobs
	jobID   int64
	changes []model.AuthorityChanges
	err     error
}

func (f *fakeInfos) Finish(ctx context.Context, id int64, c []model.AuthorityChanges) error {
	if f.err != nil {
		return f.err
	}
	f.jobID, f.changes = id, c
	if f.jobs != nil {
		return f.jobs.UpdateStatus(ctx, id, model.StatusFinishedSuccess)
	}
	return nil
}
