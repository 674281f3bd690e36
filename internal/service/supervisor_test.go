package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/phv-register/internal/errs"
	"github.com/and161185/phv-register/internal/model"
)

type countingRecorder struct {
	started  map[model.RegisterJobTrigger]int
	finished map[model.RegisterJobStatus]int
}

func (r *countingRecorder) JobStarted(t model.RegisterJobTrigger) { r.started[t]++ }
func (r *countingRecorder) JobFinished(s model.RegisterJobStatus) { r.finished[s]++ }

func newSupervisor(jobs *fakeJobs, infos *fakeInfos, maxErrors int) (*JobSupervisor, *countingRecorder) {
	rec := &countingRecorder{started: map[model.RegisterJobTrigger]int{}, finished: map[model.RegisterJobStatus]int{}}
	if infos.jobs == nil {
		infos.jobs = jobs
	}
	s := NewJobSupervisor(jobs, infos, rec, maxErrors, zap.NewNop())
	s.now = func() time.Time { return time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC) }
	return s, rec
}

func TestSupervisor_Start_PersistsAndInvokes(t *testing.T) {
	jobs := newFakeJobs()
	s, rec := newSupervisor(jobs, &fakeInfos{}, 0)

	var invoked int64
	name, err := s.Start(context.Background(), StartParams{
		Trigger: model.TriggerCSV, CorrelationID: "c", SourceName: "uploads/leeds feb.csv",
		Invoke: func(_ context.Context, id int64, _ string) error { invoked = id; return nil },
	})
	require.NoError(t, err)
	require.Equal(t, "20240305_101112_CSV_leeds_feb", name)
	require.Equal(t, int64(1), invoked)
	require.Equal(t, model.StatusStarting, jobs.byID[1].Status)
	require.Equal(t, 1, rec.started[model.TriggerCSV])
}

func TestSupervisor_Start_RandomSuffix(t *testing.T) {
	s, _ := newSupervisor(newFakeJobs(), &fakeInfos{}, 0)
	name, err := s.Start(context.Background(), StartParams{
		Trigger: model.TriggerAPI, Invoke: func(context.Context, int64, string) error { return nil },
	})
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^20240305_101112_API_[0-9a-f]{12}$`), name)
}

func TestSupervisor_Start_NameConflictNeverInvokes(t *testing.T) {
	jobs := newFakeJobs()
	jobs.insertErr = errs.ErrAlreadyExists
	s, _ := newSupervisor(jobs, &fakeInfos{}, 0)

	called := false
	_, err := s.Start(context.Background(), StartParams{
		Trigger: model.TriggerAPI, SourceName: "x",
		Invoke: func(context.Context, int64, string) error { called = true; return nil },
	})
	require.ErrorIs(t, err, errs.ErrJobNameConflict)
	require.False(t, called)
}

func TestSupervisor_Start_InvokeFailureMarksUnknown(t *testing.T) {
	jobs := newFakeJobs()
	s, rec := newSupervisor(jobs, &fakeInfos{}, 0)

	_, err := s.Start(context.Background(), StartParams{
		Trigger: model.TriggerAPI, SourceName: "x",
		Invoke: func(context.Context, int64, string) error { return errors.New("queue full") },
	})
	require.ErrorContains(t, err, "queue full")
	require.Equal(t, model.StatusUnknownFailure, jobs.byID[1].Status)
	require.Equal(t, 1, rec.finished[model.StatusUnknownFailure])
}

func TestSupervisor_HasActiveJobs(t *testing.T) {
	jobs := newFakeJobs()
	s, _ := newSupervisor(jobs, &fakeInfos{}, 0)

	ok, err := s.HasActiveJobs(context.Background(), []string{"la"})
	require.NoError(t, err)
	require.False(t, ok)

	jobs.activeCnt = 3
	ok, err = s.HasActiveJobs(context.Background(), []string{"la"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSupervisor_MarkFailure_SortsAndCaps(t *testing.T) {
	jobs := newFakeJobs()
	s, _ := newSupervisor(jobs, &fakeInfos{}, 3)
	id, _ := jobs.Insert(context.Background(), model.RegisterJob{Name: "j", Status: model.StatusRunning})

	err := s.MarkFailure(context.Background(), id, model.StatusFinishedFailureValidationErrors, []model.ValidationError{
		model.ValueError("A", "a", 100),
		model.ValueError("B", "b", 90),
		model.ValueError("C", "c", 95),
		model.ValueError("D", "d", 200),
	})
	require.NoError(t, err)
	var lines []int
	for _, e := range jobs.byID[id].Errors {
		lines = append(lines, e.LineNumber)
	}
	require.Equal(t, []int{90, 95, 100}, lines)
	require.Equal(t, model.StatusFinishedFailureValidationErrors, jobs.byID[id].Status)
}

func TestSupervisor_MarkSuccessfullyFinished(t *testing.T) {
	jobs := newFakeJobs()
	infos := &fakeInfos{}
	s, rec := newSupervisor(jobs, infos, 0)
	id, _ := jobs.Insert(context.Background(), model.RegisterJob{Name: "j", Status: model.StatusRunning})
	changes := model.AuthorityChanges{Authority: la, Inserted: 1}

	require.NoError(t, s.MarkSuccessfullyFinished(context.Background(), id, model.Success(changes)))
	require.Equal(t, id, infos.jobID)
	require.Equal(t, []model.AuthorityChanges{changes}, infos.changes)
	require.Equal(t, model.StatusFinishedSuccess, jobs.byID[id].Status)
	require.Equal(t, 1, rec.finished[model.StatusFinishedSuccess])
}

func TestSupervisor_MarkSuccessfullyFinished_WriteFails(t *testing.T) {
	jobs := newFakeJobs()
	infos := &fakeInfos{err: errors.New("tx aborted")}
	s, rec := newSupervisor(jobs, infos, 0)
	id, _ := jobs.Insert(context.Background(), model.RegisterJob{Name: "j", Status: model.StatusRunning})

	err := s.MarkSuccessfullyFinished(context.Background(), id, model.Success(model.AuthorityChanges{Authority: la, Inserted: 1}))
	require.Error(t, err)
	require.Nil(t, infos.changes)
	require.Equal(t, model.StatusRunning, jobs.byID[id].Status)
	require.Zero(t, rec.finished[model.StatusFinishedSuccess])
}

func TestSupervisor_AssignUploaderAndLock(t *testing.T) {
	jobs := newFakeJobs()
	s, _ := newSupervisor(jobs, &fakeInfos{}, 0)
	id, _ := jobs.Insert(context.Background(), model.RegisterJob{Name: "j", Status: model.StatusStarting})
	u := uuid.Must(uuid.NewV4())

	require.NoError(t, s.AssignUploader(context.Background(), id, u))
	require.NoError(t, s.LockImpactedAuthorities(context.Background(), id, []string{"la"}))
	require.Equal(t, u, jobs.byID[id].UploaderID)
	require.Equal(t, []string{"la"}, jobs.locked[id])

	jobs.lockErr = errs.ErrActiveJobExists
	require.ErrorIs(t, s.LockImpactedAuthorities(context.Background(), id, []string{"la"}), errs.ErrActiveJobExists)
}
