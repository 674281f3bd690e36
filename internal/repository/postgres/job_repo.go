package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/phv-register/internal/errs"
	"github.com/and161185/phv-register/internal/model"
)

// lockAuthoritiesKey is the advisory lock serializing authority locking across service instances.
const lockAuthoritiesKey int64 = 0x7461786970687601

// JobRepo implements RegisterJobRepository using PostgreSQL.
type JobRepo struct{ db *DB }

// NewJobRepo constructs a register job repository.
func NewJobRepo(db *DB) *JobRepo { return &JobRepo{db: db} }

// Insert stores a new job row; a duplicate name yields errs.ErrAlreadyExists.
func (r *JobRepo) Insert(ctx context.Context, job model.RegisterJob) (int64, error) {
	const q = `
INSERT INTO register_jobs (job_name, trigger, uploader_id, correlation_id, status)
VALUES ($1,$2,$3,$4,$5)
RETURNING id`
	var id int64
	err := r.db.Pool.QueryRow(ctx, q, job.Name, string(job.Trigger), nullableUUID(job.UploaderID),
		job.CorrelationID, string(job.Status)).Scan(&id)
	if isUniqueViolation(err) {
		return 0, errs.ErrAlreadyExists
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateStatus sets the job status.
func (r *JobRepo) UpdateStatus(ctx context.Context, jobID int64, status model.RegisterJobStatus) error {
	const q = `UPDATE register_jobs SET status=$2, updated_at=now() WHERE id=$1`
	return r.execOne(ctx, q, jobID, string(status))
}

// AssignUploader records the uploader of a job.
func (r *JobRepo) AssignUploader(ctx context.Context, jobID int64, uploaderID uuid.UUID) error {
	const q = `UPDATE register_jobs SET uploader_id=$2, updated_at=now() WHERE id=$1`
	return r.execOne(ctx, q, jobID, uploaderID)
}

// UpdateErrors sets the status and the serialized error list.
func (r *JobRepo) UpdateErrors(ctx context.Context, jobID int64, status model.RegisterJobStatus, verrs []model.ValidationError) error {
	if verrs == nil {
		verrs = []model.ValidationError{}
	}
	raw, err := json.Marshal(verrs)
	if err != nil {
		return fmt.Errorf("marshal job errors: %w", err)
	}
	const q = `UPDATE register_jobs SET status=$2, errors=$3, updated_at=now() WHERE id=$1`
	return r.execOne(ctx, q, jobID, string(status), raw)
}

// CountActiveByAuthorities counts active jobs holding any authority named in authorityNames.
func (r *JobRepo) CountActiveByAuthorities(ctx context.Context, authorityNames []string) (int, error) {
	const q = `
SELECT count(*) FROM register_jobs
WHERE status = ANY($1)
  AND impacted_authority_ids && ARRAY(SELECT id FROM licensing_authorities WHERE name = ANY($2))`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, activeStatuses(), authorityNames).Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}

// LockAuthorities records the authorities impacted by jobID. Lockers are
// serialized by a transaction-scoped advisory lock, so the overlap check and
// the update observe every previously committed lock.
func (r *JobRepo) LockAuthorities(ctx context.Context, jobID int64, authorityNames []string) error {
	const lock = `SELECT pg_advisory_xact_lock($1)`
	const overlap = `
SELECT count(*) FROM register_jobs
WHERE id <> $1
  AND status = ANY($2)
  AND impacted_authority_ids && ARRAY(SELECT id FROM licensing_authorities WHERE name = ANY($3))`
	const upd = `
UPDATE register_jobs
SET impacted_authority_ids = ARRAY(SELECT id FROM licensing_authorities WHERE name = ANY($2) ORDER BY id),
    updated_at = now()
WHERE id=$1`

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lock, lockAuthoritiesKey); err != nil {
			return err
		}
		var n int64
		if err := tx.QueryRow(ctx, overlap, jobID, activeStatuses(), authorityNames).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return errs.ErrActiveJobExists
		}
		tag, err := tx.Exec(ctx, upd, jobID, authorityNames)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		return nil
	})
}

const selectJob = `
SELECT id, job_name, trigger, uploader_id, correlation_id, status, errors,
       impacted_authority_ids, inserted_at, updated_at
FROM register_jobs`

// FindByName loads a job by its unique name.
func (r *JobRepo) FindByName(ctx context.Context, name string) (*model.RegisterJob, error) {
	return scanJob(r.db.Pool.QueryRow(ctx, selectJob+` WHERE job_name=$1`, name))
}

// FindByID loads a job by id.
func (r *JobRepo) FindByID(ctx context.Context, jobID int64) (*model.RegisterJob, error) {
	return scanJob(r.db.Pool.QueryRow(ctx, selectJob+` WHERE id=$1`, jobID))
}

func scanJob(row pgx.Row) (*model.RegisterJob, error) {
	var (
		j          model.RegisterJob
		trigger    string
		status     string
		uploaderID uuid.NullUUID
		rawErrors  []byte
	)
	err := row.Scan(&j.ID, &j.Name, &trigger, &uploaderID, &j.CorrelationID, &status, &rawErrors,
		&j.ImpactedAuthorities, &j.InsertedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Trigger = model.RegisterJobTrigger(trigger)
	j.Status = model.RegisterJobStatus(status)
	if uploaderID.Valid {
		j.UploaderID = uploaderID.UUID
	}
	if len(rawErrors) > 0 {
		if err := json.Unmarshal(rawErrors, &j.Errors); err != nil {
			return nil, fmt.Errorf("decode job errors: %w", err)
		}
	}
	return &j, nil
}

func (r *JobRepo) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func activeStatuses() []string {
	out := make([]string, 0, len(model.ActiveStatuses))
	for _, s := range model.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}

func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
