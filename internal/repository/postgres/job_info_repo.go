package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/phv-register/internal/errs"
	"github.com/and161185/phv-register/internal/model"
)

// JobInfoRepo implements RegisterJobInfoRepository using PostgreSQL.
type JobInfoRepo struct{ db *DB }

// NewJobInfoRepo constructs a job info repository.
func NewJobInfoRepo(db *DB) *JobInfoRepo { return &JobInfoRepo{db: db} }

// Finish stores one row per affected licensing authority and moves the job to
// FINISHED_SUCCESS in the same transaction.
func (r *JobInfoRepo) Finish(ctx context.Context, jobID int64, changes []model.AuthorityChanges) error {
	const ins = `
INSERT INTO register_job_info (register_job_id, licensing_authority_id, inserted_count, updated_count, deleted_count)
VALUES ($1,$2,$3,$4,$5)`
	const upd = `UPDATE register_jobs SET status=$2, updated_at=now() WHERE id=$1`

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		for _, c := range changes {
			if _, err := tx.Exec(ctx, ins, jobID, c.Authority.ID, c.Inserted, c.Updated, c.Deleted); err != nil {
				return fmt.Errorf("insert job info for %s: %w", c.Authority.Name, err)
			}
		}
		tag, err := tx.Exec(ctx, upd, jobID, string(model.StatusFinishedSuccess))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		return nil
	})
}
