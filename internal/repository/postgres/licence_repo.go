package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/phv-register/internal/model"
)

// LicenceRepo implements LicenceRepository using PostgreSQL.
type LicenceRepo struct{ db *DB }

// NewLicenceRepo constructs a licence repository.
func NewLicenceRepo(db *DB) *LicenceRepo { return &LicenceRepo{db: db} }

const selectLicences = `
SELECT l.id, l.uploader_id, l.vrm, l.licence_plate_number, l.description,
       l.licence_start_date, l.licence_end_date, l.wheelchair_accessible, a.id, a.name
FROM taxi_phv_licences l
JOIN licensing_authorities a ON a.id = l.licensing_authority_id`

// FindByAuthority returns all licences of one licensing authority ordered by id.
func (r *LicenceRepo) FindByAuthority(ctx context.Context, authorityID int) ([]model.Licence, error) {
	rows, err := r.db.Pool.Query(ctx, selectLicences+`
WHERE l.licensing_authority_id=$1
ORDER BY l.id`, authorityID)
	if err != nil {
		return nil, err
	}
	return scanLicences(rows)
}

// FindByVRM returns all licences of a vehicle ordered by id.
func (r *LicenceRepo) FindByVRM(ctx context.Context, vrm string) ([]model.Licence, error) {
	rows, err := r.db.Pool.Query(ctx, selectLicences+`
WHERE l.vrm=$1
ORDER BY l.id`, vrm)
	if err != nil {
		return nil, err
	}
	return scanLicences(rows)
}

// Apply writes all inserts, updates and deletes in a single transaction.
func (r *LicenceRepo) Apply(ctx context.Context, changes model.LicenceChanges) error {
	if changes.Empty() {
		return nil
	}
	const ins = `
INSERT INTO taxi_phv_licences (uploader_id, vrm, licence_plate_number, description,
  licence_start_date, licence_end_date, wheelchair_accessible, licensing_authority_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	const upd = `UPDATE taxi_phv_licences SET uploader_id=$2, description=$3, wheelchair_accessible=$4, updated_at=now() WHERE id=$1`
	const del = `DELETE FROM taxi_phv_licences WHERE id = ANY($1)`

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		for i, l := range changes.Insert {
			if _, err := tx.Exec(ctx, ins, l.UploaderID, l.VRM, l.LicencePlateNumber, l.Description,
				l.ValidFrom, l.ValidTo, l.Wheelchair.Bool(), l.Authority.ID); err != nil {
				return fmt.Errorf("insert licence[%d]: %w", i, err)
			}
		}
		for i, l := range changes.Update {
			if _, err := tx.Exec(ctx, upd, l.ID, l.UploaderID, l.Description, l.Wheelchair.Bool()); err != nil {
				return fmt.Errorf("update licence[%d]: %w", i, err)
			}
		}
		if len(changes.Delete) > 0 {
			if _, err := tx.Exec(ctx, del, changes.Delete); err != nil {
				return fmt.Errorf("delete licences: %w", err)
			}
		}
		return nil
	})
}

func scanLicences(rows pgx.Rows) ([]model.Licence, error) {
	defer rows.Close()

	var out []model.Licence
	for rows.Next() {
		var (
			l          model.Licence
			uploaderID uuid.UUID
			from, to   time.Time
			wheelchair *bool
		)
		if err := rows.Scan(&l.ID, &uploaderID, &l.VRM, &l.LicencePlateNumber, &l.Description,
			&from, &to, &wheelchair, &l.Authority.ID, &l.Authority.Name); err != nil {
			return nil, err
		}
		l.UploaderID = uploaderID
		l.ValidFrom, l.ValidTo = from.UTC(), to.UTC()
		l.Wheelchair = model.WheelchairFromBool(wheelchair)
		out = append(out, l)
	}
	return out, rows.Err()
}
