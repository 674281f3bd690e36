package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/phv-register/internal/model"
)

// AuthorityRepo implements AuthorityRepository using PostgreSQL.
type AuthorityRepo struct{ db *DB }

// NewAuthorityRepo constructs a licensing authority repository.
func NewAuthorityRepo(db *DB) *AuthorityRepo { return &AuthorityRepo{db: db} }

// FindAll returns every licensing authority ordered by name.
func (r *AuthorityRepo) FindAll(ctx context.Context) ([]model.LicensingAuthority, error) {
	const q = `SELECT id, name FROM licensing_authorities ORDER BY name`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return scanAuthorities(rows)
}

// FindAllowedForUploader returns the authorities the uploader holds a permission for.
func (r *AuthorityRepo) FindAllowedForUploader(ctx context.Context, uploaderID uuid.UUID) ([]model.LicensingAuthority, error) {
	const q = `
SELECT a.id, a.name
FROM licensing_authorities a
JOIN uploader_permissions p ON p.licensing_authority_id = a.id
WHERE p.uploader_id=$1
ORDER BY a.name`
	rows, err := r.db.Pool.Query(ctx, q, uploaderID)
	if err != nil {
		return nil, err
	}
	return scanAuthorities(rows)
}

// UploaderExists reports whether the uploader holds at least one permission.
func (r *AuthorityRepo) UploaderExists(ctx context.Context, uploaderID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM uploader_permissions WHERE uploader_id=$1)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, uploaderID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func scanAuthorities(rows pgx.Rows) ([]model.LicensingAuthority, error) {
	defer rows.Close()

	var out []model.LicensingAuthority
	for rows.Next() {
		var a model.LicensingAuthority
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
