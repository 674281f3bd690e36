// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/phv-register/internal/model"
)

// LicenceRepository provides access to stored taxi/PHV licences.
type LicenceRepository interface {
	// FindByAuthority returns all licences of one licensing authority.
	FindByAuthority(ctx context.Context, authorityID int) ([]model.Licence, error)
	// FindByVRM returns all licences registered for a vehicle.
	FindByVRM(ctx context.Context, vrm string) ([]model.Licence, error)
	// Apply writes inserts, updates and deletes atomically.
	Apply(ctx context.Context, changes model.LicenceChanges) error
}

// LicenceCacheEvictor drops cached lookups of vehicles.
type LicenceCacheEvictor interface {
	Evict(ctx context.Context, vrms ...string) error
}

// AuthorityRepository provides read access to licensing authorities and uploader permissions.
type AuthorityRepository interface {
	// FindAll returns every known licensing authority.
	FindAll(ctx context.Context) ([]model.LicensingAuthority, error)
	// FindAllowedForUploader returns the authorities an uploader may modify.
	FindAllowedForUploader(ctx context.Context, uploaderID uuid.UUID) ([]model.LicensingAuthority, error)
	// UploaderExists reports whether the uploader is registered at all.
	UploaderExists(ctx context.Context, uploaderID uuid.UUID) (bool, error)
}
