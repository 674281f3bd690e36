package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/phv-register/internal/errs"
	"github.com/and161185/phv-register/internal/model"
	"github.com/and161185/phv-register/internal/repository"
)

// CompliancePurger asks the downstream compliance service to drop cached results for vehicles.
type CompliancePurger interface {
	PurgeVRMs(ctx context.Context, vrms []string) error
}

// ChangeRecorder observes the applied licence changes.
type ChangeRecorder interface {
	LicenceChanges(inserted, updated, deleted int)
}

// RegisterService reconciles submitted licences with the register.
type RegisterService struct {
	contexts *RegisterContextFactory
	licences repository.LicenceRepository
	cache    repository.LicenceCacheEvictor
	purger   CompliancePurger
	recorder ChangeRecorder
	log      *zap.Logger
}

// NewRegisterService constructs a RegisterService. cache, purger and recorder may be nil.
func NewRegisterService(contexts *RegisterContextFactory, licences repository.LicenceRepository,
	cache repository.LicenceCacheEvictor, purger CompliancePurger, recorder ChangeRecorder, log *zap.Logger) *RegisterService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegisterService{contexts: contexts, licences: licences, cache: cache, purger: purger, recorder: recorder, log: log}
}

// Register computes and atomically applies the inserts, updates and deletes
// bringing the register in line with licences.
func (s *RegisterService) Register(ctx context.Context, licences []model.Licence, uploaderID uuid.UUID) (model.RegisterResult, error) {
	if licences == nil {
		return model.RegisterResult{}, fmt.Errorf("%w: nil licences", errs.ErrInvalidArgument)
	}
	if uploaderID == uuid.Nil {
		return model.RegisterResult{}, fmt.Errorf("%w: empty uploader id", errs.ErrInvalidArgument)
	}

	rc, err := s.contexts.Create(ctx, licences, uploaderID)
	var mismatch *AuthorityMismatchError
	if errors.As(err, &mismatch) {
		return model.Failure(mismatchErrors(mismatch)...), nil
	}
	if err != nil {
		return model.RegisterResult{}, err
	}

	changes, affected := reconcile(rc)
	if changes.Empty() {
		return model.Success(affected...), nil
	}
	if err := s.licences.Apply(ctx, changes); err != nil {
		return model.RegisterResult{}, fmt.Errorf("apply licence changes: %w", err)
	}
	if s.recorder != nil {
		s.recorder.LicenceChanges(len(changes.Insert), len(changes.Update), len(changes.Delete))
	}
	s.afterCommit(ctx, changedVRMs(rc, changes))
	return model.Success(affected...), nil
}

func (s *RegisterService) afterCommit(ctx context.Context, vrms []string) {
	if s.cache != nil {
		if err := s.cache.Evict(ctx, vrms...); err != nil {
			s.log.Warn("licence cache eviction failed", zap.Int("vrms", len(vrms)), zap.Error(err))
		}
	}
	if s.purger != nil {
		if err := s.purger.PurgeVRMs(ctx, vrms); err != nil {
			s.log.Warn("compliance cache purge failed", zap.Int("vrms", len(vrms)), zap.Error(err))
		}
	}
}

func reconcile(rc *RegisterContext) (model.LicenceChanges, []model.AuthorityChanges) {
	var changes model.LicenceChanges
	affected := make([]model.AuthorityChanges, 0, len(rc.Groups))

	for _, g := range rc.Groups {
		counts := model.AuthorityChanges{Authority: g.Authority}

		for _, k := range sortedKeys(g.Incoming) {
			in := g.Incoming[k]
			cur, ok := g.Current[k]
			switch {
			case !ok:
				in.ID = 0
				in.UploaderID = rc.UploaderID
				in.Authority = g.Authority
				changes.Insert = append(changes.Insert, in)
				counts.Inserted++
			case !cur.SameMutableAttributes(in):
				cur.Description = in.Description
				cur.Wheelchair = in.Wheelchair
				changes.Update = append(changes.Update, cur)
				counts.Updated++
			}
		}
		for _, k := range sortedKeys(g.Current) {
			if _, ok := g.Incoming[k]; !ok {
				changes.Delete = append(changes.Delete, g.Current[k].ID)
				counts.Deleted++
			}
		}
		changes.Delete = append(changes.Delete, g.Stale...)
		counts.Deleted += len(g.Stale)

		affected = append(affected, counts)
	}
	return changes, affected
}

func changedVRMs(rc *RegisterContext, changes model.LicenceChanges) []string {
	seen := make(map[string]struct{})
	add := func(v string) { seen[v] = struct{}{} }
	for _, l := range changes.Insert {
		add(l.VRM)
	}
	for _, l := range changes.Update {
		add(l.VRM)
	}
	if len(changes.Delete) > 0 {
		deleted := make(map[int64]struct{}, len(changes.Delete))
		for _, id := range changes.Delete {
			deleted[id] = struct{}{}
		}
		for _, g := range rc.Groups {
			for _, l := range g.Current {
				if _, ok := deleted[l.ID]; ok {
					add(l.VRM)
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func mismatchErrors(e *AuthorityMismatchError) []model.ValidationError {
	out := make([]model.ValidationError, 0, len(e.Licences))
	seen := make(map[string]struct{}, len(e.Licences))
	for _, l := range e.Licences {
		if _, dup := seen[l.VRM]; dup {
			continue
		}
		seen[l.VRM] = struct{}{}
		out = append(out, model.ValidationError{
			Kind:   model.KindLicensingAuthorityMismatch,
			Detail: fmt.Sprintf("Vehicle's licensing authority %s does not match any existing licensing authority", l.Authority.Name),
			VRM:    l.VRM,
		})
	}
	return out
}

func sortedKeys(m map[model.UniqueLicenceAttributes]model.Licence) []model.UniqueLicenceAttributes {
	keys := make([]model.UniqueLicenceAttributes, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.VRM != b.VRM {
			return a.VRM < b.VRM
		}
		if a.LicencePlateNumber != b.LicencePlateNumber {
			return a.LicencePlateNumber < b.LicencePlateNumber
		}
		if a.ValidFrom != b.ValidFrom {
			return a.ValidFrom < b.ValidFrom
		}
		return a.ValidTo < b.ValidTo
	})
	return keys
}
