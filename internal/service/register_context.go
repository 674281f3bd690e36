package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/phv-register/internal/model"
	"github.com/and161185/phv-register/internal/repository"
)

// AuthorityMismatchError carries submitted licences naming unknown licensing authorities.
type AuthorityMismatchError struct {
	Licences []model.Licence
}

func (e *AuthorityMismatchError) Error() string {
	names := make([]string, 0, len(e.Licences))
	seen := make(map[string]struct{})
	for _, l := range e.Licences {
		if _, ok := seen[l.Authority.Name]; ok {
			continue
		}
		seen[l.Authority.Name] = struct{}{}
		names = append(names, l.Authority.Name)
	}
	sort.Strings(names)
	return "unknown licensing authorities: " + strings.Join(names, ", ")
}

// AuthorityGroup is the submitted and stored state of one licensing authority.
type AuthorityGroup struct {
	Authority model.LicensingAuthority
	Incoming  map[model.UniqueLicenceAttributes]model.Licence
	Current   map[model.UniqueLicenceAttributes]model.Licence
	// Stale lists ids of stored rows colliding on a key already held by Current.
	Stale []int64
}

// RegisterContext is the input of one reconciliation.
type RegisterContext struct {
	UploaderID uuid.UUID
	Groups     []AuthorityGroup // ordered by authority name
}

// RegisterContextFactory resolves licensing authorities and loads stored licences.
type RegisterContextFactory struct {
	authorities repository.AuthorityRepository
	licences    repository.LicenceRepository
	parallelism int
}

// NewRegisterContextFactory constructs a factory loading up to parallelism authorities at once.
func NewRegisterContextFactory(authorities repository.AuthorityRepository, licences repository.LicenceRepository, parallelism int) *RegisterContextFactory {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &RegisterContextFactory{authorities: authorities, licences: licences, parallelism: parallelism}
}

// Create builds a RegisterContext. Licences naming an authority unknown to the
// registry fail the whole call with *AuthorityMismatchError.
func (f *RegisterContextFactory) Create(ctx context.Context, licences []model.Licence, uploaderID uuid.UUID) (*RegisterContext, error) {
	all, err := f.authorities.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load licensing authorities: %w", err)
	}
	byName := make(map[string]model.LicensingAuthority, len(all))
	for _, a := range all {
		byName[a.Name] = a
	}

	var mismatched []model.Licence
	incoming := make(map[string]map[model.UniqueLicenceAttributes]model.Licence)
	for _, l := range licences {
		a, ok := byName[l.Authority.Name]
		if !ok {
			mismatched = append(mismatched, l)
			continue
		}
		l.Authority = a
		l.UploaderID = uploaderID
		m, ok := incoming[a.Name]
		if !ok {
			m = make(map[model.UniqueLicenceAttributes]model.Licence)
			incoming[a.Name] = m
		}
		m[l.UniqueAttributes()] = l
	}
	if len(mismatched) > 0 {
		return nil, &AuthorityMismatchError{Licences: mismatched}
	}

	names := make([]string, 0, len(incoming))
	for name := range incoming {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]AuthorityGroup, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallelism)
	for i, name := range names {
		a := byName[name]
		g.Go(func() error {
			stored, err := f.licences.FindByAuthority(gctx, a.ID)
			if err != nil {
				return fmt.Errorf("load licences of %s: %w", a.Name, err)
			}
			current, stale := indexStored(stored)
			groups[i] = AuthorityGroup{Authority: a, Incoming: incoming[name], Current: current, Stale: stale}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &RegisterContext{UploaderID: uploaderID, Groups: groups}, nil
}

func indexStored(stored []model.Licence) (map[model.UniqueLicenceAttributes]model.Licence, []int64) {
	current := make(map[model.UniqueLicenceAttributes]model.Licence, len(stored))
	var stale []int64
	for _, l := range stored {
		k := l.UniqueAttributes()
		if _, dup := current[k]; dup {
			stale = append(stale, l.ID)
			continue
		}
		current[k] = l
	}
	return current, stale
}

// AuthorityNames returns the distinct authority names referenced by licences, sorted.
func AuthorityNames(licences []model.Licence) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range licences {
		if _, ok := seen[l.Authority.Name]; ok {
			continue
		}
		seen[l.Authority.Name] = struct{}{}
		out = append(out, l.Authority.Name)
	}
	sort.Strings(out)
	return out
}
