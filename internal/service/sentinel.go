package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/phv-register/internal/repository"
)

// InsufficientPermissionsError lists the licensing authorities an uploader may not modify.
type InsufficientPermissionsError struct {
	Disallowed []string // sorted ascending
}

func (e *InsufficientPermissionsError) Error() string {
	return "You are not authorised to submit data for " + strings.Join(e.Disallowed, ", ")
}

// SecuritySentinel checks uploader permissions against licensing authorities.
type SecuritySentinel struct {
	authorities repository.AuthorityRepository
}

// NewSecuritySentinel constructs a SecuritySentinel.
func NewSecuritySentinel(authorities repository.AuthorityRepository) *SecuritySentinel {
	return &SecuritySentinel{authorities: authorities}
}

// CheckPermissions returns *InsufficientPermissionsError when wanted names an
// authority the uploader is not allowed to modify. An empty wanted set is
// accepted without consulting the store.
func (s *SecuritySentinel) CheckPermissions(ctx context.Context, uploaderID uuid.UUID, wanted []string) error {
	if len(wanted) == 0 {
		return nil
	}
	allowed, err := s.authorities.FindAllowedForUploader(ctx, uploaderID)
	if err != nil {
		return fmt.Errorf("load allowed authorities: %w", err)
	}
	ok := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		ok[a.Name] = struct{}{}
	}

	seen := make(map[string]struct{})
	var disallowed []string
	for _, name := range wanted {
		if _, fine := ok[name]; fine {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		disallowed = append(disallowed, name)
	}
	if len(disallowed) == 0 {
		return nil
	}
	sort.Strings(disallowed)
	return &InsufficientPermissionsError{Disallowed: disallowed}
}
