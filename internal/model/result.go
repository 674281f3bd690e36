package model

// AuthorityChanges counts writes applied to one licensing authority.
type AuthorityChanges struct {
	Authority LicensingAuthority
	Inserted  int
	Updated   int
	Deleted   int
}

// RegisterResult is either a success carrying the affected authorities or a
// failure carrying the ordered validation errors.
type RegisterResult struct {
	success  bool
	affected []AuthorityChanges
	errors   []ValidationError
}

// Success builds a successful result.
func Success(affected ...AuthorityChanges) RegisterResult {
	return RegisterResult{success: true, affected: affected}
}

// Failure builds a failed result.
func Failure(errs ...ValidationError) RegisterResult {
	return RegisterResult{errors: errs}
}

// IsSuccess reports whether registration succeeded.
func (r RegisterResult) IsSuccess() bool { return r.success }

// Affected returns per-authority change counts of a success.
func (r RegisterResult) Affected() []AuthorityChanges { return r.affected }

// Errors returns validation errors of a failure.
func (r RegisterResult) Errors() []ValidationError { return r.errors }

// AffectedAuthorities lists the authorities touched by a success.
func (r RegisterResult) AffectedAuthorities() []LicensingAuthority {
	out := make([]LicensingAuthority, 0, len(r.affected))
	for _, a := range r.affected {
		out = append(out, a.Authority)
	}
	return out
}
