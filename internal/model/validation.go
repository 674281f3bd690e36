package model

import "sort"

// ErrorKind classifies a validation error.
type ErrorKind string

const (
	KindValueError                 ErrorKind = "VALUE_ERROR"
	KindMissingField               ErrorKind = "MISSING_FIELD"
	KindNonUniqueInSubmission      ErrorKind = "NON_UNIQUE_IN_SUBMISSION"
	KindLicensingAuthorityMismatch ErrorKind = "LICENSING_AUTHORITY_MISMATCH"
	KindInsufficientPermissions    ErrorKind = "INSUFFICIENT_PERMISSIONS"
	KindSourceRead                 ErrorKind = "SOURCE_READ_ERROR"
	KindInternal                   ErrorKind = "INTERNAL_ERROR"
)

// ValidationError is a single problem reported back to the uploader.
type ValidationError struct {
	Kind       ErrorKind `json:"kind"`
	Detail     string    `json:"detail"`
	LineNumber int       `json:"lineNumber,omitempty"` // 0 when not tied to a source line
	VRM        string    `json:"vrm,omitempty"`
}

func (e ValidationError) Error() string { return e.Detail }

// ValueError reports an invalid field value on a given line.
func ValueError(vrm, detail string, line int) ValidationError {
	return ValidationError{Kind: KindValueError, Detail: detail, LineNumber: line, VRM: vrm}
}

// MissingFieldError reports an absent mandatory field.
func MissingFieldError(vrm, detail string, line int) ValidationError {
	return ValidationError{Kind: KindMissingField, Detail: detail, LineNumber: line, VRM: vrm}
}

// InternalError reports a failure the uploader cannot fix.
func InternalError(detail string) ValidationError {
	return ValidationError{Kind: KindInternal, Detail: detail}
}

// SortByLineNumber orders errors ascending by line; errors without a line come first.
// The sort is stable so errors on the same line keep their arrival order.
func SortByLineNumber(errs []ValidationError) {
	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].LineNumber < errs[j].LineNumber
	})
}

// CapErrors truncates errs to at most max entries; max <= 0 disables the cap.
func CapErrors(errs []ValidationError, max int) []ValidationError {
	if max <= 0 || len(errs) <= max {
		return errs
	}
	return errs[:max]
}
