package ingest

import (
	"errors"

	"github.com/and161185/phv-register/internal/model"
	"github.com/and161185/phv-register/internal/objectstore"
)

// ExceptionResolver maps a failure to prepare a command to a result and job status.
type ExceptionResolver interface {
	Resolve(err error) (model.RegisterResult, model.RegisterJobStatus)
}

// DefaultResolver reports any failure as unknown.
type DefaultResolver struct{}

// Resolve implements ExceptionResolver.
func (DefaultResolver) Resolve(error) (model.RegisterResult, model.RegisterJobStatus) {
	return model.Failure(model.InternalError("Unknown error occurred while processing the submission")), model.StatusUnknownFailure
}

// CSVResolver recognizes object store and metadata failures.
type CSVResolver struct{}

// Resolve implements ExceptionResolver.
func (CSVResolver) Resolve(err error) (model.RegisterResult, model.RegisterJobStatus) {
	fail := func(detail string, status model.RegisterJobStatus) (model.RegisterResult, model.RegisterJobStatus) {
		return model.Failure(model.ValidationError{Kind: model.KindSourceRead, Detail: detail}), status
	}
	switch {
	case errors.Is(err, objectstore.ErrObjectNotFound):
		return fail("The uploaded file could not be found", model.StatusStartupFailureNoSourceFile)
	case errors.Is(err, objectstore.ErrAccessDenied):
		return fail("The uploaded file could not be accessed", model.StatusStartupFailureNoAccessToSource)
	case errors.Is(err, ErrMissingUploaderID):
		return fail("The uploaded file does not identify its uploader", model.StatusStartupFailureMissingUploaderID)
	case errors.Is(err, ErrInvalidUploaderID):
		return fail("The uploaded file carries an invalid uploader id", model.StatusStartupFailureInvalidUploaderID)
	case errors.Is(err, ErrFileTooLarge):
		return fail("The uploaded file is too large", model.StatusStartupFailureTooLargeFile)
	default:
		return DefaultResolver{}.Resolve(err)
	}
}
