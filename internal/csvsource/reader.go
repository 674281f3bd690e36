package csvsource

import (
	"context"
	"fmt"
	"io"

	"github.com/and161185/phv-register/internal/model"
	"github.com/and161185/phv-register/internal/objectstore"
)

// Metadata keys set by the uploading frontend.
const (
	MetaUploaderID = "uploader-id"
	MetaEmail      = "email"
)

// ObjectStore is the subset of objectstore.Store used by this package.
type ObjectStore interface {
	Stat(ctx context.Context, bucket, name string) (objectstore.Object, error)
	Open(ctx context.Context, bucket, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, name string) error
}

// Reader loads submitted rows from stored CSV files.
type Reader struct {
	store ObjectStore
}

// NewReader constructs a Reader.
func NewReader(store ObjectStore) *Reader { return &Reader{store: store} }

// FindAll parses every row of the file. Malformed lines are returned as
// validation errors; the error result is reserved for store failures.
func (r *Reader) FindAll(ctx context.Context, bucket, file string) ([]model.VehicleDto, []model.ValidationError, error) {
	rc, err := r.store.Open(ctx, bucket, file)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	rows, errs, err := Parse(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s/%s: %w", bucket, file, err)
	}
	return rows, errs, nil
}

// Purge removes the file so it is never processed again.
func (r *Reader) Purge(ctx context.Context, bucket, file string) error {
	return r.store.Delete(ctx, bucket, file)
}

// FileMetadata is what the uploader attached to a file.
type FileMetadata struct {
	UploaderID string // raw, may be empty or malformed
	Email      string
	Size       int64
}

// MetadataExtractor reads upload metadata.
type MetadataExtractor struct {
	store ObjectStore
}

// NewMetadataExtractor constructs a MetadataExtractor.
func NewMetadataExtractor(store ObjectStore) *MetadataExtractor {
	return &MetadataExtractor{store: store}
}

// Extract returns the metadata of a stored file.
func (m *MetadataExtractor) Extract(ctx context.Context, bucket, file string) (FileMetadata, error) {
	obj, err := m.store.Stat(ctx, bucket, file)
	if err != nil {
		return FileMetadata{}, err
	}
	return FileMetadata{
		UploaderID: obj.Metadata[MetaUploaderID],
		Email:      obj.Metadata[MetaEmail],
		Size:       obj.Size,
	}, nil
}
