// Package ingest runs submissions from CSV files and API payloads through
// validation, admission control and reconciliation.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/phv-register/internal/csvsource"
	"github.com/and161185/phv-register/internal/model"
)

var (
	// ErrCommandNotPrepared indicates an accessor was used before BeforeExecute.
	ErrCommandNotPrepared = errors.New("ingestion command not prepared")
	// ErrMissingUploaderID indicates the uploaded file carries no uploader id.
	ErrMissingUploaderID = errors.New("uploader id missing from file metadata")
	// ErrInvalidUploaderID indicates the uploader id metadata is not a UUID.
	ErrInvalidUploaderID = errors.New("uploader id in file metadata is invalid")
	// ErrFileTooLarge indicates the uploaded file exceeds the size limit.
	ErrFileTooLarge = errors.New("uploaded file is too large")
)

// Command is one submission source.
type Command interface {
	// Trigger names the source kind.
	Trigger() model.RegisterJobTrigger
	// BeforeExecute loads and validates the submission.
	BeforeExecute(ctx context.Context) error
	Licences() ([]model.Licence, error)
	ValidationErrors() ([]model.ValidationError, error)
	UploaderID() (uuid.UUID, error)
	// UploaderEmail is empty when no address is known.
	UploaderEmail() string
	// OnFailure releases the source after an unsuccessful job.
	OnFailure(ctx context.Context)
}

// Converter turns raw rows into licences.
type Converter interface {
	Convert(rows []model.VehicleDto) ([]model.Licence, []model.ValidationError)
}

type prepared struct {
	ready      bool
	licences   []model.Licence
	verrs      []model.ValidationError
	uploaderID uuid.UUID
	email      string
}

func (p *prepared) Licences() ([]model.Licence, error) {
	if !p.ready {
		return nil, ErrCommandNotPrepared
	}
	return p.licences, nil
}

func (p *prepared) ValidationErrors() ([]model.ValidationError, error) {
	if !p.ready {
		return nil, ErrCommandNotPrepared
	}
	return p.verrs, nil
}

func (p *prepared) UploaderID() (uuid.UUID, error) {
	if !p.ready {
		return uuid.Nil, ErrCommandNotPrepared
	}
	return p.uploaderID, nil
}

func (p *prepared) UploaderEmail() string { return p.email }

// SourceReader reads and removes stored CSV files.
type SourceReader interface {
	FindAll(ctx context.Context, bucket, file string) ([]model.VehicleDto, []model.ValidationError, error)
	Purge(ctx context.Context, bucket, file string) error
}

// MetadataSource reads upload metadata of stored files.
type MetadataSource interface {
	Extract(ctx context.Context, bucket, file string) (csvsource.FileMetadata, error)
}

// CSVCommand is a submission uploaded as a CSV file.
type CSVCommand struct {
	prepared
	bucket    string
	file      string
	maxSize   int64
	reader    SourceReader
	metadata  MetadataSource
	converter Converter
	log       *zap.Logger
}

// NewCSVCommand constructs a command for bucket/file; maxSize <= 0 disables the size check.
func NewCSVCommand(bucket, file string, maxSize int64, reader SourceReader, metadata MetadataSource, converter Converter, log *zap.Logger) *CSVCommand {
	if log == nil {
		log = zap.NewNop()
	}
	return &CSVCommand{bucket: bucket, file: file, maxSize: maxSize, reader: reader, metadata: metadata, converter: converter, log: log}
}

// Trigger implements Command.
func (c *CSVCommand) Trigger() model.RegisterJobTrigger { return model.TriggerCSV }

// BeforeExecute reads uploader metadata, then parses and converts the file.
func (c *CSVCommand) BeforeExecute(ctx context.Context) error {
	meta, err := c.metadata.Extract(ctx, c.bucket, c.file)
	if err != nil {
		return fmt.Errorf("read metadata of %s/%s: %w", c.bucket, c.file, err)
	}
	c.email = meta.Email
	if meta.UploaderID == "" {
		return ErrMissingUploaderID
	}
	id, err := uuid.FromString(meta.UploaderID)
	if err != nil || id == uuid.Nil {
		return fmt.Errorf("%w: %q", ErrInvalidUploaderID, meta.UploaderID)
	}
	if c.maxSize > 0 && meta.Size > c.maxSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, meta.Size, c.maxSize)
	}

	rows, parseErrs, err := c.reader.FindAll(ctx, c.bucket, c.file)
	if err != nil {
		return err
	}
	licences, rowErrs := c.converter.Convert(rows)

	c.uploaderID = id
	c.licences = licences
	c.verrs = append(parseErrs, rowErrs...)
	c.ready = true
	return nil
}

// OnFailure purges the source file.
func (c *CSVCommand) OnFailure(ctx context.Context) {
	if err := c.reader.Purge(ctx, c.bucket, c.file); err != nil {
		c.log.Warn("purge source file", zap.String("bucket", c.bucket), zap.String("file", c.file), zap.Error(err))
	}
}

// APICommand is a submission decoded from an API payload.
type APICommand struct {
	prepared
	rows      []model.VehicleDto
	converter Converter
}

// NewAPICommand constructs a command for an authenticated uploader.
func NewAPICommand(uploaderID uuid.UUID, rows []model.VehicleDto, converter Converter) *APICommand {
	return &APICommand{prepared: prepared{uploaderID: uploaderID}, rows: rows, converter: converter}
}

// Trigger implements Command.
func (c *APICommand) Trigger() model.RegisterJobTrigger { return model.TriggerAPI }

// BeforeExecute converts the payload.
func (c *APICommand) BeforeExecute(context.Context) error {
	c.licences, c.verrs = c.converter.Convert(c.rows)
	c.ready = true
	return nil
}

// OnFailure is a no-op; API payloads are not stored.
func (c *APICommand) OnFailure(context.Context) {}
