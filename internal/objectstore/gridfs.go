// Package objectstore keeps uploaded register files in MongoDB GridFS buckets.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrObjectNotFound indicates the bucket holds no file of that name.
	ErrObjectNotFound = errors.New("object not found")
	// ErrAccessDenied indicates the store refused the operation.
	ErrAccessDenied = errors.New("access to object denied")
)

const mongoUnauthorized = 13

// Object describes a stored file.
type Object struct {
	Bucket     string
	Name       string
	Size       int64
	UploadedAt time.Time
	Metadata   map[string]string
}

// Store reads and deletes files in GridFS buckets of one database.
type Store struct {
	db *mongo.Database
}

// Connect creates a Mongo client for uri and pings it.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// New constructs a Store over db.
func New(db *mongo.Database) *Store { return &Store{db: db} }

type fileDoc struct {
	ID         any               `bson:"_id"`
	Name       string            `bson:"filename"`
	Length     int64             `bson:"length"`
	UploadDate time.Time         `bson:"uploadDate"`
	Metadata   map[string]string `bson:"metadata"`
}

func (s *Store) bucket(name string) (*gridfs.Bucket, error) {
	return gridfs.NewBucket(s.db, options.GridFSBucket().SetName(name))
}

func (s *Store) find(ctx context.Context, bucket, name string) (*gridfs.Bucket, fileDoc, error) {
	b, err := s.bucket(bucket)
	if err != nil {
		return nil, fileDoc{}, err
	}
	opts := options.GridFSFind().SetSort(bson.D{{Key: "uploadDate", Value: -1}}).SetLimit(1)
	cur, err := b.FindContext(ctx, bson.D{{Key: "filename", Value: name}}, opts)
	if err != nil {
		return nil, fileDoc{}, classify(err)
	}
	defer cur.Close(ctx)
	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, fileDoc{}, classify(err)
		}
		return nil, fileDoc{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, name)
	}
	var doc fileDoc
	if err := cur.Decode(&doc); err != nil {
		return nil, fileDoc{}, fmt.Errorf("decode file document: %w", err)
	}
	return b, doc, nil
}

// Stat returns size and metadata of the newest file named name.
func (s *Store) Stat(ctx context.Context, bucket, name string) (Object, error) {
	_, doc, err := s.find(ctx, bucket, name)
	if err != nil {
		return Object{}, err
	}
	return Object{Bucket: bucket, Name: doc.Name, Size: doc.Length, UploadedAt: doc.UploadDate, Metadata: doc.Metadata}, nil
}

// Open streams the newest file named name.
func (s *Store) Open(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	b, doc, err := s.find(ctx, bucket, name)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := b.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}
	stream, err := b.OpenDownloadStream(doc.ID)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, name)
	}
	if err != nil {
		return nil, classify(err)
	}
	return stream, nil
}

// Delete removes every file named name; a missing file is not an error.
func (s *Store) Delete(ctx context.Context, bucket, name string) error {
	for {
		b, doc, err := s.find(ctx, bucket, name)
		if errors.Is(err, ErrObjectNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := b.DeleteContext(ctx, doc.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return classify(err)
		}
	}
}

// Put uploads r as name with metadata.
func (s *Store) Put(ctx context.Context, bucket, name string, r io.Reader, metadata map[string]string) error {
	b, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := b.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	opts := options.GridFSUpload().SetMetadata(metadata)
	if _, err := b.UploadFromStream(name, r, opts); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorCode(mongoUnauthorized) {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return err
}
