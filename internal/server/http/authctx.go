package httpserver

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const uploaderIDKey ctxKey = "phv.uploaderID"

// WithUploaderID stores the authenticated uploader ID in context.
func WithUploaderID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, uploaderIDKey, id)
}

// UploaderIDFromCtx fetches the uploader ID from context.
func UploaderIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(uploaderIDKey)
	if v == nil {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
