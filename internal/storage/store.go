package storage

import (
	"context"
	"errors"
)

// ErrObjectExists is returned when an upload would overwrite an object.
var ErrObjectExists = errors.New("storage: object already exists")

// UploadOptions controls how an object is written.
type UploadOptions struct {
	ContentType  string
	CacheControl string
	Upsert       bool
}

// ObjectStore is a bucket of publicly readable objects.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error
	PublicURL(path string) string
}
