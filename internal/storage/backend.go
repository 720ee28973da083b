// Package storage defines the Backend interface for blob storage and routes
// blob operations to the backend serving each bucket context.
package storage

import (
	"context"
	"io"
	"io/fs"
)

// ErrObjectNotFound is wrapped by backends when a key does not exist.
var ErrObjectNotFound = fs.ErrNotExist

// Backend is the interface for blob storage backends.
// Implementations handle raw object I/O (S3, local filesystem).
// Metadata is handled separately by sqldb.Store.
type Backend interface {
	// GetObject returns the object body and its size.
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// PutObject uploads content to the given key.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// CopyObject copies an object from srcKey to dstKey within the backend.
	CopyObject(ctx context.Context, srcKey, dstKey string) error

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// BucketCopier is implemented by backends that can copy an object out of
// another bucket on the same endpoint without streaming it through this
// process.
type BucketCopier interface {
	Backend
	Endpoint() string
	Bucket() string
	CopyFromBucket(ctx context.Context, srcBucket, srcKey, dstKey string) error
}
