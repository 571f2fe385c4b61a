package gateway

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectEntry is one row of a listing.
type ObjectEntry struct {
	Key  string
	Size int64
}

// ObjectStore is the uniform view over the S3-compatible bucket holding
// raw uploads and generated HLS trees. Implementations retry transient
// failures internally and classify errors through pkg/errno
// (ErrObjectNotFound, ErrObjectStore).
type ObjectStore interface {
	// Put streams an upload into the bucket.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// GetStream opens a lazy, non-restartable byte stream.
	GetStream(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// GetRange opens a byte range [start, end]; end == -1 reads to EOF.
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, *ObjectInfo, error)

	// Stat fetches object metadata without the body.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Download buffers an object to the local filesystem atomically
	// (temp file, then rename).
	Download(ctx context.Context, key, localPath string) error

	// UploadTree walks localDir and uploads every file under keyPrefix,
	// inferring content types from extensions.
	UploadTree(ctx context.Context, localDir, keyPrefix string) error

	// List enumerates keys under a prefix.
	List(ctx context.Context, prefix string) ([]ObjectEntry, error)

	// PresignGet returns a signed URL for temporary read access.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
