package resource

import (
	"context"
	"fmt"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"transcode-pipeline/pkg/assert"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/logger"
	"transcode-pipeline/pkg/manager"
)

var (
	minioResourceOnce      sync.Once
	singletonMinioResource *MinioResource
)

// MinioResource holds the minio client when the minio backend is selected.
type MinioResource struct {
	client *minio.Client
	bucket string
}

// DefaultMinioResource returns the MinIO resource singleton.
func DefaultMinioResource() *MinioResource {
	assert.NotCircular()
	minioResourceOnce.Do(func() {
		singletonMinioResource = &MinioResource{}
	})
	assert.NotNil(singletonMinioResource)
	return singletonMinioResource
}

// MustOpen initializes the minio client. Skipped when another object store
// backend is configured.
func (r *MinioResource) MustOpen() {
	cfg := config.GetGlobalConfig()
	if cfg == nil {
		panic("global config not initialized before MinioResource")
	}
	if cfg.ObjectStore.Backend != "minio" {
		return
	}

	store := cfg.ObjectStore
	if store.Endpoint == "" {
		panic("object_store endpoint is required")
	}
	if store.Bucket == "" {
		panic("object_store bucket is required")
	}

	client, err := minio.New(store.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(store.AccessKey, store.SecretKey, ""),
		Secure: store.UseSSL,
		Region: store.Region,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to create minio client: %v", err))
	}

	r.client = client
	r.bucket = store.Bucket

	r.ensureBucket()

	logger.Info("MinIO resource initialized", map[string]interface{}{
		"endpoint": store.Endpoint,
		"bucket":   r.bucket,
	})
}

func (r *MinioResource) ensureBucket() {
	ctx := context.Background()
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		panic(fmt.Sprintf("failed to check minio bucket: %v", err))
	}
	if exists {
		return
	}
	if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
		panic(fmt.Sprintf("failed to create minio bucket: %v", err))
	}
}

// GetClient returns the minio client (nil when backend != minio).
func (r *MinioResource) GetClient() *minio.Client {
	return r.client
}

// GetBucketName returns the configured bucket.
func (r *MinioResource) GetBucketName() string {
	return r.bucket
}

// Close releases the resource. The minio client holds no connections to close.
func (r *MinioResource) Close() {}

type MinioResourcePlugin struct{}

func (p *MinioResourcePlugin) Name() string                         { return "minioResource" }
func (p *MinioResourcePlugin) MustCreateResource() manager.Resource { return DefaultMinioResource() }
