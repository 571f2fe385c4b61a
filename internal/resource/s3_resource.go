package resource

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"transcode-pipeline/pkg/assert"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/logger"
	"transcode-pipeline/pkg/manager"
)

var (
	s3ResourceOnce      sync.Once
	singletonS3Resource *S3Resource
)

// S3Resource holds the aws-sdk S3 client when the s3 backend is selected.
type S3Resource struct {
	client *s3.Client
	bucket string
}

// DefaultS3Resource returns the S3 resource singleton.
func DefaultS3Resource() *S3Resource {
	assert.NotCircular()
	s3ResourceOnce.Do(func() {
		singletonS3Resource = &S3Resource{}
	})
	assert.NotNil(singletonS3Resource)
	return singletonS3Resource
}

// MustOpen initializes the S3 client. Skipped when another object store
// backend is configured.
func (r *S3Resource) MustOpen() {
	cfg := config.GetGlobalConfig()
	if cfg == nil {
		panic("global config not initialized before S3Resource")
	}
	if cfg.ObjectStore.Backend != "s3" {
		return
	}

	store := cfg.ObjectStore
	if store.Bucket == "" {
		panic("object_store bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		context.Background(),
		awsconfig.WithRegion(store.Region),
		awsconfig.WithBaseEndpoint(store.Endpoint),
		awsconfig.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     store.AccessKey,
				SecretAccessKey: store.SecretKey,
			},
		}),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to load s3 config: %v", err))
	}

	r.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = store.ForcePathStyle
	})
	r.bucket = store.Bucket

	logger.Info("S3 resource initialized", map[string]interface{}{
		"endpoint": store.Endpoint,
		"bucket":   r.bucket,
	})
}

// GetClient returns the S3 client (nil when backend != s3).
func (r *S3Resource) GetClient() *s3.Client {
	return r.client
}

// GetBucketName returns the configured bucket.
func (r *S3Resource) GetBucketName() string {
	return r.bucket
}

// Close releases the resource.
func (r *S3Resource) Close() {}

type S3ResourcePlugin struct{}

func (p *S3ResourcePlugin) Name() string                         { return "s3Resource" }
func (p *S3ResourcePlugin) MustCreateResource() manager.Resource { return DefaultS3Resource() }
