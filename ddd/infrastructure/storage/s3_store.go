package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"transcode-pipeline/ddd/domain/gateway"
	"transcode-pipeline/internal/resource"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/errno"
	"transcode-pipeline/pkg/logger"
)

// S3Store implements gateway.ObjectStore on an S3-compatible endpoint
// through the aws sdk. Behaves identically to MinioStore; the backend is
// a deployment choice.
type S3Store struct {
	s3Resource *resource.S3Resource
	opTimeout  time.Duration
}

func NewS3Store(s3Resource *resource.S3Resource, cfg *config.Config) gateway.ObjectStore {
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	return &S3Store{
		s3Resource: s3Resource,
		opTimeout:  cfg.ObjectStore.OpTimeout,
	}
}

func (s *S3Store) classify(err error) error {
	if err == nil {
		return nil
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return errno.NewBizError(errno.ErrObjectNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
		return errno.NewBizError(errno.ErrObjectNotFound, err)
	}
	return errno.NewBizError(errno.ErrObjectStore, err)
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	client := s.s3Resource.GetClient()
	bucket := s.s3Resource.GetBucketName()
	if contentType == "" {
		contentType = contentTypeFor(key)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	_, err := client.PutObject(opCtx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return s.classify(fmt.Errorf("put %s: %w", key, err))
	}
	return nil
}

func (s *S3Store) GetStream(ctx context.Context, key string) (io.ReadCloser, *gateway.ObjectInfo, error) {
	return s.GetRange(ctx, key, 0, -1)
}

func (s *S3Store) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, *gateway.ObjectInfo, error) {
	client := s.s3Resource.GetClient()
	bucket := s.s3Resource.GetBucketName()

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if start > 0 || end >= 0 {
		if end >= 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", start, end))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", start))
		}
	}

	out, err := client.GetObject(ctx, input)
	if err != nil {
		return nil, nil, s.classify(fmt.Errorf("get %s: %w", key, err))
	}
	info := &gateway.ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return out.Body, info, nil
}

func (s *S3Store) Stat(ctx context.Context, key string) (*gateway.ObjectInfo, error) {
	client := s.s3Resource.GetClient()
	bucket := s.s3Resource.GetBucketName()

	var info *gateway.ObjectInfo
	err := withRetry(ctx, "stat", func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
		out, err := client.HeadObject(opCtx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return s.classify(fmt.Errorf("stat %s: %w", key, err))
		}
		info = &gateway.ObjectInfo{
			Key:         key,
			Size:        aws.ToInt64(out.ContentLength),
			ContentType: aws.ToString(out.ContentType),
		}
		if out.LastModified != nil {
			info.LastModified = *out.LastModified
		}
		return nil
	})
	return info, err
}

func (s *S3Store) Download(ctx context.Context, key, localPath string) error {
	return withRetry(ctx, "download", func() error {
		body, _, err := s.GetRange(ctx, key, 0, -1)
		if err != nil {
			return err
		}
		defer body.Close()
		err = downloadTo(localPath, func(f *os.File) error {
			if _, err := io.Copy(f, body); err != nil {
				return s.classify(fmt.Errorf("download %s: %w", key, err))
			}
			return nil
		})
		if err != nil {
			return err
		}
		logger.Debug("Object downloaded", map[string]interface{}{
			"object_key": key,
			"local_path": localPath,
		})
		return nil
	})
}

func (s *S3Store) UploadTree(ctx context.Context, localDir, keyPrefix string) error {
	uploaded := 0
	err := walkLocalTree(localDir, func(localPath, relKey string) error {
		key := path.Join(keyPrefix, relKey)
		err := withRetry(ctx, "upload_tree", func() error {
			file, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("open %s: %w", localPath, err)
			}
			defer file.Close()
			stat, err := file.Stat()
			if err != nil {
				return fmt.Errorf("stat %s: %w", localPath, err)
			}
			return s.Put(ctx, key, file, stat.Size(), "")
		})
		if err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("HLS tree uploaded", map[string]interface{}{
		"local_dir":  localDir,
		"key_prefix": keyPrefix,
		"objects":    uploaded,
	})
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]gateway.ObjectEntry, error) {
	client := s.s3Resource.GetClient()
	bucket := s.s3Resource.GetBucketName()

	var entries []gateway.ObjectEntry
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.classify(fmt.Errorf("list %s: %w", prefix, err))
		}
		for _, object := range page.Contents {
			entries = append(entries, gateway.ObjectEntry{
				Key:  aws.ToString(object.Key),
				Size: aws.ToInt64(object.Size),
			})
		}
	}
	return entries, nil
}

func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	client := s.s3Resource.GetClient()
	bucket := s.s3Resource.GetBucketName()

	presigner := s3.NewPresignClient(client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", s.classify(fmt.Errorf("presign %s: %w", key, err))
	}
	return req.URL, nil
}
