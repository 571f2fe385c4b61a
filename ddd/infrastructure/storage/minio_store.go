package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/minio/minio-go/v7"

	"transcode-pipeline/ddd/domain/gateway"
	"transcode-pipeline/internal/resource"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/errno"
	"transcode-pipeline/pkg/logger"
)

// MinioStore implements gateway.ObjectStore on a MinIO bucket.
type MinioStore struct {
	minioResource *resource.MinioResource
	opTimeout     time.Duration
}

func NewMinioStore(minioResource *resource.MinioResource, cfg *config.Config) gateway.ObjectStore {
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	return &MinioStore{
		minioResource: minioResource,
		opTimeout:     cfg.ObjectStore.OpTimeout,
	}
}

func (s *MinioStore) classify(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404 {
		return errno.NewBizError(errno.ErrObjectNotFound, err)
	}
	return errno.NewBizError(errno.ErrObjectStore, err)
}

func (s *MinioStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	client := s.minioResource.GetClient()
	bucket := s.minioResource.GetBucketName()
	if contentType == "" {
		contentType = contentTypeFor(key)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	_, err := client.PutObject(opCtx, bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return s.classify(fmt.Errorf("put %s: %w", key, err))
	}
	return nil
}

func (s *MinioStore) GetStream(ctx context.Context, key string) (io.ReadCloser, *gateway.ObjectInfo, error) {
	return s.GetRange(ctx, key, 0, -1)
}

func (s *MinioStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, *gateway.ObjectInfo, error) {
	client := s.minioResource.GetClient()
	bucket := s.minioResource.GetBucketName()

	opts := minio.GetObjectOptions{}
	if start > 0 || end >= 0 {
		if err := opts.SetRange(start, end); err != nil {
			return nil, nil, errno.NewBizError(errno.ErrObjectStore, err)
		}
	}

	// No timeout here: the stream outlives the call and is paced by the
	// consumer.
	object, err := client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, nil, s.classify(fmt.Errorf("get %s: %w", key, err))
	}
	// GetObject is lazy; Stat forces the first round trip so missing keys
	// surface here instead of mid-stream.
	stat, err := object.Stat()
	if err != nil {
		object.Close()
		return nil, nil, s.classify(fmt.Errorf("stat %s: %w", key, err))
	}
	return object, &gateway.ObjectInfo{
		Key:          key,
		Size:         stat.Size,
		ContentType:  stat.ContentType,
		LastModified: stat.LastModified,
	}, nil
}

func (s *MinioStore) Stat(ctx context.Context, key string) (*gateway.ObjectInfo, error) {
	client := s.minioResource.GetClient()
	bucket := s.minioResource.GetBucketName()

	var info *gateway.ObjectInfo
	err := withRetry(ctx, "stat", func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
		stat, err := client.StatObject(opCtx, bucket, key, minio.StatObjectOptions{})
		if err != nil {
			return s.classify(fmt.Errorf("stat %s: %w", key, err))
		}
		info = &gateway.ObjectInfo{
			Key:          key,
			Size:         stat.Size,
			ContentType:  stat.ContentType,
			LastModified: stat.LastModified,
		}
		return nil
	})
	return info, err
}

func (s *MinioStore) Download(ctx context.Context, key, localPath string) error {
	client := s.minioResource.GetClient()
	bucket := s.minioResource.GetBucketName()

	return withRetry(ctx, "download", func() error {
		object, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return s.classify(fmt.Errorf("get %s: %w", key, err))
		}
		defer object.Close()
		err = downloadTo(localPath, func(f *os.File) error {
			if _, err := f.ReadFrom(object); err != nil {
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

func (s *MinioStore) UploadTree(ctx context.Context, localDir, keyPrefix string) error {
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

func (s *MinioStore) List(ctx context.Context, prefix string) ([]gateway.ObjectEntry, error) {
	client := s.minioResource.GetClient()
	bucket := s.minioResource.GetBucketName()

	var entries []gateway.ObjectEntry
	for object := range client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, s.classify(fmt.Errorf("list %s: %w", prefix, object.Err))
		}
		entries = append(entries, gateway.ObjectEntry{Key: object.Key, Size: object.Size})
	}
	return entries, nil
}

func (s *MinioStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	client := s.minioResource.GetClient()
	bucket := s.minioResource.GetBucketName()

	signed, err := client.PresignedGetObject(ctx, bucket, key, ttl, url.Values{})
	if err != nil {
		return "", s.classify(fmt.Errorf("presign %s: %w", key, err))
	}
	return signed.String(), nil
}
