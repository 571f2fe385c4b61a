package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transcode-pipeline/ddd/domain/gateway"
	"transcode-pipeline/internal/resource"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/errno"
	"transcode-pipeline/pkg/logger"
)

// NewObjectStore builds the ObjectStore for the configured backend.
func NewObjectStore(cfg *config.Config) gateway.ObjectStore {
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	switch cfg.ObjectStore.Backend {
	case "s3":
		return NewS3Store(resource.DefaultS3Resource(), cfg)
	default:
		return NewMinioStore(resource.DefaultMinioResource(), cfg)
	}
}

var retryDelays = []time.Duration{250 * time.Millisecond, time.Second, 4 * time.Second}

// withRetry runs fn up to 1+len(retryDelays) times. Not-found is final on
// the first attempt; everything else is treated as transient.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var biz *errno.BizError
		if errors.As(err, &biz) && biz.Kind == errno.ErrObjectNotFound {
			return err
		}
		if attempt >= len(retryDelays) {
			return err
		}
		logger.Warn("Object store operation failed, retrying", map[string]interface{}{
			"op":      op,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelays[attempt]):
		}
	}
}

// contentTypeFor picks a content type from the file extension. HLS types
// matter for playback; anything unknown falls back to octet-stream.
func contentTypeFor(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".avi":
		return "video/x-msvideo"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// downloadTo writes body-producing fn output to localPath through a temp
// file so a torn download never leaves a partial file behind.
func downloadTo(localPath string, write func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// walkLocalTree yields every regular file under localDir with its
// slash-separated path relative to localDir.
func walkLocalTree(localDir string, visit func(localPath, relKey string) error) error {
	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		return visit(p, filepath.ToSlash(rel))
	})
}
