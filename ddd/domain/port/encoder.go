package port

import (
	"context"
	"fmt"

	"transcode-pipeline/ddd/domain/vo"
)

// ProgressFunc receives per-resolution percent updates while an encode
// runs. Implementations must be safe for calls from the encoder goroutine.
type ProgressFunc func(resolution vo.Resolution, percent int)

// Encoder drives the external encoder binary to produce one HLS rendition
// per target resolution plus the master playlist.
type Encoder interface {
	// Transcode renders spec.TargetResolutions from inputPath into
	// outputDir ({outputDir}/{tag}/index.m3u8 plus segments and
	// {outputDir}/master.m3u8). Partially produced renditions are
	// removed before an error is returned.
	Transcode(ctx context.Context, inputPath, outputDir string, spec vo.EncodeSpec, progress ProgressFunc) error
}

// EncoderError reports a failed rendition with a tail of the encoder's
// stderr for diagnosis.
type EncoderError struct {
	Resolution vo.Resolution
	StderrTail string
}

func (e *EncoderError) Error() string {
	return fmt.Sprintf("EncoderError: %s", e.Resolution)
}
