package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"transcode-pipeline/ddd/domain/port"
	"transcode-pipeline/ddd/domain/vo"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/logger"
)

const stderrTailLines = 50

// FFmpegEncoder implements port.Encoder by shelling out to ffmpeg once
// per rendition. Each rendition is segmented into
// {outputDir}/{tag}/segment%03d.ts behind {tag}/index.m3u8; a master
// playlist referencing spec.PlaylistResolutions is written last.
type FFmpegEncoder struct {
	cfg *config.Config
}

func NewFFmpegEncoder(cfg *config.Config) *FFmpegEncoder {
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	return &FFmpegEncoder{cfg: cfg}
}

// Probe verifies the configured ffmpeg and ffprobe binaries are runnable.
// Called once at startup so a misconfigured host fails fast instead of on
// the first job.
func (e *FFmpegEncoder) Probe(ctx context.Context) error {
	ff := e.cfg.Transcode.FFmpeg
	for _, binary := range []string{ff.BinaryPath, ff.ProbePath} {
		cmd := exec.CommandContext(ctx, binary, "-version")
		if out, err := cmd.Output(); err != nil {
			return fmt.Errorf("probe %s: %w", binary, err)
		} else if len(out) == 0 {
			return fmt.Errorf("probe %s: empty version output", binary)
		}
	}
	return nil
}

func (e *FFmpegEncoder) Transcode(ctx context.Context, inputPath, outputDir string, spec vo.EncodeSpec, progress port.ProgressFunc) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	durationSec := e.probeDurationSeconds(inputPath)
	if durationSec <= 0 {
		logger.Warn("Could not probe input duration, progress will be coarse", map[string]interface{}{
			"input": inputPath,
		})
	}

	for _, tag := range vo.SortAscendingBandwidth(spec.TargetResolutions) {
		rendition, _ := vo.LookupRendition(tag)
		renditionDir := filepath.Join(outputDir, tag.String())
		if err := os.MkdirAll(renditionDir, 0o755); err != nil {
			return fmt.Errorf("create rendition dir: %w", err)
		}
		if err := e.encodeRendition(ctx, inputPath, renditionDir, rendition, spec, durationSec, progress); err != nil {
			// Half-written segments would poison a later retry.
			os.RemoveAll(renditionDir)
			return err
		}
		if progress != nil {
			progress(tag, 100)
		}
	}

	return writeMasterPlaylist(outputDir, spec.PlaylistResolutions)
}

func (e *FFmpegEncoder) encodeRendition(ctx context.Context, inputPath, renditionDir string, rendition vo.Rendition, spec vo.EncodeSpec, durationSec float64, progress port.ProgressFunc) error {
	ff := e.cfg.Transcode.FFmpeg

	runCtx := ctx
	var cancel context.CancelFunc
	if ff.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, ff.Timeout)
		defer cancel()
	}

	cmd := e.buildRenditionCommand(runCtx, inputPath, renditionDir, rendition, spec)
	logger.Info("ffmpeg rendition start", map[string]interface{}{
		"resolution": rendition.Tag.String(),
		"command":    strings.Join(cmd.Args, " "),
	})

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	var lastProgress atomic.Int64
	lastProgress.Store(time.Now().UnixNano())

	tail := make([]string, 0, stderrTailLines)
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		e.scanProgress(runCtx, stderr, durationSec, &tail, &lastProgress, rendition.Tag, progress)
	}()

	watchdogDone := make(chan struct{})
	go e.watchHang(runCtx, cmd, &lastProgress, ff.ProgressDeadline, rendition.Tag, watchdogDone)

	waitErr := cmd.Wait()
	close(watchdogDone)
	<-scanDone

	if waitErr != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			logger.Error("ffmpeg exceeded encode timeout", map[string]interface{}{
				"resolution": rendition.Tag.String(),
				"timeout":    ff.Timeout.String(),
			})
		}
		return &port.EncoderError{
			Resolution: rendition.Tag,
			StderrTail: strings.Join(tail, "\n"),
		}
	}
	return nil
}

// watchHang kills ffmpeg when no progress arrives for two deadline
// windows in a row. SIGTERM first, SIGKILL after a 10s grace period.
func (e *FFmpegEncoder) watchHang(ctx context.Context, cmd *exec.Cmd, lastProgress *atomic.Int64, deadline time.Duration, tag vo.Resolution, done <-chan struct{}) {
	if deadline <= 0 {
		return
	}
	ticker := time.NewTicker(deadline)
	defer ticker.Stop()
	misses := 0
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, lastProgress.Load()))
			if idle < deadline {
				misses = 0
				continue
			}
			misses++
			if misses < 2 {
				continue
			}
			logger.Error("ffmpeg stalled, terminating", map[string]interface{}{
				"resolution": tag.String(),
				"idle":       idle.String(),
			})
			if cmd.Process != nil {
				_ = cmd.Process.Signal(syscall.SIGTERM)
			}
			select {
			case <-done:
				return
			case <-time.After(10 * time.Second):
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
			}
			return
		}
	}
}

var timeProgressRe = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.?\d*)`)

func (e *FFmpegEncoder) scanProgress(ctx context.Context, stderr io.ReadCloser, durationSec float64, tail *[]string, lastProgress *atomic.Int64, tag vo.Resolution, progress port.ProgressFunc) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := scanner.Text()

		if strings.HasPrefix(line, "out_time_ms=") {
			lastProgress.Store(time.Now().UnixNano())
			if us, err := strconv.ParseFloat(strings.TrimPrefix(line, "out_time_ms="), 64); err == nil {
				emitPercent(us/1e6, durationSec, tag, progress)
			}
			continue
		}
		if m := timeProgressRe.FindStringSubmatch(line); len(m) == 4 {
			lastProgress.Store(time.Now().UnixNano())
			hh, _ := strconv.ParseFloat(m[1], 64)
			mm, _ := strconv.ParseFloat(m[2], 64)
			ss, _ := strconv.ParseFloat(m[3], 64)
			emitPercent(hh*3600+mm*60+ss, durationSec, tag, progress)
			continue
		}

		t := *tail
		if len(t) >= stderrTailLines {
			t = t[1:]
		}
		*tail = append(t[:len(t):len(t)], line)
	}
}

func emitPercent(currentSec, totalSec float64, tag vo.Resolution, progress port.ProgressFunc) {
	if progress == nil || totalSec <= 0 {
		return
	}
	pct := int(currentSec / totalSec * 100)
	if pct > 99 {
		pct = 99
	}
	if pct < 0 {
		pct = 0
	}
	progress(tag, pct)
}

func (e *FFmpegEncoder) buildRenditionCommand(ctx context.Context, inputPath, renditionDir string, rendition vo.Rendition, spec vo.EncodeSpec) *exec.Cmd {
	args := []string{
		"-probesize", "5M",
		"-analyzeduration", "5M",
		"-i", inputPath,
		"-progress", "pipe:2",
		"-nostats",
		"-c:v", "libx264",
		"-preset", string(spec.Preset),
		"-s", fmt.Sprintf("%dx%d", rendition.Width, rendition.Height),
		"-b:v", fmt.Sprintf("%dk", rendition.VideoKbps),
		"-maxrate", fmt.Sprintf("%dk", rendition.VideoKbps),
		"-bufsize", fmt.Sprintf("%dk", rendition.VideoKbps*2),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", rendition.AudioKbps),
	}
	if spec.CPUThreads > 0 {
		args = append(args, "-threads", strconv.Itoa(spec.CPUThreads))
	}
	args = append(args,
		"-hls_time", strconv.Itoa(spec.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(renditionDir, "segment%03d.ts"),
		"-f", "hls",
		"-y",
		filepath.Join(renditionDir, "index.m3u8"),
	)
	return exec.CommandContext(ctx, e.cfg.Transcode.FFmpeg.BinaryPath, args...)
}

func (e *FFmpegEncoder) probeDurationSeconds(inputPath string) float64 {
	cmd := exec.Command(e.cfg.Transcode.FFmpeg.ProbePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0
	}
	return val
}

// writeMasterPlaylist renders master.m3u8 referencing every playlist
// rendition, ascending by bandwidth. Regenerated whole on every stage so
// the background pass extends what the fast pass published.
func writeMasterPlaylist(outputDir string, playlist []vo.Resolution) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, tag := range vo.SortAscendingBandwidth(playlist) {
		rendition, _ := vo.LookupRendition(tag)
		b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			rendition.Bandwidth(), rendition.Width, rendition.Height))
		b.WriteString(fmt.Sprintf("%s/index.m3u8\n", tag))
	}
	if err := os.WriteFile(filepath.Join(outputDir, "master.m3u8"), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}
	return nil
}
