package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"transcode-pipeline/ddd/domain/vo"
	"transcode-pipeline/pkg/config"
)

func testEncoderConfig() *config.Config {
	return &config.Config{
		Transcode: config.TranscodeConfig{
			FFmpeg: config.FFmpegConfig{
				BinaryPath:       "ffmpeg",
				ProbePath:        "ffprobe",
				Timeout:          time.Hour,
				ProgressDeadline: 30 * time.Second,
				SegmentDuration:  15,
			},
		},
	}
}

func TestBuildRenditionCommand(t *testing.T) {
	e := NewFFmpegEncoder(testEncoderConfig())
	rendition, _ := vo.LookupRendition(vo.Res360p)
	spec := vo.EncodeSpec{
		TargetResolutions: []vo.Resolution{vo.Res360p},
		Preset:            vo.PresetUltrafast,
		SegmentSeconds:    15,
	}

	cmd := e.buildRenditionCommand(context.Background(), "/tmp/in.mp4", "/tmp/out/360p", rendition, spec)
	joined := strings.Join(cmd.Args, " ")

	for _, want := range []string{
		"-i /tmp/in.mp4",
		"-progress pipe:2",
		"-nostats",
		"-c:v libx264",
		"-preset ultrafast",
		"-s 640x360",
		"-b:v 800k",
		"-maxrate 800k",
		"-bufsize 1600k",
		"-c:a aac",
		"-b:a 96k",
		"-hls_time 15",
		"-hls_playlist_type vod",
		"-f hls",
		"/tmp/out/360p/index.m3u8",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("command missing %q: %s", want, joined)
		}
	}
	if strings.Contains(joined, "-threads") {
		t.Error("unrestricted spec must not cap threads")
	}
	if !strings.Contains(joined, filepath.Join("/tmp/out/360p", "segment%03d.ts")) {
		t.Errorf("command missing segment filename pattern: %s", joined)
	}
}

func TestBuildRenditionCommandThreadCap(t *testing.T) {
	e := NewFFmpegEncoder(testEncoderConfig())
	rendition, _ := vo.LookupRendition(vo.Res1080p)
	spec := vo.EncodeSpec{
		TargetResolutions: []vo.Resolution{vo.Res1080p},
		Preset:            vo.PresetMedium,
		CPUThreads:        2,
		SegmentSeconds:    15,
	}

	cmd := e.buildRenditionCommand(context.Background(), "in.mp4", "out/1080p", rendition, spec)
	joined := strings.Join(cmd.Args, " ")
	if !strings.Contains(joined, "-threads 2") {
		t.Errorf("command missing thread cap: %s", joined)
	}
	if !strings.Contains(joined, "-s 1920x1080") || !strings.Contains(joined, "-b:v 5000k") {
		t.Errorf("wrong 1080p parameters: %s", joined)
	}
}

func TestWriteMasterPlaylist(t *testing.T) {
	dir := t.TempDir()
	// Deliberately unsorted: the playlist must come out ascending.
	if err := writeMasterPlaylist(dir, []vo.Resolution{vo.Res1080p, vo.Res360p, vo.Res720p, vo.Res480p}); err != nil {
		t.Fatalf("writeMasterPlaylist: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "master.m3u8"))
	if err != nil {
		t.Fatalf("read master: %v", err)
	}

	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=896000,RESOLUTION=640x360\n" +
		"360p/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1528000,RESOLUTION=854x480\n" +
		"480p/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2928000,RESOLUTION=1280x720\n" +
		"720p/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=5192000,RESOLUTION=1920x1080\n" +
		"1080p/index.m3u8\n"
	if string(raw) != want {
		t.Errorf("master playlist mismatch:\ngot:\n%s\nwant:\n%s", raw, want)
	}
}

func TestWriteMasterPlaylistSingleRendition(t *testing.T) {
	dir := t.TempDir()
	if err := writeMasterPlaylist(dir, []vo.Resolution{vo.Res360p}); err != nil {
		t.Fatalf("writeMasterPlaylist: %v", err)
	}
	raw, _ := os.ReadFile(filepath.Join(dir, "master.m3u8"))
	body := string(raw)
	if strings.Count(body, "#EXT-X-STREAM-INF") != 1 {
		t.Errorf("fast-stage master should reference one variant:\n%s", body)
	}
	if !strings.Contains(body, "360p/index.m3u8") {
		t.Errorf("missing 360p variant line:\n%s", body)
	}
}

func TestEmitPercent(t *testing.T) {
	tests := []struct {
		current  float64
		total    float64
		want     int
		expected bool
	}{
		{30, 60, 50, true},
		{60, 60, 99, true}, // capped below 100 until the rung finishes
		{90, 60, 99, true},
		{0, 60, 0, true},
		{-5, 60, 0, true},
		{30, 0, 0, false}, // unknown duration emits nothing
	}
	for _, tt := range tests {
		var got int
		called := false
		emitPercent(tt.current, tt.total, vo.Res360p, func(_ vo.Resolution, pct int) {
			called = true
			got = pct
		})
		if called != tt.expected {
			t.Errorf("emitPercent(%v, %v): called=%v, want %v", tt.current, tt.total, called, tt.expected)
			continue
		}
		if called && got != tt.want {
			t.Errorf("emitPercent(%v, %v) = %d, want %d", tt.current, tt.total, got, tt.want)
		}
	}
}

func TestTranscodeRejectsInvalidSpec(t *testing.T) {
	e := NewFFmpegEncoder(testEncoderConfig())
	err := e.Transcode(context.Background(), "in.mp4", t.TempDir(), vo.EncodeSpec{}, nil)
	if err == nil {
		t.Error("empty spec should be rejected before any process starts")
	}
}
