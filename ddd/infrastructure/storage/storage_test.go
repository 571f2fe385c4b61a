package storage

import "testing"

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"demo/master.m3u8", "application/vnd.apple.mpegurl"},
		{"demo/360p/segment000.ts", "video/MP2T"},
		{"raw-videos/clip.mp4", "video/mp4"},
		{"raw-videos/CLIP.MOV", "video/quicktime"},
		{"raw-videos/clip.mkv", "video/x-matroska"},
		{"raw-videos/clip.webm", "video/webm"},
		{"meta/info.json", "application/json"},
		{"raw-videos/blob", "application/octet-stream"},
		{"raw-videos/blob.xyz", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := contentTypeFor(tt.key); got != tt.want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
