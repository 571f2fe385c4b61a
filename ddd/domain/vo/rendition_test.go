package vo

import "testing"

func TestLadderBandwidth(t *testing.T) {
	tests := []struct {
		tag       Resolution
		width     int
		height    int
		bandwidth int
	}{
		{Res360p, 640, 360, 896000},
		{Res480p, 854, 480, 1528000},
		{Res720p, 1280, 720, 2928000},
		{Res1080p, 1920, 1080, 5192000},
	}
	for _, tt := range tests {
		r, ok := LookupRendition(tt.tag)
		if !ok {
			t.Fatalf("ladder is missing %s", tt.tag)
		}
		if r.Width != tt.width || r.Height != tt.height {
			t.Errorf("%s: got %dx%d, want %dx%d", tt.tag, r.Width, r.Height, tt.width, tt.height)
		}
		if got := r.Bandwidth(); got != tt.bandwidth {
			t.Errorf("%s: bandwidth %d, want %d", tt.tag, got, tt.bandwidth)
		}
	}
}

func TestLookupRenditionUnknown(t *testing.T) {
	if _, ok := LookupRendition("4k"); ok {
		t.Error("unknown tag should not resolve")
	}
}

func TestSortAscendingBandwidth(t *testing.T) {
	got := SortAscendingBandwidth([]Resolution{Res1080p, Res360p, "4k", Res720p})
	want := []Resolution{Res360p, Res720p, Res1080p}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
