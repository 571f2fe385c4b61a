package vo

import "sort"

// Resolution is a ladder rung tag ("360p" ... "1080p").
type Resolution string

const (
	Res360p  Resolution = "360p"
	Res480p  Resolution = "480p"
	Res720p  Resolution = "720p"
	Res1080p Resolution = "1080p"
)

// String returns the tag string.
func (r Resolution) String() string {
	return string(r)
}

// Rendition fixes the encoding parameters for one ladder rung.
type Rendition struct {
	Tag       Resolution
	Width     int
	Height    int
	VideoKbps int
	AudioKbps int
}

// Bandwidth returns the HLS master playlist BANDWIDTH value in bits/s
// (video plus audio).
func (r Rendition) Bandwidth() int {
	return (r.VideoKbps + r.AudioKbps) * 1000
}

// Ladder is the fixed encoding table, ascending by bandwidth.
var Ladder = []Rendition{
	{Tag: Res360p, Width: 640, Height: 360, VideoKbps: 800, AudioKbps: 96},
	{Tag: Res480p, Width: 854, Height: 480, VideoKbps: 1400, AudioKbps: 128},
	{Tag: Res720p, Width: 1280, Height: 720, VideoKbps: 2800, AudioKbps: 128},
	{Tag: Res1080p, Width: 1920, Height: 1080, VideoKbps: 5000, AudioKbps: 192},
}

// LookupRendition resolves a tag against the ladder.
func LookupRendition(tag Resolution) (Rendition, bool) {
	for _, r := range Ladder {
		if r.Tag == tag {
			return r, true
		}
	}
	return Rendition{}, false
}

// SortAscendingBandwidth orders tags by ladder bandwidth, dropping
// anything not in the table. The master playlist lists variants in this
// order.
func SortAscendingBandwidth(tags []Resolution) []Resolution {
	out := make([]Resolution, 0, len(tags))
	for _, t := range tags {
		if _, ok := LookupRendition(t); ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := LookupRendition(out[i])
		b, _ := LookupRendition(out[j])
		return a.Bandwidth() < b.Bandwidth()
	})
	return out
}
