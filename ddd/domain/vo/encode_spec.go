package vo

import "fmt"

// Preset selects the encoder speed/quality trade-off.
type Preset string

const (
	PresetUltrafast Preset = "ultrafast"
	PresetFast      Preset = "fast"
	PresetMedium    Preset = "medium"
)

// IsValid reports whether the preset is supported.
func (p Preset) IsValid() bool {
	return p == PresetUltrafast || p == PresetFast || p == PresetMedium
}

// EncodeSpec describes one encoder invocation: which rungs to produce,
// which rungs the generated master playlist should reference (possibly a
// superset, when a prior stage already produced some), and tuning.
type EncodeSpec struct {
	TargetResolutions   []Resolution
	PlaylistResolutions []Resolution
	Preset              Preset
	// CPUThreads caps encoder threads; 0 means unrestricted.
	CPUThreads int
	// SegmentSeconds is the HLS segment duration.
	SegmentSeconds int
}

// Validate checks the spec is executable.
func (s EncodeSpec) Validate() error {
	if len(s.TargetResolutions) == 0 {
		return fmt.Errorf("encode spec needs at least one target resolution")
	}
	for _, t := range s.TargetResolutions {
		if _, ok := LookupRendition(t); !ok {
			return fmt.Errorf("unknown target resolution %q", t)
		}
	}
	for _, t := range s.PlaylistResolutions {
		if _, ok := LookupRendition(t); !ok {
			return fmt.Errorf("unknown playlist resolution %q", t)
		}
	}
	if !s.Preset.IsValid() {
		return fmt.Errorf("unknown preset %q", s.Preset)
	}
	if s.CPUThreads < 0 {
		return fmt.Errorf("cpu_threads must be >= 0")
	}
	if s.SegmentSeconds <= 0 {
		return fmt.Errorf("segment duration must be positive")
	}
	return nil
}

// SpecForStage derives the encoder spec for a queue lane. The fast lane
// produces only 360p with an unrestricted ultrafast encode; the background
// lane fills in the HD rungs with capped threads and references the whole
// ladder in its master playlist.
func SpecForStage(stage Stage, backgroundThreads, segmentSeconds int) EncodeSpec {
	if stage == StageBackground {
		return EncodeSpec{
			TargetResolutions:   []Resolution{Res480p, Res720p, Res1080p},
			PlaylistResolutions: []Resolution{Res360p, Res480p, Res720p, Res1080p},
			Preset:              PresetMedium,
			CPUThreads:          backgroundThreads,
			SegmentSeconds:      segmentSeconds,
		}
	}
	return EncodeSpec{
		TargetResolutions:   []Resolution{Res360p},
		PlaylistResolutions: []Resolution{Res360p},
		Preset:              PresetUltrafast,
		CPUThreads:          0,
		SegmentSeconds:      segmentSeconds,
	}
}
