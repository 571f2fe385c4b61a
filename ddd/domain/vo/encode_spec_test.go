package vo

import "testing"

func TestSpecForStageFast(t *testing.T) {
	spec := SpecForStage(StageFast, 2, 15)
	if len(spec.TargetResolutions) != 1 || spec.TargetResolutions[0] != Res360p {
		t.Errorf("fast stage should encode only 360p, got %v", spec.TargetResolutions)
	}
	if len(spec.PlaylistResolutions) != 1 || spec.PlaylistResolutions[0] != Res360p {
		t.Errorf("fast master should reference only 360p, got %v", spec.PlaylistResolutions)
	}
	if spec.Preset != PresetUltrafast {
		t.Errorf("fast stage preset = %s, want ultrafast", spec.Preset)
	}
	if spec.CPUThreads != 0 {
		t.Errorf("fast stage should not cap threads, got %d", spec.CPUThreads)
	}
	if err := spec.Validate(); err != nil {
		t.Errorf("fast spec should validate: %v", err)
	}
}

func TestSpecForStageBackground(t *testing.T) {
	spec := SpecForStage(StageBackground, 2, 15)
	wantTargets := []Resolution{Res480p, Res720p, Res1080p}
	if len(spec.TargetResolutions) != len(wantTargets) {
		t.Fatalf("background targets = %v, want %v", spec.TargetResolutions, wantTargets)
	}
	for i, r := range wantTargets {
		if spec.TargetResolutions[i] != r {
			t.Fatalf("background targets = %v, want %v", spec.TargetResolutions, wantTargets)
		}
	}
	if len(spec.PlaylistResolutions) != 4 {
		t.Errorf("background master should reference the full ladder, got %v", spec.PlaylistResolutions)
	}
	if spec.Preset != PresetMedium {
		t.Errorf("background preset = %s, want medium", spec.Preset)
	}
	if spec.CPUThreads != 2 {
		t.Errorf("background threads = %d, want 2", spec.CPUThreads)
	}
}

func TestEncodeSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    EncodeSpec
		wantErr bool
	}{
		{
			name: "valid",
			spec: EncodeSpec{
				TargetResolutions: []Resolution{Res360p},
				Preset:            PresetUltrafast,
				SegmentSeconds:    15,
			},
		},
		{
			name:    "no targets",
			spec:    EncodeSpec{Preset: PresetFast, SegmentSeconds: 15},
			wantErr: true,
		},
		{
			name: "unknown target",
			spec: EncodeSpec{
				TargetResolutions: []Resolution{"4k"},
				Preset:            PresetFast,
				SegmentSeconds:    15,
			},
			wantErr: true,
		},
		{
			name: "unknown preset",
			spec: EncodeSpec{
				TargetResolutions: []Resolution{Res360p},
				Preset:            "turbo",
				SegmentSeconds:    15,
			},
			wantErr: true,
		},
		{
			name: "zero segment duration",
			spec: EncodeSpec{
				TargetResolutions: []Resolution{Res360p},
				Preset:            PresetMedium,
			},
			wantErr: true,
		},
		{
			name: "negative threads",
			spec: EncodeSpec{
				TargetResolutions: []Resolution{Res360p},
				Preset:            PresetMedium,
				CPUThreads:        -1,
				SegmentSeconds:    15,
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
