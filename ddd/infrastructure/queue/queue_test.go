package queue

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		base     time.Duration
		attempts int
		want     time.Duration
	}{
		{2 * time.Second, 1, 2 * time.Second},
		{2 * time.Second, 2, 4 * time.Second},
		{2 * time.Second, 3, 8 * time.Second},
		{2 * time.Second, 0, 2 * time.Second},
		{time.Minute, 4, 5 * time.Minute},  // capped
		{time.Minute, 10, 5 * time.Minute}, // stays capped
		{0, 2, 2 * time.Second},            // zero base falls back to 1s
	}
	for _, tt := range tests {
		if got := Backoff(tt.base, tt.attempts); got != tt.want {
			t.Errorf("Backoff(%v, %d) = %v, want %v", tt.base, tt.attempts, got, tt.want)
		}
	}
}
