package cli

import (
	"testing"
	"time"
)

func TestFormatClip(t *testing.T) {
	tests := map[int]string{0: "0:00", 5: "0:05", 65: "1:05", 600: "10:00", -3: "0:00"}
	for in, want := range tests {
		if got := FormatClip(in); got != want {
			t.Errorf("FormatClip(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.00 KB",
		5 * 1024 * 1024: "5.00 MB",
		3 << 30:         "3.00 GB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatAgo(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{72 * time.Hour, "Mar 12"},
	}
	for _, tt := range tests {
		if got := FormatAgo(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("FormatAgo(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}
