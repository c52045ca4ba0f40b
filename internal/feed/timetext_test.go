package feed

import (
	"testing"
	"time"
)

func TestElapsedText(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{-5 * time.Second, "0s"},
		{14 * time.Second, "14s"},
		{3*time.Minute + 5*time.Second, "3m 05s"},
		{2*time.Hour + time.Minute + 9*time.Second, "2h 01m 09s"},
		{26*time.Hour + 30*time.Minute, "1d 02h 30m 00s"},
		{999 * time.Millisecond, "1s"},
	}
	for _, tt := range tests {
		if got := ElapsedText(tt.d); got != tt.want {
			t.Errorf("ElapsedText(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
