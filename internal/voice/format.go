package voice

import (
	"fmt"
	"time"
)

// FormatElapsed renders d as m:ss.cc (minutes, seconds, hundredths).
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := d / time.Minute
	seconds := (d % time.Minute) / time.Second
	hundredths := (d % time.Second) / (10 * time.Millisecond)
	return fmt.Sprintf("%d:%02d.%02d", minutes, seconds, hundredths)
}

// ProgressPercent returns position/duration as a percentage in [0, 100].
func ProgressPercent(position, duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}
	p := float64(position) / float64(duration) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
