package voice

import (
	"testing"
	"time"
)

func TestFormatElapsed(t *testing.T) {
	cases := map[time.Duration]string{
		0:                                     "0:00.00",
		2500 * time.Millisecond:               "0:02.50",
		61*time.Second + 70*time.Millisecond:  "1:01.07",
		10*time.Minute + 999*time.Millisecond: "10:00.99",
		-time.Second:                          "0:00.00",
	}
	for d, want := range cases {
		if got := FormatElapsed(d); got != want {
			t.Errorf("FormatElapsed(%v): expected %s, got %s", d, want, got)
		}
	}
}

func TestProgressPercent(t *testing.T) {
	if got := ProgressPercent(time.Second, 4*time.Second); got != 25 {
		t.Errorf("expected 25, got %v", got)
	}
	if got := ProgressPercent(5*time.Second, 4*time.Second); got != 100 {
		t.Errorf("expected clamp to 100, got %v", got)
	}
	if got := ProgressPercent(-time.Second, 4*time.Second); got != 0 {
		t.Errorf("expected clamp to 0, got %v", got)
	}
	if got := ProgressPercent(time.Second, 0); got != 0 {
		t.Errorf("expected 0 for unknown duration, got %v", got)
	}
}
