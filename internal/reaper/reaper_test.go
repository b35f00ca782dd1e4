package reaper

import "testing"

func TestIntervalIsSixtySeconds(t *testing.T) {
	if interval.Seconds() != 60 {
		t.Fatalf("interval = %s, want 60s", interval)
	}
}
