package cron

import (
	"context"
	"testing"
)

func TestSpecFromWallClock(t *testing.T) {
	cases := map[string]string{
		"03:00": "0 3 * * *",
		"0:5":   "5 0 * * *",
		"23:59": "59 23 * * *",
	}
	for in, want := range cases {
		got, err := specFromWallClock(in)
		if err != nil {
			t.Errorf("specFromWallClock(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("specFromWallClock(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSpecFromWallClockRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "0300", "25:00", "12:60", "aa:bb", "12"} {
		if _, err := specFromWallClock(in); err == nil {
			t.Errorf("specFromWallClock(%q) should fail", in)
		}
	}
}

func TestServiceStartStop(t *testing.T) {
	s, err := NewService("03:00")
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	s.OnSweep = func(ctx context.Context) {}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	s.Stop()
}

func TestNewServiceRejectsBadTime(t *testing.T) {
	if _, err := NewService("nope"); err == nil {
		t.Error("expected error for invalid sweep time")
	}
}
