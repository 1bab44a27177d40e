package application

import (
	"testing"
	"time"
)

func TestSchedulerShouldRun(t *testing.T) {
	s := &Scheduler{dailyAt: "02:30"}
	if !s.shouldRun(time.Date(2024, 3, 5, 2, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected run at 02:30")
	}
	if s.shouldRun(time.Date(2024, 3, 5, 2, 31, 0, 0, time.UTC)) {
		t.Fatalf("unexpected run at 02:31")
	}

	bad := &Scheduler{dailyAt: "25:00"}
	if bad.shouldRun(time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC)) {
		t.Fatalf("invalid daily_at must never run")
	}
}

func TestParseDailyAt(t *testing.T) {
	hour, minute, err := parseDailyAt("22:05")
	if err != nil || hour != 22 || minute != 5 {
		t.Fatalf("unexpected parse %d:%d %v", hour, minute, err)
	}
	if _, _, err := parseDailyAt("noon"); err == nil {
		t.Fatalf("expected parse error")
	}
}
