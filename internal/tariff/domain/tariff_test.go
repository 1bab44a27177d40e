package tariff

import (
	"testing"
	"time"
)

func defaultTariff(t *testing.T) Tariff {
	t.Helper()
	tr, err := New("22:00", "06:00", 0.08, 0.18, true, "BAM")
	if err != nil {
		t.Fatalf("new tariff: %v", err)
	}
	return tr
}

func TestIsLow_WrapsPastMidnight(t *testing.T) {
	tr := defaultTariff(t)
	// 2024-03-06 is a Wednesday.
	day := time.Date(2024, time.March, 6, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		clock string
		low   bool
	}{
		{"23:30", true},
		{"02:00", true},
		{"05:59", true},
		{"06:00", false},
		{"21:59", false},
		{"22:00", true},
	}
	for _, tc := range cases {
		minute, err := ParseClock(tc.clock)
		if err != nil {
			t.Fatalf("parse %s: %v", tc.clock, err)
		}
		at := day.Add(time.Duration(minute) * time.Minute)
		if got := tr.IsLow(at); got != tc.low {
			t.Fatalf("%s: expected low=%v, got %v", tc.clock, tc.low, got)
		}
	}
}

func TestIsLow_SundayOverride(t *testing.T) {
	tr := defaultTariff(t)
	sunday := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	if !tr.IsLow(sunday) {
		t.Fatalf("expected sunday noon to be low")
	}
	tr.SundayAllDayLow = false
	if tr.IsLow(sunday) {
		t.Fatalf("expected sunday noon to be high without override")
	}
}

func TestIsLow_DaytimeWindow(t *testing.T) {
	tr, err := New("10:00", "14:00", 0.05, 0.2, false, "EUR")
	if err != nil {
		t.Fatalf("new tariff: %v", err)
	}
	at := time.Date(2024, time.March, 6, 13, 59, 0, 0, time.UTC)
	if !tr.IsLow(at) {
		t.Fatalf("expected 13:59 low")
	}
	if tr.IsLow(at.Add(time.Minute)) {
		t.Fatalf("expected 14:00 high")
	}
	if got := tr.PriceAt(at); got != 0.05 {
		t.Fatalf("expected low price, got %v", got)
	}
}

func TestIsLow_BuildingTimezone(t *testing.T) {
	tr := defaultTariff(t)
	tr.Location = time.FixedZone("CET", 3600)
	// 21:30 UTC is 22:30 local.
	at := time.Date(2024, time.March, 6, 21, 30, 0, 0, time.UTC)
	if !tr.IsLow(at) {
		t.Fatalf("expected local 22:30 to be low")
	}
}

func TestParseClock_Invalid(t *testing.T) {
	if _, err := ParseClock("25:99"); err == nil {
		t.Fatalf("expected parse error")
	}
}
