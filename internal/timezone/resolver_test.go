package timezone

import (
	"testing"
	"time"
)

func TestResolveSendTime_LondonAndTokyoSameDate(t *testing.T) {
	r := NewResolver()

	london, err := r.ResolveSendTime("Europe/London", 2025, time.May, 10)
	if err != nil {
		t.Fatalf("London resolve error: %v", err)
	}
	if got, want := london.UTC().Format(time.RFC3339), "2025-05-10T08:00:00Z"; got != want {
		t.Fatalf("London: expected %s, got %s", want, got)
	}

	tokyo, err := r.ResolveSendTime("Asia/Tokyo", 2025, time.May, 10)
	if err != nil {
		t.Fatalf("Tokyo resolve error: %v", err)
	}
	if got, want := tokyo.UTC().Format(time.RFC3339), "2025-05-10T00:00:00Z"; got != want {
		t.Fatalf("Tokyo: expected %s, got %s", want, got)
	}
}

func TestResolveSendTime_DSTSpringForward(t *testing.T) {
	r := NewResolver()

	got, err := r.ResolveSendTime("America/New_York", 2025, time.March, 9)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if want := "2025-03-09T13:00:00Z"; got.UTC().Format(time.RFC3339) != want {
		t.Fatalf("expected %s, got %s", want, got.UTC().Format(time.RFC3339))
	}
}

func TestNormalizeOccasionDay_Feb29NonLeapYear(t *testing.T) {
	month, day := NormalizeOccasionDay(2025, time.February, 29)
	if month != time.February || day != 28 {
		t.Fatalf("expected Feb 28, got %s %d", month, day)
	}
}

func TestNormalizeOccasionDay_Feb29LeapYear(t *testing.T) {
	month, day := NormalizeOccasionDay(2024, time.February, 29)
	if month != time.February || day != 29 {
		t.Fatalf("expected Feb 29 to be preserved in a leap year, got %s %d", month, day)
	}
}

func TestNormalizeOccasionDay_NonFebruaryUnaffected(t *testing.T) {
	month, day := NormalizeOccasionDay(2025, time.May, 10)
	if month != time.May || day != 10 {
		t.Fatalf("expected unaffected date, got %s %d", month, day)
	}
}

func TestResolveSendTime_UnknownZone(t *testing.T) {
	r := NewResolver()
	if _, err := r.ResolveSendTime("Not/AZone", 2025, time.May, 10); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}

func TestResolveSendTime_MemoizesLocation(t *testing.T) {
	r := NewResolver()

	if _, err := r.ResolveSendTime("Europe/London", 2025, time.May, 10); err != nil {
		t.Fatalf("first resolve error: %v", err)
	}
	if _, ok := r.locations["Europe/London"]; !ok {
		t.Fatalf("expected Europe/London location to be cached")
	}
}
