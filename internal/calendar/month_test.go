package calendar

import (
	"testing"
	"time"
)

func TestFebruary2024(t *testing.T) {
	m, err := NewMonth(2024, 2)
	if err != nil {
		t.Fatalf("new month: %v", err)
	}
	if m.Days() != 29 {
		t.Fatalf("days: %d", m.Days())
	}
	if m.Weekday(1) != time.Thursday {
		t.Fatalf("feb 1 2024 weekday: %s", m.Weekday(1))
	}
	if !m.IsWeekend(10) || !m.IsWeekend(11) || m.IsWeekend(12) {
		t.Fatalf("weekend classification mismatch")
	}
	if m.Weekends() != 8 {
		t.Fatalf("weekends: %d", m.Weekends())
	}
	if m.Key() != "2_2024" {
		t.Fatalf("key: %s", m.Key())
	}
}

func TestNewMonthRejectsOutOfRange(t *testing.T) {
	if _, err := NewMonth(2024, 13); err == nil {
		t.Fatalf("expected error for month 13")
	}
	if _, err := NewMonth(0, 1); err == nil {
		t.Fatalf("expected error for year 0")
	}
}

func TestEndSentinelAndDayIndex(t *testing.T) {
	m, _ := NewMonth(2023, 12)
	end := m.EndSentinel(time.UTC)
	if end.Day() != 31 || end.Month() != time.December || end.Hour() != 23 {
		t.Fatalf("unexpected sentinel: %s", end)
	}
	if got := m.DayIndex(end); got != 31 {
		t.Fatalf("sentinel day index: %d", got)
	}
	if got := m.DayIndex(time.Date(2023, 11, 30, 12, 0, 0, 0, time.UTC)); got != 0 {
		t.Fatalf("before month: %d", got)
	}
	if got := m.DayIndex(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); got != 32 {
		t.Fatalf("after month: %d", got)
	}
}
