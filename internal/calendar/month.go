// Package calendar describes the month under analysis: its day count and
// which days are weekends.
package calendar

import (
	"errors"
	"fmt"
	"time"
)

type Month struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

func NewMonth(year, month int) (Month, error) {
	if month < 1 || month > 12 {
		return Month{}, fmt.Errorf("month out of range: %d", month)
	}
	if year <= 0 {
		return Month{}, errors.New("year must be > 0")
	}
	return Month{Year: year, Month: time.Month(month)}, nil
}

func (m Month) Valid() bool {
	return m.Year > 0 && m.Month >= time.January && m.Month <= time.December
}

// Days returns the number of days in the month.
func (m Month) Days() int {
	return time.Date(m.Year, m.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Date returns midnight of the given 1-based day in loc.
func (m Month) Date(day int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(m.Year, m.Month, day, 0, 0, 0, 0, loc)
}

func (m Month) Weekday(day int) time.Weekday {
	return m.Date(day, time.UTC).Weekday()
}

func (m Month) IsWeekend(day int) bool {
	wd := m.Weekday(day)
	return wd == time.Saturday || wd == time.Sunday
}

// Weekends counts Saturdays and Sundays in the month.
func (m Month) Weekends() int {
	n := 0
	for d := 1; d <= m.Days(); d++ {
		if m.IsWeekend(d) {
			n++
		}
	}
	return n
}

func (m Month) Start(loc *time.Location) time.Time {
	return m.Date(1, loc)
}

// EndSentinel is the last representable instant of the month. Open-ended
// usage intervals are closed with it.
func (m Month) EndSentinel(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(m.Year, m.Month+1, 1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
}

// DayIndex maps t to a 1-based day of this month. Instants before the month
// map to 0 and instants after it to Days()+1.
func (m Month) DayIndex(t time.Time) int {
	y, mo, d := t.Date()
	switch {
	case y < m.Year || (y == m.Year && mo < m.Month):
		return 0
	case y > m.Year || (y == m.Year && mo > m.Month):
		return m.Days() + 1
	}
	return d
}

// Key is the snapshot key of the month, e.g. "2_2024".
func (m Month) Key() string {
	return fmt.Sprintf("%d_%d", int(m.Month), m.Year)
}

func (m Month) String() string {
	return fmt.Sprintf("%d/%d", int(m.Month), m.Year)
}
