package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"oeetrack/internal/calendar"
	"oeetrack/internal/model"
)

var (
	ErrNoChannel = errors.New("channel id has no digits")
	ErrNoStart   = errors.New("start time missing")
)

// EventFields is one tabular row after column resolution, before typing.
type EventFields struct {
	Channel string
	Start   string
	Stop    string
	Sheet   string
	Row     int
}

// Normalize types a row. An unusable stop closes the interval at the end of
// the month under analysis.
func Normalize(fields EventFields, month calendar.Month, loc *time.Location) (model.UsageEvent, error) {
	if loc == nil {
		loc = time.UTC
	}
	id, ok := CanonicalChannelID(fields.Channel)
	if !ok {
		return model.UsageEvent{}, fmt.Errorf("%w: %q", ErrNoChannel, fields.Channel)
	}
	if strings.TrimSpace(fields.Start) == "" {
		return model.UsageEvent{}, ErrNoStart
	}
	start, err := ParseTimestamp(fields.Start, loc)
	if err != nil {
		return model.UsageEvent{}, fmt.Errorf("parse start: %w", err)
	}
	stop, err := ParseTimestamp(fields.Stop, loc)
	if err != nil {
		stop = month.EndSentinel(loc)
	}
	return model.UsageEvent{ChannelID: id, Start: start.In(loc), Stop: stop.In(loc)}, nil
}

// CanonicalChannelID keeps the digits of raw and drops leading zeros, so
// "Circuit007", "007" and "7" all become "7".
func CanonicalChannelID(raw string) (string, bool) {
	var b strings.Builder
	for _, ch := range raw {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	if b.Len() == 0 {
		return "", false
	}
	if digits == "" {
		return "0", true
	}
	return digits, true
}

// Day-first layouts come before ISO ones: lab exports write 05/02/2024 for
// the 5th of February.
var timestampLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
	"2/1/2006",
	"02/01/06 15:04",
	"02/01/06",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseNumeric(value, loc); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if layout == time.RFC3339 || layout == time.RFC3339Nano {
			if t, err := time.Parse(layout, value); err == nil {
				return t, nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	dots := 0
	for _, ch := range value {
		switch {
		case ch == '.':
			dots++
		case ch < '0' || ch > '9':
			return false
		}
	}
	return len(value) > 0 && dots <= 1
}

// parseNumeric accepts spreadsheet serial dates and unix seconds or
// milliseconds.
func parseNumeric(value string, loc *time.Location) (time.Time, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, err
	}
	switch {
	case f >= 1e12:
		return time.UnixMilli(int64(f)).In(loc), nil
	case f >= 1e9:
		return time.Unix(int64(f), 0).In(loc), nil
	case f > 0 && f < 1e6:
		t, err := excelize.ExcelDateToTime(f, false)
		if err != nil {
			return time.Time{}, err
		}
		// Serial dates carry wall-clock time without a zone.
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("numeric timestamp out of range: %q", value)
}
