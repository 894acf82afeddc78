package engine

import (
	"time"

	"oeetrack/internal/calendar"
	"oeetrack/internal/model"
	"oeetrack/internal/overrides"
)

// coverage marks, per channel, the days of the month touched by at least one
// usage interval. Index 0 is day 1.
type coverage map[string][]bool

func buildCoverage(events []model.UsageEvent, month calendar.Month, loc *time.Location) coverage {
	if loc == nil {
		loc = time.UTC
	}
	days := month.Days()
	cov := make(coverage)
	for _, ev := range events {
		first := month.DayIndex(ev.Start.In(loc))
		last := month.DayIndex(ev.Stop.In(loc))
		if last < first || first > days || last < 1 {
			continue
		}
		if first < 1 {
			first = 1
		}
		if last > days {
			last = days
		}
		marks, ok := cov[ev.ChannelID]
		if !ok {
			marks = make([]bool, days)
			cov[ev.ChannelID] = marks
		}
		for d := first; d <= last; d++ {
			marks[d-1] = true
		}
	}
	return cov
}

func (c coverage) covered(channelID string, day int) bool {
	marks := c[channelID]
	return day >= 1 && day <= len(marks) && marks[day-1]
}

func calendarStatus(weekend bool) model.DayStatus {
	if weekend {
		return model.StatusPP
	}
	return model.StatusUP
}

func eventStatus(covered, weekend bool) model.DayStatus {
	switch {
	case covered:
		return model.StatusUP
	case weekend:
		return model.StatusPP
	}
	return model.StatusSD
}

// dayStatus evaluates the status rules in precedence order; the first match
// wins and Bonus is applied last.
func dayStatus(channelID string, action overrides.Action, covered, weekend bool) model.DayStatus {
	if channelID == model.ReferenceChannelID {
		return calendarStatus(weekend)
	}
	var status model.DayStatus
	switch action {
	case overrides.ForcePause:
		status = model.StatusPP
	case overrides.ForceStandardCalendar:
		status = calendarStatus(weekend)
	case overrides.ForceUp:
		status = model.StatusUP
	case overrides.ForceQualityHold:
		status = model.StatusPQ
	default:
		status = eventStatus(covered, weekend)
	}
	if action == overrides.Bonus && (status == model.StatusSD || status == model.StatusPP) {
		status = model.StatusBlank
	}
	return status
}

// channelGrid is a channel's month before capacity demotion, with the
// event-only tally used for ranking.
type channelGrid struct {
	record model.ChannelRecord
	action overrides.Action
	raw    model.Counts
}

func buildChannel(channelID string, action overrides.Action, cov coverage, month calendar.Month) channelGrid {
	if channelID == model.ReferenceChannelID {
		action = overrides.None
	}
	days := month.Days()
	statuses := make([]model.DayStatus, days)
	var raw model.Counts
	for d := 1; d <= days; d++ {
		weekend := month.IsWeekend(d)
		covered := cov.covered(channelID, d)
		statuses[d-1] = dayStatus(channelID, action, covered, weekend)
		raw.Add(eventStatus(covered, weekend))
	}
	return channelGrid{
		record: model.ChannelRecord{
			ID:            channelID,
			Name:          model.DisplayName(channelID),
			DailyStatuses: statuses,
			Counts:        model.Tally(statuses),
			Override:      string(action),
			Ignored:       action == overrides.Ignore,
			Bonus:         action == overrides.Bonus,
		},
		action: action,
		raw:    raw,
	}
}

// rankingCounts is the tally capacity ranking sorts on: event-derived, except
// that ForceUp counts as fully utilised and ForceQualityHold as fully held.
func (g channelGrid) rankingCounts(days int) model.Counts {
	switch g.action {
	case overrides.ForceUp:
		return model.Counts{UP: days}
	case overrides.ForceQualityHold:
		return model.Counts{PQ: days}
	}
	return g.raw
}
