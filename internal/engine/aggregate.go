package engine

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"oeetrack/internal/model"
	"oeetrack/internal/overrides"
)

var ErrInvalidCapacity = errors.New("invalid capacity policy")

const availableEpsilon = 1e-9

var hundred = decimal.NewFromInt(100)

// Aggregate derives the monthly grid and KPIs from a session. It is a pure
// function of its inputs: the same session and inputs always produce the
// same aggregate.
func Aggregate(s *Session, inputs model.KPIInputs) (model.MonthlyAggregate, error) {
	if s == nil {
		return model.MonthlyAggregate{}, ErrNoSession
	}
	if inputs.TotalCapacity <= 0 {
		return model.MonthlyAggregate{}, fmt.Errorf("%w: total capacity %d", ErrInvalidCapacity, inputs.TotalCapacity)
	}
	if inputs.FixedSlotLimit == nil {
		return model.MonthlyAggregate{}, fmt.Errorf("%w: fixed slot limit unset", ErrInvalidCapacity)
	}
	fixed := *inputs.FixedSlotLimit
	if fixed < 0 {
		return model.MonthlyAggregate{}, fmt.Errorf("%w: fixed slot limit %d", ErrInvalidCapacity, fixed)
	}
	days := s.Month.Days()
	grids := s.grids(inputs.TotalCapacity)
	extras, _ := applyCapacity(grids, days, fixed)
	if extras == nil {
		extras = []string{}
	}

	details := make([]model.ChannelRecord, 0, len(grids))
	for _, g := range grids {
		rec := g.record
		rec.Included = included(rec, g.action)
		rec.Stats = channelStats(rec.Counts, days)
		details = append(details, rec)
	}
	medias := averageDays(details, days)
	return model.MonthlyAggregate{
		Year:    s.Month.Year,
		Month:   int(s.Month.Month),
		Details: details,
		Medias:  medias,
		KPI:     computeKPI(medias.Raw, days, inputs),
		Extras:  extras,
		Capacity: model.CapacityPolicy{
			TotalCapacity:  inputs.TotalCapacity,
			FixedSlotLimit: fixed,
		},
	}, nil
}

// grids builds the reference channel followed by channels 1..totalCapacity.
// Events and overrides for ids outside that range have no effect.
func (s *Session) grids(totalCapacity int) []*channelGrid {
	cov := buildCoverage(s.Events, s.Month, s.Location)
	out := make([]*channelGrid, 0, totalCapacity+1)
	ref := buildChannel(model.ReferenceChannelID, overrides.None, cov, s.Month)
	out = append(out, &ref)
	for i := 1; i <= totalCapacity; i++ {
		id := strconv.Itoa(i)
		g := buildChannel(id, s.Overrides.Get(id), cov, s.Month)
		out = append(out, &g)
	}
	return out
}

func included(rec model.ChannelRecord, action overrides.Action) bool {
	if action == overrides.Ignore {
		return false
	}
	return rec.Counts.UP > 0 || rec.Counts.PQ > 0 || rec.ID == model.ReferenceChannelID || action == overrides.Bonus
}

func channelStats(c model.Counts, days int) model.ChannelStats {
	var stats model.ChannelStats
	if days <= 0 {
		return stats
	}
	if available := days - c.PP - c.Blank; available > 0 {
		stats.Availability = round(percent(decimal.NewFromInt(int64(c.UP)), decimal.NewFromInt(int64(available))), 1)
	}
	total := decimal.NewFromInt(int64(days))
	stats.PctUP = round(percent(decimal.NewFromInt(int64(c.UP)), total), 1)
	stats.PctPQ = round(percent(decimal.NewFromInt(int64(c.PQ)), total), 1)
	return stats
}

// mean accumulates an integer day count across channels.
type mean struct {
	sum   int64
	count int64
}

func (m *mean) add(v int) {
	m.sum += int64(v)
	m.count++
}

func (m *mean) addPositive(v int) {
	if v > 0 {
		m.add(v)
	}
}

func (m mean) value() decimal.Decimal {
	if m.count == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(m.sum).Div(decimal.NewFromInt(m.count))
}

// averageDays computes the global day averages over included channels. UP,
// SD and PP skip channels whose value is zero; PQ averages over all of them.
func averageDays(details []model.ChannelRecord, days int) model.Medias {
	var up, sd, pp, pq mean
	considered := 0
	for _, rec := range details {
		if !rec.Included {
			continue
		}
		considered++
		up.addPositive(rec.Counts.UP)
		sd.addPositive(rec.Counts.SD)
		pp.addPositive(rec.Counts.PP)
		pq.add(rec.Counts.PQ)
	}
	avgUP, avgSD, avgPP, avgPQ := up.value(), sd.value(), pp.value(), pq.value()
	return model.Medias{
		UP:                 int(avgUP.Ceil().IntPart()),
		SD:                 int(avgSD.Floor().IntPart()),
		PP:                 int(avgPP.Floor().IntPart()),
		PQ:                 int(avgPQ.Ceil().IntPart()),
		DaysInMonth:        days,
		ChannelsConsidered: considered,
		Raw: model.RawAverages{
			UP: avgUP.InexactFloat64(),
			SD: avgSD.InexactFloat64(),
			PP: avgPP.InexactFloat64(),
			PQ: avgPQ.InexactFloat64(),
		},
	}
}

func computeKPI(raw model.RawAverages, days int, inputs model.KPIInputs) model.KPI {
	availableTime := float64(days) - raw.PP - raw.SD
	realTime := raw.UP - raw.PQ - raw.SD
	if realTime < 0 {
		realTime = 0
	}
	availability := decimal.Zero
	if availableTime > availableEpsilon {
		availability = percent(decimal.NewFromFloat(realTime), decimal.NewFromFloat(availableTime))
	}
	performance := ratioOrFull(inputs.TestsExecuted, inputs.TestsRequested)
	quality := ratioOrFull(inputs.ReportsOnTime, inputs.ReportsEmitted)
	oee := availability.Mul(performance).Mul(quality).Div(hundred).Div(hundred)
	return model.KPI{
		Availability: round(availability, 2),
		Performance:  round(performance, 2),
		Quality:      round(quality, 2),
		OEE:          round(oee, 2),
	}
}

// ratioOrFull is num/den as a clipped percentage, 100 when nothing was due.
func ratioOrFull(num, den float64) decimal.Decimal {
	if den == 0 {
		return hundred
	}
	return percent(decimal.NewFromFloat(num), decimal.NewFromFloat(den))
}

// percent returns num/den*100 clipped to [0, 100]. A non-positive den is 0.
func percent(num, den decimal.Decimal) decimal.Decimal {
	if !den.IsPositive() {
		return decimal.Zero
	}
	p := num.Div(den).Mul(hundred)
	switch {
	case p.IsNegative():
		return decimal.Zero
	case p.GreaterThan(hundred):
		return hundred
	}
	return p
}

func round(d decimal.Decimal, places int32) float64 {
	return d.Round(places).InexactFloat64()
}
