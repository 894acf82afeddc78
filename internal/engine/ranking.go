package engine

import (
	"sort"

	"oeetrack/internal/ingest"
	"oeetrack/internal/model"
	"oeetrack/internal/overrides"
)

// rankChannels orders the demotion candidates (channels in use that are not
// ignored) by UP days descending, then SD days ascending, then channel id,
// and writes the 1-based rank into each record. It returns the candidates in
// rank order. Idle channels are never ranked, so they keep their raw grid.
func rankChannels(grids []*channelGrid, days int) []*channelGrid {
	candidates := make([]*channelGrid, 0, len(grids))
	for _, g := range grids {
		if g.record.ID == model.ReferenceChannelID || g.action == overrides.Ignore {
			continue
		}
		if c := g.rankingCounts(days); c.UP == 0 && c.PQ == 0 {
			continue
		}
		candidates = append(candidates, g)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a := candidates[i].rankingCounts(days)
		b := candidates[j].rankingCounts(days)
		if a.UP != b.UP {
			return a.UP > b.UP
		}
		if a.SD != b.SD {
			return a.SD < b.SD
		}
		return ingest.ChannelLess(candidates[i].record.ID, candidates[j].record.ID)
	})
	for i, g := range candidates {
		g.record.Rank = i + 1
	}
	return candidates
}

// demote blanks every day of an extra channel that is neither UP nor PQ, so
// its idle time leaves the denominators while real use still counts.
func demote(g *channelGrid) {
	g.record.Extra = true
	for i, s := range g.record.DailyStatuses {
		if s != model.StatusUP && s != model.StatusPQ {
			g.record.DailyStatuses[i] = model.StatusBlank
		}
	}
	g.record.Counts = model.Tally(g.record.DailyStatuses)
}

// applyCapacity demotes the candidates ranked beyond fixedSlotLimit and
// returns their ids in channel order.
func applyCapacity(grids []*channelGrid, days, fixedSlotLimit int) (extras []string, candidates int) {
	if fixedSlotLimit < 0 {
		fixedSlotLimit = 0
	}
	ranked := rankChannels(grids, days)
	for _, g := range ranked {
		if g.record.Rank > fixedSlotLimit {
			demote(g)
			extras = append(extras, g.record.ID)
		}
	}
	ingest.SortChannelIDs(extras)
	return extras, len(ranked)
}

// previewExtras reports which channels the capacity rule would demote and how
// many idle days it would blank, without changing the grids.
func previewExtras(grids []*channelGrid, days, fixedSlotLimit int) model.ExtrasReport {
	if fixedSlotLimit < 0 {
		fixedSlotLimit = 0
	}
	ranked := rankChannels(grids, days)
	report := model.ExtrasReport{FixedSlotLimit: fixedSlotLimit, Candidates: len(ranked), IDs: []string{}}
	for _, g := range ranked {
		if g.record.Rank <= fixedSlotLimit {
			continue
		}
		report.Count++
		report.SDDays += g.record.Counts.SD
		report.PPDays += g.record.Counts.PP
		report.IDs = append(report.IDs, g.record.ID)
	}
	ingest.SortChannelIDs(report.IDs)
	return report
}
