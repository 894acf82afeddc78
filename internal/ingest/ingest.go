package ingest

import (
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"oeetrack/internal/calendar"
	"oeetrack/internal/model"
	"oeetrack/internal/normalize"
)

var (
	ErrNoValidSheet = errors.New("no valid sheet: none has both channel and start columns")
	ErrNoValidRows  = errors.New("no valid rows: no row has a channel and a parseable start")
)

// Batch is the normalized output of one source.
type Batch struct {
	Events        []model.UsageEvent
	Channels      []string
	SheetsRead    []string
	SheetsSkipped []string
	RowsSkipped   int
	Duplicates    int
}

type Normalizer struct {
	Location    *time.Location
	SheetPrefix string
	Logger      *slog.Logger
}

// Normalize flattens sheets into usage events for month. Bad rows are
// skipped and counted; only a source with no usable sheet or no usable row
// is an error.
func (n *Normalizer) Normalize(sheets []Sheet, month calendar.Month) (Batch, error) {
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	var batch Batch
	seen := newDedupeSet()
	channels := map[string]struct{}{}
	for _, sheet := range sheets {
		if !n.acceptsName(sheet.Name) || len(sheet.Rows) == 0 {
			batch.SheetsSkipped = append(batch.SheetsSkipped, sheet.Name)
			continue
		}
		cols := ResolveColumns(sheet.Rows[0])
		if !cols.Usable() {
			batch.SheetsSkipped = append(batch.SheetsSkipped, sheet.Name)
			if n.Logger != nil {
				n.Logger.Debug("sheet skipped, missing channel or start column", "sheet", sheet.Name)
			}
			continue
		}
		batch.SheetsRead = append(batch.SheetsRead, sheet.Name)
		for i, record := range sheet.Rows[1:] {
			if blankRecord(record) {
				continue
			}
			fields := cols.Fields(record)
			fields.Sheet = sheet.Name
			fields.Row = i + 2
			ev, err := normalize.Normalize(fields, month, loc)
			if err != nil {
				batch.RowsSkipped++
				if n.Logger != nil {
					n.Logger.Debug("row skipped", "sheet", sheet.Name, "row", fields.Row, "err", err)
				}
				continue
			}
			if seen.Seen(ev) {
				batch.Duplicates++
				continue
			}
			batch.Events = append(batch.Events, ev)
			channels[ev.ChannelID] = struct{}{}
		}
	}
	if len(batch.SheetsRead) == 0 {
		return batch, ErrNoValidSheet
	}
	if len(batch.Events) == 0 {
		return batch, ErrNoValidRows
	}
	batch.Channels = make([]string, 0, len(channels))
	for id := range channels {
		batch.Channels = append(batch.Channels, id)
	}
	SortChannelIDs(batch.Channels)
	return batch, nil
}

func (n *Normalizer) acceptsName(name string) bool {
	if n.SheetPrefix == "" {
		return true
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(name)), strings.ToLower(n.SheetPrefix))
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// SortChannelIDs orders canonical ids numerically, the reference channel
// first.
func SortChannelIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return ChannelLess(ids[i], ids[j])
	})
}

func ChannelLess(a, b string) bool {
	if a == model.ReferenceChannelID || b == model.ReferenceChannelID {
		return a == model.ReferenceChannelID && b != model.ReferenceChannelID
	}
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
