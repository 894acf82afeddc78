package render

import (
	"strings"
	"testing"

	"oeetrack/internal/model"
)

func sampleAggregate() model.MonthlyAggregate {
	up, pp, blank := model.StatusUP, model.StatusPP, model.StatusBlank
	return model.MonthlyAggregate{
		Year:  2024,
		Month: 2,
		Details: []model.ChannelRecord{
			{ID: model.ReferenceChannelID, Name: model.ReferenceChannelID, DailyStatuses: []model.DayStatus{up, pp, up}, Counts: model.Counts{UP: 2, PP: 1}},
			{ID: "1", Name: "Circuit001", DailyStatuses: []model.DayStatus{up, up, up}, Counts: model.Counts{UP: 3}},
			{ID: "2", Name: "Circuit002", DailyStatuses: []model.DayStatus{model.StatusSD, pp, model.StatusSD}, Counts: model.Counts{SD: 2, PP: 1}},
			{ID: "3", Name: "Circuit003", DailyStatuses: []model.DayStatus{blank, blank, blank}, Counts: model.Counts{Blank: 3}, Extra: true, Override: "BONUS", Bonus: true},
		},
		Medias:   model.Medias{UP: 3, DaysInMonth: 3, ChannelsConsidered: 3},
		KPI:      model.KPI{Availability: 87.5, Performance: 100, Quality: 90, OEE: 78.75},
		Extras:   []string{"3"},
		Capacity: model.CapacityPolicy{TotalCapacity: 3, FixedSlotLimit: 2},
	}
}

func TestGridSkipsIdleChannels(t *testing.T) {
	out := Grid(sampleAggregate(), Options{NoColor: true})
	if strings.Contains(out, "Circuit002") {
		t.Fatalf("idle channel should be hidden:\n%s", out)
	}
	if !strings.Contains(out, "Circuit001   U U U") {
		t.Fatalf("missing channel row:\n%s", out)
	}
	if !strings.Contains(out, "[bonus,extra]") {
		t.Fatalf("missing flags:\n%s", out)
	}
	all := Grid(sampleAggregate(), Options{NoColor: true, AllChannels: true})
	if !strings.Contains(all, "Circuit002   S P S") {
		t.Fatalf("all channels should include idle rows:\n%s", all)
	}
}

func TestSummaryShowsKPI(t *testing.T) {
	out := Summary(sampleAggregate(), Options{NoColor: true})
	for _, want := range []string{"OEE 02/2024", "78.75%", "87.50%", "1 over 2 fixed slots"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestReportJoinsSummaryAndGrid(t *testing.T) {
	out := Report(sampleAggregate(), Options{NoColor: true})
	if !strings.Contains(out, "Availability") || !strings.Contains(out, "U=UP") {
		t.Fatalf("report incomplete:\n%s", out)
	}
}
