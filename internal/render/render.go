// Package render draws a monthly aggregate for the terminal: the day by day
// status grid and the KPI summary panel.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"oeetrack/internal/model"
)

type Options struct {
	NoColor bool
	// AllChannels also prints idle channels without an override.
	AllChannels bool
}

type styles struct {
	title  lipgloss.Style
	dim    lipgloss.Style
	panel  lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	status map[model.DayStatus]lipgloss.Style
}

func defaultStyles(noColor bool) styles {
	basePanel := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	if noColor {
		plain := lipgloss.NewStyle()
		return styles{
			title: lipgloss.NewStyle().Bold(true),
			dim:   plain,
			panel: basePanel,
			label: lipgloss.NewStyle().Bold(true),
			value: plain,
			status: map[model.DayStatus]lipgloss.Style{
				model.StatusUP: plain, model.StatusSD: plain, model.StatusPP: plain,
				model.StatusPQ: plain, model.StatusBlank: plain,
			},
		}
	}
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("24")).Padding(0, 1),
		dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		panel: basePanel.BorderForeground(lipgloss.Color("61")),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("109")),
		value: lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		status: map[model.DayStatus]lipgloss.Style{
			model.StatusUP:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
			model.StatusSD:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			model.StatusPP:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
			model.StatusPQ:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
			model.StatusBlank: lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		},
	}
}

var cellGlyph = map[model.DayStatus]string{
	model.StatusUP:    "U",
	model.StatusSD:    "S",
	model.StatusPP:    "P",
	model.StatusPQ:    "Q",
	model.StatusBlank: ".",
}

const nameWidth = 12

// Report renders the summary panel above the grid.
func Report(agg model.MonthlyAggregate, opts Options) string {
	return lipgloss.JoinVertical(lipgloss.Left, Summary(agg, opts), "", Grid(agg, opts))
}

func Summary(agg model.MonthlyAggregate, opts Options) string {
	st := defaultStyles(opts.NoColor)
	row := func(label, value string) string {
		return st.label.Render(fmt.Sprintf("%-20s", label)) + st.value.Render(value)
	}
	lines := []string{
		st.title.Render(fmt.Sprintf("OEE %02d/%d", agg.Month, agg.Year)),
		row("OEE", fmt.Sprintf("%.2f%%", agg.KPI.OEE)),
		row("Availability", fmt.Sprintf("%.2f%%", agg.KPI.Availability)),
		row("Performance", fmt.Sprintf("%.2f%%", agg.KPI.Performance)),
		row("Quality", fmt.Sprintf("%.2f%%", agg.KPI.Quality)),
		row("Avg UP/SD/PP/PQ", fmt.Sprintf("%d / %d / %d / %d days of %d",
			agg.Medias.UP, agg.Medias.SD, agg.Medias.PP, agg.Medias.PQ, agg.Medias.DaysInMonth)),
		row("Channels considered", fmt.Sprint(agg.Medias.ChannelsConsidered)),
		row("Extras", fmt.Sprintf("%d over %d fixed slots", len(agg.Extras), agg.Capacity.FixedSlotLimit)),
	}
	return st.panel.Render(strings.Join(lines, "\n"))
}

// Grid renders one row per channel and one column per day.
func Grid(agg model.MonthlyAggregate, opts Options) string {
	st := defaultStyles(opts.NoColor)
	var b strings.Builder
	days := agg.Medias.DaysInMonth
	if days == 0 && len(agg.Details) > 0 {
		days = len(agg.Details[0].DailyStatuses)
	}

	b.WriteString(st.dim.Render(header(days)))
	b.WriteByte('\n')
	for _, rec := range agg.Details {
		if !opts.AllChannels && !visible(rec) {
			continue
		}
		b.WriteString(fmt.Sprintf("%-*s", nameWidth, rec.Name))
		for _, s := range rec.DailyStatuses {
			b.WriteByte(' ')
			b.WriteString(st.status[s].Render(cellGlyph[s]))
		}
		b.WriteString(st.dim.Render(fmt.Sprintf("  %s%s", countsLabel(rec.Counts), flags(rec))))
		b.WriteByte('\n')
	}
	b.WriteString(st.dim.Render("U=UP  S=SD  P=PP  Q=PQ  .=BLANK"))
	return b.String()
}

func header(days int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-*s", nameWidth, "channel"))
	for d := 1; d <= days; d++ {
		b.WriteByte(' ')
		b.WriteString(fmt.Sprint(d % 10))
	}
	return b.String()
}

func visible(rec model.ChannelRecord) bool {
	return rec.ID == model.ReferenceChannelID || rec.Override != "" || rec.Counts.UP > 0 || rec.Counts.PQ > 0
}

func countsLabel(c model.Counts) string {
	return fmt.Sprintf("UP %2d SD %2d PP %2d PQ %2d", c.UP, c.SD, c.PP, c.PQ)
}

func flags(rec model.ChannelRecord) string {
	var out []string
	if rec.Ignored {
		out = append(out, "ignored")
	}
	if rec.Bonus {
		out = append(out, "bonus")
	}
	if rec.Extra {
		out = append(out, "extra")
	}
	if len(out) == 0 {
		return ""
	}
	return "  [" + strings.Join(out, ",") + "]"
}
