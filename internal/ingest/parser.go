package ingest

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"oeetrack/internal/normalize"
)

type Field int

const (
	FieldUnknown Field = iota
	FieldChannel
	FieldStart
	FieldStop
)

// Header aliases, compared after squashHeader.
var fieldAliases = []struct {
	field   Field
	aliases []string
}{
	{FieldChannel, []string{"circuito", "circuit", "ckt", "id", "channel", "canal", "circuitid", "channelid"}},
	{FieldStart, []string{"starttime", "start", "inicio", "início", "datainicial", "begin", "startdate"}},
	{FieldStop, []string{"stoptime", "stop", "fim", "datafinal", "end", "endtime", "stopdate"}},
}

func squashHeader(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '\t':
			return -1
		}
		return r
	}, name)
}

func ResolveField(header string) Field {
	key := squashHeader(header)
	if key == "" {
		return FieldUnknown
	}
	for _, entry := range fieldAliases {
		for _, alias := range entry.aliases {
			if key == alias {
				return entry.field
			}
		}
	}
	return FieldUnknown
}

// Columns holds the index of each logical field in a sheet, -1 when absent.
type Columns struct {
	Channel int
	Start   int
	Stop    int
}

// ResolveColumns maps a header row. The first column claiming a field wins.
func ResolveColumns(header []string) Columns {
	cols := Columns{Channel: -1, Start: -1, Stop: -1}
	for i, name := range header {
		switch ResolveField(name) {
		case FieldChannel:
			if cols.Channel < 0 {
				cols.Channel = i
			}
		case FieldStart:
			if cols.Start < 0 {
				cols.Start = i
			}
		case FieldStop:
			if cols.Stop < 0 {
				cols.Stop = i
			}
		}
	}
	return cols
}

// Usable reports whether the sheet carries the two mandatory fields.
func (c Columns) Usable() bool {
	return c.Channel >= 0 && c.Start >= 0
}

func (c Columns) Fields(record []string) normalize.EventFields {
	return normalize.EventFields{
		Channel: cell(record, c.Channel),
		Start:   cell(record, c.Start),
		Stop:    cell(record, c.Stop),
	}
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// sniffDelimiter picks the separator that occurs most often in the header
// line, comma on ties.
func sniffDelimiter(header string) rune {
	best, bestCount := ',', strings.Count(header, ",")
	for _, d := range []rune{';', '\t'} {
		if n := strings.Count(header, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// ReadCSV reads a delimited sheet. Semicolon files, common in spreadsheet
// exports with comma decimals, and tab separated files are detected from
// the header line.
func ReadCSV(name string, r io.Reader) (Sheet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Sheet{}, err
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	first, _, _ := strings.Cut(text, "\n")
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = sniffDelimiter(first)
	// Trimming would swallow empty tab separated fields.
	reader.TrimLeadingSpace = reader.Comma != '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	sheet := Sheet{Name: name}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return Sheet{}, err
		}
		sheet.Rows = append(sheet.Rows, record)
	}
	return sheet, nil
}
