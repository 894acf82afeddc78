package ingest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ReadJSONRecords turns an array of flat objects into one sheet. The header
// is the sorted union of keys so column resolution works as for CSV.
func ReadJSONRecords(name string, data []byte) (Sheet, error) {
	var list []map[string]interface{}
	if err := json.Unmarshal(bytesTrim(data), &list); err != nil {
		return Sheet{}, err
	}
	keySet := map[string]struct{}{}
	for _, obj := range list {
		for k := range obj {
			keySet[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(keySet))
	for k := range keySet {
		header = append(header, k)
	}
	sort.Strings(header)
	sheet := Sheet{Name: name, Rows: [][]string{header}}
	for _, obj := range list {
		row := make([]string, len(header))
		for i, k := range header {
			row[i] = stringify(obj[k])
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func bytesTrim(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\n' || b[start] == '\r' || b[start] == '\t') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\r' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}
