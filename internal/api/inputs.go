package api

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"oeetrack/internal/model"
)

const maxBodyBytes = 1 << 20

// inputAliases lists the accepted request keys for each KPI input, the
// current name first. Older clients send the legacy names and often send
// numbers as strings.
var inputAliases = struct {
	year, month, requested, executed, emitted, onTime, total, fixed []string
}{
	year:      []string{"year", "ano"},
	month:     []string{"month", "mes"},
	requested: []string{"tests_requested", "ensaios_solicitados"},
	executed:  []string{"tests_executed", "ensaios_executados"},
	emitted:   []string{"reports_emitted", "relatorios_emitidos"},
	onTime:    []string{"reports_on_time", "relatorios_no_prazo"},
	total:     []string{"total_capacity"},
	fixed:     []string{"fixed_slot_limit"},
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	body := map[string]any{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("invalid json body: %w", err)
	}
	return body, nil
}

func decodeInputs(w http.ResponseWriter, r *http.Request) (model.KPIInputs, error) {
	body, err := decodeBody(w, r)
	if err != nil {
		return model.KPIInputs{}, err
	}
	var in model.KPIInputs
	floats := []struct {
		dst  *float64
		keys []string
	}{
		{&in.TestsRequested, inputAliases.requested},
		{&in.TestsExecuted, inputAliases.executed},
		{&in.ReportsEmitted, inputAliases.emitted},
		{&in.ReportsOnTime, inputAliases.onTime},
	}
	for _, f := range floats {
		v, _, err := numberField(body, f.keys...)
		if err != nil {
			return model.KPIInputs{}, err
		}
		if v < 0 {
			return model.KPIInputs{}, fmt.Errorf("%s must not be negative", f.keys[0])
		}
		*f.dst = v
	}
	ints := []struct {
		dst  *int
		keys []string
	}{
		{&in.Year, inputAliases.year},
		{&in.Month, inputAliases.month},
		{&in.TotalCapacity, inputAliases.total},
	}
	for _, f := range ints {
		v, _, err := intField(body, f.keys...)
		if err != nil {
			return model.KPIInputs{}, err
		}
		*f.dst = v
	}
	fixed, ok, err := intField(body, inputAliases.fixed...)
	if err != nil {
		return model.KPIInputs{}, err
	}
	if ok {
		if fixed < 0 {
			return model.KPIInputs{}, fmt.Errorf("%s must not be negative", inputAliases.fixed[0])
		}
		in.FixedSlotLimit = &fixed
	}
	return in, nil
}

// intField is numberField restricted to whole numbers within int32, which
// covers every year, month and capacity a request can sensibly carry.
func intField(body map[string]any, keys ...string) (int, bool, error) {
	v, ok, err := numberField(body, keys...)
	if err != nil || !ok {
		return 0, ok, err
	}
	if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
		return 0, false, fmt.Errorf("%s: expected a whole number, got %v", keys[0], v)
	}
	return int(v), true, nil
}

// numberField reads the first present key as a number. Strings are accepted,
// with a decimal comma; an empty string counts as absent.
func numberField(body map[string]any, keys ...string) (float64, bool, error) {
	for _, key := range keys {
		raw, ok := body[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return v, true, nil
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return 0, false, fmt.Errorf("%s: invalid number %q", key, v)
			}
			return f, true, nil
		default:
			return 0, false, fmt.Errorf("%s: expected a number", key)
		}
	}
	return 0, false, nil
}

func stringField(body map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := body[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
