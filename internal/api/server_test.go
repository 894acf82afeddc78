package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"oeetrack/internal/config"
	"oeetrack/internal/engine"
	"oeetrack/internal/metrics"
	"oeetrack/internal/storage"
)

const usageCSV = "Circuit;Start Time;Stop Time\n" +
	"Circuit001;05/02/2024 08:00;10/02/2024 08:00\n" +
	"Circuit002;12/02/2024 08:00;13/02/2024 08:00\n"

type fixture struct {
	t      *testing.T
	eng    *engine.Engine
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Capacity.TotalCapacity = 4
	cfg.Capacity.FixedSlotLimit = 3
	store, err := storage.NewSQLite("file:" + filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	collector := metrics.NewCollector()
	eng := engine.NewEngine(cfg, engine.Deps{Store: store, Collector: collector})
	t.Cleanup(func() { _ = eng.Close() })
	router := NewRouter(config.NewStaticManager(cfg), eng, nil, Options{Version: "test", Collector: collector})
	return &fixture{t: t, eng: eng, router: router}
}

func (f *fixture) do(method, path string, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		f.t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/oee/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestCalculateBeforeUploadIsConflict(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/oee/calculate", `{}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: %d", rec.Code)
	}
	var resp map[string]any
	decode(t, rec, &resp)
	if resp["success"] != false || resp["error"] != engine.ErrNoSession.Error() {
		t.Fatalf("body: %v", resp)
	}
}

func TestUploadCalculateAndOverride(t *testing.T) {
	f := newFixture(t)
	rec := f.upload("usage.csv", usageCSV, map[string]string{"mes": "2", "ano": "2024"})
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status %d: %s", rec.Code, rec.Body.String())
	}
	var report engine.IngestReport
	decode(t, rec, &report)
	if !report.Success || report.Events != 2 || report.Month != 2 || report.Year != 2024 {
		t.Fatalf("report: %+v", report)
	}

	rec = f.do(http.MethodPost, "/oee/calculate", `{"ensaios_solicitados":"10","ensaios_executados":"9","reports_emitted":5,"reports_on_time":5,"fixed_slot_limit":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("calculate status %d: %s", rec.Code, rec.Body.String())
	}
	var calc struct {
		Success bool `json:"success"`
		Data    struct {
			KPI struct {
				Performance float64 `json:"performance"`
				Quality     float64 `json:"quality"`
			} `json:"kpi"`
			Details []struct {
				ID   string   `json:"id"`
				Days []string `json:"days"`
			} `json:"details"`
			Extras []string `json:"extras"`
		} `json:"data"`
	}
	decode(t, rec, &calc)
	if !calc.Success || calc.Data.KPI.Performance != 90 || calc.Data.KPI.Quality != 100 {
		t.Fatalf("kpi: %+v", calc.Data.KPI)
	}
	if len(calc.Data.Details) != 5 || len(calc.Data.Details[0].Days) != 29 {
		t.Fatalf("details: %d", len(calc.Data.Details))
	}
	if len(calc.Data.Extras) != 1 || calc.Data.Extras[0] != "2" {
		t.Fatalf("extras: %v", calc.Data.Extras)
	}

	rec = f.do(http.MethodPost, "/oee/update_circuit", `{"id":"Circuit003","action":"SET_BONUS"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("override status %d: %s", rec.Code, rec.Body.String())
	}
	rec = f.do(http.MethodPost, "/oee/update_circuit", `{"id":"3","action":"launch"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown action should be rejected, got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/oee/session", "")
	var info engine.SessionInfo
	decode(t, rec, &info)
	if info.Version != 2 || len(info.Overrides) != 1 || info.Overrides[0].ChannelID != "3" {
		t.Fatalf("session: %+v", info)
	}

	rec = f.do(http.MethodPost, "/oee/clear_extras", "")
	var cleared map[string]any
	decode(t, rec, &cleared)
	if cleared["removed"] != float64(1) {
		t.Fatalf("clear: %v", cleared)
	}
}

func TestCalculateCapacityBounds(t *testing.T) {
	f := newFixture(t)
	f.upload("usage.csv", usageCSV, map[string]string{"month": "2", "year": "2024"})
	for _, body := range []string{
		`{"total_capacity":100000000}`,
		`{"total_capacity":1e20}`,
		`{"total_capacity":2.5}`,
		`{"fixed_slot_limit":-1}`,
	} {
		if rec := f.do(http.MethodPost, "/oee/calculate", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d", body, rec.Code)
		}
	}
	rec := f.do(http.MethodPost, "/oee/calculate", `{"fixed_slot_limit":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("zero fixed slots: %d %s", rec.Code, rec.Body.String())
	}
	var calc struct {
		Data struct {
			Extras   []string `json:"extras"`
			Capacity struct {
				FixedSlotLimit int `json:"fixed_slot_limit"`
			} `json:"capacity"`
		} `json:"data"`
	}
	decode(t, rec, &calc)
	if calc.Data.Capacity.FixedSlotLimit != 0 || strings.Join(calc.Data.Extras, ",") != "1,2" {
		t.Fatalf("zero fixed slots: %+v", calc.Data)
	}
}

func TestUploadFailureIsStructured(t *testing.T) {
	f := newFixture(t)
	rec := f.upload("junk.csv", "foo,bar\n1,2\n", map[string]string{"month": "2", "year": "2024"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: %d", rec.Code)
	}
	var report engine.IngestReport
	decode(t, rec, &report)
	if report.Success || report.Reason == "" {
		t.Fatalf("report: %+v", report)
	}
	if rec := f.upload("x.csv", usageCSV, map[string]string{"month": "13"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid month accepted: %d", rec.Code)
	}
}

func TestPreviewExtras(t *testing.T) {
	f := newFixture(t)
	f.upload("usage.csv", usageCSV, map[string]string{"month": "2", "year": "2024"})
	rec := f.do(http.MethodGet, "/oee/extras/preview?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var report struct {
		Count int      `json:"count"`
		IDs   []string `json:"ids"`
	}
	decode(t, rec, &report)
	if report.Count != 1 || strings.Join(report.IDs, ",") != "2" {
		t.Fatalf("preview: %+v", report)
	}
	if rec := f.do(http.MethodGet, "/oee/extras/preview?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit accepted: %d", rec.Code)
	}
}

func TestHistoryLifecycle(t *testing.T) {
	f := newFixture(t)
	f.upload("usage.csv", usageCSV, map[string]string{"month": "2", "year": "2024"})
	rec := f.do(http.MethodPost, "/oee/save_history", `{"mes":2,"ano":2024}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status %d: %s", rec.Code, rec.Body.String())
	}
	rec = f.do(http.MethodGet, "/oee/history", "")
	var history struct {
		Count   int `json:"count"`
		History []struct {
			Key string `json:"key"`
		} `json:"history"`
	}
	decode(t, rec, &history)
	if history.Count != 1 || history.History[0].Key != "2_2024" {
		t.Fatalf("history: %+v", history)
	}
	rec = f.do(http.MethodPost, "/oee/history/delete", `{"mes":"2","ano":"2024"}`)
	var deleted map[string]any
	decode(t, rec, &deleted)
	if deleted["deleted"] != true {
		t.Fatalf("delete: %v", deleted)
	}
	if rec := f.do(http.MethodPost, "/oee/history/delete", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("delete without key: %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/kpi/latest", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"key":"2_2024"`) {
		t.Fatalf("latest kpi %d: %s", rec.Code, rec.Body.String())
	}
	rec = f.do(http.MethodGet, "/audit?limit=2", "")
	var trail struct {
		Count int `json:"count"`
	}
	decode(t, rec, &trail)
	if trail.Count != 2 {
		t.Fatalf("audit: %d", trail.Count)
	}
}

func TestStatusHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	rec := f.do(http.MethodGet, "/status", "")
	var status map[string]any
	decode(t, rec, &status)
	if status["version"] != "test" || status["session"] != nil {
		t.Fatalf("status: %v", status)
	}
	if rec := f.do(http.MethodGet, "/oee/calculate", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method: %d", rec.Code)
	}
	rec = f.do(http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `http_requests_total{route="/health",status="200"} 1`) {
		t.Fatalf("metrics exposition missing request counter:\n%s", rec.Body.String())
	}
}
