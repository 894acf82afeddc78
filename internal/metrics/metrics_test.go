package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"oeetrack/internal/model"
)

func TestStoreKeepsLatestPerMonth(t *testing.T) {
	s := NewStore(2)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s.Update(model.KPISummary{Key: "1_2024", Year: 2024, Month: 1, KPI: model.KPI{OEE: 10}, UpdatedAt: base})
	s.Update(model.KPISummary{Key: "1_2024", Year: 2024, Month: 1, KPI: model.KPI{OEE: 20}, UpdatedAt: base.Add(time.Minute)})
	s.Update(model.KPISummary{Key: "2_2024", Year: 2024, Month: 2, UpdatedAt: base.Add(2 * time.Minute)})
	got, ok := s.Get("1_2024")
	if !ok || got.KPI.OEE != 20 {
		t.Fatalf("expected overwrite, got %+v", got)
	}
	s.Update(model.KPISummary{Key: "12_2023", Year: 2023, Month: 12, UpdatedAt: base.Add(3 * time.Minute)})
	if _, ok := s.Get("1_2024"); ok {
		t.Fatalf("oldest month should have been evicted")
	}
	all := s.GetAll()
	if len(all) != 2 || all[0].Key != "12_2023" || all[1].Key != "2_2024" {
		t.Fatalf("unexpected order: %+v", all)
	}
	latest, ok := s.Latest()
	if !ok || latest.Key != "12_2023" {
		t.Fatalf("latest: %+v", latest)
	}
}

func TestCollectorRecordsAggregation(t *testing.T) {
	c := NewCollector()
	c.Ingest(true)
	c.Ingest(false)
	c.Aggregation(model.MonthlyAggregate{
		KPI:    model.KPI{Availability: 80, Performance: 100, Quality: 50, OEE: 40},
		Medias: model.Medias{ChannelsConsidered: 3},
		Extras: []string{"9"},
	})
	if v := testutil.ToFloat64(c.kpiPercent.WithLabelValues("oee")); v != 40 {
		t.Fatalf("oee gauge: %v", v)
	}
	if v := testutil.ToFloat64(c.ingestTotal.WithLabelValues("failure")); v != 1 {
		t.Fatalf("ingest failures: %v", v)
	}
	if v := testutil.ToFloat64(c.channelsConsidered); v != 3 {
		t.Fatalf("channels considered: %v", v)
	}
}

func TestWrapHandlerAndExposition(t *testing.T) {
	c := NewCollector()
	h := c.WrapHandler("/status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/status", nil))
	if v := testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("/status", "418")); v != 1 {
		t.Fatalf("request counter: %v", v)
	}
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("exposition missing counter")
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.Ingest(true)
	c.Aggregation(model.MonthlyAggregate{})
	c.Snapshot("store", nil)
	rec := httptest.NewRecorder()
	c.WrapHandler("/x", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}
