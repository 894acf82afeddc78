package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"oeetrack/internal/audit"
	"oeetrack/internal/calendar"
	"oeetrack/internal/config"
	"oeetrack/internal/engine"
	"oeetrack/internal/metrics"
	"oeetrack/internal/model"
	"oeetrack/internal/overrides"
)

// Service is the part of the engine the HTTP layer drives.
type Service interface {
	IngestSource(filename string, r io.Reader, month calendar.Month) engine.IngestReport
	Calculate(inputs model.KPIInputs) (model.MonthlyAggregate, error)
	SetOverride(channel string, action overrides.Action) (*engine.Session, error)
	ClearBonus() (int, error)
	PreviewExtras(limit int) (model.ExtrasReport, error)
	Session() (*engine.Session, bool)
	SaveSnapshot(ctx context.Context, inputs model.KPIInputs) (model.Snapshot, error)
	ListSnapshots(ctx context.Context) ([]model.Snapshot, error)
	DeleteSnapshot(ctx context.Context, month, year int) (bool, error)
	Audit() *audit.Store
	Metrics() *metrics.Store
	Reset()
}

type Options struct {
	Version   string
	Collector *metrics.Collector
	// AccessLog receives combined-format request lines; nil discards them.
	AccessLog io.Writer
}

type Server struct {
	cfg       *config.Manager
	svc       Service
	collector *metrics.Collector
	logger    *slog.Logger
	version   string
	now       func() time.Time
}

type statusResponse struct {
	Status     string                `json:"status"`
	Time       string                `json:"time"`
	Version    string                `json:"version"`
	ConfigPath string                `json:"config_path"`
	Capacity   config.CapacityConfig `json:"capacity"`
	Storage    storageStatus         `json:"storage"`
	Publish    bool                  `json:"publish"`
	Session    *engine.SessionInfo   `json:"session,omitempty"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"`
}

func Start(ctx context.Context, cfg *config.Manager, svc Service, logger *slog.Logger, opts Options) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewRouter(cfg, svc, logger, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func NewRouter(cfg *config.Manager, svc Service, logger *slog.Logger, opts Options) http.Handler {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		collector: opts.Collector,
		logger:    logger,
		version:   opts.Version,
		now:       func() time.Time { return time.Now().UTC() },
	}
	r := mux.NewRouter()
	route := func(path string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, s.collector.WrapHandler(path, h)).Methods(methods...)
	}
	route("/health", s.handleHealth, http.MethodGet)
	route("/status", s.handleStatus, http.MethodGet)
	route("/oee/upload", s.handleUpload, http.MethodPost)
	route("/oee/calculate", s.handleCalculate, http.MethodPost)
	route("/oee/update_circuit", s.handleUpdateCircuit, http.MethodPost)
	route("/oee/clear_extras", s.handleClearBonus, http.MethodPost)
	route("/oee/extras/preview", s.handlePreviewExtras, http.MethodGet)
	route("/oee/session", s.handleSession, http.MethodGet)
	route("/oee/session/reset", s.handleReset, http.MethodPost)
	route("/oee/save_history", s.handleSaveHistory, http.MethodPost)
	route("/oee/history", s.handleHistory, http.MethodGet)
	route("/oee/history/delete", s.handleDeleteHistory, http.MethodPost)
	route("/audit", s.handleAudit, http.MethodGet)
	route("/kpi/latest", s.handleLatestKPI, http.MethodGet)
	r.Handle("/metrics", s.collector.Handler()).Methods(http.MethodGet)

	accessLog := opts.AccessLog
	if accessLog == nil {
		accessLog = io.Discard
	}
	return handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(accessLog, r))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       s.now().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Capacity:   cfg.Capacity,
		Storage:    storageStatus{Enabled: cfg.Storage.Enabled, Driver: cfg.Storage.Driver},
		Publish:    cfg.Publish.Enabled,
	}
	if sess, ok := s.svc.Session(); ok {
		info := sess.Info()
		resp.Session = &info
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Get().Ingest.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("multipart form: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("missing file field"))
		return
	}
	defer file.Close()

	now := s.now()
	year, err := formInt(r, now.Year(), "year", "ano")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	monthNum, err := formInt(r, int(now.Month()), "month", "mes")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	month, err := calendar.NewMonth(year, monthNum)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report := s.svc.IngestSource(header.Filename, file, month)
	status := http.StatusOK
	if !report.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, report)
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	inputs, err := decodeInputs(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	agg, err := s.svc.Calculate(inputs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": agg})
}

func (s *Server) handleUpdateCircuit(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := stringField(body, "id", "channel", "circuit")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing id"))
		return
	}
	action, err := overrides.ParseAction(stringField(body, "action"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, err := s.svc.SetOverride(id, action)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": sess.Info()})
}

func (s *Server) handleClearBonus(w http.ResponseWriter, r *http.Request) {
	removed, err := s.svc.ClearBonus()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": removed})
}

func (s *Server) handlePreviewExtras(w http.ResponseWriter, r *http.Request) {
	limit := -1
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	report, err := s.svc.PreviewExtras(limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.svc.Session()
	if !ok {
		writeError(w, http.StatusConflict, engine.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.svc.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSaveHistory(w http.ResponseWriter, r *http.Request) {
	inputs, err := decodeInputs(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := s.svc.SaveSnapshot(r.Context(), inputs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "snapshot": snap})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListSnapshots(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": list, "count": len(list)})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	month, okMonth, err := numberField(body, "month", "mes")
	if err != nil || !okMonth {
		writeError(w, http.StatusBadRequest, errors.New("month is required"))
		return
	}
	year, okYear, err := numberField(body, "year", "ano")
	if err != nil || !okYear {
		writeError(w, http.StatusBadRequest, errors.New("year is required"))
		return
	}
	deleted, err := s.svc.DeleteSnapshot(r.Context(), int(month), int(year))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": deleted})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.AuditEntry
	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid since %q", since))
			return
		}
		list = s.svc.Audit().Since(ts)
	} else {
		list = s.svc.Audit().List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": list, "count": len(list)})
}

func (s *Server) handleLatestKPI(w http.ResponseWriter, r *http.Request) {
	store := s.svc.Metrics()
	var (
		summary model.KPISummary
		ok      bool
	)
	if key := r.URL.Query().Get("key"); key != "" {
		summary, ok = store.Get(key)
	} else {
		summary, ok = store.Latest()
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no kpi computed yet"))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidChannel), errors.Is(err, engine.ErrInvalidCapacity):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formInt(r *http.Request, fallback int, keys ...string) (int, error) {
	for _, key := range keys {
		v := strings.TrimSpace(r.FormValue(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q", key, v)
		}
		return n, nil
	}
	return fallback, nil
}
