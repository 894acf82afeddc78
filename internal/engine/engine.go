package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"oeetrack/internal/audit"
	"oeetrack/internal/calendar"
	"oeetrack/internal/config"
	"oeetrack/internal/ingest"
	"oeetrack/internal/metrics"
	"oeetrack/internal/model"
	"oeetrack/internal/normalize"
	"oeetrack/internal/overrides"
	"oeetrack/internal/publish"
	"oeetrack/internal/storage"
)

var ErrInvalidChannel = errors.New("invalid channel id")

const publishTimeout = 10 * time.Second

// Deps are the optional collaborators of an Engine. Nil fields fall back to
// no-op implementations.
type Deps struct {
	Logger    *slog.Logger
	Store     storage.Store
	Publisher publish.Publisher
	Metrics   *metrics.Store
	Collector *metrics.Collector
	Audit     *audit.Store
	Now       func() time.Time
}

// Engine holds the active month. Readers take the current *Session and work
// on it without locks; writers build a new version and swap it in.
type Engine struct {
	logger    *slog.Logger
	store     storage.Store
	publisher publish.Publisher
	metrics   *metrics.Store
	collector *metrics.Collector
	audit     *audit.Store
	now       func() time.Time
	cfg       atomic.Value

	mu      sync.RWMutex
	session *Session
	wg      sync.WaitGroup
}

type IngestReport struct {
	Success       bool     `json:"success"`
	Reason        string   `json:"reason,omitempty"`
	SessionID     string   `json:"session_id,omitempty"`
	Version       int64    `json:"version,omitempty"`
	Year          int      `json:"year"`
	Month         int      `json:"month"`
	Channels      []string `json:"channels"`
	Events        int      `json:"events"`
	SheetsRead    []string `json:"sheets_read"`
	SheetsSkipped []string `json:"sheets_skipped"`
	RowsSkipped   int      `json:"rows_skipped"`
	Duplicates    int      `json:"duplicates"`
}

func NewEngine(cfg *config.Config, deps Deps) *Engine {
	e := &Engine{
		logger:    deps.Logger,
		store:     deps.Store,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		collector: deps.Collector,
		audit:     deps.Audit,
		now:       deps.Now,
	}
	if e.store == nil {
		e.store = storage.Noop{}
	}
	if e.publisher == nil {
		e.publisher = publish.Noop{}
	}
	if e.metrics == nil {
		e.metrics = metrics.NewStore(0)
	}
	if e.audit == nil {
		e.audit = audit.NewStore(0)
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Session() (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session, e.session != nil
}

// IngestSource reads a workbook, CSV or JSON upload and ingests it.
func (e *Engine) IngestSource(filename string, r io.Reader, month calendar.Month) IngestReport {
	sheets, err := ingest.ReadSource(filename, r)
	if err != nil {
		return e.ingestFailed(filename, month, ingest.Batch{}, fmt.Errorf("read %s: %w", filename, err))
	}
	return e.Ingest(sheets, month, filename)
}

// Ingest normalizes sheets for month and, on success, replaces the active
// session, clearing every override. On failure the previous session stays.
func (e *Engine) Ingest(sheets []ingest.Sheet, month calendar.Month, source string) IngestReport {
	if !month.Valid() {
		return e.ingestFailed(source, month, ingest.Batch{}, fmt.Errorf("invalid month %d/%d", int(month.Month), month.Year))
	}
	cfg := e.config()
	n := &ingest.Normalizer{
		Location:    cfg.Location(),
		SheetPrefix: cfg.Ingest.SheetPrefix,
		Logger:      e.logger,
	}
	batch, err := n.Normalize(sheets, month)
	if err != nil {
		return e.ingestFailed(source, month, batch, err)
	}
	s := NewSession(month, cfg.Location(), source, batch, e.now())
	e.mu.Lock()
	e.session = s
	e.mu.Unlock()

	e.collector.Ingest(true)
	e.audit.Record(model.AuditEntry{
		Action:    audit.ActionIngest,
		SessionID: s.ID.String(),
		Month:     month.Key(),
		Detail: map[string]string{
			"source":   source,
			"events":   fmt.Sprint(len(batch.Events)),
			"channels": fmt.Sprint(len(batch.Channels)),
		},
	})
	if e.logger != nil {
		e.logger.Info("month ingested",
			"session_id", s.ID.String(),
			"month", month.Key(),
			"source", source,
			"events", len(batch.Events),
			"channels", len(batch.Channels),
			"rows_skipped", batch.RowsSkipped,
			"duplicates", batch.Duplicates,
		)
	}
	report := reportFromBatch(month, batch)
	report.Success = true
	report.SessionID = s.ID.String()
	report.Version = s.Version
	return report
}

func (e *Engine) ingestFailed(source string, month calendar.Month, batch ingest.Batch, err error) IngestReport {
	e.collector.Ingest(false)
	e.audit.Record(model.AuditEntry{
		Action: audit.ActionIngestFailed,
		Month:  month.Key(),
		Detail: map[string]string{"source": source, "reason": err.Error()},
	})
	if e.logger != nil {
		e.logger.Warn("ingestion failed", "source", source, "month", month.Key(), "err", err)
	}
	report := reportFromBatch(month, batch)
	report.Reason = err.Error()
	return report
}

func reportFromBatch(month calendar.Month, batch ingest.Batch) IngestReport {
	report := IngestReport{
		Year:          month.Year,
		Month:         int(month.Month),
		Channels:      batch.Channels,
		Events:        len(batch.Events),
		SheetsRead:    batch.SheetsRead,
		SheetsSkipped: batch.SheetsSkipped,
		RowsSkipped:   batch.RowsSkipped,
		Duplicates:    batch.Duplicates,
	}
	if report.Channels == nil {
		report.Channels = []string{}
	}
	if report.SheetsRead == nil {
		report.SheetsRead = []string{}
	}
	if report.SheetsSkipped == nil {
		report.SheetsSkipped = []string{}
	}
	return report
}

// SetOverride applies action to a channel and returns the new session.
// Channel ids are canonicalized the same way ingested ids are, so
// "Circuit007" and "7" address the same channel.
func (e *Engine) SetOverride(channel string, action overrides.Action) (*Session, error) {
	id := channel
	if id != model.ReferenceChannelID {
		canonical, ok := normalize.CanonicalChannelID(channel)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
		}
		id = canonical
	}
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, ErrNoSession
	}
	s := e.session.WithOverride(id, action, e.now())
	e.session = s
	e.mu.Unlock()

	e.audit.Record(model.AuditEntry{
		Action:    audit.ActionOverride,
		SessionID: s.ID.String(),
		Month:     s.Month.Key(),
		Detail:    map[string]string{"channel": id, "action": string(action)},
	})
	if e.logger != nil {
		e.logger.Info("override set", "channel", id, "action", action, "version", s.Version)
	}
	return s, nil
}

func (e *Engine) ClearBonus() (int, error) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return 0, ErrNoSession
	}
	s, removed := e.session.WithoutBonus(e.now())
	e.session = s
	e.mu.Unlock()

	e.audit.Record(model.AuditEntry{
		Action:    audit.ActionClearBonus,
		SessionID: s.ID.String(),
		Month:     s.Month.Key(),
		Detail:    map[string]string{"removed": fmt.Sprint(removed)},
	})
	if e.logger != nil {
		e.logger.Info("bonus overrides cleared", "removed", removed, "version", s.Version)
	}
	return removed, nil
}

// resolveInputs pins the month to the session, fills capacity from config
// when the caller left it unset and bounds the total capacity.
func (e *Engine) resolveInputs(s *Session, inputs model.KPIInputs) (model.KPIInputs, error) {
	cfg := e.config()
	if (inputs.Year != 0 || inputs.Month != 0) &&
		(inputs.Year != s.Month.Year || inputs.Month != int(s.Month.Month)) && e.logger != nil {
		e.logger.Warn("kpi inputs month differs from session, using session month",
			"inputs_month", model.SnapshotKey(inputs.Month, inputs.Year),
			"session_month", s.Month.Key(),
		)
	}
	inputs.Year = s.Month.Year
	inputs.Month = int(s.Month.Month)
	if inputs.TotalCapacity <= 0 {
		inputs.TotalCapacity = cfg.Capacity.TotalCapacity
	}
	if ceiling := cfg.Capacity.MaxTotalCapacity; ceiling > 0 && inputs.TotalCapacity > ceiling {
		return inputs, fmt.Errorf("%w: total capacity %d above maximum %d", ErrInvalidCapacity, inputs.TotalCapacity, ceiling)
	}
	if inputs.FixedSlotLimit == nil {
		fixed := cfg.Capacity.FixedSlotLimit
		inputs.FixedSlotLimit = &fixed
	}
	return inputs, nil
}

func (e *Engine) Calculate(inputs model.KPIInputs) (model.MonthlyAggregate, error) {
	s, ok := e.Session()
	if !ok {
		return model.MonthlyAggregate{}, ErrNoSession
	}
	inputs, err := e.resolveInputs(s, inputs)
	if err != nil {
		return model.MonthlyAggregate{}, err
	}
	agg, err := Aggregate(s, inputs)
	if err != nil {
		return model.MonthlyAggregate{}, err
	}
	e.collector.Aggregation(agg)
	e.metrics.Update(model.KPISummary{
		Key:                s.Month.Key(),
		Year:               agg.Year,
		Month:              agg.Month,
		KPI:                agg.KPI,
		Medias:             agg.Medias,
		Extras:             len(agg.Extras),
		ChannelsConsidered: agg.Medias.ChannelsConsidered,
		UpdatedAt:          e.now(),
	})
	if e.logger != nil {
		e.logger.Debug("aggregation computed",
			"month", s.Month.Key(),
			"version", s.Version,
			"oee", agg.KPI.OEE,
			"channels_considered", agg.Medias.ChannelsConsidered,
			"extras", len(agg.Extras),
		)
	}
	return agg, nil
}

// PreviewExtras reports which channels a fixed slot limit would demote. A
// negative limit uses the configured one.
func (e *Engine) PreviewExtras(limit int) (model.ExtrasReport, error) {
	s, ok := e.Session()
	if !ok {
		return model.ExtrasReport{}, ErrNoSession
	}
	var req model.KPIInputs
	if limit >= 0 {
		req.FixedSlotLimit = &limit
	}
	inputs, err := e.resolveInputs(s, req)
	if err != nil {
		return model.ExtrasReport{}, err
	}
	return previewExtras(s.grids(inputs.TotalCapacity), s.Month.Days(), *inputs.FixedSlotLimit), nil
}

// SaveSnapshot aggregates the session and writes the result to the history
// store. Publishing to the bus happens in the background; its failure is
// logged only.
func (e *Engine) SaveSnapshot(ctx context.Context, inputs model.KPIInputs) (model.Snapshot, error) {
	agg, err := e.Calculate(inputs)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap := BuildSnapshot(agg, e.now())
	err = e.store.SaveSnapshot(ctx, snap)
	e.collector.Snapshot("store", err)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("snapshot save failed", "key", snap.Key, "err", err)
		}
		return snap, fmt.Errorf("save snapshot %s: %w", snap.Key, err)
	}
	e.audit.Record(model.AuditEntry{
		Action: audit.ActionSnapshotSave,
		Month:  snap.Key,
		Detail: map[string]string{"oee": fmt.Sprint(snap.KPI.OEE)},
	})
	if e.logger != nil {
		e.logger.Info("snapshot saved", "key", snap.Key, "oee", snap.KPI.OEE)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		pctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		err := e.publisher.Publish(pctx, snap)
		e.collector.Snapshot("publish", err)
		if err != nil && e.logger != nil {
			e.logger.Warn("snapshot publish failed", "key", snap.Key, "err", err)
		}
	}()
	return snap, nil
}

func (e *Engine) ListSnapshots(ctx context.Context) ([]model.Snapshot, error) {
	return e.store.ListSnapshots(ctx)
}

func (e *Engine) DeleteSnapshot(ctx context.Context, month, year int) (bool, error) {
	deleted, err := e.store.DeleteSnapshot(ctx, month, year)
	if err != nil {
		return false, err
	}
	if deleted {
		e.audit.Record(model.AuditEntry{
			Action: audit.ActionSnapshotDelete,
			Month:  model.SnapshotKey(month, year),
		})
	}
	return deleted, nil
}

func (e *Engine) Audit() *audit.Store {
	return e.audit
}

func (e *Engine) Metrics() *metrics.Store {
	return e.metrics
}

// Reset drops the active session.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.session = nil
	e.mu.Unlock()
	e.audit.Record(model.AuditEntry{Action: audit.ActionReset})
}

// Close waits for background publishes and releases the collaborators.
func (e *Engine) Close() error {
	e.wg.Wait()
	return errors.Join(e.publisher.Close(), e.store.Close())
}

// BuildSnapshot flattens an aggregate into the persisted history form. Only
// the reference channel and channels with activity or an override are kept.
func BuildSnapshot(agg model.MonthlyAggregate, savedAt time.Time) model.Snapshot {
	rows := make([]model.SnapshotRow, 0)
	for _, rec := range agg.Details {
		if rec.ID != model.ReferenceChannelID && rec.Override == "" &&
			rec.Counts.UP == 0 && rec.Counts.PQ == 0 {
			continue
		}
		status := "active"
		switch {
		case rec.Ignored:
			status = "ignored"
		case rec.Bonus:
			status = "bonus"
		case rec.Extra:
			status = "extra"
		}
		days := make([]model.DayStatus, len(rec.DailyStatuses))
		copy(days, rec.DailyStatuses)
		rows = append(rows, model.SnapshotRow{ID: rec.ID, Days: days, Status: status})
	}
	return model.Snapshot{
		Key:     model.SnapshotKey(agg.Month, agg.Year),
		Month:   agg.Month,
		Year:    agg.Year,
		KPI:     agg.KPI,
		Medias:  agg.Medias,
		Grid:    rows,
		SavedAt: savedAt.UTC(),
	}
}
