package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"oeetrack/internal/config"
	"oeetrack/internal/model"
)

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// Store persists monthly history snapshots keyed by "M_YYYY". Saving an
// existing key replaces it.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error
	// ListSnapshots returns the history oldest month first, ready for a
	// trend chart.
	ListSnapshots(ctx context.Context) ([]model.Snapshot, error)
	DeleteSnapshot(ctx context.Context, month, year int) (bool, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "mongo", "mongodb":
		return NewMongo(cfg.DSN, cfg.Database, cfg.Collection)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// Noop is the store used when persistence is disabled.
type Noop struct{}

func (Noop) Init(context.Context) error                              { return nil }
func (Noop) Close() error                                            { return nil }
func (Noop) SaveSnapshot(context.Context, model.Snapshot) error      { return nil }
func (Noop) ListSnapshots(context.Context) ([]model.Snapshot, error) { return []model.Snapshot{}, nil }
func (Noop) DeleteSnapshot(context.Context, int, int) (bool, error)  { return false, nil }

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// snapshotColumns is the column list shared by both SQL drivers.
const snapshotColumns = `snapshot_key, month, year, kpi_json, medias_json, grid_json, saved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSnapshot decodes one row; savedAt is supplied by the driver since the
// drivers store time differently.
func scanSnapshot(row rowScanner, savedAt any) (model.Snapshot, string, string, string, error) {
	var snap model.Snapshot
	var kpiJSON, mediasJSON, gridJSON string
	err := row.Scan(&snap.Key, &snap.Month, &snap.Year, &kpiJSON, &mediasJSON, &gridJSON, savedAt)
	return snap, kpiJSON, mediasJSON, gridJSON, err
}

func decodeSnapshot(snap *model.Snapshot, kpiJSON, mediasJSON, gridJSON string) error {
	if err := json.Unmarshal([]byte(kpiJSON), &snap.KPI); err != nil {
		return fmt.Errorf("decode kpi for %s: %w", snap.Key, err)
	}
	if err := json.Unmarshal([]byte(mediasJSON), &snap.Medias); err != nil {
		return fmt.Errorf("decode medias for %s: %w", snap.Key, err)
	}
	if err := json.Unmarshal([]byte(gridJSON), &snap.Grid); err != nil {
		return fmt.Errorf("decode grid for %s: %w", snap.Key, err)
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func snapshotKey(snap model.Snapshot) string {
	if snap.Key != "" {
		return snap.Key
	}
	return model.SnapshotKey(snap.Month, snap.Year)
}
