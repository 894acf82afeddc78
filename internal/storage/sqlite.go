package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"oeetrack/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:oeetrack.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oee_snapshots (
			snapshot_key TEXT PRIMARY KEY,
			month INTEGER NOT NULL,
			year INTEGER NOT NULL,
			kpi_json TEXT NOT NULL,
			medias_json TEXT NOT NULL,
			grid_json TEXT NOT NULL,
			saved_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oee_snapshots_period ON oee_snapshots(year, month)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oee_snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(snapshot_key) DO UPDATE SET
			month = excluded.month,
			year = excluded.year,
			kpi_json = excluded.kpi_json,
			medias_json = excluded.medias_json,
			grid_json = excluded.grid_json,
			saved_at = excluded.saved_at`,
		snapshotKey(snap),
		snap.Month,
		snap.Year,
		encodeJSON(snap.KPI),
		encodeJSON(snap.Medias),
		encodeJSON(snap.Grid),
		snap.SavedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ListSnapshots(ctx context.Context) ([]model.Snapshot, error) {
	out := make([]model.Snapshot, 0)
	if s.db == nil {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM oee_snapshots ORDER BY year, month`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var savedAt string
		snap, kpiJSON, mediasJSON, gridJSON, err := scanSnapshot(rows, &savedAt)
		if err != nil {
			return nil, err
		}
		if err := decodeSnapshot(&snap, kpiJSON, mediasJSON, gridJSON); err != nil {
			return nil, err
		}
		snap.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteSnapshot(ctx context.Context, month, year int) (bool, error) {
	if s.db == nil {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM oee_snapshots WHERE snapshot_key = ?`, model.SnapshotKey(month, year))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
