package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"oeetrack/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/oeetrack?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oee_snapshots (
			snapshot_key TEXT PRIMARY KEY,
			month INTEGER NOT NULL,
			year INTEGER NOT NULL,
			kpi_json JSONB NOT NULL,
			medias_json JSONB NOT NULL,
			grid_json JSONB NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL
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

func (s *postgresStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oee_snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (snapshot_key) DO UPDATE SET
			month = EXCLUDED.month,
			year = EXCLUDED.year,
			kpi_json = EXCLUDED.kpi_json,
			medias_json = EXCLUDED.medias_json,
			grid_json = EXCLUDED.grid_json,
			saved_at = EXCLUDED.saved_at`,
		snapshotKey(snap),
		snap.Month,
		snap.Year,
		encodeJSON(snap.KPI),
		encodeJSON(snap.Medias),
		encodeJSON(snap.Grid),
		snap.SavedAt.UTC(),
	)
	return err
}

func (s *postgresStore) ListSnapshots(ctx context.Context) ([]model.Snapshot, error) {
	out := make([]model.Snapshot, 0)
	if s.db == nil {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot_key, month, year, kpi_json::text, medias_json::text, grid_json::text, saved_at
		FROM oee_snapshots ORDER BY year, month`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var savedAt time.Time
		snap, kpiJSON, mediasJSON, gridJSON, err := scanSnapshot(rows, &savedAt)
		if err != nil {
			return nil, err
		}
		if err := decodeSnapshot(&snap, kpiJSON, mediasJSON, gridJSON); err != nil {
			return nil, err
		}
		snap.SavedAt = savedAt.UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *postgresStore) DeleteSnapshot(ctx context.Context, month, year int) (bool, error) {
	if s.db == nil {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM oee_snapshots WHERE snapshot_key = $1`, model.SnapshotKey(month, year))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
