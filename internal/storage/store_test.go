package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"oeetrack/internal/config"
	"oeetrack/internal/model"
)

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "oee.db")
	s, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func sampleSnapshot(month, year int, oee float64) model.Snapshot {
	return model.Snapshot{
		Key:    model.SnapshotKey(month, year),
		Month:  month,
		Year:   year,
		KPI:    model.KPI{Availability: 90, Performance: 100, Quality: 100, OEE: oee},
		Medias: model.Medias{UP: 12, SD: 3, PP: 8, DaysInMonth: 29, ChannelsConsidered: 4},
		Grid: []model.SnapshotRow{
			{ID: model.ReferenceChannelID, Days: []model.DayStatus{model.StatusUP, model.StatusPP}, Status: "active"},
			{ID: "7", Days: []model.DayStatus{model.StatusSD, model.StatusBlank}, Status: "ignored"},
		},
		SavedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteSnapshotUpsertListDelete(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteForTest(t)
	if err := s.SaveSnapshot(ctx, sampleSnapshot(2, 2024, 50)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveSnapshot(ctx, sampleSnapshot(1, 2024, 40)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveSnapshot(ctx, sampleSnapshot(2, 2024, 75)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	list, err := s.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(list))
	}
	if list[0].Key != "1_2024" || list[1].Key != "2_2024" {
		t.Fatalf("unexpected order: %s, %s", list[0].Key, list[1].Key)
	}
	feb := list[1]
	if feb.KPI.OEE != 75 || feb.Medias.DaysInMonth != 29 || len(feb.Grid) != 2 || feb.Grid[1].Status != "ignored" {
		t.Fatalf("snapshot not round-tripped: %+v", feb)
	}
	if !feb.SavedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("saved at: %s", feb.SavedAt)
	}
	deleted, err := s.DeleteSnapshot(ctx, 2, 2024)
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	deleted, err = s.DeleteSnapshot(ctx, 2, 2024)
	if err != nil || deleted {
		t.Fatalf("second delete should report nothing removed: %v %v", deleted, err)
	}
}

func TestNewStoreDisabledIsNoop(t *testing.T) {
	s, err := NewStore(config.StorageConfig{Enabled: false})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := s.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", s)
	}
	list, err := s.ListSnapshots(context.Background())
	if err != nil || len(list) != 0 {
		t.Fatalf("noop list: %v %v", list, err)
	}
}

func TestNewStoreUnsupportedDriver(t *testing.T) {
	_, err := NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"})
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
	}
}
