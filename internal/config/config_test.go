package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseYAMLAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
capacity:
  total_capacity: 350
ingest:
  sheet_prefix: dig
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Capacity.TotalCapacity != 350 {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Capacity.FixedSlotLimit != 300 {
		t.Fatalf("fixed slot default: %d", cfg.Capacity.FixedSlotLimit)
	}
	if cfg.Ingest.Timezone != "UTC" || cfg.Ingest.SheetPrefix != "dig" {
		t.Fatalf("ingest section: %+v", cfg.Ingest)
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"api":{"enabled":true,"addr":":9999"},"storage":{"enabled":true,"driver":"mongo","dsn":"mongodb://localhost"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.API.Addr != ":9999" || cfg.Storage.Driver != "mongo" {
		t.Fatalf("json values not applied: %+v", cfg)
	}
	if cfg.Storage.Collection != "oee_monthly" {
		t.Fatalf("collection default: %q", cfg.Storage.Collection)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"empty":    "   ",
		"driver":   "storage:\n  enabled: true\n  driver: oracle\n",
		"publish":  "publish:\n  enabled: true\n",
		"timezone": "ingest:\n  timezone: Mars/Olympus\n",
		"api addr": "api:\n  enabled: true\n  addr: \"\"\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestManagerUpdatePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oeetrack.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	next := *m.Get()
	next.Capacity.FixedSlotLimit = 12
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Capacity.FixedSlotLimit != 12 {
		t.Fatalf("fixed slot limit not persisted: %d", cfg.Capacity.FixedSlotLimit)
	}
}

func TestManagerWithoutPathServesDefaults(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().Capacity.TotalCapacity != 450 {
		t.Fatalf("default capacity: %d", m.Get().Capacity.TotalCapacity)
	}
	needs, err := m.NeedsReload()
	if err != nil || needs {
		t.Fatalf("pathless manager should never reload")
	}
}

func TestParseRejectsCapacityAboveMax(t *testing.T) {
	if _, err := Parse([]byte("capacity:\n  total_capacity: 6000\n")); err == nil {
		t.Fatalf("expected total capacity above the default max to be rejected")
	}
	cfg, err := Parse([]byte("capacity:\n  total_capacity: 6000\n  max_total_capacity: 8000\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Capacity.MaxTotalCapacity != 8000 {
		t.Fatalf("max total capacity: %d", cfg.Capacity.MaxTotalCapacity)
	}
}
