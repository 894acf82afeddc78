package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string         `json:"log_level" yaml:"log_level"`
	LogFormat string         `json:"log_format" yaml:"log_format"`
	Ingest    IngestConfig   `json:"ingest" yaml:"ingest"`
	Capacity  CapacityConfig `json:"capacity" yaml:"capacity"`
	API       APIConfig      `json:"api" yaml:"api"`
	Storage   StorageConfig  `json:"storage" yaml:"storage"`
	Publish   PublishConfig  `json:"publish" yaml:"publish"`
	Metrics   MetricsConfig  `json:"metrics" yaml:"metrics"`
	Audit     AuditConfig    `json:"audit" yaml:"audit"`
}

type IngestConfig struct {
	Timezone       string `json:"timezone" yaml:"timezone"`
	SheetPrefix    string `json:"sheet_prefix" yaml:"sheet_prefix"`
	MaxUploadBytes int64  `json:"max_upload_bytes" yaml:"max_upload_bytes"`
}

type CapacityConfig struct {
	TotalCapacity  int `json:"total_capacity" yaml:"total_capacity"`
	FixedSlotLimit int `json:"fixed_slot_limit" yaml:"fixed_slot_limit"`
	// MaxTotalCapacity bounds the total capacity a request may ask for.
	MaxTotalCapacity int `json:"max_total_capacity" yaml:"max_total_capacity"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Driver     string `json:"driver" yaml:"driver"`
	DSN        string `json:"dsn" yaml:"dsn"`
	Database   string `json:"database" yaml:"database"`
	Collection string `json:"collection" yaml:"collection"`
}

type PublishConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AuditConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			Timezone:       "UTC",
			MaxUploadBytes: 32 << 20,
		},
		Capacity: CapacityConfig{TotalCapacity: 450, FixedSlotLimit: 300, MaxTotalCapacity: 5000},
		API:      APIConfig{Enabled: true, Addr: ":8080"},
		Storage: StorageConfig{
			Enabled:    false,
			Driver:     "sqlite",
			DSN:        "file:oeetrack.db?_pragma=busy_timeout(5000)",
			Database:   "oeetrack",
			Collection: "oee_monthly",
		},
		Publish: PublishConfig{Enabled: false, Topic: "oee.snapshots"},
		Metrics: MetricsConfig{StoreLimit: 120},
		Audit:   AuditConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML or JSON document on top of DefaultConfig.
func Parse(content []byte) (*Config, error) {
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	cfg := DefaultConfig()
	var err error
	if looksLikeJSON(trimmed) {
		err = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		err = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Ingest.Timezone == "" {
		cfg.Ingest.Timezone = "UTC"
	}
	if cfg.Ingest.MaxUploadBytes <= 0 {
		cfg.Ingest.MaxUploadBytes = 32 << 20
	}
	if cfg.Capacity.TotalCapacity <= 0 {
		cfg.Capacity.TotalCapacity = 450
	}
	if cfg.Capacity.FixedSlotLimit <= 0 {
		cfg.Capacity.FixedSlotLimit = 300
	}
	if cfg.Capacity.MaxTotalCapacity <= 0 {
		cfg.Capacity.MaxTotalCapacity = 5000
	}
	if cfg.Storage.Database == "" {
		cfg.Storage.Database = "oeetrack"
	}
	if cfg.Storage.Collection == "" {
		cfg.Storage.Collection = "oee_monthly"
	}
	if cfg.Publish.Topic == "" {
		cfg.Publish.Topic = "oee.snapshots"
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 120
	}
	if cfg.Audit.StoreLimit <= 0 {
		cfg.Audit.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if _, err := time.LoadLocation(cfg.Ingest.Timezone); err != nil {
		return fmt.Errorf("ingest.timezone: %w", err)
	}
	if cfg.Capacity.TotalCapacity <= 0 {
		return errors.New("capacity.total_capacity must be > 0")
	}
	if cfg.Capacity.FixedSlotLimit <= 0 {
		return errors.New("capacity.fixed_slot_limit must be > 0")
	}
	if cfg.Capacity.TotalCapacity > cfg.Capacity.MaxTotalCapacity {
		return fmt.Errorf("capacity.total_capacity must be <= max_total_capacity (%d)", cfg.Capacity.MaxTotalCapacity)
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql", "mongo", "mongodb":
		default:
			return fmt.Errorf("storage.driver unsupported: %q", cfg.Storage.Driver)
		}
	}
	if cfg.Publish.Enabled && (len(cfg.Publish.Brokers) == 0 || cfg.Publish.Topic == "") {
		return errors.New("publish requires brokers and topic")
	}
	return nil
}

// Location resolves the ingest timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || c.Ingest.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Ingest.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Manager holds the live configuration. A manager without a path serves
// defaults and never reloads.
type Manager struct {
	path    string
	cfg     atomic.Pointer[Config]
	modTime atomic.Int64
}

func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if path == "" {
		cfg := DefaultConfig()
		m.cfg.Store(cfg)
		return m, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

// NewStaticManager wraps an in-memory config.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if cfg := m.cfg.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

// Update validates cfg, persists it when the manager is file backed, and
// swaps it in.
func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		m.touch()
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().UnixNano() > m.modTime.Load(), nil
}

func (m *Manager) touch() {
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
}

func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err == nil && !needs {
				continue
			}
			var cfg *Config
			if err == nil {
				cfg, err = m.Reload()
			}
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-ctx.Done():
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
