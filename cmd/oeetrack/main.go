package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"oeetrack/internal/api"
	"oeetrack/internal/audit"
	"oeetrack/internal/calendar"
	"oeetrack/internal/config"
	"oeetrack/internal/engine"
	"oeetrack/internal/logging"
	"oeetrack/internal/metrics"
	"oeetrack/internal/model"
	"oeetrack/internal/overrides"
	"oeetrack/internal/publish"
	"oeetrack/internal/render"
	"oeetrack/internal/storage"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printRootUsage(stderr)
		return 2
	}
	switch args[0] {
	case "serve":
		return runServe(args[1:], stderr)
	case "report":
		return runReport(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
		return 0
	case "-h", "--help", "help":
		printRootUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
		printRootUsage(stderr)
		return 2
	}
}

func printRootUsage(w io.Writer) {
	fmt.Fprint(w, `oeetrack derives daily channel status and monthly OEE from usage logs.

Usage:
  oeetrack serve  [-config path]
  oeetrack report -file usage.xlsx -year 2024 -month 2 [flags]
  oeetrack version

Run "oeetrack <command> -h" for command flags.
`)
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("OEETRACK_CONFIG"), "config file (yaml or json)")
	watch := fs.Duration("watch", 3*time.Second, "config reload poll interval, 0 disables")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfgManager, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(stderr, "error: load config: %v\n", err)
		return 1
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage setup failed", "driver", cfg.Storage.Driver, "err", err)
		return 1
	}
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = store.Init(initCtx)
	cancel()
	if err != nil {
		logger.Error("storage init failed", "driver", cfg.Storage.Driver, "err", err)
		_ = store.Close()
		return 1
	}
	if cfg.Storage.Enabled {
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	collector := metrics.NewCollector()
	eng := engine.NewEngine(cfg, engine.Deps{
		Logger:    logger,
		Store:     store,
		Publisher: publish.New(cfg.Publish, logger),
		Metrics:   metrics.NewStore(cfg.Metrics.StoreLimit),
		Collector: collector,
		Audit:     audit.NewStore(cfg.Audit.StoreLimit),
	})
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("shutdown", "err", err)
		}
	}()

	if *watch > 0 {
		go cfgManager.Watch(ctx, *watch, func(next *config.Config) {
			eng.UpdateConfig(next)
			logger.Info("config reloaded", "path", cfgManager.Path())
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		})
	}

	server := api.Start(ctx, cfgManager, eng, logger, api.Options{
		Version:   version,
		Collector: collector,
		AccessLog: os.Stdout,
	})
	if server == nil {
		logger.Warn("api disabled, nothing to serve")
		return 1
	}
	logger.Info("oeetrack started", "version", version)
	<-ctx.Done()
	logger.Info("oeetrack stopping")
	return 0
}

// overrideFlags collects repeated -override id=ACTION values.
type overrideFlags []overrides.Entry

func (o *overrideFlags) String() string {
	parts := make([]string, 0, len(*o))
	for _, e := range *o {
		parts = append(parts, e.ChannelID+"="+string(e.Action))
	}
	return strings.Join(parts, ",")
}

func (o *overrideFlags) Set(value string) error {
	id, name, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(id) == "" {
		return errors.New("expected channel=ACTION")
	}
	action, err := overrides.ParseAction(name)
	if err != nil {
		return err
	}
	*o = append(*o, overrides.Entry{ChannelID: strings.TrimSpace(id), Action: action})
	return nil
}

func runReport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	now := time.Now()
	configPath := fs.String("config", "", "config file (yaml or json)")
	file := fs.String("file", "", "usage workbook, csv or json export")
	year := fs.Int("year", now.Year(), "year under analysis")
	month := fs.Int("month", int(now.Month()), "month under analysis (1-12)")
	requested := fs.Float64("requested", 0, "tests requested")
	executed := fs.Float64("executed", 0, "tests executed")
	emitted := fs.Float64("emitted", 0, "reports emitted")
	onTime := fs.Float64("on-time", 0, "reports delivered on time")
	capacity := fs.Int("capacity", 0, "total channel capacity (default from config)")
	fixedSlots := fs.Int("fixed-slots", -1, "fixed slot limit, 0 demotes every channel in use (default from config)")
	jsonOutput := fs.Bool("json", false, "print the aggregate as JSON")
	noColor := fs.Bool("no-color", false, "disable color styling")
	allChannels := fs.Bool("all", false, "show idle channels in the grid")
	var directives overrideFlags
	fs.Var(&directives, "override", "channel=ACTION, repeatable (FORCE_UP, FORCE_PAUSE, IGNORE, BONUS, ...)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(stderr, "error: -file is required")
		return 2
	}
	m, err := calendar.NewMonth(*year, *month)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	cfgManager, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(stderr, "error: load config: %v\n", err)
		return 1
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger("warn", "text", stderr)

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer f.Close()

	eng := engine.NewEngine(cfg, engine.Deps{Logger: logger})
	defer eng.Close()
	report := eng.IngestSource(*file, f, m)
	if !report.Success {
		fmt.Fprintf(stderr, "error: ingestion failed: %s\n", report.Reason)
		return 1
	}
	for _, d := range directives {
		if _, err := eng.SetOverride(d.ChannelID, d.Action); err != nil {
			fmt.Fprintf(stderr, "error: override %s: %v\n", d.ChannelID, err)
			return 2
		}
	}
	inputs := model.KPIInputs{
		Year:           *year,
		Month:          *month,
		TestsRequested: *requested,
		TestsExecuted:  *executed,
		ReportsEmitted: *emitted,
		ReportsOnTime:  *onTime,
		TotalCapacity:  *capacity,
	}
	if *fixedSlots >= 0 {
		inputs.FixedSlotLimit = fixedSlots
	}
	agg, err := eng.Calculate(inputs)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(agg); err != nil {
			fmt.Fprintf(stderr, "error: failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintln(stdout, render.Report(agg, render.Options{NoColor: *noColor, AllChannels: *allChannels}))
	return 0
}
