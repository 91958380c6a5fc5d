// Citasync is a daemon and CLI that queues appointment mutations locally and
// synchronises them with a remote appointment API whenever connectivity
// allows, using a local-first offline queue.
//
// Usage:
//
//	citasync daemon [--config <path>]     # connectivity polling + auto-sync
//	citasync sync-once [--config ...]     # single sync pass then exit
//	citasync retry [--config ...]         # reset errored records and sync
//	citasync add [--config ...] <flags>   # queue an appointment creation
//	citasync list [--config ...]          # show queued records and stats
//	citasync clear [--all] [--config ...] # purge synced (or all) records
//	citasync status                       # show config & queue state
//	citasync version                      # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avaldes/citasync/internal/config"
	"github.com/avaldes/citasync/internal/connectivity"
	"github.com/avaldes/citasync/internal/model"
	"github.com/avaldes/citasync/internal/queue"
	"github.com/avaldes/citasync/internal/remote"
	"github.com/avaldes/citasync/internal/store"
	syncp "github.com/avaldes/citasync/internal/sync"
	"github.com/avaldes/citasync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "retry":
		return runRetry(os.Args[2:])
	case "add":
		return runAdd(os.Args[2:])
	case "list":
		return runList(os.Args[2:])
	case "clear":
		return runClear(os.Args[2:])
	case "status":
		return runStatus()
	case "version":
		fmt.Println("citasync", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'citasync' for usage", cmd)
	}
}

// printUsage shows help and hints at the config location.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "Citasync — offline-first appointment sync")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  citasync daemon [--config ...]        Poll connectivity and auto-sync")
	fmt.Fprintln(os.Stderr, "  citasync sync-once [--config ...]     Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  citasync retry [--config ...]         Reset errored records and sync")
	fmt.Fprintln(os.Stderr, "  citasync add [--config ...] <flags>   Queue an appointment creation")
	fmt.Fprintln(os.Stderr, "  citasync list [--config ...]          Show queued records and stats")
	fmt.Fprintln(os.Stderr, "  citasync clear [--all] [--config ..]  Purge synced (or all) records")
	fmt.Fprintln(os.Stderr, "  citasync status                       Show config & queue state")
	fmt.Fprintln(os.Stderr, "  citasync version                      Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found at %s.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// syncFlags holds the flags shared by every subcommand that touches the queue.
type syncFlags struct {
	cfgPath string
	verbose bool
}

func parseSyncFlags(name string, args []string, extra func(*flag.FlagSet)) (*syncFlags, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	sf := &syncFlags{}
	fs.StringVar(&sf.cfgPath, "config", defaultCfg, "path to config.yaml")
	fs.BoolVar(&sf.verbose, "verbose", false, "enable debug logging")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return sf, nil
}

// newLogger installs a text slog handler at the requested level.
func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

// openQueue opens the queue store for cfg and returns the repository plus the
// store handle the caller must close.
func openQueue(cfg *config.Config, logger *slog.Logger) (*queue.Repository, *store.SQLite, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolving queue DB path: %w", err)
		}
	}
	kv, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening queue DB at %q: %w", dbPath, err)
	}
	logger.Debug("queue DB opened", "path", dbPath)
	return queue.NewRepository(kv, logger), kv, nil
}

// --- Subcommands -------------------------------------------------------------

// runSync handles both "daemon" and "sync-once".
func runSync(args []string, daemon bool) error {
	sf, err := parseSyncFlags("sync", args, nil)
	if err != nil {
		return err
	}
	return startSync(sf.cfgPath, sf.verbose, daemon, false)
}

// runRetry resets errored records to pending and runs one sync pass.
func runRetry(args []string) error {
	sf, err := parseSyncFlags("retry", args, nil)
	if err != nil {
		return err
	}
	return startSync(sf.cfgPath, sf.verbose, false, true)
}

// runAdd queues an appointment creation without touching the network.
func runAdd(args []string) error {
	var appt model.Appointment
	sf, err := parseSyncFlags("add", args, func(fs *flag.FlagSet) {
		fs.StringVar(&appt.Patient, "patient", "", "patient name (required)")
		fs.StringVar(&appt.Doctor, "doctor", "", "doctor name (required)")
		fs.StringVar(&appt.Date, "date", "", "appointment date, YYYY-MM-DD (required)")
		fs.StringVar(&appt.Time, "time", "", "appointment time, HH:MM (required)")
		fs.StringVar(&appt.Phone, "phone", "", "contact phone")
		fs.StringVar(&appt.Email, "email", "", "contact email")
		fs.StringVar(&appt.Observations, "notes", "", "free-form notes")
	})
	if err != nil {
		return err
	}
	if appt.Patient == "" || appt.Doctor == "" || appt.Date == "" || appt.Time == "" {
		return fmt.Errorf("--patient, --doctor, --date and --time are required")
	}

	logger := newLogger(sf.verbose)
	cfg, err := config.Load(sf.cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", sf.cfgPath, err)
	}

	repo, kv, err := openQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	rec, err := repo.Save(ctx, appt.Sanitized(), model.OpCreate)
	if err != nil {
		return fmt.Errorf("queueing appointment: %w", err)
	}
	fmt.Printf("queued %s (%s %s with %s)\n", rec.LocalID, rec.Date, rec.Time, rec.Doctor)
	return nil
}

// runList prints every queued record plus aggregate stats.
func runList(args []string) error {
	sf, err := parseSyncFlags("list", args, nil)
	if err != nil {
		return err
	}

	logger := newLogger(sf.verbose)
	cfg, err := config.Load(sf.cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", sf.cfgPath, err)
	}

	repo, kv, err := openQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	records := repo.ListAll(ctx)
	if len(records) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	for _, rec := range records {
		line := fmt.Sprintf("%s  %-6s  %-7s  %s %s  %s / %s",
			rec.LocalID, rec.Operation, rec.SyncStatus, rec.Date, rec.Time, rec.Patient, rec.Doctor)
		if rec.ServerID != "" {
			line += "  server=" + rec.ServerID
		}
		if rec.Error != "" {
			line += "  error=" + rec.Error
		}
		fmt.Println(line)
	}

	stats := repo.Stats(ctx)
	fmt.Printf("\n%d total: %d pending, %d syncing, %d synced, %d error\n",
		stats.Total, stats.Pending, stats.Syncing, stats.Synced, stats.Error)
	if last, ok := repo.LastSyncTime(ctx); ok {
		fmt.Printf("last sync: %s\n", last.Local().Format(time.RFC3339))
	}
	return nil
}

// runClear purges synced records, or the whole queue with --all.
func runClear(args []string) error {
	var all bool
	sf, err := parseSyncFlags("clear", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&all, "all", false, "remove every record and sync marker, not just synced ones")
	})
	if err != nil {
		return err
	}

	logger := newLogger(sf.verbose)
	cfg, err := config.Load(sf.cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", sf.cfgPath, err)
	}

	repo, kv, err := openQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if all {
		if err := repo.ClearAll(ctx); err != nil {
			return fmt.Errorf("clearing queue: %w", err)
		}
		fmt.Println("queue cleared")
		return nil
	}
	if err := repo.ClearSynced(ctx); err != nil {
		return fmt.Errorf("clearing synced records: %w", err)
	}
	fmt.Println("synced records cleared")
	return nil
}

// runStatus prints the current configuration and queue state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("Citasync Status")
	fmt.Println("───────────────")

	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err == nil {
		var loadErr error
		if cfg, loadErr = config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:    %s ✓\n", cfgPath)
			fmt.Printf("  API URL:   %s\n", cfg.APIURL)
			fmt.Printf("  Poll:      %s\n", cfg.PollInterval)
			fmt.Printf("  Auto-sync: %v\n", cfg.AutoSyncEnabled())
		} else {
			fmt.Printf("  Config:    %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:    not found (%s)\n", cfgPath)
	}

	dbPath := ""
	if cfg != nil && cfg.DBPath != "" {
		dbPath = cfg.DBPath
	} else {
		dbPath, _ = store.DefaultDBPath()
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Println("  Queue DB:  not found")
		return nil
	}
	fmt.Printf("  Queue DB:  %s (%s)\n", dbPath, humanSize(info.Size()))

	// Queue stats need an openable DB; degrade quietly if it is locked.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	kv, err := store.Open(dbPath)
	if err != nil {
		fmt.Printf("  Queue:     unavailable (%v)\n", err)
		return nil
	}
	defer kv.Close()

	repo := queue.NewRepository(kv, logger)
	ctx := context.Background()
	stats := repo.Stats(ctx)
	fmt.Printf("  Queue:     %d total, %d pending, %d error\n", stats.Total, stats.Pending, stats.Error)
	if last, ok := repo.LastSyncTime(ctx); ok {
		fmt.Printf("  Last sync: %s\n", last.Local().Format(time.RFC3339))
	} else {
		fmt.Println("  Last sync: never")
	}
	return nil
}

// --- Sync core ---------------------------------------------------------------

// startSync is the shared implementation for daemon, sync-once, and retry.
func startSync(cfgPath string, verbose, daemon, retry bool) error {
	logger := newLogger(verbose)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"api_url", cfg.APIURL,
		"poll_interval", cfg.PollInterval,
		"auto_sync", cfg.AutoSyncEnabled(),
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Queue store ---------------------------------------------------------

	repo, kv, err := openQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := kv.Close(); closeErr != nil {
			logger.Error("closing queue DB", "error", closeErr)
		}
	}()

	// --- Remote API client ---------------------------------------------------

	client, err := remote.NewClient(cfg.APIURL, cfg.APIToken, cfg.RequestTimeout, logger)
	if err != nil {
		return fmt.Errorf("initialising API client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Engine & orchestrator -----------------------------------------------

	engine := syncp.NewEngine(repo, client, logger)
	orch := syncp.NewOrchestrator(engine, repo, logger,
		syncp.WithAutoSync(daemon && cfg.AutoSyncEnabled()),
	)
	orch.Refresh(ctx)

	// --- One-shot modes ------------------------------------------------------

	if !daemon {
		logger.Info("pinging appointment API…", "url", cfg.APIURL)
		if err := remote.Retry(ctx, remote.DefaultMaxAttempts, func() error {
			return client.Ping(ctx)
		}); err != nil {
			return fmt.Errorf("connecting to appointment API at %q: %w\n\nCheck api_url and api_token in your config file", cfg.APIURL, err)
		}

		var result model.SyncResult
		if retry {
			logger.Info("retrying errored records")
			result = orch.RetrySync(ctx)
		} else {
			logger.Info("running single sync pass")
			result = orch.SyncNow(ctx)
		}
		logger.Info("sync complete",
			"success", result.Success,
			"synced", result.SyncedCount,
			"errors", result.ErrorCount,
		)
		for _, se := range result.Errors {
			logger.Warn("record failed", "local_id", se.LocalID, "error", se.Message)
		}
		if !result.Success {
			return fmt.Errorf("%d record(s) failed to sync", result.ErrorCount)
		}
		return nil
	}

	// --- Daemon mode ---------------------------------------------------------

	prober := connectivity.NewHTTPProber(cfg.ProbeURL, cfg.RequestTimeout)
	monitor := connectivity.NewMonitor(prober, cfg.PollInterval, logger)
	monitor.Subscribe(func(status connectivity.Status) {
		orch.HandleConnectivityChange(ctx, status)
	})

	logger.Info("daemon starting", "poll_interval", cfg.PollInterval, "probe_url", cfg.ProbeURL)
	if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("connectivity monitor: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
