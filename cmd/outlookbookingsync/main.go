// Outlookbookingsync keeps a booking system and remote calendar bridges in
// step: it propagates reservations outward, imports foreign events, and
// maintains the durable mapping between the two sides.
//
// Usage:
//
//	outlookbookingsync daemon [--config <path>]     # scheduled sync loop (+ optional HTTP API)
//	outlookbookingsync sync-once [--config <path>]  # single full pass then exit
//	outlookbookingsync populate [--config <path>]   # create pending mappings for unmapped reservations
//	outlookbookingsync cleanup [--config <path>]    # remove orphaned mappings, re-queue errors
//	outlookbookingsync status [--config <path>]     # show bridge health and pending counts
//	outlookbookingsync version                      # print version
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PorticoEstate/outlookbookingsync/internal/api"
	"github.com/PorticoEstate/outlookbookingsync/internal/bridge"
	"github.com/PorticoEstate/outlookbookingsync/internal/bridge/booking"
	"github.com/PorticoEstate/outlookbookingsync/internal/bridge/ics"
	"github.com/PorticoEstate/outlookbookingsync/internal/config"
	"github.com/PorticoEstate/outlookbookingsync/internal/mapping"
	"github.com/PorticoEstate/outlookbookingsync/internal/reservation"
	"github.com/PorticoEstate/outlookbookingsync/internal/store"
	syncp "github.com/PorticoEstate/outlookbookingsync/internal/sync"
	"github.com/PorticoEstate/outlookbookingsync/internal/telemetry"
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
	case "populate":
		return runPopulate(os.Args[2:])
	case "cleanup":
		return runCleanup(os.Args[2:])
	case "status":
		return runStatus(os.Args[2:])
	case "version":
		fmt.Println("outlookbookingsync", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'outlookbookingsync' for usage", cmd)
	}
}

func printUsage() error {
	fmt.Fprintln(os.Stderr, "outlookbookingsync: sync booking reservations with remote calendars")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  outlookbookingsync daemon [--config ...]     Run the scheduled sync loop")
	fmt.Fprintln(os.Stderr, "  outlookbookingsync sync-once [--config ...]  Single full pass then exit")
	fmt.Fprintln(os.Stderr, "  outlookbookingsync populate [--config ...]   Create pending mappings for unmapped reservations")
	fmt.Fprintln(os.Stderr, "  outlookbookingsync cleanup [--config ...]    Remove orphaned mappings, re-queue errors")
	fmt.Fprintln(os.Stderr, "  outlookbookingsync status [--config ...]     Show bridge health and pending counts")
	fmt.Fprintln(os.Stderr, "  outlookbookingsync version                   Print version")
	os.Exit(1)
	return nil // unreachable
}

// parseCommon handles the flags shared by every subcommand and loads the
// configuration.
func parseCommon(name string, args []string) (*config.Config, *slog.Logger, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// app groups the wired components plus their teardown.
type app struct {
	store        *store.Store
	bookingDB    *reservation.DB
	registry     *bridge.Registry
	service      *mapping.Service
	orchestrator *syncp.Orchestrator
	sweeper      *syncp.Sweeper
	engine       *syncp.Engine
}

func (a *app) close() {
	if a.bookingDB != nil {
		_ = a.bookingDB.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// buildApp opens the databases and wires the registry, mapping service, and
// sync components from the configuration.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	mappingPath := cfg.MappingDB
	if mappingPath == "" {
		var err error
		mappingPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}

	st, err := store.Open(mappingPath)
	if err != nil {
		return nil, fmt.Errorf("opening mapping store: %w", err)
	}

	bookingDB, err := reservation.Open(cfg.BookingDB)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("opening booking database: %w", err)
	}

	service := mapping.NewService(bookingDB, st, mapping.Options{
		Location:               cfg.Location(),
		FallbackOrganizerEmail: cfg.Events.FallbackOrganizerEmail,
		TitleMaxLength:         cfg.Events.TitleMaxLength,
	}, logger)

	registry := bridge.NewRegistry()
	for name, bc := range cfg.Bridges {
		switch bc.Type {
		case "ics":
			if err := registry.Register(name, ics.Factory, bc.Settings); err != nil {
				return nil, err
			}
		case "booking":
			if err := booking.Register(registry, name, service); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: bridge %q has unknown type %q", bridge.ErrConfiguration, name, bc.Type)
		}
	}

	orchestrator := syncp.NewOrchestrator(registry, st, logger)

	var sweeper *syncp.Sweeper
	if cfg.Sync.RemoteBridge != "" {
		sweeper = syncp.NewSweeper(service, registry, cfg.Sync.RemoteBridge, logger)
	}

	requests := make([]syncp.Request, 0, len(cfg.Sync.Jobs))
	for _, job := range cfg.Sync.Jobs {
		requests = append(requests, syncp.Request{
			SourceBridge:     job.SourceBridge,
			TargetBridge:     job.TargetBridge,
			SourceCalendarID: job.SourceCalendarID,
			TargetCalendarID: job.TargetCalendarID,
			Options: syncp.Options{
				HandleDeletions: job.HandleDeletions,
				SkipUpdates:     job.SkipUpdates,
			},
		})
	}

	engine := syncp.NewEngine(orchestrator, sweeper, service, requests,
		cfg.Sync.Window, cfg.Sync.PollInterval, cfg.Sync.Cron, logger)

	return &app{
		store:        st,
		bookingDB:    bookingDB,
		registry:     registry,
		service:      service,
		orchestrator: orchestrator,
		sweeper:      sweeper,
		engine:       engine,
	}, nil
}

// runSync handles both "daemon" and "sync-once".
func runSync(args []string, daemon bool) error {
	cfg, logger, err := parseCommon("sync", args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.Telemetry != nil {
		shutdown, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without", "error", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = shutdown(flushCtx)
		}()
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if !daemon {
		stats, err := a.engine.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("sync pass complete",
			"created", stats.Created,
			"updated", stats.Updated,
			"deleted", stats.Deleted,
			"skipped", stats.Skipped,
			"imported", stats.Imported,
			"errors", stats.Errors,
		)
		return nil
	}

	if cfg.HTTP != nil {
		srv := api.NewServer(a.registry, a.orchestrator, a.service, logger)
		go func() {
			if err := srv.Run(ctx, cfg.HTTP.Listen); err != nil {
				logger.Error("http api stopped", "error", err)
			}
		}()
		logger.Info("http api listening", "addr", cfg.HTTP.Listen)
	}

	err = a.engine.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

// runPopulate creates pending mapping rows for every unmapped reservation.
func runPopulate(args []string) error {
	cfg, logger, err := parseCommon("populate", args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.service.BulkPopulate(ctx, 0)
	if err != nil {
		return err
	}
	fmt.Printf("populated %d mapping(s), %d error(s)\n", result.Created, len(result.Errors))
	for _, e := range result.Errors {
		fmt.Printf("  %s/%d on resource %d: %s\n", e.ItemType, e.ItemID, e.ResourceID, e.Error)
	}
	return nil
}

// runCleanup removes orphaned mappings and re-queues errored ones.
func runCleanup(args []string) error {
	cfg, logger, err := parseCommon("cleanup", args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	cleaned, err := a.service.CleanupOrphans(ctx)
	if err != nil {
		return err
	}
	requeued, err := a.service.RequeueErrors(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d orphaned mapping(s), %d error(s), re-queued %d errored mapping(s)\n",
		cleaned.Deleted, len(cleaned.Errors), requeued)
	for _, e := range cleaned.Errors {
		fmt.Printf("  %s/%d on resource %d: %s\n", e.ItemType, e.ItemID, e.ResourceID, e.Error)
	}
	return nil
}

// runStatus prints bridge health and pending-mapping counts.
func runStatus(args []string) error {
	cfg, logger, err := parseCommon("status", args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Println("outlookbookingsync status")
	fmt.Println("─────────────────────────")

	for name, info := range a.registry.DescribeAll(ctx) {
		if info.Error != "" {
			fmt.Printf("  bridge %-12s error: %s\n", name+":", info.Error)
			continue
		}
		fmt.Printf("  bridge %-12s %s (%s)\n", name+":", info.Health.Status, info.Type)
	}

	pending, err := a.service.PendingSyncItems(ctx, 1000)
	if err != nil {
		return err
	}
	fmt.Printf("  pending:      %d mapping(s) awaiting sync\n", len(pending))

	bindings, err := a.service.ResourceBindings(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  resources:    %d linked to remote calendars\n", len(bindings))
	return nil
}
