package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/app"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/models"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	showVersion = flag.Bool("version", false, "Print version information")

	// One-shot sync: -tenant plus -platforms runs a single sync and exits.
	// Without them the process stays up serving scheduled syncs.
	syncTenant    = flag.String("tenant", "", "Run one sync for this tenant and exit")
	syncPlatforms = flag.String("platforms", "", "Comma-separated platform keys for the one-shot sync (default: all configured)")
	syncDays      = flag.Int("days", 7, "Date range for the one-shot sync, counted back from today")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("FleetSync version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Auto-discover config when not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("fleetsync.toml"); err == nil {
			configFiles = append(configFiles, "fleetsync.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("environment", config.Environment).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	if *syncTenant != "" {
		os.Exit(runOneShot(application, logger))
	}

	logger.Info().Msg("FleetSync ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received, shutting down")
}

// runOneShot executes a single sync and maps its status to an exit code
func runOneShot(application *app.App, logger arbor.ILogger) int {
	platforms := application.Registry.Keys()
	if *syncPlatforms != "" {
		platforms = platforms[:0]
		for _, key := range strings.Split(*syncPlatforms, ",") {
			if trimmed := strings.TrimSpace(key); trimmed != "" {
				platforms = append(platforms, trimmed)
			}
		}
	}
	if len(platforms) == 0 {
		logger.Error().Msg("No platforms configured for sync")
		return 1
	}

	exec, err := application.Orchestrator.RunSync(
		context.Background(),
		*syncTenant,
		platforms,
		models.LastDays(*syncDays),
	)
	if err != nil {
		logger.Error().Err(err).Msg("Sync failed to run")
		return 1
	}

	for _, result := range exec.Results {
		evt := logger.Info()
		if result.Outcome == models.OutcomeFailed {
			evt = logger.Error()
		}
		evt.
			Str("platform", result.Platform).
			Str("outcome", string(result.Outcome)).
			Str("error", result.Error).
			Int("rows", result.RowCount).
			Int("inserted", result.Inserted).
			Int("updated", result.Updated).
			Int("unmatched", result.Unmatched).
			Msg("Platform result")
	}

	logger.Info().
		Str("execution_id", exec.ID).
		Str("status", string(exec.Status)).
		Msg("Sync finished")

	switch exec.Status {
	case models.SyncSuccess:
		return 0
	case models.SyncPartial, models.SyncRunning:
		return 2
	default:
		return 1
	}
}
