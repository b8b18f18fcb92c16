package commands

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/jmapd/internal/logger"
	"github.com/marmos91/jmapd/pkg/config"
	"github.com/marmos91/jmapd/pkg/jmap"
	"github.com/marmos91/jmapd/pkg/jmap/api"
	"github.com/marmos91/jmapd/pkg/jmap/methods"
	"github.com/marmos91/jmapd/pkg/jmap/store"
)

// accountHeader selects the request's default account. The builtin
// server has no authentication layer; deployments put one in front or
// embed the engine with their own ContextConfigurer.
const accountHeader = "X-Jmap-Account"

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the jmapd server",
	Long: `Start the jmapd server.

The server loads its configuration from the default location or the
file given with --config, opens the database, migrates the registered
record classes, and serves JMAP over HTTP until interrupted.

Examples:
  # Start with default config location
  jmapd start

  # Start with custom config
  jmapd start --config /etc/jmapd/config.yaml

  # Use environment variables to override config
  JMAPD_LOGGING_LEVEL=DEBUG jmapd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("jmapd starting", "version", Version)
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	conn, err := store.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	logger.Info("Database opened", "type", cfg.Database.Type)

	reg := builtinRegistry()
	engine, err := methods.NewEngine(conn, reg)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	logger.Info("Engine initialized", "types", len(reg.Classes()))

	if !cfg.API.Enabled {
		return fmt.Errorf("api.enabled is false; nothing to serve")
	}

	configure := func(r *http.Request, c *jmap.Context) {
		if account := r.Header.Get(accountHeader); account != "" {
			c.AccountID = account
		}
	}
	server := api.NewServer(cfg.API, engine, configure)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Server is running. Press Ctrl+C to stop.")
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("Server stopped gracefully")
	return nil
}
