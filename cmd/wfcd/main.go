// Command wfcd serves wave function collapse sessions over WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lawnchairsociety/wavefront/internal/config"
	"github.com/lawnchairsociety/wavefront/internal/database"
	"github.com/lawnchairsociety/wavefront/internal/logger"
	"github.com/lawnchairsociety/wavefront/internal/server"
)

const shutdownTimeout = 10 * time.Second

// options holds the command-line flags.
type options struct {
	configFile    string
	loggingConfig string
	dbFile        string
	addr          string
	noRegistry    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "data/wfcd.yaml", "Path to server config YAML file")
	flag.StringVar(&opts.loggingConfig, "logging", "data/logging.yaml", "Path to logging config YAML file")
	flag.StringVar(&opts.dbFile, "db", "", "Path to SQLite registry file (overrides database.sqlite_path)")
	flag.StringVar(&opts.addr, "addr", "", "Listen address (overrides listen.address)")
	flag.BoolVar(&opts.noRegistry, "no-registry", false, "Run without a session registry")
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// run returns only after its deferred closes have run
	if err := run(opts, sigChan); err != nil {
		log.Printf("wfcd: %v", err)
		os.Exit(1)
	}
}

func run(opts options, sigChan <-chan os.Signal) error {
	// Initialize logger first (before any logging)
	logConfig, err := logger.LoadConfig(opts.loggingConfig)
	if err != nil {
		log.Printf("Failed to load logging config, using defaults: %v", err)
	}
	logCloser, err := logger.Initialize(logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logCloser.Close()

	logger.Always("Starting wfcd")

	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		logger.Warning("Failed to load server config, using defaults", "path", opts.configFile, "error", err)
	}
	if opts.addr != "" {
		cfg.Listen.Address = opts.addr
	}
	if opts.dbFile != "" {
		cfg.Database.Driver = string(database.DialectSQLite)
		cfg.Database.SQLitePath = opts.dbFile
	}

	if len(cfg.WebSocket.AllowedOrigins) == 0 {
		logger.Info("WebSocket CORS policy", "mode", "same-origin")
	} else if len(cfg.WebSocket.AllowedOrigins) == 1 && cfg.WebSocket.AllowedOrigins[0] == "*" {
		logger.Warning("WebSocket CORS allows all origins (not recommended for production)")
	} else {
		logger.Info("WebSocket CORS policy", "allowed_origins", cfg.WebSocket.AllowedOrigins)
	}

	// A nil *Database must not reach the server as a non-nil Registry
	var registry server.Registry
	if !opts.noRegistry {
		db, err := openRegistry(cfg.Database)
		if err != nil {
			logger.Error("Failed to open session registry", "driver", cfg.Database.Driver, "error", err)
			return err
		}
		defer db.Close()
		registry = db
	} else {
		logger.Info("Session registry disabled")
	}

	srv := server.NewServer(cfg, registry)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Always("wfcd running", "address", cfg.Listen.Address)

	select {
	case sig := <-sigChan:
		logger.Always("Shutting down server", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warning("Shutdown did not complete cleanly", "error", err)
	}
	logger.Always("Server stopped")
	return nil
}

// openRegistry opens the session registry and closes sessions a previous
// process left active.
func openRegistry(cfg database.Config) (*database.Database, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	closed, err := db.CloseStale(ctx)
	if err != nil {
		logger.Warning("Failed to close stale sessions", "error", err)
	} else if closed > 0 {
		logger.Info("Closed sessions left over from previous run", "count", closed)
	}

	logger.Info("Session registry opened", "driver", db.Dialect().DriverName())
	return db, nil
}
