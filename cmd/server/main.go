/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the punch clock reconciliation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (YAML, .env, PUNCHCLOCK_* variables, flags)
  3. Initialize SQLite store
  4. Apply the seed file, if any
  5. Create API handler and the optional reconciliation scheduler
  6. Configure HTTP router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML configuration file (default: punchclock.yaml, optional)
  -env     .env file (default: .env, optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database
  -seed    Seed file (YAML or JSON) applied at startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/punchclock.db"

  # Run with in-memory database and demo configuration
  ./server -db=":memory:" -seed=seed.yaml

  # Reconcile every 15 minutes
  PUNCHCLOCK_SCHEDULER=1 PUNCHCLOCK_SCHEDULER_INTERVAL=15m ./server

SEE ALSO:
  - config/config.go: Configuration sources and precedence
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/punchclock/api"
	"github.com/warp/punchclock/config"
	"github.com/warp/punchclock/factory"
	"github.com/warp/punchclock/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "punchclock.yaml", "YAML configuration file")
	envFile := flag.String("env", ".env", "Environment file")
	port := flag.String("port", "", "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	seedPath := flag.String("seed", "", "Seed file applied at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *seedPath != "" {
		cfg.SeedFile = *seedPath
	}
	logger := cfg.Logger

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	if cfg.SeedFile != "" {
		seed, err := factory.LoadFile(cfg.SeedFile)
		if err != nil {
			logger.Fatalf("Failed to load seed: %v", err)
		}
		counts, err := seed.Apply(context.Background(), store)
		if err != nil {
			logger.Fatalf("Failed to apply seed: %v", err)
		}
		logger.Printf("Seeded tenant %s: %d schedules, %d assignments, %d holidays, %d employees, %d devices",
			seed.TenantID, counts.Schedules, counts.Assignments, counts.Holidays, counts.Employees, counts.Devices)
	}

	// Initialize handler
	handler := api.NewHandler(store, cfg)

	if cfg.Scheduler.Enabled {
		scheduler := api.NewReconciliationScheduler(handler.Engine, cfg.SchedulerTenants())
		scheduler.CheckInterval = cfg.Scheduler.Interval
		scheduler.Logger = logger
		handler.Scheduler = scheduler
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Create router
	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Printf("Server starting on http://localhost:%s", cfg.Port)
		logger.Printf("API available at http://localhost:%s/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Println("Shutting down server...")
	if handler.Scheduler != nil {
		handler.Scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("Server forced to shutdown: %v", err)
	}

	logger.Println("Server stopped")
}
