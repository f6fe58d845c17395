/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Gift Aid engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, environment, defaults)
  2. Initialize SQLite store
  3. Seed the basic tax rate on first run
  4. Create the Gift Aid service and API handler
  5. Start the reconciliation scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: config.yaml if present)
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with defaults
  ./server

  # Run with in-memory database on another port
  GIFTAID_SERVER_PORT=3000 ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/giftaid/api"
	"github.com/warp/giftaid/config"
	"github.com/warp/giftaid/giftaid"
	"github.com/warp/giftaid/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Path to config file")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	if err := seedTaxRate(context.Background(), store, cfg.DefaultBasicTaxRate); err != nil {
		log.Fatalf("Failed to seed settings: %v", err)
	}

	// Initialize service and handler
	svc := giftaid.NewService(store)
	if cfg.OnlineSubmission {
		svc.Submissions = store
	}
	handler := api.NewHandler(store, svc)

	// Create router
	router := api.NewRouter(handler)

	// Background reconciliation
	scheduler := api.NewReconciliationScheduler(svc)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Limit = cfg.SchedulerLimit
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		log.Printf("API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// seedTaxRate stores the configured basic tax rate unless one is set.
func seedTaxRate(ctx context.Context, store *sqlite.Store, rate string) error {
	if rate == "" {
		return nil
	}
	if _, ok, err := store.GetSetting(ctx, giftaid.SettingBasicTaxRate); err != nil || ok {
		return err
	}
	normalized, err := giftaid.NormalizeSetting(giftaid.SettingBasicTaxRate, rate)
	if err != nil {
		return err
	}
	log.Printf("[Config] Seeding %s = %s", giftaid.SettingBasicTaxRate, normalized)
	return store.SetSetting(ctx, giftaid.SettingBasicTaxRate, normalized)
}
