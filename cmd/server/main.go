/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the batch lineage engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and optional TOML config file
  2. Configure logging
  3. Initialize SQLite store
  4. Seed reference data from a catalog file (optional)
  5. Wire the orchestrator and API handler
  6. Start the background archiver
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  TOML config file path (optional; explicit flags override
           values from the file)
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: batches.db)
           Use ":memory:" for in-memory database
  -catalog JSON catalog of size specs and locations to seed (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the background archiver
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/batches.db"

  # Run with a config file
  ./server -config=./config.toml

  # Run with in-memory database
  ./server -db=":memory:" -catalog=./catalog.json

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
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

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/verdant/batch-engine/api"
	"github.com/verdant/batch-engine/catalog"
	"github.com/verdant/batch-engine/lineage"
	"github.com/verdant/batch-engine/store/sqlite"
)

// Config is the TOML config file layout.
type Config struct {
	Port        int      `toml:"port"`
	DBPath      string   `toml:"db_path"`
	CatalogPath string   `toml:"catalog_path"`
	LogLevel    string   `toml:"log_level"`
	SweepOrgs   []string `toml:"sweep_orgs"`
	SweepEvery  duration `toml:"sweep_every"`
}

// duration lets TOML carry values like "15m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func loadConfig(path string) (Config, error) {
	cfg := Config{
		Port:       8080,
		DBPath:     "batches.db",
		LogLevel:   "info",
		SweepEvery: duration{1 * time.Hour},
	}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	// Flags
	configPath := flag.String("config", "", "TOML config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	catalogPath := flag.String("catalog", "", "JSON catalog file to seed reference data (overrides config)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *catalogPath != "" {
		cfg.CatalogPath = *catalogPath
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Seed reference data from the catalog file, if given. The store is
	// the runtime source of truth; the catalog just pre-populates it.
	if cfg.CatalogPath != "" {
		cat, err := catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			log.Fatalf("Failed to load catalog: %v", err)
		}
		ctx := context.Background()
		for _, spec := range cat.SizeSpecs() {
			if err := store.PutSizeSpec(ctx, spec); err != nil {
				log.Fatalf("Failed to seed size spec %s: %v", spec.ID, err)
			}
		}
		for _, loc := range cat.Locations() {
			if err := store.PutLocation(ctx, loc.ID, loc.Name); err != nil {
				log.Fatalf("Failed to seed location %s: %v", loc.ID, err)
			}
		}
	}

	// Wire the engine. The SQLite store serves both the transactional
	// stores and the reference-data catalogs.
	engine := lineage.NewOrchestrator(store, store, store, lineage.SystemClock{}, log)

	// Initialize handler and router
	handler := api.NewHandler(store, engine, log)
	router := api.NewRouter(handler)

	// Background archiver for empty growing batches
	orgs := make([]lineage.OrgID, len(cfg.SweepOrgs))
	for i, o := range cfg.SweepOrgs {
		orgs[i] = lineage.OrgID(o)
	}
	archiver := api.NewArchiver(store, engine, log, orgs...)
	archiver.SweepInterval = cfg.SweepEvery.Duration
	archiver.Enabled = len(orgs) > 0
	archiver.Start()
	defer archiver.Stop()

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
		log.Infof("Server starting on http://localhost:%d", cfg.Port)
		log.Infof("API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}
