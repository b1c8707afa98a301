// Package main is the entry point for the trade gateway: a single
// binary wiring configuration, the order store, the broker client, and
// the HTTP surface together, replacing the teacher's
// engine/dashboard/daily-stats/clear-trades split (this gateway has one
// job, not four).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nitinkhare/tradegateway/internal/broker"
	"github.com/nitinkhare/tradegateway/internal/config"
	"github.com/nitinkhare/tradegateway/internal/httpapi"
	"github.com/nitinkhare/tradegateway/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	envPath := flag.String("env", ".env", "path to .env file layered onto the config")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	logger := log.New(os.Stdout, "[gateway] ", log.LstdFlags|log.Lshortfile)

	cfg := config.NewManager(log.New(os.Stdout, "[config] ", log.LstdFlags))
	if err := cfg.Load(*configPath, *envPath, false); err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	config.WarnOnRestartRequired(cfg, log.New(os.Stdout, "[config] ", log.LstdFlags))

	brokerName := cfg.GetString("broker.name", "")
	brokerCfgJSON, err := json.Marshal(cfg.Get("brokers."+brokerName, map[string]interface{}{}))
	if err != nil {
		logger.Fatalf("failed to marshal broker config: %v", err)
	}
	brk, err := broker.New(brokerName, brokerCfgJSON)
	if err != nil {
		logger.Fatalf("failed to initialize broker: %v", err)
	}
	logger.Printf("broker %s initialized", brk.Name())

	st, closeStore := openStore(cfg, logger)
	defer closeStore()

	if dbURL := cfg.GetString("database.connection_string", ""); dbURL != "" {
		notifier := config.NewNotifier(dbURL, cfg, log.New(os.Stdout, "[config] ", log.LstdFlags))
		cfg.SetNotifier(notifier)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		notifier.Listen(ctx)
	}

	server := httpapi.NewServer(cfg, st, brk, logger)
	server.Start(*addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown error: %v", err)
	}
	logger.Println("gateway stopped")
}

// openStore picks MemoryStore or PostgresStore by whether
// database.connection_string is configured, so the gateway runs
// locally with no database for development and tests.
func openStore(cfg *config.Manager, logger *log.Logger) (store.Store, func()) {
	dbURL := cfg.GetString("database.connection_string", "")
	if dbURL == "" {
		logger.Println("database.connection_string not set, using in-memory store")
		st := store.NewMemoryStore()
		return st, func() { st.Close() }
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := store.NewPostgresStore(ctx, dbURL)
	if err != nil {
		logger.Fatalf("failed to connect to postgres store: %v", err)
	}
	return st, func() { st.Close() }
}
