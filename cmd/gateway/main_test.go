package main

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/nitinkhare/tradegateway/internal/config"
	"github.com/nitinkhare/tradegateway/internal/store"
)

func testConfig(t *testing.T, configJSON string) *config.Manager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}
	mgr := config.NewManager(nil)
	if err := mgr.Load(path, "", false); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return mgr
}

func TestOpenStore_FallsBackToMemoryWithoutConnectionString(t *testing.T) {
	cfg := testConfig(t, `{}`)
	logger := log.New(os.Stdout, "[test-gateway] ", log.LstdFlags)

	st, closeFn := openStore(cfg, logger)
	defer closeFn()

	if _, ok := st.(*store.MemoryStore); !ok {
		t.Fatalf("expected *store.MemoryStore, got %T", st)
	}
}
