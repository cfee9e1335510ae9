package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lawnchairsociety/wavefront/internal/database"
)

func testOptions(t *testing.T) options {
	t.Helper()
	dir := t.TempDir()
	return options{
		configFile:    filepath.Join(dir, "missing.yaml"),
		loggingConfig: filepath.Join(dir, "missing-logging.yaml"),
		dbFile:        filepath.Join(dir, "wfcd.db"),
		addr:          "127.0.0.1:0",
	}
}

func TestRunStopsOnSignal(t *testing.T) {
	opts := testOptions(t)

	// A session left active by a previous process
	db, err := database.OpenSQLite(opts.dbFile)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	if err := db.CreateSession(context.Background(), &database.Session{ID: "left-over", Fingerprint: "f"}); err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	db.Close()

	sig := make(chan os.Signal, 1)
	sig <- os.Interrupt

	done := make(chan error, 1)
	go func() { done <- run(opts, sig) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after a signal")
	}

	db, err = database.OpenSQLite(opts.dbFile)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer db.Close()

	s, err := db.GetSession(context.Background(), "left-over")
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	if s.Status != database.SessionClosed {
		t.Errorf("Status = %q, want %q", s.Status, database.SessionClosed)
	}
}

func TestRunReturnsListenError(t *testing.T) {
	opts := testOptions(t)
	opts.addr = "127.0.0.1:-1"

	done := make(chan error, 1)
	go func() { done <- run(opts, make(chan os.Signal)) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("run() error = nil, want listen error")
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return on a listen error")
	}

	// The registry was opened before the listener failed
	db, err := database.OpenSQLite(opts.dbFile)
	if err != nil {
		t.Fatalf("OpenSQLite() after failed run: %v", err)
	}
	db.Close()
}

func TestRunRegistryError(t *testing.T) {
	opts := testOptions(t)

	// A directory where the database file should be
	if err := os.Mkdir(opts.dbFile, 0755); err != nil {
		t.Fatal(err)
	}

	if err := run(opts, make(chan os.Signal)); err == nil {
		t.Error("run() error = nil, want registry open error")
	}
}
