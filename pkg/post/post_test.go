package post

import (
	"context"
	"path/filepath"
	"testing"
)

func TestRunExecutesAllScripts(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "geo.db")
	if err := Run(context.Background(), dbPath, Options{}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRunOnlyCleanup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "geo.db")
	if err := Run(context.Background(), dbPath, Options{OnlyCleanup: true}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRunNoCleanup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "geo.db")
	if err := Run(context.Background(), dbPath, Options{NoCleanup: true}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRunRejectsConflictingFlags(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "geo.db")
	err := Run(context.Background(), dbPath, Options{OnlyCleanup: true, NoCleanup: true})
	if err == nil {
		t.Fatal("expected an error for mutually exclusive flags")
	}
}
