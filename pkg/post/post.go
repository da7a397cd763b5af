// Package post runs the post-processing phase: an ordered sequence of SQL
// scripts that consolidate raw ingested facts into canonical per-city
// records. The scripts themselves are operational data — this package
// embeds placeholders and focuses on the driver: ordering, pragmas, a
// stuck-progress watchdog, and the --only-cleanup/--no-cleanup selection.
package post

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed scripts/*.sql
var scriptsFS embed.FS

//go:embed cleanup/*.sql
var cleanupFS embed.FS

// script names a named SQL script slot and the embedded file backing it.
type script struct {
	name string
	path string
	fs   embed.FS
}

// consolidationScripts run first, in order: native-label consolidation,
// subdivision attachment, per-country label fallback.
var consolidationScripts = []script{
	{"native_label_consolidation", "scripts/native_label_consolidation.sql", scriptsFS},
	{"subdivision_attachment", "scripts/subdivision_attachment.sql", scriptsFS},
	{"per_country_label_fallback", "scripts/per_country_label_fallback.sql", scriptsFS},
}

// cleanupScripts run last, after consolidation (unless skipped).
var cleanupScripts = []script{
	{"final_cleanup", "cleanup/final_cleanup.sql", cleanupFS},
}

// stuckTimeout is how long a single script may run after it starts before
// the driver treats it as hung and aborts.
const stuckTimeout = 10 * time.Second

// Options selects which script groups to run.
type Options struct {
	// OnlyCleanup runs just the cleanup scripts, skipping consolidation.
	OnlyCleanup bool
	// NoCleanup runs just the consolidation scripts, skipping cleanup.
	NoCleanup bool
}

// Run opens dbPath with the writer's WAL, synchronous and temp-store
// pragmas (not its cache size) and executes
// the selected script groups in order inside one connection, finishing
// with a VACUUM.
func Run(ctx context.Context, dbPath string, opts Options) error {
	if opts.OnlyCleanup && opts.NoCleanup {
		return fmt.Errorf("post: --only-cleanup and --no-cleanup are mutually exclusive")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("post: opening %s: %w", dbPath, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("post: applying %q: %w", p, err)
		}
	}

	var groups [][]script
	if !opts.OnlyCleanup {
		groups = append(groups, consolidationScripts)
	}
	if !opts.NoCleanup {
		groups = append(groups, cleanupScripts)
	}

	for _, group := range groups {
		for _, s := range group {
			if err := runScript(ctx, db, s); err != nil {
				return err
			}
		}
	}

	if _, err := db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("post: vacuum: %w", err)
	}
	return nil
}

// runScript executes one script in a goroutine and returns an error if it
// has not finished within stuckTimeout of starting (the only heartbeat is
// sent when execution begins) — a guard against a future real script that
// hangs mid-transformation.
func runScript(ctx context.Context, db *sql.DB, s script) error {
	body, err := s.fs.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("post: reading embedded script %s: %w", s.path, err)
	}

	heartbeat := make(chan struct{}, 1)
	done := make(chan error, 1)

	go func() {
		heartbeat <- struct{}{}
		_, err := db.ExecContext(ctx, string(body))
		done <- err
	}()

	start := time.Now()
	for {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("post: running %s: %w", s.name, err)
			}
			slog.Info("post: script complete", "script", s.name, "elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		case <-heartbeat:
			continue
		case <-time.After(stuckTimeout):
			return fmt.Errorf("post: script %s made no progress for %s, aborting", s.name, stuckTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
