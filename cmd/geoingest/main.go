// Command geoingest streams the Wikidata JSON entity dump into a compact
// relational geographic database, or runs the post-processing SQL
// sequence over an existing one.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"geoingest/internal/config"
	"geoingest/internal/logging"
	"geoingest/internal/metrics"
	"geoingest/pkg/classify"
	"geoingest/pkg/entity"
	"geoingest/pkg/fetch"
	"geoingest/pkg/ingest"
	"geoingest/pkg/post"
	"geoingest/pkg/store"
)

func main() {
	output := flag.String("output", "", "output database path (default geo.db, or the config file's output_path)")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	configPath := flag.String("config", "geoingest.yaml", "path to an optional YAML config file")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics at this address")
	logFile := flag.String("log-file", "", "if set, additionally log to this file")

	flag.Parse()
	args := flag.Args()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "geoingest: loading config: %v\n", err)
		os.Exit(1)
	}
	if *output != "" {
		cfg.OutputPath = *output
	}
	if *verbose {
		cfg.Verbose = true
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	runID := uuid.NewString()
	cleanup, err := logging.Init(logging.Config{Verbose: cfg.Verbose, FilePath: cfg.LogFile, RunID: runID})
	if err != nil {
		fmt.Fprintf(os.Stderr, "geoingest: initializing logging: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cmdErr error
	switch {
	case len(args) > 0 && args[0] == "entity":
		cmdErr = runEntity(ctx, cfg, args[1:])
	case len(args) > 0 && args[0] == "post":
		cmdErr = runPost(ctx, args[1:])
	default:
		cmdErr = runIngest(ctx, cfg, runID)
	}

	if cmdErr != nil {
		slog.Error("geoingest: fatal error", "error", cmdErr)
		os.Exit(1)
	}
}

func runIngest(ctx context.Context, cfg *config.Config, runID string) error {
	m := metrics.New()
	metricsErrCh := make(chan error, 1)
	go func() { metricsErrCh <- m.Serve(ctx, cfg.MetricsAddr) }()

	oracleClient := classify.NewClient()
	if cfg.SPARQLEndpoint != "" {
		oracleClient.Endpoint = cfg.SPARQLEndpoint
	}
	slog.Info("geoingest: building classification oracle")
	oracle, err := oracleClient.Build(ctx, classify.SeedConfig{
		TerritorialEntities:  cfg.Seeds.TerritorialEntities,
		HumanSettlements:     cfg.Seeds.HumanSettlements,
		SecondLevelAdminDivs: cfg.Seeds.SecondLevelAdminDivs,
		Languages:            cfg.Seeds.Languages,
		Excluded:             cfg.Seeds.Excluded,
		ExcludedSettlements:  cfg.Seeds.ExcludedSettlements,
	})
	if err != nil {
		return fmt.Errorf("building classification oracle: %w", err)
	}

	src := fetch.New(cfg.DumpURL, &http.Client{Timeout: 60 * time.Second})
	if err := src.Open(ctx); err != nil {
		return fmt.Errorf("opening dump: %w", err)
	}
	defer src.Close()

	st, err := store.Open(cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	slog.Info("geoingest: starting ingestion", "output", cfg.OutputPath, "run_id", runID)
	result, err := ingest.Run(ctx, src, st, oracle, m, ingest.Options{
		Workers:          cfg.Workers,
		ProgressInterval: time.Duration(cfg.ProgressInterval),
		RunID:            runID,
	})
	if err != nil {
		return fmt.Errorf("ingestion failed after %d lines: %w", result.LinesProcessed, err)
	}

	slog.Info("geoingest: ingestion complete",
		"lines", result.LinesProcessed,
		"records", result.RecordsEmitted,
		"missing_p17", result.MissingP17Count,
		"second_level_admin_divs", result.SecondLevelTECount,
	)
	return nil
}

// runEntity fetches each given Wikidata entity id via REST, projects it
// through the same classification oracle and projector used by the
// streaming path, and prints the resulting records as JSON — a debugging
// aid that performs no persistence.
func runEntity(ctx context.Context, cfg *config.Config, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("entity: at least one entity id is required")
	}

	oracleClient := classify.NewClient()
	if cfg.SPARQLEndpoint != "" {
		oracleClient.Endpoint = cfg.SPARQLEndpoint
	}
	oracle, err := oracleClient.Build(ctx, classify.SeedConfig{
		TerritorialEntities:  cfg.Seeds.TerritorialEntities,
		HumanSettlements:     cfg.Seeds.HumanSettlements,
		SecondLevelAdminDivs: cfg.Seeds.SecondLevelAdminDivs,
		Languages:            cfg.Seeds.Languages,
		Excluded:             cfg.Seeds.Excluded,
		ExcludedSettlements:  cfg.Seeds.ExcludedSettlements,
	})
	if err != nil {
		return fmt.Errorf("building classification oracle: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, id := range ids {
		raw, err := fetchEntityJSON(ctx, client, id)
		if err != nil {
			slog.Error("entity: fetch failed", "id", id, "error", err)
			continue
		}
		records := entity.Project(raw, oracle)
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("encoding records for %s: %w", id, err)
		}
	}
	return nil
}

func fetchEntityJSON(ctx context.Context, client *http.Client, id string) ([]byte, error) {
	url := fmt.Sprintf("https://www.wikidata.org/wiki/Special:EntityData/%s.json", id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "geoingest/1.0 (+https://github.com/geoingest/geoingest)")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, id)
	}

	var wrapper struct {
		Entities map[string]json.RawMessage `json:"entities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return nil, fmt.Errorf("decoding entity data wrapper: %w", err)
	}
	raw, ok := wrapper.Entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s not present in response", id)
	}
	return raw, nil
}

func runPost(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("post", flag.ExitOnError)
	onlyCleanup := fs.Bool("only-cleanup", false, "run only the cleanup scripts")
	noCleanup := fs.Bool("no-cleanup", false, "skip the cleanup scripts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("post: expected exactly one database path argument")
	}
	return post.Run(ctx, fs.Arg(0), post.Options{OnlyCleanup: *onlyCleanup, NoCleanup: *noCleanup})
}
