// Package ingest implements the Coordinator: it owns the parser worker
// pool, the interrupt channel, and the progress ticker, and drives clean
// shutdown of the whole pipeline.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"geoingest/internal/metrics"
	"geoingest/pkg/classify"
	"geoingest/pkg/entity"
	"geoingest/pkg/frame"
	"geoingest/pkg/store"
)

// Source is what the coordinator needs from a byte source: the
// frame.ByteSource contract plus the server-advertised content length
// used for ETA/percent-complete reporting. *fetch.Source satisfies this.
type Source interface {
	frame.ByteSource
	ContentLength() (int64, bool)
}

// recordChannelFactor sizes the buffered record channel as a multiple of
// worker count — generous fixed capacity standing in for a genuinely
// unbounded queue, since producers practically never block while the
// writer drains continuously. Swap to a bounded channel with explicit
// backpressure here if memory pressure is ever observed in practice.
const recordChannelFactor = 256

// Options configures a Coordinator run.
type Options struct {
	// Workers is the parser pool size; zero means runtime.NumCPU().
	Workers int
	// ProgressInterval controls how often percent/ETA/throughput is
	// logged. Metrics are updated per line and per record, not on this
	// interval.
	ProgressInterval time.Duration
	// RunID is attached to progress log lines.
	RunID string
}

// counters are the coordinator's shared, concurrently-updated tallies.
// Parser tasks run on the errgroup pool, so every field here is mutated
// via sync/atomic rather than guarded by a mutex.
type counters struct {
	lines          atomic.Uint64
	recordsEmitted atomic.Uint64
	missingP17     atomic.Uint64
	secondLevelTE  atomic.Uint64
}

// Result summarizes a completed run for the coordinator's end-of-run
// diagnostics.
type Result struct {
	LinesProcessed     uint64
	RecordsEmitted     uint64
	MissingP17Count    uint64
	SecondLevelTECount uint64
}

// Run drives one full ingestion: it reads lines from src via a Framer,
// submits each to the parser pool, collects emitted records onto a shared
// channel, and lets st drain that channel until the source is exhausted
// or ctx is canceled. On cancellation it stops enqueuing new lines, closes
// the record channel, and joins the writer before returning.
func Run(ctx context.Context, src Source, st *store.Store, oracle *classify.Oracle, m *metrics.Metrics, opts Options) (Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	progressEvery := opts.ProgressInterval
	if progressEvery <= 0 {
		progressEvery = 10 * time.Second
	}

	records := make(chan entity.Record, workers*recordChannelFactor)

	writerDone := make(chan error, 1)
	go func() {
		writerDone <- st.Run(ctx, records)
	}()

	g, gCtx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(workers))
	framer := frame.New(src)

	var c counters
	var compressedReported uint64
	startTime := time.Now()
	ticker := time.NewTicker(progressEvery)
	defer ticker.Stop()

	produce := func() error {
		for {
			line, err := framer.Next(gCtx)
			if err != nil {
				if err == frame.ErrEOF {
					return nil
				}
				return fmt.Errorf("ingest: framer: %w", err)
			}

			c.lines.Add(1)
			if m != nil {
				compressed := framer.CompressedBytesRead()
				m.BytesReadTotal.Add(float64(compressed - compressedReported))
				compressedReported = compressed
			}

			if err := sem.Acquire(gCtx, 1); err != nil {
				return nil
			}
			g.Go(func() error {
				defer sem.Release(1)
				recs := entity.Project([]byte(line), oracle)
				for _, r := range recs {
					tallyRecord(&c, r)
					select {
					case records <- r:
						c.recordsEmitted.Add(1)
						if m != nil {
							m.RecordsEmitted.Inc()
						}
					case <-gCtx.Done():
						return gCtx.Err()
					}
				}
				if m != nil {
					m.LinesTotal.Inc()
				}
				return nil
			})

			select {
			case <-ticker.C:
				logProgress(src, framer.BytesRead(), snapshot(&c), startTime, opts.RunID)
			default:
			}
		}
	}

	producerErr := produce()
	waitErr := g.Wait()
	close(records)
	writerErr := <-writerDone

	result := snapshot(&c)
	slog.Info("ingest: run complete",
		"lines", result.LinesProcessed,
		"records", result.RecordsEmitted,
		"missing_p17", result.MissingP17Count,
		"second_level_admin_divs", result.SecondLevelTECount,
	)

	for _, err := range []error{producerErr, waitErr, writerErr} {
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func tallyRecord(c *counters, r entity.Record) {
	switch v := r.(type) {
	case entity.MissingP17:
		c.missingP17.Add(1)
	case entity.TerritorialEntity:
		if v.Is2nd {
			c.secondLevelTE.Add(1)
		}
	}
}

func snapshot(c *counters) Result {
	return Result{
		LinesProcessed:     c.lines.Load(),
		RecordsEmitted:     c.recordsEmitted.Load(),
		MissingP17Count:    c.missingP17.Load(),
		SecondLevelTECount: c.secondLevelTE.Load(),
	}
}

func logProgress(src Source, decompressedBytesRead uint64, result Result, start time.Time, runID string) {
	elapsed := time.Since(start)
	bytesRead := src.BytesRead()

	args := []any{
		"lines", result.LinesProcessed,
		"records", result.RecordsEmitted,
		"compressed_mb_read", float64(bytesRead) / (1024 * 1024),
		"decompressed_mb_read", float64(decompressedBytesRead) / (1024 * 1024),
		"elapsed", elapsed.Round(time.Second),
	}

	decompressedThroughput := float64(decompressedBytesRead) / elapsed.Seconds()
	args = append(args, "decompressed_throughput_mb_s", fmt.Sprintf("%.2f", decompressedThroughput/(1024*1024)))

	if total, ok := src.ContentLength(); ok && total > 0 {
		percent := float64(bytesRead) / float64(total) * 100
		throughput := float64(bytesRead) / elapsed.Seconds()
		var eta time.Duration
		if throughput > 0 {
			remaining := float64(total) - float64(bytesRead)
			eta = time.Duration(remaining/throughput) * time.Second
		}
		args = append(args,
			"percent_complete", fmt.Sprintf("%.1f", percent),
			"eta", eta.Round(time.Second),
			"compressed_throughput_mb_s", fmt.Sprintf("%.2f", throughput/(1024*1024)),
		)
	}

	if runID != "" {
		args = append(args, "run_id", runID)
	}

	slog.Info("ingest: progress", args...)
}
