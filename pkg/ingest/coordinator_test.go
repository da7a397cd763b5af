package ingest

import (
	"context"
	"io"
	"testing"
	"time"

	"geoingest/pkg/classify"
	"geoingest/pkg/store"
)

type fakeLineSource struct {
	lines []string
	idx   int
	read  uint64
}

func (f *fakeLineSource) Read(ctx context.Context, buf []byte) (int, error) {
	if f.idx >= len(f.lines) {
		return 0, io.EOF
	}
	chunk := []byte(f.lines[f.idx] + "\n")
	f.idx++
	n := copy(buf, chunk)
	f.read += uint64(n)
	return n, nil
}

func (f *fakeLineSource) BytesRead() uint64               { return f.read }
func (f *fakeLineSource) ContentLength() (int64, bool)    { return 0, false }

func TestRunProcessesAllLinesAndJoinsWriter(t *testing.T) {
	lines := []string{
		`{"id":"Q30","claims":{"P297":[{"mainsnak":{"datavalue":{"value":"US"}}}]}}`,
		`{"id":"Q183","claims":{"P297":[{"mainsnak":{"datavalue":{"value":"DE"}}}]}}`,
	}
	src := &fakeLineSource{lines: lines}
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	oracle := classify.NewOracle(nil)

	result, err := Run(context.Background(), src, st, oracle, nil, Options{Workers: 2, ProgressInterval: time.Hour})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.LinesProcessed != 2 {
		t.Fatalf("got %d lines processed, want 2", result.LinesProcessed)
	}
	if result.RecordsEmitted == 0 {
		t.Fatal("expected at least one record emitted")
	}

	var count int
	if err := st.DB().QueryRow(`SELECT COUNT(*) FROM countries`).Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("got %d countries persisted, want 2", count)
	}
}

func TestRunTalliesMissingP17(t *testing.T) {
	lines := []string{
		`{"id":"Q999","claims":{"P31":[{"mainsnak":{"datavalue":{"value":{"id":"Q486972"}}}}]}}`,
	}
	src := &fakeLineSource{lines: lines}
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	oracle := classify.NewOracle(map[classify.Set][]string{
		classify.HumanSettlements: {"Q486972"},
	})

	result, err := Run(context.Background(), src, st, oracle, nil, Options{Workers: 1, ProgressInterval: time.Hour})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.MissingP17Count != 1 {
		t.Fatalf("got %d, want 1", result.MissingP17Count)
	}
}

func TestRunHandlesEmptySource(t *testing.T) {
	src := &fakeLineSource{}
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	oracle := classify.NewOracle(nil)
	result, err := Run(context.Background(), src, st, oracle, nil, Options{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.LinesProcessed != 0 {
		t.Fatalf("got %d, want 0", result.LinesProcessed)
	}
}
