package store

import (
	"context"
	"testing"
	"time"

	"geoingest/pkg/entity"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSchemaIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			t.Fatalf("re-applying schema statement failed: %v", err)
		}
	}
}

func TestRunFlushesResidualBufferOnClose(t *testing.T) {
	s := openTestStore(t)

	recs := make(chan entity.Record, 4)
	recs <- entity.Country{Id: "Q30", ISO: "us"}
	recs <- entity.Country{Id: "Q183", ISO: "de"}
	close(recs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Run(ctx, recs); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM countries`).Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("got %d countries, want 2", count)
	}
}

func TestUpsertIgnoresConflictOnNaturalKey(t *testing.T) {
	s := openTestStore(t)

	recs := make(chan entity.Record, 2)
	recs <- entity.TerritorialEntityParent{Id: "Q64", Parent: "Q183"}
	recs <- entity.TerritorialEntityParent{Id: "Q64", Parent: "Q183"}
	close(recs)

	if err := s.Run(context.Background(), recs); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM territorial_entities_parents`).Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d rows, want 1 (conflict should have been ignored)", count)
	}
}

func TestApplyRecordNullableFields(t *testing.T) {
	s := openTestStore(t)

	recs := make(chan entity.Record, 1)
	recs <- entity.City{Id: "Q60"}
	close(recs)

	if err := s.Run(context.Background(), recs); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var population *int64
	if err := s.db.QueryRow(`SELECT population FROM cities WHERE id = ?`, "Q60").Scan(&population); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if population != nil {
		t.Fatalf("expected NULL population, got %v", *population)
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	s := openTestStore(t)
	recs := make(chan entity.Record)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx, recs); err == nil {
		t.Fatal("expected Run to return the context's error")
	}
}
