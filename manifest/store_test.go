package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStore_ExistsAndLoad_MissingManifest(t *testing.T) {
	s := newTestStore(t)
	if s.Exists("peerA") {
		t.Fatalf("expected Exists to be false for a manifest never written")
	}
	rows, err := s.Load("peerA")
	if err != nil {
		t.Fatalf("unexpected error loading missing manifest: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

func TestStore_AppendAndLoad_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []Row{
		{FileName: "a/db_1_2_3/rawdata/journal.gz", ExpectedSizeBytes: 1000, WasStandalone: true, BucketID: "1_2_3", IsDBBucket: true, State: StatePending},
		{FileName: "a/db_1_2_3/Hosts.data", ExpectedSizeBytes: 200, WasStandalone: true, BucketID: "1_2_3", IsDBBucket: true, State: StatePending},
	}
	if err := s.Append(ctx, "peerA", rows); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !s.Exists("peerA") {
		t.Fatalf("expected manifest to exist after append")
	}

	loaded, err := s.Load("peerA")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(loaded))
	}
	if loaded[0].FileName != rows[0].FileName || loaded[0].State != StatePending {
		t.Fatalf("unexpected first row: %+v", loaded[0])
	}
}

func TestStore_Append_PreservesInsertionOrderAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "peerA", []Row{{FileName: "one", State: StatePending}}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.Append(ctx, "peerA", []Row{{FileName: "two", State: StatePending}}); err != nil {
		t.Fatalf("second append: %v", err)
	}

	rows, err := s.Load("peerA")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rows) != 2 || rows[0].FileName != "one" || rows[1].FileName != "two" {
		t.Fatalf("unexpected order: %+v", rows)
	}
}

func TestStore_Mark_UpdatesStateIdempotently(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "peerA", []Row{{FileName: "one", ExpectedSizeBytes: 1024 * 1024, State: StatePending}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := s.Mark(ctx, "peerA", "one", StateSuccess, 1.0); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	// Marking again with the same values must not error (idempotent).
	if err := s.Mark(ctx, "peerA", "one", StateSuccess, 1.0); err != nil {
		t.Fatalf("second Mark: %v", err)
	}

	rows, err := s.Load("peerA")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rows[0].State != StateSuccess || rows[0].DownloadedMB != 1.0 {
		t.Fatalf("unexpected row after mark: %+v", rows[0])
	}
}

func TestStore_Mark_UnknownFileNameErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Append(ctx, "peerA", []Row{{FileName: "one", State: StatePending}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Mark(ctx, "peerA", "missing", StateSuccess, 1.0); err == nil {
		t.Fatalf("expected error marking a file name not present in the manifest")
	}
}

func TestStore_ValueExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Append(ctx, "peerA", []Row{{FileName: "a/db_1_2_3/journal.gz", State: StatePending}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	ok, err := s.ValueExists("peerA", "File_Name", "a/db_1_2_3/journal.gz")
	if err != nil {
		t.Fatalf("ValueExists: %v", err)
	}
	if !ok {
		t.Fatalf("expected value to exist")
	}

	ok, err = s.ValueExists("peerA", "File_Name", "nonexistent")
	if err != nil {
		t.Fatalf("ValueExists: %v", err)
	}
	if ok {
		t.Fatalf("expected value to not exist")
	}
}

func TestStore_ValueExists_UnknownColumn(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ValueExists("peerA", "Not_A_Real_Column", "x"); err == nil {
		t.Fatalf("expected error for unknown column")
	}
}

func TestStore_Append_NoDuplicateHeaderOnSecondAppend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Append(ctx, "peerA", []Row{{FileName: "one", State: StatePending}}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.Append(ctx, "peerA", []Row{{FileName: "two", State: StatePending}}); err != nil {
		t.Fatalf("second append: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(s.dir, "peerA.csv"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := 0
	for _, b := range raw {
		if b == '\n' {
			lines++
		}
	}
	if lines != 3 { // header + 2 rows
		t.Fatalf("expected 3 lines, got %d:\n%s", lines, raw)
	}
}
