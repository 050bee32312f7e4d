package reaper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/splunkops/sabb/manifest"
	"github.com/splunkops/sabb/workerpool"
)

type fakeResultsSource struct {
	ch chan workerpool.JobStats
}

func (f fakeResultsSource) Results() <-chan workerpool.JobStats {
	return f.ch
}

func TestEncodeDecodeArgs_RoundTrips(t *testing.T) {
	args := DownloadArgs{PeerID: "P0", ArchiveKey: "a/db_1_2_3/f", ExpectedSizeBytes: 42, Container: "c1", DownloadRoot: "./d", TargetPath: "./d/c1/a/db_1_2_3/f"}
	raw, err := EncodeArgs(args)
	if err != nil {
		t.Fatalf("EncodeArgs: %v", err)
	}
	got, err := decodeArgs(raw)
	if err != nil {
		t.Fatalf("decodeArgs: %v", err)
	}
	if got != args {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, args)
	}
}

func TestReaper_MarksSuccessWhenSizeMatches(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.gz")
	if err := os.WriteFile(target, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	args, _ := EncodeArgs(DownloadArgs{PeerID: "P0", ArchiveKey: "a/db_1_2_3/f", ExpectedSizeBytes: 5, TargetPath: target})

	results := make(chan workerpool.JobStats, 1)
	updates := make(chan ManifestUpdate, 1)
	logs := make(chan string, 1)

	r := New(fakeResultsSource{ch: results}, updates, logs, zerolog.Nop(), WithInterval(20*time.Millisecond))

	results <- workerpool.JobStats{Args: args, Started: time.Now(), Finished: time.Now()}
	close(results)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go r.Run(ctx)

	select {
	case update := <-updates:
		if update.State != manifest.StateSuccess {
			t.Fatalf("expected SUCCESS, got %v", update.State)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for manifest update")
	}
}

func TestReaper_MarksFailedOnSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.gz")
	if err := os.WriteFile(target, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	args, _ := EncodeArgs(DownloadArgs{PeerID: "P0", ArchiveKey: "a/db_1_2_3/f", ExpectedSizeBytes: 999, TargetPath: target})

	results := make(chan workerpool.JobStats, 1)
	updates := make(chan ManifestUpdate, 1)
	logs := make(chan string, 1)

	r := New(fakeResultsSource{ch: results}, updates, logs, zerolog.Nop())

	results <- workerpool.JobStats{Args: args, Started: time.Now(), Finished: time.Now()}
	close(results)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go r.Run(ctx)

	select {
	case update := <-updates:
		if update.State != manifest.StateFailed {
			t.Fatalf("expected FAILED, got %v", update.State)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for manifest update")
	}
}

func TestReaper_JobErrorMarksFailed(t *testing.T) {
	args, _ := EncodeArgs(DownloadArgs{PeerID: "P0", ArchiveKey: "a/db_1_2_3/f", ExpectedSizeBytes: 5, TargetPath: "/nonexistent"})

	results := make(chan workerpool.JobStats, 1)
	updates := make(chan ManifestUpdate, 1)
	logs := make(chan string, 1)

	r := New(fakeResultsSource{ch: results}, updates, logs, zerolog.Nop())

	results <- workerpool.JobStats{Args: args, Started: time.Now(), Finished: time.Now(), Err: context.DeadlineExceeded}
	close(results)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go r.Run(ctx)

	select {
	case update := <-updates:
		if update.State != manifest.StateFailed {
			t.Fatalf("expected FAILED, got %v", update.State)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for manifest update")
	}
}
