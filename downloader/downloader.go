// Package downloader implements the Blob Downloader described in section
// 4.6 of the design specification: path resolution under download_root,
// the standalone-to-cluster GUID rewrite rule, streaming the blob to disk,
// and size verification.
package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/splunkops/sabb/azblob"
	"github.com/splunkops/sabb/record"
)

// perObjectTimeout is the 5000-second per-download bound from section 4.6
// and section 5's cancellation table.
const perObjectTimeout = 5000 * time.Second

// internalConcurrency is the Azure SDK's multi-connection download
// parallelism per object, per section 4.6 step 2.
const internalConcurrency = 5

// bucketDirPattern matches a Splunk bucket directory leaf name so the GUID
// rewrite rule (section 4.6) can find the path segment to extend.
var bucketDirPattern = regexp.MustCompile(`^(db|rb)_(\d+)_(\d+)_(\d+)(?:_(.+))?$`)

// Outcome is the result of one download, per section 4.6 step 3: "(success,
// expected_mb, downloaded_mb)".
type Outcome struct {
	Success      bool
	ExpectedMB   float64
	DownloadedMB float64
	TargetPath   string
}

// Downloader streams archive records to disk.
type Downloader struct {
	client            azblob.Client
	log               zerolog.Logger
	bypassSizeCompare bool
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithBypassSizeCompare disables the actual-vs-expected size check, per
// section 4.6 step 3's "unless bypass_size_compare is set".
func WithBypassSizeCompare() Option {
	return func(d *Downloader) { d.bypassSizeCompare = true }
}

// New returns a Downloader backed by client.
func New(client azblob.Client, log zerolog.Logger, opts ...Option) *Downloader {
	d := &Downloader{client: client, log: log}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TargetPath resolves the on-disk path for rec, applying the GUID rewrite
// rule from section 4.6 when rec is a standalone bucket being downloaded by
// a peer belonging to a cluster. rename, if non-empty, overrides the
// archive key's basename-preserving default per section 4.6's
// "(rename or archive_key)".
func TargetPath(rec record.BucketFileRecord, localPeerID string, clustered bool, rename string) string {
	key := rec.ArchiveKey
	if rename != "" {
		key = rename
	}
	if rec.Standalone && clustered {
		key = rewriteGUID(key, localPeerID)
	}
	return filepath.Join(rec.DownloadRoot, rec.Container, key)
}

// rewriteGUID replaces the leaf bucket directory's name so it carries the
// local peer's id, per section 4.6: "db_<e>_<l>_<seq>" becomes
// "db_<e>_<l>_<seq>_<local_peer_id>".
func rewriteGUID(archiveKey, localPeerID string) string {
	segments := splitPath(archiveKey)
	for i, seg := range segments {
		if bucketDirPattern.MatchString(seg) {
			segments[i] = fmt.Sprintf("%s_%s", seg, localPeerID)
			return joinPath(segments)
		}
	}
	return archiveKey
}

func splitPath(p string) []string {
	sep := "/"
	if strings.Contains(p, "\\") && !strings.Contains(p, "/") {
		sep = "\\"
	}
	return strings.Split(p, sep)
}

func joinPath(segments []string) string {
	return strings.Join(segments, "/")
}

// Download resolves rec's target path, streams the blob into it, and
// verifies the written size, per section 4.6. rename may be empty.
func (d *Downloader) Download(ctx context.Context, rec record.BucketFileRecord, localPeerID string, clustered bool, rename string) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, perObjectTimeout)
	defer cancel()

	target := TargetPath(rec, localPeerID, clustered, rename)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Outcome{}, fmt.Errorf("downloader: failed to create parent directories for %s: %w", target, err)
	}

	f, err := os.Create(target)
	if err != nil {
		return Outcome{}, fmt.Errorf("downloader: failed to create %s: %w", target, err)
	}

	written, err := d.client.DownloadStream(ctx, rec.Container, rec.ArchiveKey, f, internalConcurrency)
	closeErr := f.Close()
	if err != nil {
		return Outcome{}, fmt.Errorf("downloader: failed to stream %s: %w", rec.ArchiveKey, err)
	}
	if closeErr != nil {
		return Outcome{}, fmt.Errorf("downloader: failed to close %s: %w", target, closeErr)
	}

	expectedMB := float64(rec.SizeBytes) / (1024 * 1024)
	downloadedMB := float64(written) / (1024 * 1024)
	success := d.bypassSizeCompare || written == rec.SizeBytes

	if !success {
		d.log.Warn().
			Str("archive_key", rec.ArchiveKey).
			Int64("expected_bytes", rec.SizeBytes).
			Int64("actual_bytes", written).
			Msg("downloaded size mismatch")
	}

	return Outcome{Success: success, ExpectedMB: expectedMB, DownloadedMB: downloadedMB, TargetPath: target}, nil
}
