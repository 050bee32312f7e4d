// Package manifest implements the Manifest Store described in section 4.3
// of the design specification: a per-peer CSV file that is the source of
// truth for the download plan and its completion state. The column schema
// is fixed for operator compatibility with the original tooling; this
// package treats the CSV the way the original treated its data frame —
// append-only writes, random-access cell updates, and scan-column-for-value
// lookups — rather than as a free-form text file.
package manifest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// State is the value of the Download_Complete column.
type State string

const (
	// StatePending marks a planned row that has not finished downloading.
	StatePending State = "PENDING"
	// StateSuccess marks a row whose download has completed successfully.
	StateSuccess State = "SUCCESS"
	// StateFailed marks a row whose download failed; the next run retries it.
	StateFailed State = "FAILED"
)

// columns is the fixed schema from section 4.3, in on-disk order.
// Additional_N passthrough columns, if any, follow these.
var columns = []string{
	"File_Name",
	"Expected_File_Size_bytes",
	"Expected_File_Size_MB",
	"Was_Standalone",
	"Bucket_ID",
	"db_Bucket(not_rb)",
	"Download_Complete",
	"Downloaded_File_Size_MB",
}

// Row is one manifest entry: a planned file and its download state.
// Example:
//
//	row := manifest.Row{
//	    FileName:          "frozendata/foo/frozendb/db_100_200_7/rawdata/journal.gz",
//	    ExpectedSizeBytes: 1000,
//	    WasStandalone:     true,
//	    BucketID:          "100_200_7_none",
//	    IsDBBucket:        true,
//	    State:             manifest.StatePending,
//	}
type Row struct {
	FileName          string
	ExpectedSizeBytes int64
	WasStandalone     bool
	BucketID          string
	IsDBBucket        bool // true for db_ (origin) buckets, false for rb_ (replicated)
	State             State
	DownloadedMB      float64
	Extra             []string // passthrough Additional_N values, in column order
}

func (r Row) expectedMB() float64 {
	return float64(r.ExpectedSizeBytes) / (1024 * 1024)
}

func (r Row) toFields() []string {
	fields := []string{
		r.FileName,
		strconv.FormatInt(r.ExpectedSizeBytes, 10),
		strconv.FormatFloat(r.expectedMB(), 'f', 4, 64),
		strconv.FormatBool(r.WasStandalone),
		r.BucketID,
		strconv.FormatBool(r.IsDBBucket),
		string(r.State),
		strconv.FormatFloat(r.DownloadedMB, 'f', 4, 64),
	}
	return append(fields, r.Extra...)
}

func rowFromFields(fields []string) (Row, error) {
	if len(fields) < len(columns) {
		return Row{}, fmt.Errorf("manifest row has %d fields, want at least %d", len(fields), len(columns))
	}
	sizeBytes, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("invalid %s: %w", columns[1], err)
	}
	standalone, err := strconv.ParseBool(fields[3])
	if err != nil {
		return Row{}, fmt.Errorf("invalid %s: %w", columns[3], err)
	}
	isDB, err := strconv.ParseBool(fields[5])
	if err != nil {
		return Row{}, fmt.Errorf("invalid %s: %w", columns[5], err)
	}
	downloadedMB, err := strconv.ParseFloat(fields[7], 64)
	if err != nil {
		return Row{}, fmt.Errorf("invalid %s: %w", columns[7], err)
	}
	return Row{
		FileName:          fields[0],
		ExpectedSizeBytes: sizeBytes,
		WasStandalone:     standalone,
		BucketID:          fields[4],
		IsDBBucket:        isDB,
		State:             State(fields[6]),
		DownloadedMB:      downloadedMB,
		Extra:             append([]string(nil), fields[len(columns):]...),
	}, nil
}

// Store is a directory of per-peer manifest CSV files, per section 4.3.
// Callers are expected to serialize writes to a given peer_id through a
// single-consumer queue (section 4.8); Store itself only guards against
// concurrent access within one process.
type Store struct {
	dir string
	mu  sync.Mutex
	log zerolog.Logger
}

// New returns a Store rooted at dir. The directory is created if absent.
func New(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory %s: %w", dir, err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(peerID string) string {
	return filepath.Join(s.dir, peerID+".csv")
}

// Exists reports whether peerID already has a manifest file.
func (s *Store) Exists(peerID string) bool {
	_, err := os.Stat(s.path(peerID))
	return err == nil
}

// Load returns peerID's manifest rows in file order. A missing manifest is
// not an error; it returns an empty slice, matching "manifests are created
// on first run" from section 3.
func (s *Store) Load(peerID string) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(peerID)
}

func (s *Store) loadLocked(peerID string) ([]Row, error) {
	f, err := os.Open(s.path(peerID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest for peer %s: %w", peerID, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest for peer %s: %w", peerID, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]Row, 0, len(records)-1)
	for _, fields := range records[1:] { // skip header
		row, err := rowFromFields(fields)
		if err != nil {
			return nil, fmt.Errorf("corrupt manifest row for peer %s: %w", peerID, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Append adds rows to peerID's manifest, creating the file and writing the
// header if it does not yet exist. Per section 4.3, callers must have
// already checked for duplicate File_Name values; Append does not
// deduplicate. Writes are attempted up to 4 times, 100ms apart, per
// section 7's manifest-write retry policy.
func (s *Store) Append(ctx context.Context, peerID string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry(ctx, "append", peerID, func() error {
		return s.appendLocked(peerID, rows)
	})
}

func (s *Store) appendLocked(peerID string, rows []Row) error {
	path := s.path(peerID)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open manifest for peer %s: %w", peerID, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		header := append([]string(nil), columns...)
		maxExtra := 0
		for _, row := range rows {
			if len(row.Extra) > maxExtra {
				maxExtra = len(row.Extra)
			}
		}
		for i := 0; i < maxExtra; i++ {
			header = append(header, fmt.Sprintf("Additional_%d", i+1))
		}
		if err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write manifest header for peer %s: %w", peerID, err)
		}
	}
	for _, row := range rows {
		if err := w.Write(row.toFields()); err != nil {
			return fmt.Errorf("failed to append manifest row for peer %s: %w", peerID, err)
		}
	}
	w.Flush()
	return w.Error()
}

// Mark sets the Download_Complete and Downloaded_File_Size_MB cells for
// fileName in peerID's manifest, per section 4.3's idempotent cell update.
// It rewrites the manifest file, matching the "random-access cell update"
// contract of the CSV-as-database model.
func (s *Store) Mark(ctx context.Context, peerID, fileName string, state State, downloadedMB float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry(ctx, "mark", peerID, func() error {
		rows, err := s.loadLocked(peerID)
		if err != nil {
			return err
		}
		found := false
		for i := range rows {
			if rows[i].FileName == fileName {
				rows[i].State = state
				rows[i].DownloadedMB = downloadedMB
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("no manifest row for file %q on peer %s", fileName, peerID)
		}
		return s.rewriteLocked(peerID, rows)
	})
}

func (s *Store) rewriteLocked(peerID string, rows []Row) error {
	path := s.path(peerID)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp manifest for peer %s: %w", peerID, err)
	}

	maxExtra := 0
	for _, row := range rows {
		if len(row.Extra) > maxExtra {
			maxExtra = len(row.Extra)
		}
	}
	header := append([]string(nil), columns...)
	for i := 0; i < maxExtra; i++ {
		header = append(header, fmt.Sprintf("Additional_%d", i+1))
	}

	w := csv.NewWriter(f)
	writeErr := w.Write(header)
	for _, row := range rows {
		if writeErr != nil {
			break
		}
		writeErr = w.Write(row.toFields())
	}
	w.Flush()
	if writeErr == nil {
		writeErr = w.Error()
	}
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rewrite manifest for peer %s: %w", peerID, writeErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp manifest for peer %s: %w", peerID, closeErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace manifest for peer %s: %w", peerID, err)
	}
	return nil
}

// ValueExists reports whether any row in peerID's manifest has the given
// value in the given fixed column, per section 4.3's dedup-against-prior-run
// contract. Only the fixed columns are addressable; column must be one of
// the names in the fixed schema.
func (s *Store) ValueExists(peerID, column, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.loadLocked(peerID)
	if err != nil {
		return false, err
	}
	idx := -1
	for i, c := range columns {
		if c == column {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, fmt.Errorf("unknown manifest column %q", column)
	}
	for _, row := range rows {
		if columnValue(row, idx) == value {
			return true, nil
		}
	}
	return false, nil
}

func columnValue(row Row, idx int) string {
	fields := row.toFields()
	if idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

// withRetry runs op with cenkalti/backoff/v4's bounded retry: up to 4
// attempts spaced 100ms apart, per section 7's manifest I/O retry policy.
// On exhaustion the error is logged and returned for the caller to surface.
func (s *Store) withRetry(ctx context.Context, op, peerID string, fn func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 3)
	err := backoff.Retry(func() error {
		return fn()
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		s.log.Error().Err(err).Str("op", op).Str("peer_id", peerID).Msg("manifest operation failed after retries")
		return fmt.Errorf("manifest %s for peer %s failed after retries: %w", op, peerID, err)
	}
	return nil
}
