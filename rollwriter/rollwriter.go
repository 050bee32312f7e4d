// Package rollwriter implements the rolling log file writer named in
// section 10.1 and section 6's persisted state layout: append-only files
// under ./logs/<YYYY_MM_DD>_<name>.log, rolled at a configurable byte size
// (50 MB by default) and pruned by retention age, the way
// original_source/lib/wr_logging.py manages its log_retention_days setting.
// No rolling-file library appears anywhere in the example corpus, so this
// is written directly against the standard library; see DESIGN.md for the
// justification entry.
package rollwriter

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// defaultRollSize is the 50 MB roll size named in section 6's persisted
// state layout.
const defaultRollSize = 50 * 1024 * 1024

// defaultRetentionDays matches original_source's log_retention_days=10
// default, carried forward per section 12.
const defaultRetentionDays = 10

// Writer is an io.Writer that appends to a dated log file under dir,
// rolling to a new numbered file once the current one exceeds RollSize, and
// pruning files older than RetentionDays on each roll.
type Writer struct {
	dir    string
	name   string
	clock  func() time.Time
	mu     sync.Mutex
	f      *os.File
	size   int64
	gen    int

	RollSize      int64
	RetentionDays int
}

// Option configures a Writer.
type Option func(*Writer)

// WithRollSize overrides the default 50 MB roll size.
func WithRollSize(n int64) Option {
	return func(w *Writer) { w.RollSize = n }
}

// WithRetentionDays overrides the default 10-day retention.
func WithRetentionDays(days int) Option {
	return func(w *Writer) { w.RetentionDays = days }
}

// withClock overrides the writer's notion of "now", for deterministic tests.
func withClock(clock func() time.Time) Option {
	return func(w *Writer) { w.clock = clock }
}

// New returns a Writer rooted at dir, writing to files named
// "<YYYY_MM_DD>_<name>.log" per section 6. dir is created if absent.
func New(dir, name string, opts ...Option) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rollwriter: failed to create log directory %s: %w", dir, err)
	}
	w := &Writer{
		dir:           dir,
		name:          name,
		clock:         time.Now,
		RollSize:      defaultRollSize,
		RetentionDays: defaultRetentionDays,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.openCurrent(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) datePrefix() string {
	return w.clock().Format("2006_01_02")
}

func (w *Writer) pathFor(gen int) string {
	if gen == 0 {
		return filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.datePrefix(), w.name))
	}
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.%d.log", w.datePrefix(), w.name, gen))
}

func (w *Writer) openCurrent() error {
	path := w.pathFor(0)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("rollwriter: failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("rollwriter: failed to stat %s: %w", path, err)
	}
	w.f = f
	w.size = info.Size()
	return nil
}

// Write appends p to the current log file, rolling first if it would exceed
// RollSize.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.RollSize {
		if err := w.roll(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("rollwriter: write failed: %w", err)
	}
	return n, nil
}

// roll closes the current file, renames it aside with its generation
// number, opens a fresh one, and prunes files older than RetentionDays.
func (w *Writer) roll() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("rollwriter: failed to close %s before rolling: %w", w.pathFor(0), err)
	}
	w.gen++
	if err := os.Rename(w.pathFor(0), w.pathFor(w.gen)); err != nil {
		return fmt.Errorf("rollwriter: failed to roll %s: %w", w.pathFor(0), err)
	}
	if err := w.openCurrent(); err != nil {
		return err
	}
	w.pruneOld()
	return nil
}

// pruneOld removes log files under dir whose modification time is older
// than RetentionDays. Errors are swallowed: a failed prune is not fatal to
// logging, matching section 12's "mechanical roll-by-size/retain-by-days"
// scope (policy decisions beyond this are out of scope).
func (w *Writer) pruneOld() {
	if w.RetentionDays <= 0 {
		return
	}
	cutoff := w.clock().AddDate(0, 0, -w.RetentionDays)
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(w.dir, entry.Name()))
		}
	}
}

// Close closes the current log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("rollwriter: failed to close: %w", err)
	}
	return nil
}
