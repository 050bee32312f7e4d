// Package reaper implements the Progress Reaper described in section 4.7 of
// the design specification: it periodically drains the Worker Pool's
// completed jobs, stats the downloaded file, and enqueues manifest updates
// and audit log lines.
package reaper

import (
	"context"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/splunkops/sabb/manifest"
	"github.com/splunkops/sabb/workerpool"
)

// sweepInterval is the Reaper's polling period, per section 4.7: "every 10s".
const sweepInterval = 10 * time.Second

// DownloadArgs is the job argument a Downloader job is submitted with, and
// the shape the Reaper parses back out of workerpool.JobStats.Args, per
// section 4.7 step 1. Encoded with goccy/go-json, matching the teacher's
// manifest/checkpoint/metrics packages' JSON library choice.
type DownloadArgs struct {
	PeerID            string `json:"peer_id"`
	ArchiveKey        string `json:"archive_key"`
	ExpectedSizeBytes int64  `json:"expected_size_bytes"`
	Container         string `json:"container"`
	DownloadRoot      string `json:"download_root"`
	TargetPath        string `json:"target_path"`
}

// EncodeArgs serializes args for a Worker Pool job submission.
func EncodeArgs(args DownloadArgs) (string, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("reaper: failed to encode job args: %w", err)
	}
	return string(b), nil
}

func decodeArgs(raw string) (DownloadArgs, error) {
	var args DownloadArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return DownloadArgs{}, fmt.Errorf("reaper: failed to decode job args: %w", err)
	}
	return args, nil
}

// ManifestUpdate is one enqueued manifest cell update, per section 4.7 step 3.
type ManifestUpdate struct {
	PeerID       string
	FileName     string
	State        manifest.State
	DownloadedMB float64
}

// ResultsSource is the narrow slice of workerpool.Pool the Reaper depends on.
type ResultsSource interface {
	Results() <-chan workerpool.JobStats
}

// Reaper observes completed download jobs and enqueues manifest and log
// updates, per section 4.7. It is a single task; the queues it writes to
// are single-consumer, per section 4.8.
type Reaper struct {
	pool            ResultsSource
	manifestUpdates chan<- ManifestUpdate
	logLines        chan<- string
	log             zerolog.Logger
	interval        time.Duration
	scanned         int64
	done            chan struct{}
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithInterval overrides the 10-second default sweep interval.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) { r.interval = d }
}

// New returns a Reaper that drains pool's results into manifestUpdates and
// logLines.
func New(pool ResultsSource, manifestUpdates chan<- ManifestUpdate, logLines chan<- string, log zerolog.Logger, opts ...Option) *Reaper {
	r := &Reaper{
		pool:            pool,
		manifestUpdates: manifestUpdates,
		logLines:        logLines,
		log:             log,
		interval:        sweepInterval,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps the pool's results channel every interval until ctx is
// cancelled or the results channel closes (the pool has exited), per
// section 4.7's periodic-sweep description. It closes Done's channel on
// exit, so callers that close the manifest/log queues this Reaper writes
// to can wait for it to fully drain first.
func (r *Reaper) Run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	results := r.pool.Results()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(results)
		case stats, ok := <-results:
			if !ok {
				return
			}
			r.process(stats)
		}
	}
}

// drain processes every result currently buffered, without blocking for
// more, per the periodic-sweep contract in section 4.7.
func (r *Reaper) drain(results <-chan workerpool.JobStats) {
	for {
		select {
		case stats, ok := <-results:
			if !ok {
				return
			}
			r.process(stats)
		default:
			return
		}
	}
}

// process implements steps 1-5 of section 4.7 for one completed job.
func (r *Reaper) process(stats workerpool.JobStats) {
	r.scanned++

	args, err := decodeArgs(stats.Args)
	if err != nil {
		r.log.Error().Err(err).Msg("reaper: could not decode job args; skipping")
		return
	}

	state := manifest.StateSuccess
	var downloadedMB float64

	if stats.Err != nil {
		state = manifest.StateFailed
		r.enqueueLog(fmt.Sprintf("FAILED %s: %v", args.ArchiveKey, stats.Err))
	} else {
		info, statErr := os.Stat(args.TargetPath)
		switch {
		case statErr != nil:
			state = manifest.StateFailed
			r.enqueueLog(fmt.Sprintf("FAILED %s: %v", args.ArchiveKey, statErr))
		case info.Size() != args.ExpectedSizeBytes:
			state = manifest.StateFailed
			downloadedMB = float64(info.Size()) / (1024 * 1024)
			r.enqueueLog(fmt.Sprintf("FAILED %s: size mismatch expected=%d actual=%d", args.ArchiveKey, args.ExpectedSizeBytes, info.Size()))
		default:
			downloadedMB = float64(info.Size()) / (1024 * 1024)
			r.enqueueLog(fmt.Sprintf("SUCCESS %s: %.2f MB in %s", args.ArchiveKey, downloadedMB, stats.Elapsed()))
		}
	}

	r.manifestUpdates <- ManifestUpdate{
		PeerID:       args.PeerID,
		FileName:     args.ArchiveKey,
		State:        state,
		DownloadedMB: downloadedMB,
	}
}

// Scanned returns how many completed jobs this Reaper has processed, for
// dashboard display.
func (r *Reaper) Scanned() int64 {
	return r.scanned
}

// Done returns a channel that closes once Run has returned, after it has
// finished draining the pool's results channel.
func (r *Reaper) Done() <-chan struct{} {
	return r.done
}

// enqueueLog pushes one audit log line, per section 4.7 step 4. It drops
// the line rather than blocking when the log queue is full.
func (r *Reaper) enqueueLog(line string) {
	select {
	case r.logLines <- line:
	default:
		r.log.Warn().Str("line", line).Msg("log queue full; dropping audit line")
	}
}
