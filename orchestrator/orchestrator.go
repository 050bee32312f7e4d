// Package orchestrator implements the Pipeline Orchestrator described in
// section 4.8 of the design specification: it wires the Peer Directory,
// Manifest Store, Bucketeer, Worker Pool, Blob Downloader, and Progress
// Reaper together, creates the three serialized queues (manifest write, log
// write, download), runs the Bucketeer to completion, enqueues every
// planned record as a download job, and drives a dashboard loop until the
// run is complete. Grounded on gurre-ddb-pitr/coordinator/coordinator.go's
// worker-pool wiring and signal-driven shutdown shape, generalized from its
// single fixed DynamoDB/S3 pipeline to this system's three-queue model.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/cheggaaa/pb"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/splunkops/sabb/azblob"
	"github.com/splunkops/sabb/bucketeer"
	"github.com/splunkops/sabb/config"
	"github.com/splunkops/sabb/downloader"
	"github.com/splunkops/sabb/manifest"
	"github.com/splunkops/sabb/reaper"
	"github.com/splunkops/sabb/record"
	"github.com/splunkops/sabb/workerpool"
)

// dashboardInterval is the dashboard refresh cadence, per section 4.8:
// "refreshes progress roughly once per second".
const dashboardInterval = time.Second

// PeerDirectory is the narrow slice of peers.Directory the Orchestrator
// depends on, per section 4.2.
type PeerDirectory interface {
	LocalID() string
	PeerIDs(ctx context.Context) ([]string, error)
}

// BucketRunner is the narrow slice of bucketeer.Bucketeer the Orchestrator
// depends on, per section 4.4.
type BucketRunner interface {
	Run(ctx context.Context, peerIDs []string, localPeerID string, candidates []bucketeer.Candidate) (bucketeer.Result, error)
}

// ManifestStore is the narrow slice of manifest.Store the Orchestrator's
// manifest-update queue consumer needs, per section 4.3/4.7.
type ManifestStore interface {
	Load(peerID string) ([]manifest.Row, error)
	Mark(ctx context.Context, peerID, fileName string, state manifest.State, downloadedMB float64) error
}

// JobRunner is the narrow slice of workerpool.Pool the Orchestrator needs,
// per section 4.5.
type JobRunner interface {
	Submit(args string, job workerpool.Job)
	Results() <-chan workerpool.JobStats
	Run(ctx context.Context)
	Stop()
	Submitted() int64
	Completed() int64
	ETA() time.Duration
}

// FileDownloader is the narrow slice of downloader.Downloader the
// Orchestrator's download jobs call, per section 4.6.
type FileDownloader interface {
	Download(ctx context.Context, rec record.BucketFileRecord, localPeerID string, clustered bool, rename string) (downloader.Outcome, error)
}

// Orchestrator wires and drives one restore run, per section 4.8.
type Orchestrator struct {
	cfg        *config.Config
	directory  PeerDirectory
	bucketeer  BucketRunner
	store      ManifestStore
	archive    azblob.Client
	downloader FileDownloader
	pool       JobRunner
	log        zerolog.Logger

	logLines chan string
}

// New returns an Orchestrator with all of its collaborators injected,
// matching gurre-ddb-pitr/coordinator.NewCoordinator's "wire everything at
// the boundary" constructor shape.
func New(cfg *config.Config, directory PeerDirectory, br BucketRunner, store ManifestStore, archive azblob.Client, dl FileDownloader, pool JobRunner, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		directory:  directory,
		bucketeer:  br,
		store:      store,
		archive:    archive,
		downloader: dl,
		pool:       pool,
		log:        log,
		logLines:   make(chan string, 1024),
	}
}

// Run drives one full restore pipeline, per section 4.8. It returns a
// non-nil error only for the fatal conditions named in section 7's table;
// per-file failures are recorded in the manifest and do not fail Run.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, os.Kill)
	defer cancel()

	peerIDs, err := o.directory.PeerIDs(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: peer directory unreachable: %w", err)
	}
	localID := o.directory.LocalID()
	clustered := len(peerIDs) > 1

	candidates, err := o.gatherCandidates(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: failed to gather archive candidates: %w", err)
	}
	if len(candidates) == 0 && !o.cfg.SkipToCSVLoad {
		return fmt.Errorf("orchestrator: archive listing produced no candidates")
	}

	var active []record.BucketFileRecord
	if o.cfg.SkipToCSVLoad {
		active, err = o.planFromManifest(localID)
		if err != nil {
			return fmt.Errorf("orchestrator: failed to rebuild plan from manifest: %w", err)
		}
	} else {
		result, err := o.bucketeer.Run(ctx, peerIDs, localID, candidates)
		if err != nil {
			return fmt.Errorf("orchestrator: bucketeer run failed: %w", err)
		}
		active = result.LocalActive
		for _, rej := range result.Rejections {
			o.log.Info().Str("archive_key", rej.ArchiveKey).Str("kind", rej.Kind.String()).Msg("skipped unparseable archive entry")
		}
	}

	if o.cfg.WriteOutFullListOnly {
		o.log.Info().Int("planned", len(active)).Msg("write_out_full_list_only set; plan written, skipping download")
		return nil
	}

	manifestUpdates := make(chan reaper.ManifestUpdate, 1024)
	manifestDone := make(chan struct{})
	go func() {
		o.consumeManifestUpdates(manifestUpdates)
		close(manifestDone)
	}()
	go o.consumeLogLines()

	rp := reaper.New(o.pool, manifestUpdates, o.logLines, o.log)

	// The pool and reaper must already be draining before the submit loop
	// below runs: Submit blocks once the pool's bounded jobs channel fills,
	// and for any plan larger than that buffer the loop would never finish
	// if nothing were consuming it concurrently.
	poolDone := make(chan struct{})
	go func() {
		o.pool.Run(ctx)
		close(poolDone)
	}()
	go rp.Run(ctx)

	for _, rec := range active {
		rec := rec
		args, err := reaper.EncodeArgs(reaper.DownloadArgs{
			PeerID:            localID,
			ArchiveKey:        rec.ArchiveKey,
			ExpectedSizeBytes: rec.SizeBytes,
			Container:         rec.Container,
			DownloadRoot:      rec.DownloadRoot,
			TargetPath:        downloader.TargetPath(rec, localID, clustered, ""),
		})
		if err != nil {
			return fmt.Errorf("orchestrator: failed to encode job args for %s: %w", rec.ArchiveKey, err)
		}
		o.pool.Submit(args, func(ctx context.Context) error {
			_, err := o.downloader.Download(ctx, rec, localID, clustered, "")
			return err
		})
	}
	o.pool.Stop() // every known job has been submitted; allow the pool to drain and exit

	o.dashboard(ctx, poolDone, len(active))

	// The reaper keeps draining workerpool.JobStats after poolDone closes
	// (pool.Run closes its results channel on every exit path, which is
	// what actually makes the reaper's loop return); wait for it to signal
	// completion before closing the queues it writes to, or a still
	// in-flight process() call can send on an already-closed channel and
	// lose the SUCCESS/FAILED mark that --skip_to_csv_load's resume relies
	// on.
	<-rp.Done()
	close(manifestUpdates)
	close(o.logLines)
	<-manifestDone // every queued manifest update is applied before Run returns

	return nil
}

// gatherCandidates lists every configured container's blobs through the
// archive client, applying the configured container and blob filter sets
// and the --test_amount debug cap, per section 6.
func (o *Orchestrator) gatherCandidates(ctx context.Context) ([]bucketeer.Candidate, error) {
	if o.cfg.SkipToCSVLoad {
		return nil, nil
	}

	containers, err := o.archive.ListContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var candidates []bucketeer.Candidate
	for _, container := range containers {
		if !o.cfg.ContainerSearch.Allow(container) {
			continue
		}
		objects, err := o.archive.ListBlobs(ctx, container, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs in container %s: %w", container, err)
		}
		count := 0
		for _, obj := range objects {
			if !o.cfg.BlobSearch.Allow(obj.Name) {
				continue
			}
			candidates = append(candidates, bucketeer.Candidate{
				ArchiveKey:   obj.Name,
				SizeBytes:    obj.SizeBytes,
				Container:    container,
				DownloadRoot: o.cfg.DestDownloadRoot,
			})
			count++
			if o.cfg.TestAmount > 0 && count >= o.cfg.TestAmount {
				break
			}
		}
	}
	return candidates, nil
}

// planFromManifest rebuilds a download plan directly from the local peer's
// existing manifest, per --skip_to_csv_load's "use the existing manifest as
// the plan" (section 6). The container name is recovered from the
// Additional_1 passthrough column the Bucketeer writes on emit.
func (o *Orchestrator) planFromManifest(localID string) ([]record.BucketFileRecord, error) {
	rows, err := o.store.Load(localID)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest for peer %s: %w", localID, err)
	}
	var plan []record.BucketFileRecord
	for _, row := range rows {
		if row.State == manifest.StateSuccess {
			continue
		}
		container := ""
		if len(row.Extra) > 0 {
			container = row.Extra[0]
		}
		rec, err := record.Parse(row.FileName, row.ExpectedSizeBytes, container, o.cfg.DestDownloadRoot)
		if err != nil {
			o.log.Warn().Str("file_name", row.FileName).Err(err).Msg("manifest row did not reparse as a bucket record; skipping")
			continue
		}
		plan = append(plan, rec)
	}
	return plan, nil
}

// consumeManifestUpdates is the manifest queue's single consumer, per
// section 4.7 step 3 and section 5's "exactly one consumer per serializing
// queue".
func (o *Orchestrator) consumeManifestUpdates(updates <-chan reaper.ManifestUpdate) {
	for u := range updates {
		if err := o.store.Mark(context.Background(), u.PeerID, u.FileName, u.State, u.DownloadedMB); err != nil {
			o.log.Error().Err(err).Str("file_name", u.FileName).Msg("manifest update failed after retries")
		}
	}
}

// consumeLogLines is the log queue's single consumer, per section 5.
func (o *Orchestrator) consumeLogLines() {
	for line := range o.logLines {
		o.log.Info().Msg(line)
	}
}

// dashboard drives the once-per-second progress display named in section
// 4.8, using cheggaaa/pb for the overall bar and fatih/color/go-humanize
// for the per-tick summary line, until poolDone closes.
func (o *Orchestrator) dashboard(ctx context.Context, poolDone <-chan struct{}, total int) {
	if total == 0 {
		<-poolDone
		return
	}

	bar := pb.New64(int64(total))
	bar.ShowTimeLeft = false
	bar.ShowSpeed = false
	bar.SetRefreshRate(dashboardInterval)
	bar.Start()
	defer bar.Finish()

	warn := color.New(color.FgYellow, color.Bold)

	ticker := time.NewTicker(dashboardInterval)
	defer ticker.Stop()

	for {
		select {
		case <-poolDone:
			bar.Set64(o.pool.Completed())
			return
		case <-ctx.Done():
			warn.Fprintln(os.Stderr, "orchestrator: shutdown requested, waiting for active downloads to drain")
			<-poolDone
			return
		case <-ticker.C:
			bar.Set64(o.pool.Completed())
			eta := o.pool.ETA()
			bar.Prefix(fmt.Sprintf("%s/%s jobs, eta %s ", humanize.Comma(o.pool.Completed()), humanize.Comma(o.pool.Submitted()), eta.Round(time.Second)))
		}
	}
}
