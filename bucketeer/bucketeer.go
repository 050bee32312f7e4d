// Package bucketeer implements the Partitioner described in section 4.4 of
// the design specification: the deterministic, cluster-aware component that
// turns a flat list of archive records into one download plan per peer. It
// groups records by the granularity Splunk requires them to be spread at,
// keeps whole buckets atomic, splits contiguously across peers, and then
// balances plans by bytes rather than by file count.
package bucketeer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/splunkops/sabb/manifest"
	"github.com/splunkops/sabb/record"
)

// State names one step of the Bucketeer's run, per section 4.4's state
// machine: INIT -> PARSING -> GROUPING -> SPLITTING -> BALANCING -> EMITTING
// -> DONE, with FAILED reachable from any state.
type State string

const (
	StateInit      State = "INIT"
	StateParsing   State = "PARSING"
	StateGrouping  State = "GROUPING"
	StateSplitting State = "SPLITTING"
	StateBalancing State = "BALANCING"
	StateEmitting  State = "EMITTING"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// defaultBalanceTimeout is the 20-minute wall-clock cap on the size balancer
// from section 4.4e.
const defaultBalanceTimeout = 20 * time.Minute

// Candidate is one unparsed archive listing entry, the input tuple named in
// section 4.4: "(archive_key, size_bytes, container, download_root, …extra…)".
type Candidate struct {
	ArchiveKey   string
	SizeBytes    int64
	Container    string
	DownloadRoot string
}

// ManifestStore is the narrow slice of manifest.Store the Bucketeer needs:
// enough to dedup against prior runs and to persist the new plan.
type ManifestStore interface {
	Load(peerID string) ([]manifest.Row, error)
	Append(ctx context.Context, peerID string, rows []manifest.Row) error
}

// Result is the outcome of one Bucketeer run, per section 4.4's "one plan
// per peer ... and returned as per-peer sequences of Bucket File Records".
type Result struct {
	Plans       map[string][]record.BucketFileRecord // every peer's full emitted plan
	LocalActive []record.BucketFileRecord            // the local peer's plan with SUCCESS rows dropped
	Rejections  []*record.Rejection
}

// Bucketeer runs the grouping/splitting/balancing/emit pipeline described in
// section 4.4.
type Bucketeer struct {
	store          ManifestStore
	log            zerolog.Logger
	balanceTimeout time.Duration

	mu    sync.Mutex
	state State
}

// Option configures a Bucketeer.
type Option func(*Bucketeer)

// WithBalanceTimeout overrides the balancer's wall-clock cap, default 20
// minutes per section 4.4e.
func WithBalanceTimeout(d time.Duration) Option {
	return func(b *Bucketeer) { b.balanceTimeout = d }
}

// New returns a Bucketeer backed by store.
func New(store ManifestStore, log zerolog.Logger, opts ...Option) *Bucketeer {
	b := &Bucketeer{
		store:          store,
		log:            log,
		balanceTimeout: defaultBalanceTimeout,
		state:          StateInit,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State reports the Bucketeer's current step, for dashboard display.
func (b *Bucketeer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bucketeer) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	b.log.Debug().Str("state", string(s)).Msg("bucketeer transitioned state")
}

// atomicUnit is the indivisible move-as-one-piece group of records sharing a
// bucket_key, per section 3's bucket-atomicity invariant.
type atomicUnit struct {
	key       record.BucketKey
	records   []record.BucketFileRecord
	sizeBytes int64
}

type groupEntry struct {
	key   record.GroupKey
	units []*atomicUnit
}

// Run executes every stage of section 4.4 and returns the per-peer plans.
// localPeerID identifies which entry of the emitted plans is this peer's
// active work list. peerIDs must already be sorted (section 4.2's contract).
func (b *Bucketeer) Run(ctx context.Context, peerIDs []string, localPeerID string, candidates []Candidate) (Result, error) {
	start := time.Now()
	b.setState(StateInit)

	if len(peerIDs) == 0 {
		b.setState(StateFailed)
		return Result{}, fmt.Errorf("bucketeer: empty peer list")
	}
	if len(candidates) == 0 {
		b.setState(StateFailed)
		return Result{}, fmt.Errorf("bucketeer: empty input list")
	}

	b.setState(StateParsing)
	validRecords, rejections, err := b.parseAndDedup(peerIDs, candidates)
	if err != nil {
		b.setState(StateFailed)
		return Result{}, err
	}
	for _, rej := range rejections {
		b.log.Warn().Str("archive_key", rej.ArchiveKey).Str("kind", rej.Kind.String()).Msg("rejected archive entry")
	}
	if len(validRecords) == 0 {
		b.setState(StateDone)
		return Result{Rejections: rejections}, nil
	}

	b.setState(StateGrouping)
	groups := b.group(validRecords)

	b.setState(StateSplitting)
	draftPlans := b.split(groups, len(peerIDs))

	b.setState(StateBalancing)
	b.balance(ctx, draftPlans, start)

	b.setState(StateEmitting)
	plans := make(map[string][]record.BucketFileRecord, len(peerIDs))
	for i, peerID := range peerIDs {
		plans[peerID] = flatten(draftPlans[i])
	}

	if err := b.emit(ctx, peerIDs, plans); err != nil {
		b.setState(StateFailed)
		return Result{}, err
	}

	localActive, err := b.localActivePlan(localPeerID, plans[localPeerID])
	if err != nil {
		b.setState(StateFailed)
		return Result{}, err
	}

	b.setState(StateDone)
	return Result{Plans: plans, LocalActive: localActive, Rejections: rejections}, nil
}

// parseAndDedup implements stage (a): parse every candidate via section 4.1,
// collect rejections, and drop any record whose archive_key already appears
// in any peer's manifest (it is already planned).
func (b *Bucketeer) parseAndDedup(peerIDs []string, candidates []Candidate) ([]record.BucketFileRecord, []*record.Rejection, error) {
	planned := make(map[string]struct{})
	for _, peerID := range peerIDs {
		rows, err := b.store.Load(peerID)
		if err != nil {
			return nil, nil, fmt.Errorf("bucketeer: failed to load manifest for peer %s: %w", peerID, err)
		}
		for _, row := range rows {
			planned[row.FileName] = struct{}{}
		}
	}

	records := make([]record.BucketFileRecord, 0, len(candidates))
	var rejections []*record.Rejection
	for _, c := range candidates {
		if _, already := planned[c.ArchiveKey]; already {
			continue
		}
		rec, err := record.Parse(c.ArchiveKey, c.SizeBytes, c.Container, c.DownloadRoot)
		if err != nil {
			if rej, ok := err.(*record.Rejection); ok {
				rejections = append(rejections, rej)
				continue
			}
			return nil, nil, err
		}
		records = append(records, rec)
	}
	return records, rejections, nil
}

// group implements stages (b) and (c): bucket records into an
// insertion-ordered sequence of groups, each holding an insertion-ordered
// sequence of atomic bucket units. Before subgrouping, records within a
// group are sorted by origin_guid then bucket_key per section 4.4's
// tie-break rule, so chunk boundaries are deterministic regardless of the
// order the archive listing arrived in.
func (b *Bucketeer) group(records []record.BucketFileRecord) []*groupEntry {
	groupIndex := make(map[record.GroupKey]int)
	var groups []*groupEntry

	byGroup := make(map[record.GroupKey][]record.BucketFileRecord)
	var groupOrder []record.GroupKey
	for _, rec := range records {
		gk := rec.GroupKey()
		if _, ok := groupIndex[gk]; !ok {
			groupIndex[gk] = len(groupOrder)
			groupOrder = append(groupOrder, gk)
		}
		byGroup[gk] = append(byGroup[gk], rec)
	}

	for _, gk := range groupOrder {
		recs := byGroup[gk]
		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].OriginGUID != recs[j].OriginGUID {
				return recs[i].OriginGUID < recs[j].OriginGUID
			}
			return recs[i].BucketKey().String() < recs[j].BucketKey().String()
		})

		ge := &groupEntry{key: gk}
		unitIndex := make(map[record.BucketKey]int)
		for _, rec := range recs {
			bk := rec.BucketKey()
			ui, ok := unitIndex[bk]
			if !ok {
				ui = len(ge.units)
				unitIndex[bk] = ui
				ge.units = append(ge.units, &atomicUnit{key: bk})
			}
			ge.units[ui].records = append(ge.units[ui].records, rec)
			ge.units[ui].sizeBytes += rec.SizeBytes
		}
		groups = append(groups, ge)
	}
	return groups
}

// split implements stage (d): contiguous-chunk partitioning of each group's
// atomic units across N peers. Chunk size is floor(total/N); the first
// total-mod-N chunks get one extra unit. The i-th sublist of every group is
// merged into peer i's draft plan, so no single group can pile onto one
// peer.
func (b *Bucketeer) split(groups []*groupEntry, peerCount int) [][]*atomicUnit {
	draftPlans := make([][]*atomicUnit, peerCount)
	for _, ge := range groups {
		total := len(ge.units)
		base := total / peerCount
		remainder := total % peerCount
		idx := 0
		for i := 0; i < peerCount; i++ {
			size := base
			if i < remainder {
				size++
			}
			draftPlans[i] = append(draftPlans[i], ge.units[idx:idx+size]...)
			idx += size
		}
	}
	return draftPlans
}

// balance implements stage (e): iteratively move whole atomic units from
// above-margin peers to below-margin peers until peers are within margin_pct
// of the mean, no unit can move without taking its donor below the margin,
// or the wall-clock cap is reached. Uses time.Since, whose
// measurement is monotonic per section 9's "timeout-as-progress" note.
func (b *Bucketeer) balance(ctx context.Context, draftPlans [][]*atomicUnit, start time.Time) {
	n := len(draftPlans)
	if n == 0 {
		return
	}
	marginPct := float64(n) / 2
	if marginPct > 10 {
		marginPct = 10
	}

	totals := make([]int64, n)
	recomputeTotals := func() {
		for i, plan := range draftPlans {
			var sum int64
			for _, u := range plan {
				sum += u.sizeBytes
			}
			totals[i] = sum
		}
	}
	recomputeTotals()

	for {
		if ctx.Err() != nil {
			b.log.Warn().Msg("bucketeer balancer aborted: context cancelled")
			return
		}
		if time.Since(start) > b.balanceTimeout {
			b.log.Warn().Dur("elapsed", time.Since(start)).Msg("bucketeer balancer hit wall-clock cap; accepting current distribution")
			return
		}

		var grandTotal int64
		for _, t := range totals {
			grandTotal += t
		}
		mean := grandTotal / int64(n)
		marginAbs := int64(float64(mean) * marginPct / 100)

		var below, above []int
		for i, t := range totals {
			if t < mean-marginAbs {
				below = append(below, i)
			} else {
				above = append(above, i) // within_margin peers fold into above as donors, per section 4.4e
			}
		}
		if len(below) == 0 {
			b.log.Info().Float64("margin_pct", marginPct).Msg("bucketeer balancer converged within margin")
			return
		}

		moved := false
		for _, r := range below {
			for _, d := range above {
				for totals[r] < mean && len(draftPlans[d]) > 0 {
					last := len(draftPlans[d]) - 1
					unit := draftPlans[d][last]
					if totals[d]-unit.sizeBytes < mean-marginAbs {
						break // the donor would drop below the margin
					}
					draftPlans[d] = draftPlans[d][:last]
					draftPlans[r] = append(draftPlans[r], unit)
					totals[r] += unit.sizeBytes
					totals[d] -= unit.sizeBytes
					moved = true
				}
			}
		}
		if !moved {
			b.log.Warn().Msg("bucketeer balancer made no progress this pass; accepting current distribution")
			return
		}
	}
}

// flatten turns a peer's atomic units into its ordered plan of file records.
func flatten(units []*atomicUnit) []record.BucketFileRecord {
	var out []record.BucketFileRecord
	for _, u := range units {
		out = append(out, u.records...)
	}
	return out
}

// emit implements the manifest-write half of stage (f): appending every
// plan's records that are not yet present in that peer's manifest.
func (b *Bucketeer) emit(ctx context.Context, peerIDs []string, plans map[string][]record.BucketFileRecord) error {
	for _, peerID := range peerIDs {
		existing, err := b.store.Load(peerID)
		if err != nil {
			return fmt.Errorf("bucketeer: failed to load manifest for peer %s during emit: %w", peerID, err)
		}
		already := make(map[string]struct{}, len(existing))
		for _, row := range existing {
			already[row.FileName] = struct{}{}
		}

		var rows []manifest.Row
		for _, rec := range plans[peerID] {
			if _, ok := already[rec.ArchiveKey]; ok {
				continue
			}
			rows = append(rows, manifest.Row{
				FileName:          rec.ArchiveKey,
				ExpectedSizeBytes: rec.SizeBytes,
				WasStandalone:     rec.Standalone,
				BucketID:          rec.BucketKey().String(),
				IsDBBucket:        !rec.Replicated,
				State:             manifest.StatePending,
				// Additional_1 carries the container name, so a later
				// --skip_to_csv_load run can reconstruct a download plan
				// from the manifest alone without re-listing the archive.
				Extra: []string{rec.Container},
			})
		}
		if len(rows) == 0 {
			continue
		}
		if err := b.store.Append(ctx, peerID, rows); err != nil {
			return fmt.Errorf("bucketeer: failed to append manifest for peer %s: %w", peerID, err)
		}
	}
	return nil
}

// localActivePlan implements the second half of stage (f): the local peer
// loads its manifest, drops SUCCESS rows, and returns the remainder as its
// active plan, per section 4.4f and the resume-idempotence invariant
// (section 7's "Resume idempotence").
func (b *Bucketeer) localActivePlan(localPeerID string, emittedPlan []record.BucketFileRecord) ([]record.BucketFileRecord, error) {
	rows, err := b.store.Load(localPeerID)
	if err != nil {
		return nil, fmt.Errorf("bucketeer: failed to load local manifest for peer %s: %w", localPeerID, err)
	}
	successful := make(map[string]struct{})
	for _, row := range rows {
		if row.State == manifest.StateSuccess {
			successful[row.FileName] = struct{}{}
		}
	}

	active := make([]record.BucketFileRecord, 0, len(emittedPlan))
	for _, rec := range emittedPlan {
		if _, done := successful[rec.ArchiveKey]; done {
			continue
		}
		active = append(active, rec)
	}
	return active, nil
}

// Elapsed reports how long the given run has been in progress, carried from
// original_source's timer class (wr_common.py) as an operator-visible run
// duration rather than an algorithmic input.
func Elapsed(start time.Time) time.Duration {
	return time.Since(start)
}
