// Package record implements the Bucket Identity Parser described in section 4.1
// of the design specification. It converts an archive key and byte size into a
// structured BucketFileRecord, or rejects the input with a tagged error.
package record

import "fmt"

// GroupKey is the granularity at which the Bucketeer must spread files across
// peers rather than concentrate them on one, per section 3: (state, index, db,
// replicated).
type GroupKey struct {
	StateSegment string
	IndexSegment string
	DBSegment    string
	Replicated   bool
}

// String renders the group key for logging and CSV diagnostics.
func (k GroupKey) String() string {
	return fmt.Sprintf("%s/%s/%s/replicated=%v", k.StateSegment, k.IndexSegment, k.DBSegment, k.Replicated)
}

// BucketKey identifies a single logical Splunk bucket across its many
// constituent files, per section 3: (earliest, latest, bucket_seq,
// origin_guid). Every record sharing a BucketKey must land on the same peer.
type BucketKey struct {
	Earliest   int64
	Latest     int64
	BucketSeq  int64
	OriginGUID string
}

// String renders the bucket key the way Splunk bucket directory names do:
// earliest_latest_seq_guid.
func (k BucketKey) String() string {
	return fmt.Sprintf("%d_%d_%d_%s", k.Earliest, k.Latest, k.BucketSeq, k.OriginGUID)
}

// NoneGUID is the sentinel origin_guid used when a bucket directory name
// carries no GUID field (section 3: "standalone" buckets).
const NoneGUID = "none"

// BucketFileRecord is the immutable value derived from one archive entry, as
// defined in section 3 of the design specification. Records are created once
// per orchestrator run and never mutated afterward.
type BucketFileRecord struct {
	ArchiveKey   string // blob name as stored in the archive, includes path segments
	SizeBytes    int64
	Container    string
	DownloadRoot string

	StateSegment string
	IndexSegment string
	DBSegment    string

	Earliest   int64
	Latest     int64
	BucketSeq  int64
	OriginGUID string

	Replicated bool // true if the bucket directory name starts with rb_, false for db_
	Standalone bool // true iff no GUID was parseable
}

// GroupKey returns the granularity at which this record and its siblings are
// spread across peers by the Bucketeer, per section 3.
func (r BucketFileRecord) GroupKey() GroupKey {
	return GroupKey{
		StateSegment: r.StateSegment,
		IndexSegment: r.IndexSegment,
		DBSegment:    r.DBSegment,
		Replicated:   r.Replicated,
	}
}

// BucketKey returns the identifier of the logical bucket this record belongs
// to, per section 3.
func (r BucketFileRecord) BucketKey() BucketKey {
	return BucketKey{
		Earliest:   r.Earliest,
		Latest:     r.Latest,
		BucketSeq:  r.BucketSeq,
		OriginGUID: r.OriginGUID,
	}
}

// RejectionKind tags which parsing step failed, per section 4.1 step 5:
// "Any parse failure produces a rejection tagged with the first step that
// failed; callers log and skip."
type RejectionKind int

const (
	// RejectionNone is the zero value; never attached to an actual Rejection.
	RejectionNone RejectionKind = iota
	// RejectionNoBucketDir means neither db_ nor rb_ was found in the archive key (step 1).
	RejectionNoBucketDir
	// RejectionBucketIDFormat means the bucket directory name didn't split into
	// at least earliest/latest/bucket_seq fields (step 3).
	RejectionBucketIDFormat
	// RejectionZeroSize means the record was zero bytes and not a known-empty
	// Splunk metadata file (step 4).
	RejectionZeroSize
)

func (k RejectionKind) String() string {
	switch k {
	case RejectionNoBucketDir:
		return "no_bucket_dir"
	case RejectionBucketIDFormat:
		return "bucket_id_format"
	case RejectionZeroSize:
		return "zero_size"
	default:
		return "none"
	}
}

// Rejection is returned by Parse when an archive entry cannot be turned into
// a BucketFileRecord. The Kind names the first parsing step that failed, per
// section 4.1 step 5.
type Rejection struct {
	Kind       RejectionKind
	ArchiveKey string
	Detail     string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("reject %s (%s): %s", r.ArchiveKey, r.Kind, r.Detail)
}
