package record

import "testing"

func TestParse_StandaloneTwoFiles(t *testing.T) {
	rec, err := Parse("frozendata/foo/frozendb/db_100_200_7/rawdata/journal.gz", 1000, "c1", "./d/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.StateSegment != "frozendata" || rec.IndexSegment != "foo" || rec.DBSegment != "frozendb" {
		t.Fatalf("unexpected segments: %+v", rec)
	}
	if rec.Earliest != 100 || rec.Latest != 200 || rec.BucketSeq != 7 {
		t.Fatalf("unexpected bucket id fields: %+v", rec)
	}
	if !rec.Standalone || rec.OriginGUID != NoneGUID {
		t.Fatalf("expected standalone record with sentinel guid, got %+v", rec)
	}
	if rec.Replicated {
		t.Fatalf("expected db_ prefix to be non-replicated")
	}

	rec2, err := Parse("frozendata/foo/frozendb/db_100_200_7/Hosts.data", 200, "c1", "./d/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec2.BucketKey() != rec.BucketKey() {
		t.Fatalf("expected both files to share a bucket key: %v vs %v", rec.BucketKey(), rec2.BucketKey())
	}
}

func TestParse_ReplicatedBucketWithGUID(t *testing.T) {
	rec, err := Parse("warm/cisco/db/rb_1620169246_1620169223_130_C27CDE8F-2593-4435-8739-B827B7975060/rawdata/journal.gz", 57800, "c1", "/opt/splunk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.Replicated {
		t.Fatalf("expected rb_ prefix to be replicated")
	}
	if rec.Standalone {
		t.Fatalf("expected clustered bucket with GUID to not be standalone")
	}
	if rec.OriginGUID != "C27CDE8F-2593-4435-8739-B827B7975060" {
		t.Fatalf("unexpected origin guid: %q", rec.OriginGUID)
	}
}

func TestParse_InternalDBShape(t *testing.T) {
	rec, err := Parse("db_100_200_7/rawdata/journal.gz", 500, "c1", "./d/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.StateSegment != "" {
		t.Fatalf("expected empty state segment when no path precedes the bucket dir, got %q", rec.StateSegment)
	}
}

func TestParse_FewerThanThreeLeadingSegments(t *testing.T) {
	rec, err := Parse("cisco/db/db_100_200_7/rawdata/journal.gz", 500, "c1", "./d/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.DBSegment != "db" || rec.IndexSegment != "cisco" {
		t.Fatalf("unexpected segments: %+v", rec)
	}
	if rec.StateSegment != "/" {
		t.Fatalf("expected state segment to fall back to separator, got %q", rec.StateSegment)
	}
}

func TestParse_NoBucketDirRejected(t *testing.T) {
	_, err := Parse("frozendata/foo/frozendb/not_a_bucket/file.dat", 100, "c1", "./d/")
	rej, ok := err.(*Rejection)
	if !ok {
		t.Fatalf("expected *Rejection, got %T (%v)", err, err)
	}
	if rej.Kind != RejectionNoBucketDir {
		t.Fatalf("expected RejectionNoBucketDir, got %v", rej.Kind)
	}
}

func TestParse_ZeroByteMetadataAllowed(t *testing.T) {
	rec, err := Parse("frozendata/foo/frozendb/db_100_200_7/optimize.result", 0, "c1", "./d/")
	if err != nil {
		t.Fatalf("unexpected rejection for known-empty metadata file: %v", err)
	}
	if rec.SizeBytes != 0 {
		t.Fatalf("expected zero size to be preserved")
	}
}

func TestParse_ZeroByteNonMetadataRejected(t *testing.T) {
	_, err := Parse("frozendata/foo/frozendb/db_100_200_7/rawdata/12345", 0, "c1", "./d/")
	rej, ok := err.(*Rejection)
	if !ok {
		t.Fatalf("expected *Rejection, got %T (%v)", err, err)
	}
	if rej.Kind != RejectionZeroSize {
		t.Fatalf("expected RejectionZeroSize, got %v", rej.Kind)
	}
}

func TestParse_BucketIDFormatRejected(t *testing.T) {
	_, err := Parse("frozendata/foo/frozendb/db_100/rawdata/journal.gz", 100, "c1", "./d/")
	rej, ok := err.(*Rejection)
	if !ok {
		t.Fatalf("expected *Rejection, got %T (%v)", err, err)
	}
	if rej.Kind != RejectionBucketIDFormat {
		t.Fatalf("expected RejectionBucketIDFormat, got %v", rej.Kind)
	}
}

func TestGroupKey_SeparatesReplicatedFromOrigin(t *testing.T) {
	origin, _ := Parse("frozendata/foo/frozendb/db_100_200_7/rawdata/journal.gz", 1000, "c1", "./d/")
	replicated, _ := Parse("frozendata/foo/frozendb/rb_100_200_7/rawdata/journal.gz", 1000, "c1", "./d/")
	if origin.GroupKey() == replicated.GroupKey() {
		t.Fatalf("expected replicated flag to differentiate group keys")
	}
}
