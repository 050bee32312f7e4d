package record

import (
	"strconv"
	"strings"
)

// knownEmptySuffixes lists the Splunk metadata files that are legitimately
// zero bytes and must still be retained, per section 3's zero-size policy.
// journal.gz is matched by suffix rather than extension since the rule is
// "ends in journal.gz", not ".gz" alone.
var knownEmptySuffixes = []string{
	".csv",
	".result",
	".tsidx",
	".bloomfilter",
	".data",
	"journal.gz",
	".dat",
}

// isKnownEmptyFile reports whether archiveKey names a Splunk metadata file
// that is allowed to be zero bytes, per section 3.
func isKnownEmptyFile(archiveKey string) bool {
	for _, suffix := range knownEmptySuffixes {
		if strings.HasSuffix(archiveKey, suffix) {
			return true
		}
	}
	return false
}

// findBucketDir locates the bucket directory name per section 4.1 step 1:
// the first occurrence of "db_" or "rb_" in archiveKey, up to the next path
// separator or end of string. It returns the bucket directory name, whether
// it is replicated (rb_) vs origin (db_), the path prefix preceding it, and
// whether a bucket marker was found at all.
func findBucketDir(archiveKey string) (dirName string, replicated bool, prefix string, found bool) {
	dbIdx := strings.Index(archiveKey, "db_")
	rbIdx := strings.Index(archiveKey, "rb_")

	idx := -1
	switch {
	case dbIdx == -1 && rbIdx == -1:
		return "", false, "", false
	case dbIdx == -1:
		idx = rbIdx
		replicated = true
	case rbIdx == -1:
		idx = dbIdx
		replicated = false
	case dbIdx < rbIdx:
		idx = dbIdx
		replicated = false
	default:
		idx = rbIdx
		replicated = true
	}

	prefix = archiveKey[:idx]
	rest := archiveKey[idx:]
	end := strings.IndexAny(rest, "/\\")
	if end == -1 {
		dirName = rest
	} else {
		dirName = rest[:end]
	}
	return dirName, replicated, prefix, true
}

// splitPathPrefix splits the path prefix preceding the bucket directory name
// into non-empty segments, handling both / and \ separators, per section
// 4.1 step 2.
func splitPathPrefix(prefix string) []string {
	fields := strings.FieldsFunc(prefix, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	return fields
}

// separatorUsed returns the path separator actually present in s, preferring
// / over \, or the empty string if neither appears. Used for the
// "internal_db" shape in section 4.1 step 2.
func separatorUsed(s string) string {
	if strings.Contains(s, "/") {
		return "/"
	}
	if strings.Contains(s, "\\") {
		return "\\"
	}
	return ""
}

// Parse converts one archive entry into a BucketFileRecord, or returns a
// *Rejection tagged with the first parsing step that failed, per section 4.1.
func Parse(archiveKey string, sizeBytes int64, container, downloadRoot string) (BucketFileRecord, error) {
	dirName, replicated, prefix, found := findBucketDir(archiveKey)
	if !found {
		return BucketFileRecord{}, &Rejection{
			Kind:       RejectionNoBucketDir,
			ArchiveKey: archiveKey,
			Detail:     "neither db_ nor rb_ found in archive key",
		}
	}

	segments := splitPathPrefix(prefix)
	n := len(segments)

	var stateSegment, indexSegment, dbSegment string
	switch {
	case n >= 3:
		stateSegment = segments[n-3]
		indexSegment = segments[n-2]
		dbSegment = segments[n-1]
	case n == 2:
		indexSegment = segments[n-2]
		dbSegment = segments[n-1]
		stateSegment = separatorUsed(prefix)
	case n == 1:
		dbSegment = segments[0]
		stateSegment = separatorUsed(prefix)
	default:
		stateSegment = separatorUsed(prefix)
	}

	fields := strings.Split(dirName, "_")
	// fields[0] is the "db"/"rb" marker itself; 1,2,3 are earliest/latest/seq.
	if len(fields) < 4 {
		return BucketFileRecord{}, &Rejection{
			Kind:       RejectionBucketIDFormat,
			ArchiveKey: archiveKey,
			Detail:     "bucket directory name has fewer than earliest_latest_seq fields: " + dirName,
		}
	}

	earliest, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return BucketFileRecord{}, &Rejection{
			Kind:       RejectionBucketIDFormat,
			ArchiveKey: archiveKey,
			Detail:     "non-numeric earliest field: " + fields[1],
		}
	}
	latest, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return BucketFileRecord{}, &Rejection{
			Kind:       RejectionBucketIDFormat,
			ArchiveKey: archiveKey,
			Detail:     "non-numeric latest field: " + fields[2],
		}
	}
	seq, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return BucketFileRecord{}, &Rejection{
			Kind:       RejectionBucketIDFormat,
			ArchiveKey: archiveKey,
			Detail:     "non-numeric bucket_seq field: " + fields[3],
		}
	}

	originGUID := NoneGUID
	standalone := true
	if len(fields) >= 5 {
		guid := strings.TrimRight(fields[4], "/\\")
		if guid != "" {
			originGUID = guid
			standalone = false
		}
	}

	if sizeBytes <= 0 && !isKnownEmptyFile(archiveKey) {
		return BucketFileRecord{}, &Rejection{
			Kind:       RejectionZeroSize,
			ArchiveKey: archiveKey,
			Detail:     "zero byte size and not a known-empty metadata file",
		}
	}

	return BucketFileRecord{
		ArchiveKey:   archiveKey,
		SizeBytes:    sizeBytes,
		Container:    container,
		DownloadRoot: downloadRoot,
		StateSegment: stateSegment,
		IndexSegment: indexSegment,
		DBSegment:    dbSegment,
		Earliest:     earliest,
		Latest:       latest,
		BucketSeq:    seq,
		OriginGUID:   originGUID,
		Replicated:   replicated,
		Standalone:   standalone,
	}, nil
}
