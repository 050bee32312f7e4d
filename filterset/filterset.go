// Package filterset implements the container/blob search and ignore list
// filtering named in section 6 of the design specification
// (--container_search_list/--container_ignore_list,
// --blob_search_list/--blob_ignore_list, and their *_type companions), and
// recovered in detail from original_source/lib/wr_common.py's isInList
// helper: a search list narrows candidates to matches, an ignore list then
// excludes matches from that narrowed set, and ignore wins ties.
package filterset

import "strings"

// MatchMode selects whether a list entry must equal the candidate exactly or
// only needs to appear as a substring, mirroring the *_type flags in
// section 6.
type MatchMode int

const (
	// Substring matches when a list entry appears anywhere in the candidate.
	Substring MatchMode = iota
	// Exact matches only when a list entry equals the candidate exactly.
	Exact
)

// List is one search or ignore list paired with its match mode.
type List struct {
	Entries []string
	Mode    MatchMode
}

func (l List) matches(candidate string) bool {
	for _, entry := range l.Entries {
		switch l.Mode {
		case Exact:
			if candidate == entry {
				return true
			}
		default:
			if strings.Contains(candidate, entry) {
				return true
			}
		}
	}
	return false
}

// Filter evaluates a candidate against a search list and an ignore list, per
// section 6's filter precedence: the candidate passes only if (a) the search
// list is empty or matches, and (b) the ignore list does not match. An empty
// ignore list never excludes.
type Filter struct {
	Search List
	Ignore List
}

// Allow reports whether candidate passes this filter.
func (f Filter) Allow(candidate string) bool {
	if len(f.Search.Entries) > 0 && !f.Search.matches(candidate) {
		return false
	}
	if len(f.Ignore.Entries) > 0 && f.Ignore.matches(candidate) {
		return false
	}
	return true
}
