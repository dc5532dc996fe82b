package feed

// Merge deduplicates one cycle's candidate records into one record per key.
//
// Two sessions can transiently produce the same key (a session mid-redirect
// briefly serves an overlapping category). The loser of each collision is
// dropped for this cycle; resolution is by Quality, and on equal quality the
// record that arrived first in the candidate slice wins. Given the same two
// records the outcome is the same regardless of arrival order, except for
// exact-quality ties where "first in" is the documented tie-break.
func Merge(candidates []*Record) map[string]*Record {
	merged := make(map[string]*Record, len(candidates))
	for _, r := range candidates {
		if r == nil || r.Key == "" {
			continue
		}
		cur, ok := merged[r.Key]
		if !ok {
			merged[r.Key] = r
			continue
		}
		if Quality(r) > Quality(cur) {
			merged[r.Key] = r
		}
	}
	return merged
}
