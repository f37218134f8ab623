package domain

// PreferCanonical reports whether a should be kept over b when both share an
// identity key: an unlocked row beats a locked one, then the older (lower id)
// row wins. Keeping the oldest unlocked row preserves the earliest known
// EarnedAt and never re-locks something a racing duplicate insert unlocked.
func PreferCanonical(a, b Record) bool {
	if a.Locked != b.Locked {
		return !a.Locked
	}
	return a.ID < b.ID
}

// Canonical returns the record to keep among rows of one identity key.
// Returns false for an empty slice.
func Canonical(records []Record) (Record, bool) {
	if len(records) == 0 {
		return Record{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		if PreferCanonical(r, best) {
			best = r
		}
	}
	return best, true
}
