package feed

import "time"

// DefaultDedupWindow is the default recency window for suppressing
// repeated entries.
const DefaultDedupWindow = 10 * time.Second

// dedupKey identifies an entry for dedup purposes. Payload equality is
// deliberately ignored: two joins for the same display name inside the
// window are duplicates even if their payloads differ.
type dedupKey struct {
	typ  Type
	name string
}

// Deduper suppresses repeated feed entries with the same
// (type, display name) inside a recency window. The watermark advances
// only when an entry is admitted, so a burst of duplicates is collapsed
// to the first one.
//
// Not safe for concurrent use; callers own it from a single goroutine.
type Deduper struct {
	window time.Duration
	seen   map[dedupKey]time.Time
}

// NewDeduper creates a Deduper. A non-positive window disables
// deduplication entirely.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window: window,
		seen:   make(map[dedupKey]time.Time),
	}
}

// Admit reports whether the entry should pass through, and records its
// watermark if so.
func (d *Deduper) Admit(e *Entry) bool {
	if d.window <= 0 {
		return true
	}

	key := dedupKey{typ: e.Type, name: e.DisplayName}
	if last, ok := d.seen[key]; ok {
		if e.CreatedAt.Sub(last) < d.window {
			return false
		}
	}
	d.seen[key] = e.CreatedAt
	return true
}

// Reset clears all watermarks. Called on session transitions.
func (d *Deduper) Reset() {
	d.seen = make(map[dedupKey]time.Time)
}
