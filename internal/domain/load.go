package domain

import "time"

// MaxLoadedAt returns the latest LoadedAt in the batch, or false for an
// empty batch.
func MaxLoadedAt(readings []StationReading) (time.Time, bool) {
	var latest time.Time
	for i, r := range readings {
		if i == 0 || r.LoadedAt.After(latest) {
			latest = r.LoadedAt
		}
	}
	return latest, len(readings) > 0
}

// NeedsAppend decides whether a batch whose newest reading is batchMax holds
// data the store has not seen. storeMax is nil for an empty store.
//
// Any difference counts, not only a newer batch: the source shares one
// timestamp across a poll, so equality means the poll was already loaded.
// An older batch is appended too.
func NeedsAppend(batchMax time.Time, storeMax *time.Time) bool {
	if storeMax == nil {
		return true
	}
	return !batchMax.Equal(*storeMax)
}
