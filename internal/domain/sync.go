package domain

import "time"

// SyncStats holds statistics about one reconciliation cycle.
type SyncStats struct {
	Artists        int
	ArtistsNew     int
	ArtistsUpdated int
	ArtistsDeleted int
	Unfollowed     int
	Tracks         int
	TracksNew      int
	TracksUpdated  int
	TracksDeleted  int
	Downloads      int
	DownloadErrors int
	Errors         int
	Duration       time.Duration
}

// NormalizeTime brings timestamps from the API and from the database to the
// same representation: UTC, microsecond precision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// SyncState is the persisted bookkeeping of the last completed cycle.
type SyncState struct {
	ID           int64     `db:"id"`
	AccountID    int64     `db:"account_id"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	TotalChanges int64     `db:"total_changes"`
}
