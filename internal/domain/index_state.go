package domain

import "time"

// IndexAdapter identifies one of the derived index backends.
type IndexAdapter string

const (
	AdapterText   IndexAdapter = "text"
	AdapterVector IndexAdapter = "vector"
)

// IndexStatus represents the propagation state of a meme for one adapter.
// The two adapters diverge independently: a text success beside a vector
// failure is a legal, degraded state.
type IndexStatus string

const (
	// IndexStatusPending means a committed version has not been pushed yet.
	IndexStatusPending IndexStatus = "pending"
	// IndexStatusSynced means the adapter holds the latest committed version.
	IndexStatusSynced IndexStatus = "synced"
	// IndexStatusFailed means the last push failed and a retry is scheduled.
	IndexStatusFailed IndexStatus = "failed"
	// IndexStatusPendingDelete means the meme awaits removal from the adapter.
	IndexStatusPendingDelete IndexStatus = "pending_delete"
	// IndexStatusDeleted means the adapter confirmed removal. Once both
	// adapters reach this state the primary row is hard-deleted.
	IndexStatusDeleted IndexStatus = "deleted"
)

// IndexState tracks one adapter's view of a meme. Embedded twice in Meme,
// once per adapter.
type IndexState struct {
	Status        IndexStatus `gorm:"type:text;index;default:pending" json:"status"`
	SyncedVersion int64       `json:"synced_version"`
	Attempts      int         `json:"attempts"`
	LastError     string      `gorm:"type:text" json:"last_error,omitempty"`
	NextRetryAt   *time.Time  `json:"next_retry_at,omitempty"`
}

// RetryDue reports whether a failed state has an elapsed backoff.
func (s IndexState) RetryDue(now time.Time) bool {
	return s.Status == IndexStatusFailed && s.NextRetryAt != nil && !s.NextRetryAt.After(now)
}
