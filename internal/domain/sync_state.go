package domain

type SyncState string

const (
	SyncStateIdle        SyncState = "idle"
	SyncStatePendingPush SyncState = "pendingPush"
	SyncStatePushing     SyncState = "pushing"
	SyncStateError       SyncState = "error"
)

// IsBusy reports whether a push is scheduled or running.
func (s SyncState) IsBusy() bool {
	return s == SyncStatePendingPush || s == SyncStatePushing
}

// String representation (for logging)
func (s SyncState) String() string {
	return string(s)
}
