package syncengine

import "errors"

// Sentinel errors matching the orchestrator's error taxonomy.
var (
	ErrCredentialsMissing   = errors.New("credentials-missing")
	ErrSyncAlreadyInProgress = errors.New("sync-already-in-progress")
	ErrSyncStoppedByUser    = errors.New("sync-stopped-by-user")
	ErrNoActiveSync         = errors.New("no-active-sync")
	ErrFlushFailed          = errors.New("flush-failed")
)

// CredentialsMissingMessage is the exact precondition failure message raised
// before any HTTP traffic when either credential half is empty.
const CredentialsMissingMessage = "Client ID and Client Secret must be configured before syncing."
