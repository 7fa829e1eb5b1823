package syncengine

import "github.com/wisbric/vulnsync/internal/store"

// State is one of the orchestrator's session states.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
)

// StreamType identifies one of the three concurrent fetch streams.
type StreamType string

const (
	StreamVulnerabilities StreamType = "vulnerabilities"
	StreamRemediations    StreamType = "remediations"
	StreamAssets          StreamType = "assets"
)

// ProgressEvent reports a stream's running observed-record count.
type ProgressEvent struct {
	Type  StreamType
	Count int
}

// IncrementalEvent reports the outcome of one stream flush.
type IncrementalEvent struct {
	Type    StreamType
	Stats   store.BatchStats
	Flushed int
}

// ProgressFunc, IncrementalFunc, and StateFunc are the three independently
// subscribable callbacks a caller may pass into Sync. Any may be nil.
type ProgressFunc func(ProgressEvent)
type IncrementalFunc func(IncrementalEvent)
type StateFunc func(State)

// Options configures one sync session.
type Options struct {
	// Incremental, if true and a prior successful sync exists, filters the
	// remediation stream by remediated_after_date. Vulnerabilities have no
	// equivalent server-side filter and are always fetched in full.
	Incremental bool
	// BatchSize is the per-stream flush threshold. Defaults to 1000.
	BatchSize int
}

const defaultBatchSize = 1000

// Result is the cumulative per-stream classification returned by a
// completed sync session.
type Result struct {
	Vulnerabilities store.BatchStats
	Remediations    store.BatchStats
	Assets          store.BatchStats
}
