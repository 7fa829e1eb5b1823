// Package syncengine implements the sync orchestrator: single
// process-wide sync sessions, parallel multi-stream ingestion, bounded
// in-memory batch buffers flushed through the storage engine, and a
// pause/resume/stop state machine.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wisbric/vulnsync/internal/credentials"
	"github.com/wisbric/vulnsync/internal/store"
	"github.com/wisbric/vulnsync/internal/telemetry"
	"github.com/wisbric/vulnsync/internal/vantaclient"
)

// Orchestrator owns the single process-wide sync session. Concurrent
// sessions are rejected by construction: at most one *session is ever
// active at a time, guarded by mu.
type Orchestrator struct {
	db          *store.DB
	creds       credentials.Store
	baseURL     string
	authURL     string
	httpTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	state   State
	current *session
}

// session holds everything scoped to one sync() invocation.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	gate   *pauseGate
	stateCB StateFunc
}

// New creates an Orchestrator. db and creds are injected rather than
// process-singletons so tests can substitute in-memory fakes for both.
func New(db *store.DB, creds credentials.Store, baseURL, authURL string, httpTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		db:          db,
		creds:       creds,
		baseURL:     baseURL,
		authURL:     authURL,
		httpTimeout: httpTimeout,
		logger:      logger,
		state:       StateIdle,
	}
}

// GetSyncState reports the current state and whether a session is active.
func (o *Orchestrator) GetSyncState() (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.current != nil
}

func (o *Orchestrator) setState(s State, cb StateFunc) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// Sync runs one full session: precondition checks, three concurrent
// paginated fetches, buffered incremental flushes, and a final journal
// summary. Only one session may be active at a time.
func (o *Orchestrator) Sync(ctx context.Context, progressCB ProgressFunc, incrementalCB IncrementalFunc, stateCB StateFunc, opts Options) (Result, error) {
	o.mu.Lock()
	if o.current != nil {
		o.mu.Unlock()
		return Result{}, ErrSyncAlreadyInProgress
	}

	pair, err := o.creds.Get(ctx)
	if err != nil {
		o.mu.Unlock()
		return Result{}, fmt.Errorf("reading credentials: %w", err)
	}
	if pair.Empty() {
		o.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrCredentialsMissing, CredentialsMissingMessage)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &session{ctx: sessCtx, cancel: cancel, gate: newPauseGate(), stateCB: stateCB}
	o.current = sess
	o.state = StateRunning
	o.mu.Unlock()

	if stateCB != nil {
		stateCB(StateRunning)
	}

	result, err := o.run(sess, pair, progressCB, incrementalCB, opts)

	o.mu.Lock()
	o.current = nil
	o.state = StateIdle
	o.mu.Unlock()
	cancel()
	if stateCB != nil {
		stateCB(StateIdle)
	}

	if err != nil {
		telemetry.SyncSessionsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		_ = o.db.LogSyncEvent(context.Background(), store.EventError, journalErrorMessage(err), "")
		return Result{}, err
	}
	telemetry.SyncSessionsTotal.WithLabelValues("complete").Inc()
	return result, nil
}

// journalErrorMessage renders the message recorded on the error journal
// event. A user-initiated stop must read as "stopped by user" (spaced, not
// the hyphenated sentinel text) so callers scanning the journal can match on
// that phrase rather than the sentinel's wire form.
func journalErrorMessage(err error) string {
	if isStoppedByUser(err) {
		return "sync stopped by user"
	}
	return err.Error()
}

func outcomeLabel(err error) string {
	if isStoppedByUser(err) {
		return "stopped"
	}
	return "error"
}

func isStoppedByUser(err error) bool {
	for err != nil {
		if err == ErrSyncStoppedByUser {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// run is the body of one session, isolated from Sync's bookkeeping so the
// finally-block semantics (clear session, reset state, re-throw) live in
// one obvious place in Sync.
func (o *Orchestrator) run(sess *session, pair credentials.Pair, progressCB ProgressFunc, incrementalCB IncrementalFunc, opts Options) (Result, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	client := vantaclient.New(o.baseURL, o.authURL, credentials.NewStaticStore(pair), o.httpTimeout, vantaclient.WithLogger(o.logger))

	if err := o.db.LogSyncEvent(sess.ctx, store.EventStart, "sync started", fmt.Sprintf(`{"incremental":%t,"batch_size":%d}`, opts.Incremental, batchSize)); err != nil {
		return Result{}, err
	}

	remediationFilters := map[string]string{}
	if opts.Incremental {
		if last, err := o.db.GetLastSuccessfulSyncDate(sess.ctx); err == nil && last.Valid {
			remediationFilters["remediated_after_date"] = last.String
		}
	}

	vulnBuf := &streamBuffer{}
	remBuf := &streamBuffer{}
	assetBuf := &streamBuffer{}

	var vulnStats, remStats, assetStats store.BatchStats
	var vulnCount, remCount, assetCount int
	var statsMu sync.Mutex

	g, gctx := errgroup.WithContext(sess.ctx)

	g.Go(func() error {
		return client.Vulnerabilities(gctx, nil, func(ctx context.Context, records []json.RawMessage) error {
			return o.handleBatch(sess, StreamVulnerabilities, vulnBuf, records, batchSize, &vulnCount, &statsMu, &vulnStats, progressCB, incrementalCB, o.db.UpsertVulnerabilitiesBatch)
		})
	})
	g.Go(func() error {
		return client.Remediations(gctx, remediationFilters, func(ctx context.Context, records []json.RawMessage) error {
			return o.handleBatch(sess, StreamRemediations, remBuf, records, batchSize, &remCount, &statsMu, &remStats, progressCB, incrementalCB, o.db.UpsertRemediationsBatch)
		})
	})
	g.Go(func() error {
		return client.VulnerableAssets(gctx, nil, func(ctx context.Context, records []json.RawMessage) error {
			return o.handleBatch(sess, StreamAssets, assetBuf, records, batchSize, &assetCount, &statsMu, &assetStats, progressCB, incrementalCB, o.db.UpsertAssetsBatch)
		})
	})

	if err := g.Wait(); err != nil {
		return Result{}, translateStreamError(err)
	}

	if err := o.flushResidual(sess, StreamVulnerabilities, vulnBuf, &statsMu, &vulnStats, incrementalCB, o.db.UpsertVulnerabilitiesBatch); err != nil {
		return Result{}, err
	}
	if err := o.flushResidual(sess, StreamRemediations, remBuf, &statsMu, &remStats, incrementalCB, o.db.UpsertRemediationsBatch); err != nil {
		return Result{}, err
	}
	if err := o.flushResidual(sess, StreamAssets, assetBuf, &statsMu, &assetStats, incrementalCB, o.db.UpsertAssetsBatch); err != nil {
		return Result{}, err
	}

	if err := o.db.RecordSyncHistory(sess.ctx, store.SyncSummary{
		VulnerabilitiesCount: vulnStats.Total, VulnerabilitiesNew: vulnStats.New,
		VulnerabilitiesUpdated: vulnStats.Updated, VulnerabilitiesRemediated: vulnStats.Remediated,
		RemediationsCount: remStats.Total, RemediationsNew: remStats.New, RemediationsUpdated: remStats.Updated,
	}); err != nil {
		return Result{}, fmt.Errorf("recording sync history: %w", err)
	}

	if err := o.db.LogSyncEvent(context.Background(), store.EventComplete, "sync complete", ""); err != nil {
		return Result{}, err
	}

	return Result{Vulnerabilities: vulnStats, Remediations: remStats, Assets: assetStats}, nil
}

type upsertFunc func(ctx context.Context, records []json.RawMessage, now time.Time) (store.BatchStats, error)

// handleBatch is the shared on_batch callback body for all three streams:
// check_pause_or_stop, append, emit progress, log a batch event, and flush
// if the buffer has crossed the threshold.
func (o *Orchestrator) handleBatch(sess *session, stream StreamType, buf *streamBuffer, records []json.RawMessage, batchSize int, observedCount *int, statsMu *sync.Mutex, cumulative *store.BatchStats, progressCB ProgressFunc, incrementalCB IncrementalFunc, upsert upsertFunc) error {
	if err := o.checkPauseOrStop(sess); err != nil {
		return err
	}

	size := buf.append(records)
	*observedCount += len(records)

	if progressCB != nil {
		progressCB(ProgressEvent{Type: stream, Count: *observedCount})
	}
	if err := o.db.LogSyncEvent(sess.ctx, store.EventBatch, fmt.Sprintf("%s batch received", stream), fmt.Sprintf(`{"count":%d}`, *observedCount)); err != nil {
		return err
	}

	if size < batchSize {
		return nil
	}
	return o.flush(sess, stream, buf, statsMu, cumulative, incrementalCB, upsert)
}

// flush drains buf and upserts its contents through the storage engine,
// accumulating cumulative counters and emitting an incremental event.
func (o *Orchestrator) flush(sess *session, stream StreamType, buf *streamBuffer, statsMu *sync.Mutex, cumulative *store.BatchStats, incrementalCB IncrementalFunc, upsert upsertFunc) error {
	drained := buf.drain()
	if len(drained) == 0 {
		return nil
	}

	start := time.Now()
	batchStats, err := upsert(sess.ctx, drained, time.Now())
	telemetry.FlushDurationSeconds.WithLabelValues(string(stream)).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: failed to flush %s buffer: %v", ErrFlushFailed, stream, err)
	}

	telemetry.RecordsClassifiedTotal.WithLabelValues(string(stream), "new").Add(float64(batchStats.New))
	telemetry.RecordsClassifiedTotal.WithLabelValues(string(stream), "updated").Add(float64(batchStats.Updated))
	telemetry.RecordsClassifiedTotal.WithLabelValues(string(stream), "remediated").Add(float64(batchStats.Remediated))

	statsMu.Lock()
	cumulative.New += batchStats.New
	cumulative.Updated += batchStats.Updated
	cumulative.Remediated += batchStats.Remediated
	cumulative.Total += batchStats.Total
	statsMu.Unlock()

	if incrementalCB != nil {
		incrementalCB(IncrementalEvent{Type: stream, Stats: batchStats, Flushed: len(drained)})
	}
	return o.db.LogSyncEvent(sess.ctx, store.EventFlush, fmt.Sprintf("%s buffer flushed", stream), fmt.Sprintf(`{"flushed":%d}`, len(drained)))
}

func (o *Orchestrator) flushResidual(sess *session, stream StreamType, buf *streamBuffer, statsMu *sync.Mutex, cumulative *store.BatchStats, incrementalCB IncrementalFunc, upsert upsertFunc) error {
	if buf.len() == 0 {
		return nil
	}
	return o.flush(sess, stream, buf, statsMu, cumulative, incrementalCB, upsert)
}

// checkPauseOrStop is called at every batch boundary: it fails fast if the
// session's cancellation signal is set, and otherwise blocks on the pause
// gate if paused, emitting state transitions around the wait.
func (o *Orchestrator) checkPauseOrStop(sess *session) error {
	if sess.ctx.Err() != nil {
		return ErrSyncStoppedByUser
	}
	if !sess.gate.isPaused() {
		return nil
	}

	o.setState(StatePaused, sess.stateCB)
	select {
	case <-sess.gate.channel():
	case <-sess.ctx.Done():
		return ErrSyncStoppedByUser
	}
	if sess.ctx.Err() != nil {
		return ErrSyncStoppedByUser
	}
	o.setState(StateRunning, sess.stateCB)
	return nil
}

// translateStreamError normalizes a fetch-stream failure: cancellation
// surfaces as sync-stopped-by-user, everything else propagates unwrapped so
// the caller sees the originating API-client error.
func translateStreamError(err error) error {
	if err == nil {
		return nil
	}
	if isStoppedByUser(err) {
		return ErrSyncStoppedByUser
	}
	if isCancellationError(err) {
		return ErrSyncStoppedByUser
	}
	return err
}

func isCancellationError(err error) bool {
	return err == context.Canceled || isWrapped(err, vantaclient.ErrRequestCancelled)
}

func isWrapped(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Pause is permitted only while a session is running.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.state != StateRunning {
		return ErrNoActiveSync
	}
	o.current.gate.pause()
	return nil
}

// Resume is permitted only while a session is paused.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.state != StatePaused {
		return ErrNoActiveSync
	}
	o.current.gate.resume()
	return nil
}

// Stop is permitted only while a session is active, and is idempotent
// after the first call within that session: it resolves any pending pause
// handle first, then signals cancellation, so a paused waiter observes the
// abort on its next boundary check rather than hanging forever.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return ErrNoActiveSync
	}
	o.current.gate.resume()
	o.current.cancel()
	return nil
}
