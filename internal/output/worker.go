package output

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/outflow/internal/eventlog"
	"github.com/rzbill/outflow/internal/meta"
	"github.com/rzbill/outflow/internal/metrics"
	"github.com/rzbill/outflow/internal/sink"
	logpkg "github.com/rzbill/outflow/pkg/log"
)

// LogEngine hands out per-queue log handles. Implemented by the runtime;
// OpenLog may fail while the engine is still starting up, which workers
// treat as a transient condition.
type LogEngine interface {
	OpenLog(databaseID, queueID string) (*eventlog.Log, error)
}

const (
	// readTimeout bounds each blocking cursor read so stop and change
	// signals are observed even when the log is idle.
	readTimeout = time.Second
	// backoffUnit scales the inter-session backoff by errorCount.
	backoffUnit = time.Second
)

// Worker streams one output from its last committed checkpoint to a sink
// adapter. One goroutine runs Run per worker; Stop and OutputChanged may
// be called from any goroutine.
type Worker struct {
	store    *meta.Store
	engine   LogEngine
	registry *sink.Registry
	logger   logpkg.Logger
	onExit   func(*Worker)
	outputID string

	ctx  context.Context
	stop context.CancelFunc
	wake chan struct{} // cuts a backoff sleep short, capacity 1

	mu          sync.Mutex
	readCancel  context.CancelFunc
	lastWritten int64 // version of this worker's own last checkpoint write

	errorCount int
}

// NewWorker builds a worker for one output id. onExit, when non-nil, is
// invoked exactly once after Run returns.
func NewWorker(store *meta.Store, engine LogEngine, registry *sink.Registry, logger logpkg.Logger, outputID string, onExit func(*Worker)) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		store:    store,
		engine:   engine,
		registry: registry,
		logger:   logger.With(logpkg.Component("output"), logpkg.Str("output_id", outputID)),
		onExit:   onExit,
		outputID: outputID,
		ctx:      ctx,
		stop:     cancel,
		wake:     make(chan struct{}, 1),
	}
}

// OutputID returns the id of the output this worker serves.
func (w *Worker) OutputID() string { return w.outputID }

// Stop requests permanent shutdown and interrupts any blocked read.
// Idempotent.
func (w *Worker) Stop() { w.stop() }

// OutputChanged tells the worker its output record was updated. A version
// equal to the worker's own last checkpoint write is a self-write and is
// ignored; anything else interrupts the current blocked read, or cuts the
// backoff sleep short when no read is in flight, so the session can
// re-resolve.
func (w *Worker) OutputChanged(version int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if version == w.lastWritten {
		return
	}
	if w.readCancel != nil {
		w.readCancel()
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) setLastWritten(version int64) {
	w.mu.Lock()
	w.lastWritten = version
	w.mu.Unlock()
}

// Run executes sessions until the worker is stopped or reaches a terminal
// condition (missing/disabled records, configuration error).
func (w *Worker) Run() {
	defer func() {
		w.logger.Debug("worker exit")
		if w.onExit != nil {
			w.onExit(w)
		}
	}()
	for w.ctx.Err() == nil {
		if terminal := w.session(); terminal {
			return
		}
		if !w.sleepBackoff() {
			return
		}
	}
}

// sleepBackoff sleeps errorCount backoff units. A stop request or a
// change notification interrupts the sleep; only a stop returns false.
func (w *Worker) sleepBackoff() bool {
	d := time.Duration(w.errorCount) * backoffUnit
	if d <= 0 {
		return w.ctx.Err() == nil
	}
	w.logger.Debug("backing off", logpkg.Int("error_count", w.errorCount), logpkg.Dur("sleep", d))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.wake:
		return true
	case <-w.ctx.Done():
		return false
	}
}

// session runs one resolve → adapter init → stream pass. It returns true
// when the worker must terminate permanently; transient failures bump
// errorCount and return false so the outer loop backs off and retries.
func (w *Worker) session() (terminal bool) {
	out, ok, err := w.store.FindOutput(w.outputID)
	if err != nil {
		w.errorCount++
		w.logger.Error("resolve output", logpkg.Err(err))
		return false
	}
	if !ok || !out.Enabled {
		w.logger.Debug("output missing or disabled, terminating")
		return true
	}
	queue, ok, err := w.store.FindQueue(out.QueueID)
	if err != nil {
		w.errorCount++
		w.logger.Error("resolve queue", logpkg.Err(err))
		return false
	}
	if !ok {
		w.logger.Debug("queue missing, terminating", logpkg.Str("queue_id", out.QueueID))
		return true
	}
	dbRec, ok, err := w.store.FindDatabase(queue.DatabaseID)
	if err != nil {
		w.errorCount++
		w.logger.Error("resolve database", logpkg.Err(err))
		return false
	}
	if !ok {
		w.logger.Debug("database missing, terminating", logpkg.Str("database_id", queue.DatabaseID))
		return true
	}

	path := diagnosticPath(dbRec, queue, out)
	wlog := w.logger.With(logpkg.Str("path", path))

	adapter, err := w.registry.Create(out.Kind)
	if err != nil {
		wlog.Error("create adapter", logpkg.Str("kind", out.Kind), logpkg.Err(err))
		return true
	}
	// closed exactly once per session, however the session ends
	defer func() {
		if err := adapter.Close(); err != nil {
			wlog.Error("close adapter", logpkg.Err(err))
		}
	}()

	// Hand the adapter clones so mutation of the live records cannot
	// corrupt the session.
	oc := out.Clone()
	qc := queue.Clone()

	filter, ferr := sessionFilter(oc)
	if ferr != nil {
		wlog.Error("compile filter", logpkg.Err(ferr))
		return true
	}

	initOk := false
	if err := sink.BindParams(oc.Params, adapter); err != nil {
		wlog.Error("bind params", logpkg.Err(err))
		if sink.IsConfigError(err) {
			return true
		}
		w.errorCount++
	} else if err := adapter.Init(qc, oc, path); err != nil {
		wlog.Error("init adapter", logpkg.Err(err))
		if sink.IsConfigError(err) {
			return true
		}
		w.errorCount++
	} else {
		initOk = true
	}

	if !initOk {
		metrics.SessionsTotal.WithLabelValues(w.outputID, "error").Inc()
		return false
	}

	qlog, err := w.engine.OpenLog(queue.DatabaseID, queue.ID)
	if err != nil {
		w.errorCount++
		wlog.Debug("queue log unavailable", logpkg.Err(err))
		metrics.SessionsTotal.WithLabelValues(w.outputID, "error").Inc()
		return false
	}

	reason := "clean"
	if err := w.processMessages(out, qlog, adapter, filter, wlog); err != nil {
		w.errorCount++
		wlog.Error("session aborted", logpkg.Err(err))
		reason = "error"
	}
	if w.ctx.Err() != nil {
		reason = "stopped"
	}
	metrics.SessionsTotal.WithLabelValues(w.outputID, reason).Inc()
	return false
}

// sessionFilter compiles the optional CEL filter carried in params.
func sessionFilter(o *meta.Output) (messageFilter, error) {
	raw, ok := o.Params["filter"]
	if !ok {
		return messageFilter{}, nil
	}
	expr, ok := raw.(string)
	if !ok {
		return messageFilter{}, fmt.Errorf("filter param must be a string")
	}
	return newMessageFilter(expr)
}

// processMessages feeds messages to the adapter until the worker is
// stopped, the output is changed by someone else, or a failure aborts the
// session. The returned error is nil for clean exits.
func (w *Worker) processMessages(sess *meta.Output, qlog *eventlog.Log, adapter sink.Adapter, filter messageFilter, wlog logpkg.Logger) error {
	atID := sess.AtID
	var cursor *eventlog.Cursor
	if atID < 0 {
		c, err := qlog.OpenCursorAtTimestamp(sess.At)
		if err != nil {
			return fmt.Errorf("open cursor at timestamp %d: %w", sess.At, err)
		}
		cursor = c
	} else {
		cursor = qlog.OpenCursorAt(uint64(atID))
	}
	defer func() {
		if err := cursor.Close(); err != nil {
			wlog.Error("close cursor", logpkg.Err(err))
		}
	}()

	// readCtx lets OutputChanged interrupt a blocked read without
	// stopping the worker.
	readCtx, cancelRead := context.WithCancel(w.ctx)
	w.mu.Lock()
	w.readCancel = cancelRead
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.readCancel = nil
		w.mu.Unlock()
		cancelRead()
	}()

	completedID := atID
	var timestamp int64
	lastUpdate := time.Now()
	interval := time.Duration(sess.UpdateIntervalMs) * time.Millisecond

	exitLoop := false
	var loopErr error
	for !exitLoop && w.ctx.Err() == nil {
		have, err := cursor.Next(readCtx, readTimeout)
		if err != nil {
			have = false
			exitLoop = true
			if !errors.Is(err, context.Canceled) {
				// read I/O failure; cancellation is a clean interrupt
				loopErr = err
			}
		}
		if have {
			currentID := int64(cursor.ID())
			if filter.Match(currentID, cursor.RoutingKey(), cursor.Timestamp(), cursor.Payload()) {
				resumeID, derr := adapter.Deliver(currentID, cursor.RoutingKey(), cursor.Timestamp(), cursor.Payload())
				if derr != nil {
					exitLoop = true
					loopErr = derr
					metrics.DeliveryFailuresTotal.WithLabelValues(w.outputID).Inc()
				} else {
					timestamp = cursor.Timestamp()
					if resumeID == currentID {
						completedID = int64(cursor.NextID())
					} else {
						completedID = resumeID + 1
					}
					w.errorCount = 0
					metrics.DeliveriesTotal.WithLabelValues(w.outputID).Inc()
				}
			} else {
				// filtered out: advance the resume point past it
				timestamp = cursor.Timestamp()
				completedID = int64(cursor.NextID())
			}
		}

		// Exit when someone else changed the output. Version tokens
		// distinguish external writes from this worker's own commits.
		live, ok, ferr := w.store.FindOutput(w.outputID)
		if ferr != nil {
			exitLoop = true
			loopErr = ferr
		} else if !ok || live.Version != sess.Version {
			exitLoop = true
			w.errorCount = 0
		}

		if completedID != atID && (exitLoop || interval <= 0 || time.Since(lastUpdate) >= interval) {
			committed, err := w.commitCheckpoint(sess, completedID, timestamp, adapter)
			if err != nil {
				exitLoop = true
				loopErr = err
			} else if !committed {
				// someone repositioned this output; leave without
				// overwriting their intent
				break
			} else {
				atID = completedID
				lastUpdate = time.Now()
			}
		}
	}
	return loopErr
}

// commitCheckpoint persists the new resume point under the per-output
// lock. It returns false, without writing, when the stored checkpoint no
// longer matches the one this session started from. On success the
// session snapshot is advanced to the written record.
func (w *Worker) commitCheckpoint(sess *meta.Output, completedID, timestamp int64, adapter sink.Adapter) (bool, error) {
	lock := w.store.LockOutput(w.outputID)
	lock.Lock()
	defer lock.Unlock()

	live, ok, err := w.store.FindOutput(w.outputID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if live.AtID != sess.AtID || live.At != sess.At {
		return false, nil
	}
	upd := live.Clone()
	upd.At = timestamp
	adapter.AnnotateCheckpoint(upd)
	upd.AtID = completedID
	if err := w.store.UpdateOutput(upd); err != nil {
		return false, err
	}
	w.setLastWritten(upd.Version)
	*sess = *upd
	metrics.CheckpointCommitsTotal.WithLabelValues(w.outputID).Inc()
	return true, nil
}

// diagnosticPath builds the human-readable identifier used in logs and
// handed to adapters, e.g. "/db/analytics/q/orders/out/archive". The
// default database is elided.
func diagnosticPath(db *meta.Database, q *meta.Queue, o *meta.Output) string {
	path := ""
	if db.Name != "default" {
		path = "/db/" + db.Name
	}
	return path + "/q/" + q.Name + "/out/" + o.Name
}
