// Package runtime owns the storage-backed state shared by the server:
// the pebble database, the metadata store, the metrics registry, and the
// per-queue log handles workers read from.
package runtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rzbill/outflow/internal/eventlog"
	"github.com/rzbill/outflow/internal/meta"
	"github.com/rzbill/outflow/internal/metrics"
	pebblestore "github.com/rzbill/outflow/internal/storage/pebble"
	logpkg "github.com/rzbill/outflow/pkg/log"
)

// ErrNotReady is returned by OpenLog while the engine is still warming
// up. Output workers treat it as transient and retry.
var ErrNotReady = errors.New("runtime: engine not ready")

// DefaultDatabaseName is the database created on first start.
const DefaultDatabaseName = "default"

// Options configures Open.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Logger        logpkg.Logger
}

// Runtime bundles the open storage and the shared queue log handles. It
// implements output.LogEngine.
type Runtime struct {
	db      *pebblestore.DB
	store   *meta.Store
	metrics *prometheus.Registry
	logger  logpkg.Logger

	mu     sync.Mutex
	logs   map[string]*eventlog.Log
	ready  bool
	closed bool
}

// Open opens the pebble database and metadata store. The runtime is not
// ready to serve queue logs until Warmup is called.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.GetDefaultLogger()
	}
	logger = logger.With(logpkg.Component("runtime"))

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       metrics.StorageHook{},
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	r := &Runtime{
		db:      db,
		store:   meta.NewStore(db),
		metrics: reg,
		logger:  logger,
		logs:    make(map[string]*eventlog.Log),
	}
	if err := r.ensureDefaultDatabase(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) ensureDefaultDatabase() error {
	dbs, err := r.store.ListDatabases()
	if err != nil {
		return err
	}
	for _, d := range dbs {
		if d.Name == DefaultDatabaseName {
			return nil
		}
	}
	return r.store.CreateDatabase(&meta.Database{Name: DefaultDatabaseName})
}

// Warmup pre-opens the log of every known queue and marks the runtime
// ready. Until then OpenLog fails with ErrNotReady.
func (r *Runtime) Warmup() error {
	queues, err := r.store.ListQueues()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range queues {
		key := q.DatabaseID + "/" + q.ID
		if _, ok := r.logs[key]; ok {
			continue
		}
		l, err := eventlog.OpenLog(r.db, q.DatabaseID, q.ID)
		if err != nil {
			return fmt.Errorf("open log for queue %s: %w", q.ID, err)
		}
		r.logs[key] = l
	}
	r.ready = true
	r.logger.Debug("runtime ready", logpkg.Int("queues", len(queues)))
	return nil
}

// Store returns the metadata store.
func (r *Runtime) Store() *meta.Store { return r.store }

// Metrics returns the prometheus registry for the /metrics endpoint.
func (r *Runtime) Metrics() *prometheus.Registry { return r.metrics }

// OpenLog returns the shared log handle for a queue, creating it on
// first use. All readers and writers of a queue share one handle so
// append notifications reach blocked cursors.
func (r *Runtime) OpenLog(databaseID, queueID string) (*eventlog.Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("runtime: closed")
	}
	if !r.ready {
		return nil, ErrNotReady
	}
	key := databaseID + "/" + queueID
	if l, ok := r.logs[key]; ok {
		return l, nil
	}
	q, ok, err := r.store.FindQueue(queueID)
	if err != nil {
		return nil, err
	}
	if !ok || q.DatabaseID != databaseID {
		return nil, fmt.Errorf("runtime: unknown queue %s in database %s", queueID, databaseID)
	}
	l, err := eventlog.OpenLog(r.db, databaseID, queueID)
	if err != nil {
		return nil, err
	}
	r.logs[key] = l
	return l, nil
}

// Close closes the underlying storage.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.db.Close()
}
