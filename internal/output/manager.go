package output

import (
	"sync"

	"github.com/rzbill/outflow/internal/meta"
	"github.com/rzbill/outflow/internal/sink"
	logpkg "github.com/rzbill/outflow/pkg/log"
)

// Manager supervises output workers: exactly one worker per enabled
// output. The configuration API reports record changes through
// NotifyOutputChanged; the manager routes them to the owning worker or
// starts a worker when an output becomes runnable.
type Manager struct {
	store    *meta.Store
	engine   LogEngine
	registry *sink.Registry
	logger   logpkg.Logger

	mu      sync.Mutex
	workers map[string]*Worker
	closed  bool
	wg      sync.WaitGroup
}

// NewManager builds a Manager.
func NewManager(store *meta.Store, engine LogEngine, registry *sink.Registry, logger logpkg.Logger) *Manager {
	return &Manager{
		store:    store,
		engine:   engine,
		registry: registry,
		logger:   logger.With(logpkg.Component("output-manager")),
		workers:  make(map[string]*Worker),
	}
}

// Start launches workers for all currently enabled outputs.
func (m *Manager) Start() error {
	outs, err := m.store.ListOutputs()
	if err != nil {
		return err
	}
	for _, o := range outs {
		if o.Enabled {
			m.startWorker(o.ID)
		}
	}
	return nil
}

// startWorker spawns a worker for the output id unless one is running.
func (m *Manager) startWorker(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, running := m.workers[id]; running {
		return
	}
	w := NewWorker(m.store, m.engine, m.registry, m.logger, id, m.onWorkerExit)
	m.workers[id] = w
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		w.Run()
	}()
	m.logger.Debug("worker started", logpkg.Str("output_id", id))
}

// onWorkerExit removes a finished worker. Workers terminate themselves on
// deletion, disablement, or configuration errors; they are only restarted
// by a later change notification.
func (m *Manager) onWorkerExit(w *Worker) {
	m.mu.Lock()
	if m.workers[w.OutputID()] == w {
		delete(m.workers, w.OutputID())
	}
	m.mu.Unlock()
}

// NotifyOutputChanged routes a record change to the owning worker, or
// starts one when the output just became runnable. version is the record
// version produced by the update, so a worker can ignore its own writes.
func (m *Manager) NotifyOutputChanged(id string, version int64) {
	m.mu.Lock()
	w, running := m.workers[id]
	m.mu.Unlock()
	if running {
		w.OutputChanged(version)
		return
	}
	o, ok, err := m.store.FindOutput(id)
	if err != nil {
		m.logger.Error("resolve changed output", logpkg.Str("output_id", id), logpkg.Err(err))
		return
	}
	if ok && o.Enabled {
		m.startWorker(id)
	}
}

// RunningWorkers returns the number of live workers.
func (m *Manager) RunningWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Close stops every worker and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()
	for _, w := range workers {
		w.Stop()
	}
	m.wg.Wait()
}
