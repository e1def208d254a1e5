package output

import (
	"testing"
	"time"

	"github.com/rzbill/outflow/internal/meta"
)

func TestManagerStartsWorkersForEnabledOutputs(t *testing.T) {
	e := newWorkerEnv(t)
	e.createOutput(t, &meta.Output{ID: "on-1", Kind: "fake", Enabled: true})
	e.createOutput(t, &meta.Output{ID: "on-2", Kind: "fake", Enabled: true})
	e.createOutput(t, &meta.Output{ID: "off", Kind: "fake", Enabled: false})

	m := NewManager(e.store, e.engine, registryWith(&fakeAdapter{}), quietLogger())
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Close()
	if got := m.RunningWorkers(); got != 2 {
		t.Fatalf("running workers = %d, want 2", got)
	}
}

func TestManagerStartsWorkerWhenOutputBecomesEnabled(t *testing.T) {
	e := newWorkerEnv(t)
	o := e.createOutput(t, &meta.Output{ID: "late", Kind: "fake", Enabled: false})

	m := NewManager(e.store, e.engine, registryWith(&fakeAdapter{}), quietLogger())
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Close()
	if got := m.RunningWorkers(); got != 0 {
		t.Fatalf("running workers = %d, want 0", got)
	}

	lock := e.store.LockOutput(o.ID)
	lock.Lock()
	live, _, _ := e.store.FindOutput(o.ID)
	live.Enabled = true
	if err := e.store.UpdateOutput(live); err != nil {
		t.Fatalf("enable: %v", err)
	}
	lock.Unlock()
	m.NotifyOutputChanged(o.ID, live.Version)

	if got := m.RunningWorkers(); got != 1 {
		t.Fatalf("running workers after enable = %d, want 1", got)
	}
}

func TestManagerReapsWorkerAfterDisable(t *testing.T) {
	e := newWorkerEnv(t)
	e.seed(t, "k", "one")
	o := e.createOutput(t, &meta.Output{ID: "reaped", Kind: "fake", Enabled: true})

	adapter := &fakeAdapter{}
	m := NewManager(e.store, e.engine, registryWith(adapter), quietLogger())
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Close()
	waitFor(t, 3*time.Second, "first delivery", func() bool { return len(adapter.deliveredIDs()) == 1 })

	lock := e.store.LockOutput(o.ID)
	lock.Lock()
	live, _, _ := e.store.FindOutput(o.ID)
	live.Enabled = false
	if err := e.store.UpdateOutput(live); err != nil {
		t.Fatalf("disable: %v", err)
	}
	lock.Unlock()
	m.NotifyOutputChanged(o.ID, live.Version)

	waitFor(t, 5*time.Second, "worker reaped", func() bool { return m.RunningWorkers() == 0 })
}

func TestManagerIgnoresNotificationForMissingOutput(t *testing.T) {
	e := newWorkerEnv(t)
	m := NewManager(e.store, e.engine, registryWith(&fakeAdapter{}), quietLogger())
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Close()
	m.NotifyOutputChanged("no-such-output", 1)
	if got := m.RunningWorkers(); got != 0 {
		t.Fatalf("running workers = %d, want 0", got)
	}
}

func TestManagerCloseStopsAllWorkers(t *testing.T) {
	e := newWorkerEnv(t)
	e.createOutput(t, &meta.Output{ID: "c1", Kind: "fake", Enabled: true})
	e.createOutput(t, &meta.Output{ID: "c2", Kind: "fake", Enabled: true})

	m := NewManager(e.store, e.engine, registryWith(&fakeAdapter{}), quietLogger())
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("close did not return")
	}
	if got := m.RunningWorkers(); got != 0 {
		t.Fatalf("running workers after close = %d", got)
	}

	// no workers start after close
	e.createOutput(t, &meta.Output{ID: "c3", Kind: "fake", Enabled: true})
	m.NotifyOutputChanged("c3", 1)
	if got := m.RunningWorkers(); got != 0 {
		t.Fatalf("worker started after close")
	}
}
