package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rzbill/outflow/internal/meta"
	"github.com/rzbill/outflow/internal/output"
	"github.com/rzbill/outflow/internal/runtime"
	"github.com/rzbill/outflow/internal/sink"
	pebblestore "github.com/rzbill/outflow/internal/storage/pebble"
	logpkg "github.com/rzbill/outflow/pkg/log"
)

func newTestServer(t *testing.T) (*Server, *runtime.Runtime, *output.Manager) {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeAlways,
		Logger:  logpkg.NewLogger(logpkg.WithLevel(logpkg.FatalLevel)),
	})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	if err := rt.Warmup(); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	mgr := output.NewManager(rt.Store(), rt, sink.DefaultRegistry(), logpkg.NewLogger(logpkg.WithLevel(logpkg.FatalLevel)))
	t.Cleanup(mgr.Close)
	return New(rt, mgr, nil), rt, mgr
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/v1/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestDBCreateAndConflict(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodPost, "/v1/dbs/create", `{"name":"analytics"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	w = do(t, s, http.MethodPost, "/v1/dbs/create", `{"name":"analytics"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestQueueCreateAndAppend(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodPost, "/v1/queues/create", `{"name":"orders"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create queue: %d body: %s", w.Code, w.Body.String())
	}
	w = do(t, s, http.MethodPost, "/v1/queues/append", `{"queue":"orders","routingKey":"k","payload":"aGVsbG8="}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("append: %d body: %s", w.Code, w.Body.String())
	}
	var resp map[string]uint64
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["id"] != 1 {
		t.Fatalf("first append id = %d", resp["id"])
	}
}

func TestAppendUnknownQueue(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodPost, "/v1/queues/append", `{"queue":"nope","payload":"eA=="}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestOutputLifecycle(t *testing.T) {
	s, rt, mgr := newTestServer(t)
	if w := do(t, s, http.MethodPost, "/v1/queues/create", `{"name":"orders"}`); w.Code != http.StatusCreated {
		t.Fatalf("create queue: %d", w.Code)
	}

	sinkPath := filepath.Join(t.TempDir(), "out.tsv")
	body := fmt.Sprintf(`{"queue":"orders","name":"archive","kind":"file","params":{"path":%q}}`, sinkPath)
	w := do(t, s, http.MethodPost, "/v1/outputs/create", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create output: %d body: %s", w.Code, w.Body.String())
	}
	var created meta.Output
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mgr.RunningWorkers() != 1 {
		t.Fatalf("worker not started on create")
	}

	// reposition the checkpoint
	w = do(t, s, http.MethodPost, "/v1/outputs/update", fmt.Sprintf(`{"id":%q,"atId":5}`, created.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d body: %s", w.Code, w.Body.String())
	}
	o, ok, err := rt.Store().FindOutput(created.ID)
	if err != nil || !ok {
		t.Fatalf("find output: ok=%v err=%v", ok, err)
	}
	if o.AtID != 5 {
		t.Fatalf("atId = %d, want 5", o.AtID)
	}
	if o.Version <= created.Version {
		t.Fatalf("update must bump the version")
	}

	w = do(t, s, http.MethodPost, "/v1/outputs/delete", fmt.Sprintf(`{"id":%q}`, created.ID))
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	deadline := time.Now().Add(5 * time.Second)
	for mgr.RunningWorkers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("worker not reaped after delete")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDisableStopsWorker(t *testing.T) {
	s, _, mgr := newTestServer(t)
	if w := do(t, s, http.MethodPost, "/v1/queues/create", `{"name":"orders"}`); w.Code != http.StatusCreated {
		t.Fatalf("create queue: %d", w.Code)
	}
	sinkPath := filepath.Join(t.TempDir(), "out.tsv")
	w := do(t, s, http.MethodPost, "/v1/outputs/create",
		fmt.Sprintf(`{"queue":"orders","name":"archive","kind":"file","params":{"path":%q}}`, sinkPath))
	if w.Code != http.StatusCreated {
		t.Fatalf("create output: %d", w.Code)
	}
	var created meta.Output
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = do(t, s, http.MethodPost, "/v1/outputs/update", fmt.Sprintf(`{"id":%q,"enabled":false}`, created.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("disable: %d", w.Code)
	}
	deadline := time.Now().Add(5 * time.Second)
	for mgr.RunningWorkers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("worker still running after disable")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOutputGet(t *testing.T) {
	s, _, _ := newTestServer(t)
	if w := do(t, s, http.MethodPost, "/v1/queues/create", `{"name":"orders"}`); w.Code != http.StatusCreated {
		t.Fatalf("create queue: %d", w.Code)
	}
	sinkPath := filepath.Join(t.TempDir(), "out.tsv")
	w := do(t, s, http.MethodPost, "/v1/outputs/create",
		fmt.Sprintf(`{"queue":"orders","name":"archive","kind":"file","params":{"path":%q}}`, sinkPath))
	if w.Code != http.StatusCreated {
		t.Fatalf("create output: %d", w.Code)
	}
	var created meta.Output
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = do(t, s, http.MethodGet, "/v1/outputs/get?id="+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d body: %s", w.Code, w.Body.String())
	}
	var got meta.Output
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != created.ID || got.Name != "archive" || got.Kind != "file" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if w := do(t, s, http.MethodGet, "/v1/outputs/get?id=no-such-output", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing output: %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/v1/outputs/get", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("empty id: %d", w.Code)
	}
}

func TestQueueDelete(t *testing.T) {
	s, rt, _ := newTestServer(t)
	if w := do(t, s, http.MethodPost, "/v1/queues/create", `{"name":"orders"}`); w.Code != http.StatusCreated {
		t.Fatalf("create queue: %d", w.Code)
	}
	sinkPath := filepath.Join(t.TempDir(), "out.tsv")
	w := do(t, s, http.MethodPost, "/v1/outputs/create",
		fmt.Sprintf(`{"queue":"orders","name":"archive","kind":"file","params":{"path":%q}}`, sinkPath))
	if w.Code != http.StatusCreated {
		t.Fatalf("create output: %d", w.Code)
	}
	var created meta.Output
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	// refused while an output still references the queue
	if w := do(t, s, http.MethodPost, "/v1/queues/delete", `{"name":"orders"}`); w.Code != http.StatusConflict {
		t.Fatalf("delete with outputs: %d", w.Code)
	}

	if w := do(t, s, http.MethodPost, "/v1/outputs/delete", fmt.Sprintf(`{"id":%q}`, created.ID)); w.Code != http.StatusNoContent {
		t.Fatalf("delete output: %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/v1/queues/delete", `{"name":"orders"}`); w.Code != http.StatusNoContent {
		t.Fatalf("delete queue: %d", w.Code)
	}
	qs, err := rt.Store().ListQueues()
	if err != nil {
		t.Fatalf("list queues: %v", err)
	}
	for _, q := range qs {
		if q.Name == "orders" {
			t.Fatalf("queue record still present after delete")
		}
	}
	if w := do(t, s, http.MethodPost, "/v1/queues/delete", `{"name":"orders"}`); w.Code != http.StatusNotFound {
		t.Fatalf("delete missing queue: %d", w.Code)
	}
}

func TestDBDelete(t *testing.T) {
	s, rt, _ := newTestServer(t)
	if w := do(t, s, http.MethodPost, "/v1/dbs/create", `{"name":"analytics"}`); w.Code != http.StatusCreated {
		t.Fatalf("create db: %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/v1/queues/create", `{"database":"analytics","name":"events"}`); w.Code != http.StatusCreated {
		t.Fatalf("create queue: %d", w.Code)
	}

	// refused while queues exist
	if w := do(t, s, http.MethodPost, "/v1/dbs/delete", `{"name":"analytics"}`); w.Code != http.StatusConflict {
		t.Fatalf("delete with queues: %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/v1/queues/delete", `{"database":"analytics","name":"events"}`); w.Code != http.StatusNoContent {
		t.Fatalf("delete queue: %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/v1/dbs/delete", `{"name":"analytics"}`); w.Code != http.StatusNoContent {
		t.Fatalf("delete db: %d", w.Code)
	}
	dbs, err := rt.Store().ListDatabases()
	if err != nil {
		t.Fatalf("list dbs: %v", err)
	}
	for _, d := range dbs {
		if d.Name == "analytics" {
			t.Fatalf("database record still present after delete")
		}
	}

	// the default database is recreated at startup and not deletable
	if w := do(t, s, http.MethodPost, "/v1/dbs/delete", `{"name":"default"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("delete default db: %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodOptions, "/v1/dbs", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("metrics body missing collectors")
	}
}
