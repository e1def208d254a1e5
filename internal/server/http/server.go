package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/outflow/internal/eventlog"
	"github.com/rzbill/outflow/internal/meta"
	"github.com/rzbill/outflow/internal/output"
	"github.com/rzbill/outflow/internal/runtime"
)

// Server exposes the configuration and append API over HTTP.
type Server struct {
	rt  *runtime.Runtime
	mgr *output.Manager
	srv *http.Server
	lis net.Listener
}

// New builds the server. origins configures CORS; empty means any.
func New(rt *runtime.Runtime, mgr *output.Manager, origins []string) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, mgr: mgr, srv: &http.Server{Handler: cors(origins, mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(rt.Metrics(), promhttp.HandlerOpts{}))

	mux.HandleFunc("/v1/dbs/create", s.handleDBCreate)
	mux.HandleFunc("/v1/dbs/delete", s.handleDBDelete)
	mux.HandleFunc("/v1/dbs", s.handleDBList)

	mux.HandleFunc("/v1/queues/create", s.handleQueueCreate)
	mux.HandleFunc("/v1/queues/delete", s.handleQueueDelete)
	mux.HandleFunc("/v1/queues", s.handleQueueList)
	mux.HandleFunc("/v1/queues/append", s.handleAppend)

	mux.HandleFunc("/v1/outputs/create", s.handleOutputCreate)
	mux.HandleFunc("/v1/outputs/get", s.handleOutputGet)
	mux.HandleFunc("/v1/outputs/update", s.handleOutputUpdate)
	mux.HandleFunc("/v1/outputs/delete", s.handleOutputDelete)
	mux.HandleFunc("/v1/outputs", s.handleOutputList)
	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(origins []string, next http.Handler) http.Handler {
	allowed := "*"
	set := map[string]bool{}
	for _, o := range origins {
		set[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(set) > 0 {
			allowed = ""
			if o := r.Header.Get("Origin"); set[o] {
				allowed = o
			}
		}
		if allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"workers": s.mgr.RunningWorkers(),
	})
}

// databaseByName resolves a database by name; empty means default.
func (s *Server) databaseByName(name string) (*meta.Database, bool, error) {
	if name == "" {
		name = runtime.DefaultDatabaseName
	}
	dbs, err := s.rt.Store().ListDatabases()
	if err != nil {
		return nil, false, err
	}
	for _, d := range dbs {
		if d.Name == name {
			return d, true, nil
		}
	}
	return nil, false, nil
}

func (s *Server) queueByName(databaseID, name string) (*meta.Queue, bool, error) {
	qs, err := s.rt.Store().ListQueues()
	if err != nil {
		return nil, false, err
	}
	for _, q := range qs {
		if q.DatabaseID == databaseID && q.Name == name {
			return q, true, nil
		}
	}
	return nil, false, nil
}

type dbCreateReq struct {
	Name string `json:"name"`
}

func (s *Server) handleDBCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req dbCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeErr(w, http.StatusBadRequest, "name is required")
		return
	}
	if _, exists, err := s.databaseByName(req.Name); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	} else if exists {
		writeErr(w, http.StatusConflict, "database already exists")
		return
	}
	d := &meta.Database{Name: req.Name}
	if err := s.rt.Store().CreateDatabase(d); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleDBList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	dbs, err := s.rt.Store().ListDatabases()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dbs)
}

type dbDeleteReq struct {
	Name string `json:"name"`
}

func (s *Server) handleDBDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req dbDeleteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeErr(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Name == runtime.DefaultDatabaseName {
		writeErr(w, http.StatusBadRequest, "the default database cannot be deleted")
		return
	}
	db, ok, err := s.databaseByName(req.Name)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown database")
		return
	}
	qs, err := s.rt.Store().ListQueues()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, q := range qs {
		if q.DatabaseID == db.ID {
			writeErr(w, http.StatusConflict, "database still has queues")
			return
		}
	}
	if err := s.rt.Store().DeleteDatabase(db.ID); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type queueCreateReq struct {
	Database string `json:"database"`
	Name     string `json:"name"`
}

func (s *Server) handleQueueCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req queueCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeErr(w, http.StatusBadRequest, "name is required")
		return
	}
	db, ok, err := s.databaseByName(req.Database)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown database")
		return
	}
	if _, exists, err := s.queueByName(db.ID, req.Name); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	} else if exists {
		writeErr(w, http.StatusConflict, "queue already exists")
		return
	}
	q := &meta.Queue{DatabaseID: db.ID, Name: req.Name}
	if err := s.rt.Store().CreateQueue(q); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qs, err := s.rt.Store().ListQueues()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

type queueDeleteReq struct {
	Database string `json:"database"`
	Name     string `json:"name"`
}

func (s *Server) handleQueueDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req queueDeleteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeErr(w, http.StatusBadRequest, "name is required")
		return
	}
	db, ok, err := s.databaseByName(req.Database)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown database")
		return
	}
	q, ok, err := s.queueByName(db.ID, req.Name)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown queue")
		return
	}
	outs, err := s.rt.Store().ListOutputs()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, o := range outs {
		if o.QueueID == q.ID {
			writeErr(w, http.StatusConflict, "queue still has outputs")
			return
		}
	}
	if err := s.rt.Store().DeleteQueue(q.ID); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type appendReq struct {
	Database   string `json:"database"`
	Queue      string `json:"queue"`
	RoutingKey string `json:"routingKey"`
	Payload    []byte `json:"payload"`
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req appendReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Queue == "" {
		writeErr(w, http.StatusBadRequest, "queue is required")
		return
	}
	db, ok, err := s.databaseByName(req.Database)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown database")
		return
	}
	q, ok, err := s.queueByName(db.ID, req.Queue)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown queue")
		return
	}
	l, err := s.rt.OpenLog(q.DatabaseID, q.ID)
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	seqs, err := l.Append(r.Context(), []eventlog.AppendRecord{{RoutingKey: req.RoutingKey, Payload: req.Payload}})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"id": seqs[0]})
}

type outputCreateReq struct {
	Database         string                 `json:"database"`
	Queue            string                 `json:"queue"`
	Name             string                 `json:"name"`
	Kind             string                 `json:"kind"`
	Params           map[string]interface{} `json:"params"`
	Enabled          *bool                  `json:"enabled"`
	AtID             *int64                 `json:"atId"`
	At               int64                  `json:"at"`
	UpdateIntervalMs int                    `json:"updateIntervalMs"`
}

func (s *Server) handleOutputCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req outputCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Kind == "" {
		writeErr(w, http.StatusBadRequest, "name and kind are required")
		return
	}
	db, ok, err := s.databaseByName(req.Database)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown database")
		return
	}
	q, ok, err := s.queueByName(db.ID, req.Queue)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown queue")
		return
	}
	o := &meta.Output{
		QueueID:          q.ID,
		Name:             req.Name,
		Kind:             req.Kind,
		Params:           req.Params,
		Enabled:          true,
		At:               req.At,
		UpdateIntervalMs: req.UpdateIntervalMs,
	}
	if req.Enabled != nil {
		o.Enabled = *req.Enabled
	}
	if req.AtID != nil {
		o.AtID = *req.AtID
	}
	if err := s.rt.Store().CreateOutput(o); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mgr.NotifyOutputChanged(o.ID, o.Version)
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleOutputGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeErr(w, http.StatusBadRequest, "id is required")
		return
	}
	o, ok, err := s.rt.Store().FindOutput(id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown output")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type outputUpdateReq struct {
	ID               string                 `json:"id"`
	Params           map[string]interface{} `json:"params"`
	Enabled          *bool                  `json:"enabled"`
	AtID             *int64                 `json:"atId"`
	At               *int64                 `json:"at"`
	UpdateIntervalMs *int                   `json:"updateIntervalMs"`
}

func (s *Server) handleOutputUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req outputUpdateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeErr(w, http.StatusBadRequest, "id is required")
		return
	}

	// The read-modify-write shares the per-output lock with worker
	// checkpoint commits, so a repositioned checkpoint and a commit can
	// never interleave.
	lock := s.rt.Store().LockOutput(req.ID)
	lock.Lock()
	o, ok, err := s.rt.Store().FindOutput(req.ID)
	if err != nil {
		lock.Unlock()
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		lock.Unlock()
		writeErr(w, http.StatusNotFound, "unknown output")
		return
	}
	if req.Params != nil {
		o.Params = req.Params
	}
	if req.Enabled != nil {
		o.Enabled = *req.Enabled
	}
	if req.AtID != nil {
		o.AtID = *req.AtID
	}
	if req.At != nil {
		o.At = *req.At
	}
	if req.UpdateIntervalMs != nil {
		o.UpdateIntervalMs = *req.UpdateIntervalMs
	}
	if err := s.rt.Store().UpdateOutput(o); err != nil {
		lock.Unlock()
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	lock.Unlock()

	s.mgr.NotifyOutputChanged(o.ID, o.Version)
	writeJSON(w, http.StatusOK, o)
}

type outputDeleteReq struct {
	ID string `json:"id"`
}

func (s *Server) handleOutputDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req outputDeleteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeErr(w, http.StatusBadRequest, "id is required")
		return
	}
	lock := s.rt.Store().LockOutput(req.ID)
	lock.Lock()
	err := s.rt.Store().DeleteOutput(req.ID)
	lock.Unlock()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	// the worker observes the missing record and terminates
	s.mgr.NotifyOutputChanged(req.ID, 0)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOutputList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	outs, err := s.rt.Store().ListOutputs()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outs)
}
