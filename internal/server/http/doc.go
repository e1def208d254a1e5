// Package httpserver provides the REST gateway for Outflow: JSON
// endpoints for databases, queues, outputs, and appends, plus health and
// Prometheus metrics.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways})
//	mgr := output.NewManager(rt.Store(), rt, sink.DefaultRegistry(), logger)
//	s := httpserver.New(rt, mgr, nil)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":7470")
package httpserver
