package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/rzbill/outflow/internal/config"
	"github.com/rzbill/outflow/internal/output"
	"github.com/rzbill/outflow/internal/runtime"
	httpserver "github.com/rzbill/outflow/internal/server/http"
	"github.com/rzbill/outflow/internal/sink"
	pebblestore "github.com/rzbill/outflow/internal/storage/pebble"
	logpkg "github.com/rzbill/outflow/pkg/log"
)

// Options configures Run.
type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run starts the runtime, the output workers, and the HTTP server, and
// blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so callers
	// without signal handling still shut down cleanly.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logpkg.ApplyConfig(&logpkg.Config{
		Level:  opts.Config.LogLevel,
		Format: opts.Config.LogFormat,
	})
	if err != nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	logpkg.SetDefaultLogger(logger)
	// Pebble and other deps log via the stdlib
	logpkg.RedirectStdLog(logger)

	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")
	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("Starting outflow server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("level", opts.Config.LogLevel),
		logpkg.Str("format", opts.Config.LogFormat),
	)

	if err := rt.Warmup(); err != nil {
		return err
	}

	mgr := output.NewManager(rt.Store(), rt, sink.DefaultRegistry(), logger)
	if err := mgr.Start(); err != nil {
		return err
	}
	defer mgr.Close()

	hsrv := httpserver.New(rt, mgr, opts.Config.AllowedOrigins)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			logger.Error("http server", logpkg.Err(err))
		}
	}()

	<-sctx.Done()
	// Stop accepting requests before tearing down workers and storage.
	hsrv.Close()
	wg.Wait()
	return nil
}
