// Package sink defines the pluggable adapter contract that output workers
// deliver messages through, and the built-in file and HTTP sinks.
package sink

import (
	"errors"
	"fmt"

	"github.com/rzbill/outflow/internal/meta"
)

// ErrUnknownKind reports an output kind with no registered adapter.
var ErrUnknownKind = errors.New("sink: unknown adapter kind")

// ConfigError marks a fatal adapter misconfiguration: a recognized setting
// that is missing or invalid. Workers terminate on it instead of retrying,
// since a bad configuration does not become valid by retrying.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// Configf builds a ConfigError.
func Configf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Adapter receives individual messages from one output worker.
//
// An adapter instance is exclusively owned by one worker for the lifetime
// of one session. Deliver must be safe to call again with a re-delivered
// message after a failed prior attempt (at-least-once).
type Adapter interface {
	// Init prepares the adapter. The queue and output records are session
	// snapshots the adapter may keep. path is the output's diagnostic path
	// for log messages. Returns a *ConfigError on bad recognized settings.
	Init(q *meta.Queue, o *meta.Output, path string) error

	// Deliver hands one message to the sink and returns the resume
	// position. Returning the delivered id means "consumed exactly this
	// message"; any other value lets the adapter control its own resume
	// point.
	Deliver(id int64, routingKey string, timestampMs int64, payload []byte) (int64, error)

	// AnnotateCheckpoint may add adapter-specific resume metadata to the
	// output record about to be persisted.
	AnnotateCheckpoint(o *meta.Output)

	// Close releases adapter resources. Called exactly once per session.
	Close() error
}

// Registry maps output kinds to adapter constructors.
type Registry struct {
	kinds map[string]func() Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]func() Adapter)}
}

// DefaultRegistry returns a registry with the built-in sinks registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("file", func() Adapter { return &FileSink{} })
	r.Register("http", func() Adapter { return &HTTPSink{} })
	return r
}

// Register binds a kind name to a constructor.
func (r *Registry) Register(kind string, create func() Adapter) {
	r.kinds[kind] = create
}

// Create builds a fresh adapter for the kind. Unrecognized kinds return
// ErrUnknownKind.
func (r *Registry) Create(kind string) (Adapter, error) {
	create, ok := r.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return create(), nil
}
