package sink

import (
	"fmt"
	"io"
	"os"

	"github.com/rzbill/outflow/internal/meta"
)

// FileSink appends delivered messages to a local file, one line per
// message: "<id>\t<routingKey>\t<payload>\n".
type FileSink struct {
	// Path is the target file. Required.
	Path string `mapstructure:"path"`

	f    *os.File
	path string
}

// Init opens the target file for appending.
func (s *FileSink) Init(_ *meta.Queue, _ *meta.Output, path string) error {
	s.path = path
	if s.Path == "" {
		return Configf("%s: file sink requires a path param", path)
	}
	f, err := os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%s: open %s: %w", path, s.Path, err)
	}
	s.f = f
	return nil
}

// Deliver writes the message and returns its id, resuming after it.
func (s *FileSink) Deliver(id int64, routingKey string, _ int64, payload []byte) (int64, error) {
	if _, err := fmt.Fprintf(s.f, "%d\t%s\t%s\n", id, routingKey, payload); err != nil {
		return 0, fmt.Errorf("%s: write: %w", s.path, err)
	}
	return id, nil
}

// AnnotateCheckpoint records the file offset alongside the checkpoint so
// an operator can correlate resume points with file positions.
func (s *FileSink) AnnotateCheckpoint(o *meta.Output) {
	if s.f == nil {
		return
	}
	off, err := s.f.Seek(0, io.SeekEnd)
	if err != nil {
		return
	}
	if o.Params == nil {
		o.Params = map[string]interface{}{}
	}
	o.Params["filePosition"] = off
}

// Close syncs and closes the file.
func (s *FileSink) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
