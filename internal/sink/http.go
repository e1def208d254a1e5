package sink

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rzbill/outflow/internal/meta"
)

// HTTPSink POSTs each message payload to a callback URL. The message id,
// routing key, and timestamp travel in headers so the payload stays opaque.
type HTTPSink struct {
	// URL is the callback endpoint. Required.
	URL string `mapstructure:"url"`
	// TimeoutMs bounds each POST. Defaults to 30000.
	TimeoutMs int `mapstructure:"timeoutMs"`

	client *http.Client
	path   string
}

// Init validates the URL and builds the HTTP client.
func (s *HTTPSink) Init(_ *meta.Queue, _ *meta.Output, path string) error {
	s.path = path
	if s.URL == "" {
		return Configf("%s: http sink requires a url param", path)
	}
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Configf("%s: http sink url %q is not a valid http(s) URL", path, s.URL)
	}
	timeout := 30 * time.Second
	if s.TimeoutMs > 0 {
		timeout = time.Duration(s.TimeoutMs) * time.Millisecond
	}
	s.client = &http.Client{Timeout: timeout}
	return nil
}

// Deliver POSTs the payload. Any transport failure or non-2xx response is
// a delivery error; the worker will redeliver the same message later.
func (s *HTTPSink) Deliver(id int64, routingKey string, timestampMs int64, payload []byte) (int64, error) {
	req, err := http.NewRequest(http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Outflow-Id", strconv.FormatInt(id, 10))
	req.Header.Set("X-Outflow-Routing-Key", routingKey)
	req.Header.Set("X-Outflow-Timestamp", strconv.FormatInt(timestampMs, 10))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: post: %w", s.path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%s: callback returned %s", s.path, resp.Status)
	}
	return id, nil
}

// AnnotateCheckpoint is a no-op for the HTTP sink.
func (s *HTTPSink) AnnotateCheckpoint(*meta.Output) {}

// Close releases idle connections.
func (s *HTTPSink) Close() error {
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
	return nil
}
