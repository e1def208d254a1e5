package meta

// Database is a logical grouping of queues, used mainly to build
// human-readable diagnostic paths.
type Database struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// Clone returns a copy of the database record.
func (d *Database) Clone() *Database {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Queue names one durable message log within a database.
type Queue struct {
	ID          string `json:"id"`
	DatabaseID  string `json:"databaseId"`
	Name        string `json:"name"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// Clone returns a copy of the queue record.
func (q *Queue) Clone() *Queue {
	if q == nil {
		return nil
	}
	c := *q
	return &c
}

// Output is a subscription forwarding one queue's messages to one sink.
//
// The checkpoint is AtID when >= 0; a negative AtID means "position by the
// At timestamp at session start". UpdateIntervalMs <= 0 commits the
// checkpoint on every message. Version increases on every store update and
// never regresses.
type Output struct {
	ID      string                 `json:"id"`
	QueueID string                 `json:"queueId"`
	Name    string                 `json:"name"`
	Kind    string                 `json:"kind"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Enabled bool                   `json:"enabled"`

	AtID             int64 `json:"atId"`
	At               int64 `json:"at"`
	UpdateIntervalMs int   `json:"updateIntervalMs"`

	Version     int64 `json:"version"`
	CreatedAtMs int64 `json:"createdAtMs"`
}

// Clone returns a deep copy, including nested params values, so a session
// snapshot cannot be corrupted by concurrent mutation of the live record.
func (o *Output) Clone() *Output {
	if o == nil {
		return nil
	}
	c := *o
	if o.Params != nil {
		c.Params = deepCopyMap(o.Params)
	}
	return &c
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
