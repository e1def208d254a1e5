package meta

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	pebblestore "github.com/rzbill/outflow/internal/storage/pebble"
)

// Key layout:
// - meta/db/{id}
// - meta/q/{id}
// - meta/out/{id}
var (
	dbKeyPrefix  = []byte("meta/db/")
	qKeyPrefix   = []byte("meta/q/")
	outKeyPrefix = []byte("meta/out/")
)

func recKey(prefix []byte, id string) []byte {
	k := make([]byte, 0, len(prefix)+len(id))
	k = append(k, prefix...)
	k = append(k, id...)
	return k
}

// Store is the process-wide metadata store.
type Store struct {
	db *pebblestore.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store over the given database.
func NewStore(db *pebblestore.DB) *Store {
	return &Store{db: db, locks: make(map[string]*sync.Mutex)}
}

// LockOutput returns the mutex serializing updates to one output id.
// Both the worker's checkpoint commit and the configuration API's update
// path hold it across their read-modify-write.
func (s *Store) LockOutput(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

func (s *Store) get(key []byte, out interface{}) (bool, error) {
	b, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("meta: decode record: %w", err)
	}
	return true, nil
}

func (s *Store) put(key []byte, rec interface{}) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Set(key, b)
}

// FindDatabase loads a database record. Absence is not an error.
func (s *Store) FindDatabase(id string) (*Database, bool, error) {
	var d Database
	ok, err := s.get(recKey(dbKeyPrefix, id), &d)
	if !ok || err != nil {
		return nil, false, err
	}
	return &d, true, nil
}

// FindQueue loads a queue record. Absence is not an error.
func (s *Store) FindQueue(id string) (*Queue, bool, error) {
	var q Queue
	ok, err := s.get(recKey(qKeyPrefix, id), &q)
	if !ok || err != nil {
		return nil, false, err
	}
	return &q, true, nil
}

// FindOutput loads an output record. Absence is not an error.
func (s *Store) FindOutput(id string) (*Output, bool, error) {
	var o Output
	ok, err := s.get(recKey(outKeyPrefix, id), &o)
	if !ok || err != nil {
		return nil, false, err
	}
	return &o, true, nil
}

// CreateDatabase persists a new database record, assigning an id when empty.
func (s *Store) CreateDatabase(d *Database) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	d.CreatedAtMs = time.Now().UnixMilli()
	return s.put(recKey(dbKeyPrefix, d.ID), d)
}

// CreateQueue persists a new queue record, assigning an id when empty.
func (s *Store) CreateQueue(q *Queue) error {
	if q.DatabaseID == "" {
		return errors.New("meta: queue requires a database id")
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Name == "" {
		q.Name = q.ID
	}
	q.CreatedAtMs = time.Now().UnixMilli()
	return s.put(recKey(qKeyPrefix, q.ID), q)
}

// CreateOutput persists a new output record with Version 1.
func (s *Store) CreateOutput(o *Output) error {
	if o.QueueID == "" {
		return errors.New("meta: output requires a queue id")
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Name == "" {
		o.Name = o.ID
	}
	o.Version = 1
	o.CreatedAtMs = time.Now().UnixMilli()
	return s.put(recKey(outKeyPrefix, o.ID), o)
}

// UpdateOutput persists o atomically, bumping Version past the currently
// stored one. The caller's record is updated with the assigned Version.
// Callers mutating the same output concurrently must hold LockOutput.
func (s *Store) UpdateOutput(o *Output) error {
	cur, ok, err := s.FindOutput(o.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("meta: output %q does not exist", o.ID)
	}
	o.Version = cur.Version + 1
	return s.put(recKey(outKeyPrefix, o.ID), o)
}

// DeleteOutput removes an output record. Deleting a missing record is a no-op.
func (s *Store) DeleteOutput(id string) error {
	return s.db.Delete(recKey(outKeyPrefix, id))
}

// DeleteQueue removes a queue record.
func (s *Store) DeleteQueue(id string) error {
	return s.db.Delete(recKey(qKeyPrefix, id))
}

// DeleteDatabase removes a database record.
func (s *Store) DeleteDatabase(id string) error {
	return s.db.Delete(recKey(dbKeyPrefix, id))
}

func (s *Store) list(prefix []byte, visit func(value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: append(append([]byte(nil), prefix...), 0xff),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := visit(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ListDatabases returns all database records.
func (s *Store) ListDatabases() ([]*Database, error) {
	var out []*Database
	err := s.list(dbKeyPrefix, func(v []byte) error {
		var d Database
		if err := json.Unmarshal(v, &d); err != nil {
			return err
		}
		out = append(out, &d)
		return nil
	})
	return out, err
}

// ListQueues returns all queue records.
func (s *Store) ListQueues() ([]*Queue, error) {
	var out []*Queue
	err := s.list(qKeyPrefix, func(v []byte) error {
		var q Queue
		if err := json.Unmarshal(v, &q); err != nil {
			return err
		}
		out = append(out, &q)
		return nil
	})
	return out, err
}

// ListOutputs returns all output records.
func (s *Store) ListOutputs() ([]*Output, error) {
	var out []*Output
	err := s.list(outKeyPrefix, func(v []byte) error {
		var o Output
		if err := json.Unmarshal(v, &o); err != nil {
			return err
		}
		out = append(out, &o)
		return nil
	})
	return out, err
}
