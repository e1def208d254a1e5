package eventlog

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/outflow/internal/storage/pebble"
)

// store is the storage surface the log needs; satisfied by *pebblestore.DB.
type store interface {
	NewBatch() *pebble.Batch
	CommitBatch(ctx context.Context, b *pebble.Batch) error
	Get(key []byte) ([]byte, error)
	NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error)
}

// AppendRecord represents a single appendable message.
type AppendRecord struct {
	RoutingKey  string
	TimestampMs int64 // 0 means "now"
	Payload     []byte
}

// Log provides append-only operations for one queue's message log.
type Log struct {
	db       store
	database string
	queue    string

	mu       sync.Mutex
	lastSeq  uint64
	notifyCh chan struct{}
}

// OpenLog initializes a Log and loads the last sequence from metadata.
func OpenLog(db *pebblestore.DB, database, queue string) (*Log, error) {
	l := &Log{db: db, database: database, queue: queue, notifyCh: make(chan struct{})}
	meta, err := db.Get(KeyLogMeta(database, queue))
	if err == nil && len(meta) >= 8 {
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
	}
	return l, nil
}

// Append appends the records as a single atomic batch and returns the
// assigned sequence ids. Ids are strictly increasing, starting at 1.
func (l *Log) Append(ctx context.Context, recs []AppendRecord) ([]uint64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	// lastSeq only advances once the batch is durably committed, so a
	// failed append never leaves a sequence-id gap.
	now := time.Now().UnixMilli()
	seq := l.lastSeq
	seqs := make([]uint64, len(recs))
	for i, r := range recs {
		seq++
		ts := r.TimestampMs
		if ts == 0 {
			ts = now
		}
		val := EncodeRecord(r.RoutingKey, ts, r.Payload)
		if err := b.Set(KeyLogEntry(l.database, l.queue, seq), val, nil); err != nil {
			return nil, err
		}
		seqs[i] = seq
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(KeyLogMeta(l.database, l.queue), meta[:], nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	l.lastSeq = seq

	// wake blocked readers
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return seqs, nil
}

// LastSeq returns the highest assigned sequence id (0 when empty).
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// notify returns the channel closed by the next append.
func (l *Log) notify() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notifyCh
}

// WaitForAppend blocks until a new append occurs or timeout elapses.
// Returns true if woken by an append, false on timeout.
func (l *Log) WaitForAppend(timeout time.Duration) bool {
	ch := l.notify()
	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
