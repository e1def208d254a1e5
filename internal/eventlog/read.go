package eventlog

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
)

// Item is one decoded message with its sequence id.
type Item struct {
	Seq         uint64
	RoutingKey  string
	TimestampMs int64
	Payload     []byte
}

// ReadOptions controls a forward scan.
type ReadOptions struct {
	StartSeq uint64 // inclusive; 0 begins at the first entry
	Limit    int    // 0 means no limit
}

// Read returns up to Limit items starting at StartSeq (inclusive).
func (l *Log) Read(opts ReadOptions) ([]Item, error) {
	low := KeyLogEntry(l.database, l.queue, 0)
	hi := KeyLogEntry(l.database, l.queue, ^uint64(0))

	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	items := make([]Item, 0, max(1, opts.Limit))
	startKey := KeyLogEntry(l.database, l.queue, opts.StartSeq)
	if opts.StartSeq == 0 {
		if !iter.First() {
			return items, iter.Error()
		}
	} else if !iter.SeekGE(startKey) {
		return items, iter.Error()
	}
	for iter.Valid() && (opts.Limit == 0 || len(items) < opts.Limit) {
		key := iter.Key()
		seq := binary.BigEndian.Uint64(key[len(key)-8:])
		if dec, ok := DecodeRecord(iter.Value()); ok {
			items = append(items, Item{Seq: seq, RoutingKey: dec.RoutingKey, TimestampMs: dec.TimestampMs, Payload: dec.Payload})
		}
		if !iter.Next() {
			break
		}
	}
	return items, iter.Error()
}

// FirstSeqAtOrAfter returns the sequence id of the first message whose
// timestamp is >= tsMs. When every stored message is older, it returns
// lastSeq+1 so a reader positioned there only sees future appends.
func (l *Log) FirstSeqAtOrAfter(tsMs int64) (uint64, error) {
	const batch = 256
	start := uint64(0)
	for {
		items, err := l.Read(ReadOptions{StartSeq: start, Limit: batch})
		if err != nil {
			return 0, err
		}
		if len(items) == 0 {
			return l.LastSeq() + 1, nil
		}
		for _, it := range items {
			if it.TimestampMs >= tsMs {
				return it.Seq, nil
			}
		}
		start = items[len(items)-1].Seq + 1
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
