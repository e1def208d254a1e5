package eventlog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - db/{database}/q/{queue}/m              partition metadata (lastSeq)
// - db/{database}/q/{queue}/e/{seq_be8}    log entries
var (
	dbPrefix   = []byte("db/")
	queueSeg   = []byte("/q/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func keyPrefix(database, queue string) []byte {
	k := make([]byte, 0, len(dbPrefix)+len(database)+len(queueSeg)+len(queue)+16)
	k = append(k, dbPrefix...)
	k = append(k, database...)
	k = append(k, queueSeg...)
	k = append(k, queue...)
	return k
}

// KeyLogMeta builds the queue metadata key.
func KeyLogMeta(database, queue string) []byte {
	return append(keyPrefix(database, queue), metaSuffix...)
}

// KeyLogEntry builds the entry key with a big-endian sequence for ordering.
func KeyLogEntry(database, queue string, seq uint64) []byte {
	k := append(keyPrefix(database, queue), entrySeg...)
	return appendBE8(k, seq)
}
