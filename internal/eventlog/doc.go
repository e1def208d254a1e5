// Package eventlog implements the durable, append-only message log backing
// each queue.
//
// Every queue owns one log keyed by (database, queue). Appends assign
// strictly increasing sequence ids starting at 1 and wake blocked readers
// through a notify channel. Records carry a routing key and a millisecond
// timestamp alongside the opaque payload, framed with a crc32c checksum.
//
// Cursor provides the sequential read side: it can be opened at an exact
// sequence id or at the first message at-or-after a timestamp, and its
// Next call blocks with a bound while observing context cancellation, so
// a reader can always be stopped promptly.
package eventlog
