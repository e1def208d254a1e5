package eventlog

import (
	"context"
	"errors"
	"time"
)

// ErrCursorClosed reports use of a cursor after Close.
var ErrCursorClosed = errors.New("eventlog: cursor closed")

// Cursor is a sequential, resumable reader over one queue's log.
//
// A cursor is positioned at the next sequence id it will surface. Next
// blocks with a bound until a message at or after that position exists,
// then the accessors describe the current message until the following
// Next call. Cursors are owned by a single goroutine.
type Cursor struct {
	log     *Log
	nextSeq uint64
	cur     Item
	have    bool
	closed  bool
}

// OpenCursorAt opens a cursor positioned at the given sequence id.
// Sequence 0 positions at the start of the log.
func (l *Log) OpenCursorAt(seq uint64) *Cursor {
	return &Cursor{log: l, nextSeq: seq}
}

// OpenCursorAtTimestamp opens a cursor positioned at the first message
// whose timestamp is at-or-after tsMs.
func (l *Log) OpenCursorAtTimestamp(tsMs int64) (*Cursor, error) {
	seq, err := l.FirstSeqAtOrAfter(tsMs)
	if err != nil {
		return nil, err
	}
	return &Cursor{log: l, nextSeq: seq}, nil
}

// Next advances to the next message, blocking up to timeout when the log
// is idle. It returns true when a message is available, false on timeout.
// Cancellation of ctx makes it return (false, ctx.Err()) promptly; other
// errors indicate storage I/O failure.
func (c *Cursor) Next(ctx context.Context, timeout time.Duration) (bool, error) {
	if c.closed {
		return false, ErrCursorClosed
	}
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		notify := c.log.notify()
		items, err := c.log.Read(ReadOptions{StartSeq: c.nextSeq, Limit: 1})
		if err != nil {
			return false, err
		}
		if len(items) > 0 {
			c.cur = items[0]
			c.have = true
			c.nextSeq = items[0].Seq + 1
			return true, nil
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return false, nil
		}
		timer := time.NewTimer(remain)
		select {
		case <-notify:
			timer.Stop()
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		}
	}
}

// ID returns the current message's sequence id.
func (c *Cursor) ID() uint64 { return c.cur.Seq }

// RoutingKey returns the current message's routing key.
func (c *Cursor) RoutingKey() string { return c.cur.RoutingKey }

// Timestamp returns the current message's timestamp in ms.
func (c *Cursor) Timestamp() int64 { return c.cur.TimestampMs }

// Payload returns the current message's payload.
func (c *Cursor) Payload() []byte { return c.cur.Payload }

// NextID returns the sequence id that follows the current message.
func (c *Cursor) NextID() uint64 { return c.cur.Seq + 1 }

// Close releases the cursor. Subsequent Next calls fail.
func (c *Cursor) Close() error {
	c.closed = true
	return nil
}
