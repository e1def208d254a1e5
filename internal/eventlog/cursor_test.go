package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedMessages(t *testing.T, l *Log, n int) {
	t.Helper()
	recs := make([]AppendRecord, n)
	for i := range recs {
		recs[i] = AppendRecord{RoutingKey: "k", TimestampMs: int64((i + 1) * 100), Payload: []byte{byte('a' + i)}}
	}
	if _, err := l.Append(context.Background(), recs); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestCursorReadsInOrder(t *testing.T) {
	l := newTestLog(t)
	seedMessages(t, l, 3)
	c := l.OpenCursorAt(0)
	defer c.Close()

	ctx := context.Background()
	for want := uint64(1); want <= 3; want++ {
		ok, err := c.Next(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("next %d: ok=%v err=%v", want, ok, err)
		}
		if c.ID() != want {
			t.Fatalf("out of order: got %d want %d", c.ID(), want)
		}
		if c.NextID() != want+1 {
			t.Fatalf("NextID = %d", c.NextID())
		}
	}
	ok, err := c.Next(ctx, 20*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("expected timeout at end of log: ok=%v err=%v", ok, err)
	}
}

func TestCursorOpenAtSequence(t *testing.T) {
	l := newTestLog(t)
	seedMessages(t, l, 3)
	c := l.OpenCursorAt(2)
	defer c.Close()
	ok, err := c.Next(context.Background(), time.Second)
	if err != nil || !ok || c.ID() != 2 {
		t.Fatalf("want message 2: ok=%v err=%v id=%d", ok, err, c.ID())
	}
}

func TestCursorOpenAtTimestamp(t *testing.T) {
	l := newTestLog(t)
	seedMessages(t, l, 3) // timestamps 100, 200, 300
	c, err := l.OpenCursorAtTimestamp(150)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	ok, err := c.Next(context.Background(), time.Second)
	if err != nil || !ok || c.ID() != 2 {
		t.Fatalf("want message 2 at-or-after ts 150: ok=%v err=%v id=%d", ok, err, c.ID())
	}
}

func TestCursorWokenByAppend(t *testing.T) {
	l := newTestLog(t)
	c := l.OpenCursorAt(0)
	defer c.Close()

	got := make(chan uint64, 1)
	go func() {
		ok, err := c.Next(context.Background(), 2*time.Second)
		if err != nil || !ok {
			t.Errorf("next: ok=%v err=%v", ok, err)
			close(got)
			return
		}
		got <- c.ID()
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := l.Append(context.Background(), []AppendRecord{{Payload: []byte("x")}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case id := <-got:
		if id != 1 {
			t.Fatalf("got id %d", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("cursor not woken by append")
	}
}

func TestCursorNextObservesCancellation(t *testing.T) {
	l := newTestLog(t)
	c := l.OpenCursorAt(0)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Next(ctx, 10*time.Second)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Next did not return promptly after cancel")
	}
}

func TestCursorClosed(t *testing.T) {
	l := newTestLog(t)
	c := l.OpenCursorAt(0)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.Next(context.Background(), time.Millisecond); !errors.Is(err, ErrCursorClosed) {
		t.Fatalf("want ErrCursorClosed, got %v", err)
	}
}
