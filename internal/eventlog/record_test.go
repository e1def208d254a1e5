package eventlog

import (
	"bytes"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	b := EncodeRecord("orders.created", 123456, []byte("payload"))
	dec, ok := DecodeRecord(b)
	if !ok {
		t.Fatalf("decode failed")
	}
	if dec.RoutingKey != "orders.created" || dec.TimestampMs != 123456 || !bytes.Equal(dec.Payload, []byte("payload")) {
		t.Fatalf("unexpected decode: %+v", dec)
	}
}

func TestRecordCorruptionDetected(t *testing.T) {
	b := EncodeRecord("k", 1, []byte("payload"))
	b[len(b)/2] ^= 0xff
	if _, ok := DecodeRecord(b); ok {
		t.Fatalf("expected checksum failure")
	}
}

func TestRecordTruncated(t *testing.T) {
	if _, ok := DecodeRecord([]byte{0x01, 0x02}); ok {
		t.Fatalf("expected failure on short input")
	}
}
