package eventlog

import (
	"encoding/binary"
	"hash/crc32"
)

// Record encoding:
// varint routingKeyLen | routingKey | be8 timestampMs | payload | crc32c(all preceding)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord frames a message for storage.
func EncodeRecord(routingKey string, timestampMs int64, payload []byte) []byte {
	out := make([]byte, 0, 10+len(routingKey)+8+len(payload)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(routingKey)))
	out = append(out, tmp[:n]...)
	out = append(out, routingKey...)
	out = appendBE8(out, uint64(timestampMs))
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, out)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...)
}

// Decoded is one unframed message.
type Decoded struct {
	RoutingKey  string
	TimestampMs int64
	Payload     []byte
}

// DecodeRecord unframes a stored value. Returns false on truncation or
// checksum mismatch.
func DecodeRecord(b []byte) (Decoded, bool) {
	if len(b) < 1+8+4 {
		return Decoded{}, false
	}
	body := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Update(0, castagnoli, body) != expect {
		return Decoded{}, false
	}
	klen, n := binary.Uvarint(body)
	if n <= 0 || n+int(klen)+8 > len(body) {
		return Decoded{}, false
	}
	key := string(body[n : n+int(klen)])
	ts := int64(binary.BigEndian.Uint64(body[n+int(klen) : n+int(klen)+8]))
	payload := append([]byte(nil), body[n+int(klen)+8:]...)
	return Decoded{RoutingKey: key, TimestampMs: ts, Payload: payload}, true
}
