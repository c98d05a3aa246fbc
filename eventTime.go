package forward

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EventTime is Fluentd's sub-second timestamp, serialized as msgpack extension
// type 0 rather than the predefined (type -1) time format:
//
// +-------+----+----+----+----+----+----+----+----+----+
// |     1 |  2 |  3 |  4 |  5 |  6 |  7 |  8 |  9 | 10 |
// +-------+----+----+----+----+----+----+----+----+----+
// |    D7 | 00 | seconds from epoch|     nanosecond    |
// +-------+----+----+----+----+----+----+----+----+----+
// |fixext8|type| 32bits integer BE | 32bits integer BE |
// +-------+----+----+----+----+----+----+----+----+----+
type EventTime time.Time

// compile-time checks for msgpack Custom[En|De]coder conformance
var _ msgpack.CustomEncoder = (*EventTime)(nil)
var _ msgpack.CustomDecoder = (*EventTime)(nil)

const (
	eventTimeExtType = 0
	eventTimeDataLen = 8
)

// EncodeMsgpack serializes the EventTime per the forward protocol
// specification. The protocol has no timezone support, so the value is
// normalized to UTC; the 32-bit seconds field constrains the range to
// 1970-2106.
func (t *EventTime) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeExtHeader(eventTimeExtType, eventTimeDataLen); err != nil {
		return fmt.Errorf("failed to encode EventTime ext header: %w", err)
	}

	utc := time.Time(*t).UTC()

	var payload [eventTimeDataLen]byte
	binary.BigEndian.PutUint32(payload[:4], uint32(utc.Unix()))
	binary.BigEndian.PutUint32(payload[4:], uint32(utc.Nanosecond()))

	if _, err := enc.Writer().Write(payload[:]); err != nil {
		return fmt.Errorf("failed to encode EventTime payload: %w", err)
	}
	return nil
}

// DecodeMsgpack deserializes an EventTime, validating the fixext8 header.
func (t *EventTime) DecodeMsgpack(dec *msgpack.Decoder) error {
	var buf [eventTimeDataLen + 2]byte
	if err := dec.ReadFull(buf[:]); err != nil {
		return fmt.Errorf("failed to decode EventTime: %w", err)
	}

	if buf[0] != 0xD7 {
		return fmt.Errorf("failed to decode EventTime: byte[0] = %X, expected 0xD7 (fixext8)", buf[0])
	}
	if buf[1] != eventTimeExtType {
		return fmt.Errorf("failed to decode EventTime: byte[1] = %X, expected 0x00 (ext type 0)", buf[1])
	}

	secs := int64(binary.BigEndian.Uint32(buf[2:6]))
	nsecs := int64(binary.BigEndian.Uint32(buf[6:]))
	*t = EventTime(time.Unix(secs, nsecs).In(time.UTC))

	return nil
}
