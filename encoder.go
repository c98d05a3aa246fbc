package forward

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// maxWireLen is the largest count or byte length representable by the msgpack
// 32-bit length prefixes used for strings, arrays, and maps.
const maxWireLen = math.MaxUint32

// checkWireLen guards a length against the msgpack length-prefix capacity,
// surfacing an ErrEncode instead of letting an oversized value truncate.
func checkWireLen(what string, n int) error {
	if uint64(n) > uint64(maxWireLen) {
		return fmt.Errorf("%w: %s length %d exceeds the msgpack limit of %d", ErrEncode, what, n, uint64(maxWireLen))
	}
	return nil
}

// encodeErr wraps an encoder failure as ErrEncode, without double-wrapping
// errors that already carry the sentinel.
func encodeErr(what string, err error) error {
	if errors.Is(err, ErrEncode) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrEncode, what, err)
}

// encoder pairs a msgpack encoder with its underlying bytes.Buffer, so an
// entry can be rendered once and written to the connection as a single slice.
type encoder struct {
	*bytes.Buffer
	*msgpack.Encoder
}

func newEncoder(bufferCap int) *encoder {
	buf := bytes.NewBuffer(make([]byte, 0, bufferCap))
	return &encoder{
		Buffer:  buf,
		Encoder: msgpack.NewEncoder(buf),
	}
}

// encodeEntry renders one forward protocol Message mode entry,
// [tag, time, record, options], into the encoder's buffer. The timestamp is
// serialized as an EventTime unless coarseTime is set, in which case it
// becomes a plain unsigned integer of epoch seconds for pre-2016 peers
// without sub-second support.
func (e *encoder) encodeEntry(tag string, ts time.Time, record, options *Record, coarseTime bool) error {
	if err := checkWireLen("tag", len(tag)); err != nil {
		return err
	}
	if err := e.EncodeArrayLen(4); err != nil {
		return encodeErr("entry header", err)
	}
	if err := e.EncodeString(tag); err != nil {
		return encodeErr("tag", err)
	}

	if coarseTime {
		if err := e.EncodeUint(uint64(ts.UTC().Unix())); err != nil {
			return encodeErr("timestamp", err)
		}
	} else {
		et := EventTime(ts)
		if err := et.EncodeMsgpack(e.Encoder); err != nil {
			return encodeErr("timestamp", err)
		}
	}

	if err := record.EncodeMsgpack(e.Encoder); err != nil {
		return encodeErr("record", err)
	}

	// options is always present on the wire, possibly empty
	if err := options.EncodeMsgpack(e.Encoder); err != nil {
		return encodeErr("options", err)
	}

	return nil
}

// encoderPool is a shared encoder/buffer pool, used to minimize heap
// allocations across Send calls.
type encoderPool struct {
	p            sync.Pool
	maxBufferCap int
}

func newEncoderPool(newBufferCap, maxBufferCap int) *encoderPool {
	ep := &encoderPool{maxBufferCap: maxBufferCap}
	ep.p = sync.Pool{
		New: func() any { return newEncoder(newBufferCap) },
	}
	return ep
}

func (p *encoderPool) Get() *encoder {
	return p.p.Get().(*encoder)
}

// Put resets an encoder and returns it to the shared pool. Unusually large
// buffers are dropped so they do not stay resident in memory.
func (p *encoderPool) Put(e *encoder) {
	if e.Buffer.Cap() > p.maxBufferCap {
		return
	}
	e.Buffer.Reset()
	e.Encoder.Reset(e.Buffer)
	p.p.Put(e)
}
