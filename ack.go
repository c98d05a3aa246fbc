package forward

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// option and response keys defined by the forward protocol ack handshake
const (
	optionChunkKey = "chunk"
	ackResponseKey = "ack"
)

// newChunkToken returns a fresh correlation token for one send attempt. Every
// attempt gets its own token, including retries of the same logical send, so
// a delayed ack for an earlier physical attempt can never satisfy a later
// one.
func newChunkToken() string {
	id := uuid.New()
	return base64.StdEncoding.EncodeToString(id[:])
}

// ackResponse is the server's reply to an entry whose options carried a chunk
// token.
type ackResponse struct {
	Ack string `msgpack:"ack"`
}

// awaitAck reads the server's ack response and verifies it matches the chunk
// token written with the entry. The response has no length prefix; bytes are
// accumulated until they decode as a complete msgpack map. A response whose
// ack value differs from chunk, or that carries no ack field at all, is an
// ErrAckMismatch; either way the connection is torn down, since the stream
// can no longer be assumed to be aligned with this client's requests.
func awaitAck(t *transport, timeout time.Duration, chunk string) error {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, 64)
	tmp := make([]byte, 256)

	for {
		if len(buf) > 0 {
			var resp ackResponse
			if err := msgpack.Unmarshal(buf, &resp); err == nil {
				if resp.Ack != chunk {
					t.teardown()
					return fmt.Errorf("%w: ack: %q, chunk: %q", ErrAckMismatch, resp.Ack, chunk)
				}
				return nil
			}
		}

		n, err := t.read(tmp, deadline)
		if err != nil {
			return err
		}
		buf = append(buf, tmp[:n]...)
	}
}
