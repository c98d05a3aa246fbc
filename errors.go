package forward

import (
	"errors"
)

// Sentinel errors returned (wrapped) by the Client and its collaborators. Use
// errors.Is to classify a failure returned from Send.
var (
	// ErrConnect indicates the server could not be reached, or the dial timed
	// out, while establishing a connection.
	ErrConnect = errors.New("forward: connect failed")

	// ErrWrite indicates an I/O failure while transmitting an encoded entry.
	ErrWrite = errors.New("forward: write failed")

	// ErrRead indicates an I/O failure while reading the ack response.
	ErrRead = errors.New("forward: read failed")

	// ErrReadTimeout indicates the ack response did not arrive within the
	// configured ack timeout.
	ErrReadTimeout = errors.New("forward: read timed out")

	// ErrAckMismatch indicates the server's ack response decoded successfully
	// but its ack value did not equal the chunk token sent with the entry.
	// An ack response with no "ack" field at all is reported the same way.
	ErrAckMismatch = errors.New("forward: ack does not match request chunk")

	// ErrEncode indicates the record cannot be represented on the wire, e.g. a
	// map, array, or string whose length exceeds the msgpack length prefixes.
	// Encoding is deterministic, so this error is never retried.
	ErrEncode = errors.New("forward: encode failed")

	// ErrRetriesExhausted wraps the last transient error once the retry budget
	// is consumed.
	ErrRetriesExhausted = errors.New("forward: max retries exceeded")
)

// retryable reports whether err is transient, i.e. whether a fresh connection
// and another attempt could plausibly succeed. Encoding errors are
// deterministic and excluded; ack mismatches are included because they can be
// caused by a server restart dropping in-flight chunk state.
func retryable(err error) bool {
	return errors.Is(err, ErrConnect) ||
		errors.Is(err, ErrWrite) ||
		errors.Is(err, ErrRead) ||
		errors.Is(err, ErrReadTimeout) ||
		errors.Is(err, ErrAckMismatch)
}
