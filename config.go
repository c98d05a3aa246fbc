package forward

import "time"

// Config customizes the forward Client. The zero value of any field is
// coerced to its documented default, so callers can populate only the fields
// they care about:
//
//	c, err := forward.NewClient("127.0.0.1", &forward.Config{RequestAck: true})
//
// A Config is copied at construction and never mutated afterward.
type Config struct {

	// Network is the transport used to reach the server: "tcp", "tls", or
	// "unix". With "unix" the host passed to NewClient is the socket path and
	// Port is ignored. The default is "tcp".
	Network string

	// Port of the forward server for tcp/tls transports. The default is 24224.
	Port int

	// ConnectTimeout bounds each dial of the server. The default is 3 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each write of an encoded entry. If negative, no
	// write deadline is set. The default is 10 seconds.
	WriteTimeout time.Duration

	// AckTimeout bounds the wait for the server's ack response after a write,
	// when RequestAck is enabled. The default is 10 seconds.
	AckTimeout time.Duration

	// RequestAck enables the at-least-once handshake: each entry carries a
	// fresh chunk token in its options, and Send only succeeds once the
	// server acknowledges that token. When disabled, a successful write
	// completes the send (fire and forget). The default is false.
	RequestAck bool

	// UseCoarseTimestamps serializes entry timestamps as plain epoch seconds
	// instead of the sub-second EventTime representation, for pre-2016 legacy
	// servers. The default is false.
	UseCoarseTimestamps bool

	// InitialRetryWait is the wait before the first retry. Each subsequent
	// wait grows by a fixed 1.5 multiplier. The default is 500ms.
	InitialRetryWait time.Duration

	// MaxRetry is the number of retries after the first attempt, so a send
	// makes at most MaxRetry+1 attempts. Negative disables retries entirely.
	// The default is 10.
	MaxRetry int

	// MaxRetryWait caps the grown wait between retries. The default is 60
	// seconds.
	MaxRetryWait time.Duration

	// MaxEagerDialTries limits how many times the constructor tries to
	// establish the initial connection before giving up. If negative, the
	// constructor keeps trying until it succeeds. Not used after the
	// constructor returns, or when SkipEagerDial is set. The default is 10.
	MaxEagerDialTries int

	// SkipEagerDial defers connecting until the first Send.
	SkipEagerDial bool

	// InsecureSkipVerify controls whether the client verifies the server's
	// certificate chain and host name when Network is "tls".
	InsecureSkipVerify bool

	// NewBufferCap sets the capacity, in bytes, of newly created encoder
	// buffers. The minimum is 64 bytes. The default is 1KiB.
	NewBufferCap int

	// MaxBufferCap sets the buffer capacity beyond which an encoder is not
	// returned to the shared pool, keeping rare oversized buffers from
	// staying resident. The minimum is NewBufferCap. The default is 8KiB.
	MaxBufferCap int

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

// retryIncrementRate is the fixed backoff multiplier; the protocol upstreams
// do not make it configurable.
const retryIncrementRate = 1.5

const (
	defaultPort             = 24224
	defaultNetwork          = "tcp"
	defaultConnectTimeout   = time.Second * 3
	defaultWriteTimeout     = time.Second * 10
	defaultAckTimeout       = time.Second * 10
	defaultInitialRetryWait = time.Millisecond * 500
	defaultMaxRetry         = 10
	defaultMaxRetryWait     = time.Second * 60
	defaultEagerDialTries   = 10
	minBufferCap            = 64
	defaultNewBufferCap     = 1 << 10
	defaultMaxBufferCap     = 1 << 13
)

// DefaultConfig returns a *Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Network:           defaultNetwork,
		Port:              defaultPort,
		ConnectTimeout:    defaultConnectTimeout,
		WriteTimeout:      defaultWriteTimeout,
		AckTimeout:        defaultAckTimeout,
		InitialRetryWait:  defaultInitialRetryWait,
		MaxRetry:          defaultMaxRetry,
		MaxRetryWait:      defaultMaxRetryWait,
		MaxEagerDialTries: defaultEagerDialTries,
		NewBufferCap:      defaultNewBufferCap,
		MaxBufferCap:      defaultMaxBufferCap,
	}
}

// resolve ensures that all fields have valid values.
func (c *Config) resolve() {

	// only stream transports can carry the ack handshake
	if c.Network != "tcp" && c.Network != "tls" && c.Network != "unix" {
		c.Network = defaultNetwork
	}

	// constrain to valid range
	if c.Port < 1024 || c.Port > 65535 {
		c.Port = defaultPort
	}

	// must be positive
	if c.ConnectTimeout < 1 {
		c.ConnectTimeout = defaultConnectTimeout
	}

	// can be negative (no deadline) or positive, but not 0
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}

	// must be positive; an unbounded ack wait would wedge the connection
	if c.AckTimeout < 1 {
		c.AckTimeout = defaultAckTimeout
	}

	// must be positive
	if c.InitialRetryWait < 1 {
		c.InitialRetryWait = defaultInitialRetryWait
	}

	// negative means no retries; 0 is the unset zero value
	if c.MaxRetry < 0 {
		c.MaxRetry = 0
	} else if c.MaxRetry == 0 {
		c.MaxRetry = defaultMaxRetry
	}

	// must be positive and at least the initial wait
	if c.MaxRetryWait < 1 {
		c.MaxRetryWait = defaultMaxRetryWait
	}
	if c.MaxRetryWait < c.InitialRetryWait {
		c.MaxRetryWait = c.InitialRetryWait
	}

	// can be negative (infinity) or positive, but not 0
	if c.MaxEagerDialTries == 0 {
		c.MaxEagerDialTries = defaultEagerDialTries
	}

	c.NewBufferCap = max(c.NewBufferCap, minBufferCap)
	if c.MaxBufferCap == 0 {
		c.MaxBufferCap = defaultMaxBufferCap
	}
	c.MaxBufferCap = max(c.NewBufferCap, c.MaxBufferCap)
}
