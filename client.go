package forward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitdabbler/backoff"
)

// Sink is the narrow delivery interface producers depend on, so they can be
// tested against a recording sink, or pointed at NopSink, without a server.
// *Client implements it.
type Sink interface {
	Send(tag string, record *Record) error
	SendWithTime(tag string, ts time.Time, record *Record) error
	Close() error
}

// Client is a Fluentd forward protocol client. It owns a single connection to
// the server and is safe for use by multiple goroutines: concurrent Send
// calls serialize around the connection for the duration of one attempt
// (write plus optional ack wait), so two callers' bytes can never interleave
// on the wire. No completion order is promised beyond that mutual exclusion;
// a call suspended in a backoff wait can be overtaken by a later call.
type Client struct {
	opts   *Config
	pool   *encoderPool
	policy retryPolicy

	// mu guards the shared connection; each send attempt holds it from write
	// through ack
	mu sync.Mutex
	t  *transport
}

var _ Sink = (*Client)(nil)

// NewClient creates a forward Client and establishes the server connection
// eagerly, returning an error if the destination is unreachable, so a
// misconfigured address surfaces at startup rather than on the first send.
// Set Config.SkipEagerDial to defer connecting to the first Send instead.
//
// For tcp and tls transports host is a hostname or IP (the port comes from
// Config.Port); for unix it is the socket path.
func NewClient(host string, cfg *Config) (*Client, error) {
	return NewClientContext(context.Background(), host, cfg)
}

// NewClientContext is NewClient with a Context bounding the eager dial.
func NewClientContext(ctx context.Context, host string, cfg *Config) (*Client, error) {
	if len(host) == 0 {
		return nil, errors.New("valid host required")
	}

	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		// copy so the caller's Config is never mutated
		resolved := *cfg
		resolved.resolve()
		cfg = &resolved
	}

	c := &Client{
		opts: cfg,
		pool: newEncoderPool(cfg.NewBufferCap, cfg.MaxBufferCap),
		policy: retryPolicy{
			initialWait: cfg.InitialRetryWait,
			maxWait:     cfg.MaxRetryWait,
			maxRetry:    cfg.MaxRetry,
		},
		t: newTransport(host, cfg),
	}

	c.debug("starting Client with the resolved Config: %+v", c.opts)

	if cfg.SkipEagerDial {
		return c, nil
	}
	if err := c.tryConnect(ctx, cfg.MaxEagerDialTries); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) tryConnect(ctx context.Context, maxAttempts int) error {
	c.debug("attempting to connect to forward server\n")

	b, err := backoff.New(
		backoff.WithInitialDelay(0),
		backoff.WithExponentialLimit(time.Second*20),
	)
	if err != nil {
		return err
	}

	i := 0
	for {
		i++
		c.mu.Lock()
		err = c.t.connect(ctx)
		c.mu.Unlock()
		if err == nil {
			c.debug("successfully connected to forward server\n")
			return nil
		}

		c.debug("failed to connect to forward server on attempt %d: %v\n", i, err)

		if maxAttempts > 0 && i >= maxAttempts {
			break
		}

		b.Sleep()
	}

	return fmt.Errorf("failed to connect to forward server; maxAttempts reached: %d: %w", maxAttempts, err)
}

// Send delivers one record with the current time as its timestamp. It blocks
// until the record is written (and acknowledged, when Config.RequestAck is
// set), retrying transient failures with bounded exponential backoff, and
// returns nil on success or the terminal error once the retry budget is
// exhausted. Encoding failures return immediately without consuming retries.
func (c *Client) Send(tag string, record *Record) error {
	return c.SendContext(context.Background(), tag, record)
}

// SendWithTime is Send with an explicit event timestamp.
func (c *Client) SendWithTime(tag string, ts time.Time, record *Record) error {
	return c.send(context.Background(), tag, ts, record)
}

// SendContext is Send with a Context that can cancel the retry loop between
// attempts. Cancellation leaves the connection in a reconnectable state.
func (c *Client) SendContext(ctx context.Context, tag string, record *Record) error {
	return c.send(ctx, tag, time.Now(), record)
}

func (c *Client) send(ctx context.Context, tag string, ts time.Time, record *Record) error {
	op := func() error {
		return c.attempt(ctx, tag, ts, record)
	}
	return c.policy.run(ctx, op, retryable, func(n int, wait time.Duration, cause error) {
		InternalLogger().Printf("send retry %d of %d: waiting %s: cause: %v", n, c.opts.MaxRetry, wait, cause)
	})
}

// attempt runs one full encode → connect-if-needed → write → optional-ack
// cycle. The connection is held for the whole cycle; a fresh chunk token and
// therefore a fresh encoding is produced per attempt, so a stale ack from a
// previous attempt can never be accepted.
func (c *Client) attempt(ctx context.Context, tag string, ts time.Time, record *Record) error {
	options := NewRecord()
	chunk := ""
	if c.opts.RequestAck {
		chunk = newChunkToken()
		options.Set(optionChunkKey, String(chunk))
	}

	enc := c.pool.Get()
	defer c.pool.Put(enc)
	if err := enc.encodeEntry(tag, ts, record, options, c.opts.UseCoarseTimestamps); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.t.connected() {
		if err := c.t.connect(ctx); err != nil {
			return err
		}
	}
	if err := c.t.writeAll(enc.Bytes()); err != nil {
		return err
	}
	if chunk == "" {
		// fire and forget: a completed write is success
		return nil
	}
	return awaitAck(c.t, c.opts.AckTimeout, chunk)
}

// Close tears down the connection. The Client remains usable; a later Send
// reconnects automatically.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t.close()
}

func (c *Client) debug(format string, args ...any) {
	if !c.opts.Verbose {
		return
	}
	InternalLogger().Printf(format, args...)
}

// NopSink discards every record. It is useful for disabling forwarding
// without rewiring producers.
type NopSink struct{}

var _ Sink = NopSink{}

func (NopSink) Send(string, *Record) error                    { return nil }
func (NopSink) SendWithTime(string, time.Time, *Record) error { return nil }
func (NopSink) Close() error                                  { return nil }
