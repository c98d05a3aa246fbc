package forward

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitForEntry(t *testing.T, ts *testServer) *testEntry {
	t.Helper()
	select {
	case <-time.After(2 * time.Second):
		t.Fatal("test entry was not received in time")
		return nil
	case m := <-ts.entryCh:
		return m
	}
}

func TestClientSendWithAck(t *testing.T) {
	ts, err := newTestServer(&testServerOptions{ackFor: echoAck})
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	c, err := NewClient(testHost, &Config{
		Port:              ts.port,
		MaxEagerDialTries: 1,
		ConnectTimeout:    time.Second,
		RequestAck:        true,
		AckTimeout:        2 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to get NewClient: %v", err)
	}
	defer c.Close()

	rec := NewRecordFrom(F("msg", "hi"), F("attempt", 1))
	if err := c.Send("app.log", rec); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	m := waitForEntry(t, ts)
	if m.Tag != "app.log" {
		t.Fatalf("tag = %q, expected: app.log", m.Tag)
	}
	if m.Record["msg"] != "hi" {
		t.Fatalf("record msg = %v, expected: hi", m.Record["msg"])
	}
	if m.chunk() == "" {
		t.Fatal("expected a chunk token in the entry options")
	}
}

func TestClientNoAckMode(t *testing.T) {
	// the server never writes anything back; a completed write is success
	ts, err := newTestServer(nil)
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	c, err := NewClient(testHost, &Config{
		Port:              ts.port,
		MaxEagerDialTries: 1,
		ConnectTimeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("failed to get NewClient: %v", err)
	}
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Send("app.log", NewRecordFrom(F("k", "v"))) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fire-and-forget Send blocked waiting for a response")
	}

	m := waitForEntry(t, ts)
	if len(m.Option) != 0 {
		t.Fatalf("expected empty options without RequestAck, got: %v", m.Option)
	}
}

func TestClientReusesConnectionAcrossSends(t *testing.T) {
	ts, err := newTestServer(&testServerOptions{ackFor: echoAck})
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	c, err := NewClient(testHost, &Config{
		Port:              ts.port,
		MaxEagerDialTries: 1,
		ConnectTimeout:    time.Second,
		RequestAck:        true,
		AckTimeout:        2 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to get NewClient: %v", err)
	}
	defer c.Close()

	for i := 0; i < 3; i++ {
		if err := c.Send("app.log", NewRecordFrom(F("i", i))); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
		waitForEntry(t, ts)
	}

	if got := ts.accepts.Load(); got != 1 {
		t.Fatalf("expected 1 connection for 3 sends, got: %d", got)
	}
}

func TestClientEagerDialFailsFast(t *testing.T) {
	// grab a port with no listener behind it
	l, err := net.Listen("tcp", testHost+":0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	_, err = NewClient(testHost, &Config{
		Port:              port,
		MaxEagerDialTries: 1,
		ConnectTimeout:    100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected NewClient to fail against a dead destination")
	}
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got: %v", err)
	}
}

func TestClientReconnectsAfterDialFailures(t *testing.T) {
	ts, err := newTestServer(&testServerOptions{ackFor: echoAck})
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	c, err := NewClient(testHost, &Config{
		Port:             ts.port,
		SkipEagerDial:    true,
		ConnectTimeout:   time.Second,
		RequestAck:       true,
		AckTimeout:       2 * time.Second,
		MaxRetry:         2,
		InitialRetryWait: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to get NewClient: %v", err)
	}
	defer c.Close()

	// fail the first two dials, then hand off to the real dialer
	var dials atomic.Int32
	realDial := c.t.dial
	c.t.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if dials.Add(1) <= 2 {
			return nil, errors.New("synthetic dial failure")
		}
		return realDial(ctx, network, addr)
	}

	start := time.Now()
	if err := c.Send("app.log", NewRecordFrom(F("msg", "hi"))); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	elapsed := time.Since(start)

	if got := dials.Load(); got != 3 {
		t.Fatalf("expected exactly 3 connect attempts, got: %d", got)
	}
	// two backoff waits: 5ms then 7.5ms
	if elapsed < 12*time.Millisecond {
		t.Fatalf("Send returned after %s, before the backoff waits could elapse", elapsed)
	}
	waitForEntry(t, ts)
}

func TestClientRetriesExhausted(t *testing.T) {
	c, err := NewClient(testHost, &Config{
		SkipEagerDial:    true,
		ConnectTimeout:   time.Second,
		MaxRetry:         2,
		InitialRetryWait: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to get NewClient: %v", err)
	}

	var dials atomic.Int32
	c.t.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dials.Add(1)
		return nil, errors.New("synthetic dial failure")
	}

	err = c.Send("app.log", NewRecordFrom(F("msg", "hi")))
	if err == nil {
		t.Fatal("expected Send to fail with no reachable server")
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got: %v", err)
	}
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected the last connect error in the chain, got: %v", err)
	}
	if got := dials.Load(); got != 3 {
		t.Fatalf("expected exactly maxRetry+1 = 3 connect attempts, got: %d", got)
	}
}

func TestClientRetriesAckMismatch(t *testing.T) {
	// reply with a bogus token once, then behave
	var acks atomic.Int32
	ts, err := newTestServer(&testServerOptions{
		ackFor: func(chunk string) string {
			if acks.Add(1) == 1 {
				return "bogus-token"
			}
			return chunk
		},
	})
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	c, err := NewClient(testHost, &Config{
		Port:              ts.port,
		MaxEagerDialTries: 1,
		ConnectTimeout:    time.Second,
		RequestAck:        true,
		AckTimeout:        2 * time.Second,
		MaxRetry:          2,
		InitialRetryWait:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to get NewClient: %v", err)
	}
	defer c.Close()

	if err := c.Send("app.log", NewRecordFrom(F("msg", "hi"))); err != nil {
		t.Fatalf("Send failed after an ack mismatch: %v", err)
	}

	first := waitForEntry(t, ts)
	second := waitForEntry(t, ts)
	if first.chunk() == second.chunk() {
		t.Fatal("retry of the same logical send must carry a fresh chunk token")
	}
}

func TestClientAckTimeout(t *testing.T) {
	// the server accepts entries but never acknowledges them
	ts, err := newTestServer(nil)
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	c, err := NewClient(testHost, &Config{
		Port:              ts.port,
		MaxEagerDialTries: 1,
		ConnectTimeout:    time.Second,
		RequestAck:        true,
		AckTimeout:        50 * time.Millisecond,
		MaxRetry:          -1, // no retries
	})
	if err != nil {
		t.Fatalf("failed to get NewClient: %v", err)
	}
	defer c.Close()

	err = c.Send("app.log", NewRecordFrom(F("msg", "hi")))
	if err == nil {
		t.Fatal("expected Send to fail when the ack never arrives")
	}
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout in the chain, got: %v", err)
	}
}

func TestClientConcurrentSends(t *testing.T) {
	ts, err := newTestServer(&testServerOptions{ackFor: echoAck})
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	c, err := NewClient(testHost, &Config{
		Port:              ts.port,
		MaxEagerDialTries: 1,
		ConnectTimeout:    time.Second,
		RequestAck:        true,
		AckTimeout:        2 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to get NewClient: %v", err)
	}
	defer c.Close()

	const n = 8
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			errCh <- c.Send("app.log", NewRecordFrom(F("i", i)))
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent Send failed: %v", err)
		}
	}

	// every entry must have carried its own token
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		m := waitForEntry(t, ts)
		chunk := m.chunk()
		if chunk == "" {
			t.Fatal("entry missing its chunk token")
		}
		if seen[chunk] {
			t.Fatalf("chunk token %q reused across sends", chunk)
		}
		seen[chunk] = true
	}
}

func TestClientUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forward.sock")
	ts, err := newTestServer(&testServerOptions{network: "unix", addr: path, ackFor: echoAck})
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	c, err := NewClient(path, &Config{
		Network:           "unix",
		MaxEagerDialTries: 1,
		ConnectTimeout:    time.Second,
		RequestAck:        true,
		AckTimeout:        2 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to get NewClient over a unix socket: %v", err)
	}
	defer c.Close()

	if err := c.Send("app.log", NewRecordFrom(F("msg", "hi"))); err != nil {
		t.Fatalf("Send over a unix socket failed: %v", err)
	}
	waitForEntry(t, ts)
}
