package forward

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

const testHost = "127.0.0.1"

// testEntry is the decoded form of one forward Message mode entry,
// [tag, time, record, option].
type testEntry struct {
	Tag    string
	Time   time.Time
	Record map[string]any
	Option map[string]any
}

func (m *testEntry) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("failed to decode outer entry array length: %v", err)
	}
	if n != 4 {
		return fmt.Errorf("expected 4 entry elements, got: %d", n)
	}

	if err = dec.Decode(&m.Tag); err != nil {
		return fmt.Errorf("failed to decode tag field: %v", err)
	}

	typeCode, err := dec.PeekCode()
	if err != nil {
		return fmt.Errorf("failed to read type code for the time field: %v", err)
	}
	if typeCode == msgpcode.FixExt8 {
		et := EventTime{}
		if err = dec.Decode(&et); err != nil {
			return fmt.Errorf("failed to decode the time field: %v", err)
		}
		m.Time = time.Time(et)
	} else {
		unix, err := dec.DecodeInt64()
		if err != nil {
			return fmt.Errorf("failed to decode the time field: %v", err)
		}
		m.Time = time.Unix(unix, 0).UTC()
	}

	if err = dec.Decode(&m.Record); err != nil {
		return fmt.Errorf("failed to decode the record field: %v", err)
	}
	if err = dec.Decode(&m.Option); err != nil {
		return fmt.Errorf("failed to decode the option field: %v", err)
	}
	return nil
}

func (m *testEntry) chunk() string {
	s, _ := m.Option["chunk"].(string)
	return s
}

type testServerOptions struct {
	network string // default "tcp"
	addr    string // socket path for "unix"
	verbose bool

	// ackFor maps a received chunk token to the ack value to reply with;
	// return "" to stay silent. nil leaves the server mute entirely.
	ackFor func(chunk string) string
}

// echoAck replies to every chunk with its own token, the behavior of a
// healthy forward server.
func echoAck(chunk string) string { return chunk }

type testServer struct {
	listener   net.Listener
	entryCh    chan *testEntry
	shutdownCh chan struct{}
	port       int
	accepts    atomic.Int32
	*testServerOptions
}

func newTestServer(opts *testServerOptions) (*testServer, error) {
	if opts == nil {
		opts = &testServerOptions{}
	}
	if opts.network == "" {
		opts.network = "tcp"
	}

	s := &testServer{
		entryCh:           make(chan *testEntry, 128),
		shutdownCh:        make(chan struct{}),
		testServerOptions: opts,
	}

	// tcp uses port 0 for a dynamic assignment; unix uses the given path
	listenAddr := opts.addr
	if opts.network == "tcp" {
		listenAddr = testHost + ":0"
	}
	l, err := net.Listen(s.network, listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to start test server listener: %v", err)
	}
	s.listener = l

	if opts.network == "tcp" {
		addr := l.Addr().String()
		idx := strings.LastIndex(addr, ":")
		if idx == len(addr)-1 {
			return nil, errors.New("bad addr: ends with ':'")
		}
		s.port, err = strconv.Atoi(addr[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid port value: '%s': %v", addr[idx+1:], err)
		}
	}

	go func() {
		s.debug("starting listener")
		for {
			select {
			case <-s.shutdownCh:
				s.debug("shutting down")
				s.listener.Close()
				return
			default:
				conn, err := l.Accept()
				if err != nil {
					s.debug("listener.Accept() error: %v", err)
					continue
				}
				s.accepts.Add(1)
				s.debug("new client connected")
				go s.handle(conn)
			}
		}
	}()

	return s, nil
}

func (s *testServer) Shutdown() {
	close(s.shutdownCh)
}

func (s *testServer) handle(conn net.Conn) {
	d := msgpack.NewDecoder(conn)

	for {
		m := new(testEntry)
		if err := d.Decode(m); err != nil {
			s.debug("failed to decode forward entry: %v\n", err)
			break
		}
		s.entryCh <- m

		if s.ackFor == nil {
			continue
		}
		if ack := s.ackFor(m.chunk()); ack != "" {
			b, err := msgpack.Marshal(map[string]string{"ack": ack})
			if err != nil {
				s.debug("failed to encode ack: %v\n", err)
				continue
			}
			if _, err := conn.Write(b); err != nil {
				s.debug("failed to write ack: %v\n", err)
				break
			}
		}
	}

	s.debug("closing connection")
	conn.Close()
}

func (s *testServer) debug(format string, args ...any) {
	if !s.verbose {
		return
	}
	InternalLogger().Printf("testServer: "+format, args...)
}

// recordingSink captures records rather than sending them to a server. It
// implements Sink for Handler tests.
type recordingSink struct {
	tags    []string
	times   []time.Time
	records []*Record
}

func (c *recordingSink) Send(tag string, record *Record) error {
	return c.SendWithTime(tag, time.Now(), record)
}

func (c *recordingSink) SendWithTime(tag string, ts time.Time, record *Record) error {
	c.tags = append(c.tags, tag)
	c.times = append(c.times, ts)
	c.records = append(c.records, record)
	return nil
}

func (c *recordingSink) Close() error { return nil }
