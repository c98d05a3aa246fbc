/*
Package forward implements a client for the Fluentd forward wire protocol
over TCP, TLS, or a Unix domain socket.

The pieces:

  - `forward.Record` / `forward.Value` - the structured record model, with
    insertion-ordered keys so the wire encoding is reproducible
  - `forward.Client` - owns the server connection, encodes entries as msgpack
    `[tag, time, record, options]` arrays, and retries transient failures
    with bounded exponential backoff
  - `forward.Handler` - a `slog.Handler` that renders Go structured logs into
    Records and delivers them through any `forward.Sink`

A minimal round trip:

	c, err := forward.NewClient("127.0.0.1", &forward.Config{RequestAck: true})
	if err != nil {
		log.Fatalln(err)
	}
	defer c.Close()

	err = c.Send("app.log", forward.NewRecordFrom(
		forward.F("msg", "hi"),
		forward.F("attempt", 1),
	))

With Config.RequestAck set, each entry carries a fresh chunk token and Send
only returns once the server acknowledges that exact token, so delivery is
confirmed end to end. Without it, a completed write is success.
*/
package forward
