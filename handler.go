package forward

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

type ccKey struct{}

// ContextKey is used to extract a log value from a context.Context. The value
// must be a `slog.Attr`.
//
//	ctx := context.WithValue(ctx, forward.ContextKey,
//		slog.Group("req",
//			slog.String("method", r.Method),
//			slog.String("url", r.URL.String()),
//		)
//	)
//
// These attrs are added to the top scope of the forwarded record.
var ContextKey *ccKey = &ccKey{}

// groupOrAttrs is one link in the chain built up by WithGroup and WithAttrs
// calls; exactly one of the fields is set.
type groupOrAttrs struct {
	group string
	attrs []slog.Attr
}

// Handler is an adapter that renders Go structured logs into forward Records
// and delivers them through a Sink.
//
//	h, err := forward.NewHandler(fluentHost, fluentTag, nil)
//	if err != nil {
//		log.Fatalln(err)
//	}
//	slog.SetDefault(slog.New(h))
//
//	slog.Info("unrecognized user", "user_id", userID)
type Handler struct {
	*HandlerOptions
	sink Sink
	tag  string
	goas []groupOrAttrs
}

var _ slog.Handler = (*Handler)(nil)

// NewHandler dials a forward server with a default Config and returns a
// Handler delivering through the resulting Client.
//
// For control over the Client, or to capture records in tests, build the Sink
// yourself and use NewHandlerCustom.
func NewHandler(host, tag string, opts *HandlerOptions) (*Handler, error) {
	c, err := NewClient(host, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward.Client: %w", err)
	}
	return NewHandlerCustom(c, tag, opts), nil
}

// NewHandlerCustom returns a Handler that forwards records with the given tag
// through any Sink.
func NewHandlerCustom(sink Sink, tag string, opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = DefaultHandlerOptions()
	} else {
		opts.resolve()
	}
	return &Handler{
		HandlerOptions: opts,
		sink:           sink,
		tag:            tag,
	}
}

// Shutdown closes the underlying Sink. You MUST NOT log through the Handler
// after calling Shutdown.
func (h *Handler) Shutdown() error {
	return h.sink.Close()
}

// Enabled reports whether the handler handles records at the given level. The
// handler ignores records whose level is lower.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.Level.Level()
}

// Handle renders the slog.Record into a forward Record and sends it. It
// observes the slog.Handler contract:
//   - Attr values are resolved.
//   - An Attr with a zero key and value is ignored.
//   - A group with an empty key has its attrs inlined into the parent.
//   - A group with no attrs is ignored entirely.
//   - A zero record time is replaced with time.Now() rather than omitted;
//     the forward protocol requires an entry timestamp.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	rec := NewRecord()
	rec.Set(slog.LevelKey, String(r.Level.String()))

	// rule: ignore source if no program counter
	if h.AddSource && r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		rec.Set(slog.SourceKey, String(fmt.Sprintf("%s:%d", f.File, f.Line)))
	}

	rec.Set(slog.MessageKey, String(r.Message))

	// slog.Attrs passed in via the ctx go to the top scope
	if ctxAttr, ok := ctx.Value(ContextKey).(slog.Attr); ok {
		h.appendAttr(rec, ctxAttr)
	}

	h.addChain(rec, 0, &r)

	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	return h.sink.SendWithTime(h.tag, t, rec)
}

// addChain walks the WithGroup/WithAttrs chain, opening one nested Record per
// named group, and lands the slog.Record's own attrs in the deepest scope.
// Group Records are only attached to their parent if they end up non-empty.
func (h *Handler) addChain(rec *Record, i int, r *slog.Record) {
	if i == len(h.goas) {
		r.Attrs(func(a slog.Attr) bool {
			h.appendAttr(rec, a)
			return true
		})
		return
	}

	g := h.goas[i]
	if g.group != "" {
		sub := NewRecord()
		h.addChain(sub, i+1, r)
		if sub.Len() > 0 {
			rec.Set(g.group, sub)
		}
		return
	}
	for _, a := range g.attrs {
		h.appendAttr(rec, a)
	}
	h.addChain(rec, i+1, r)
}

func (h *Handler) appendAttr(rec *Record, attr slog.Attr) {
	// rule: resolve first, then ignore if empty
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		gAttrs := attr.Value.Group()
		if len(gAttrs) == 0 {
			return
		}
		// rule: inline the group's attrs if its key is empty
		if attr.Key == "" {
			for _, ga := range gAttrs {
				h.appendAttr(rec, ga)
			}
			return
		}
		sub := NewRecord()
		for _, ga := range gAttrs {
			h.appendAttr(sub, ga)
		}
		if sub.Len() > 0 {
			rec.Set(attr.Key, sub)
		}
		return
	}

	// rule: ignore non-group attrs with empty keys
	if attr.Key == "" {
		return
	}
	rec.Set(attr.Key, h.attrValue(attr.Value))
}

func (h *Handler) attrValue(v slog.Value) Value {
	switch v.Kind() {
	case slog.KindBool:
		return Bool(v.Bool())
	case slog.KindInt64:
		return Int(v.Int64())
	case slog.KindUint64:
		return Uint(v.Uint64())
	case slog.KindFloat64:
		return Float(v.Float64())
	case slog.KindString:
		return String(v.String())
	case slog.KindDuration:
		return Int(v.Duration().Nanoseconds())
	case slog.KindTime:
		return String(v.Time().Format(h.TimeFormat))
	default:
		av, err := AnyValue(v.Any())
		if err != nil {
			// no Value conversion; fall back to the fmt rendering
			return String(fmt.Sprint(v.Any()))
		}
		return av
	}
}

// WithAttrs returns a new Handler whose records carry both the receiver's
// attributes and the arguments.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// rule: skip if no attrs
	if len(attrs) == 0 {
		return h
	}
	return h.withChain(groupOrAttrs{attrs: attrs})
}

// WithGroup returns a new Handler with the given group appended to the
// receiver's existing groups, increasing the nesting depth of subsequent
// attrs within the forwarded record.
func (h *Handler) WithGroup(name string) slog.Handler {
	// rule: ignore if the name is empty
	if len(name) == 0 {
		return h
	}
	return h.withChain(groupOrAttrs{group: name})
}

func (h *Handler) withChain(g groupOrAttrs) *Handler {
	h2 := *h
	h2.goas = make([]groupOrAttrs, len(h.goas)+1)
	copy(h2.goas, h.goas)
	h2.goas[len(h.goas)] = g
	return &h2
}
