// Package result reduces whatever an action returned to a terminal Payload or
// a failure. Values are classified into a fixed set of shapes and resolved
// recursively: async handles are awaited through continuations, streams are
// drained into a list, envelopes contribute status and headers, and anything
// left is JSON-encoded.
package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/jsamuelsen11/go-actionbus/internal/app/async"
)

// DefaultMaxStreamItems bounds how many items a stream may buffer before
// the call fails.
const DefaultMaxStreamItems = 10_000

// ErrStreamLimit is the failure for streams that emit more items than the
// resolver is allowed to buffer.
var ErrStreamLimit = errors.New("result: stream exceeded buffered item limit")

// Resolver resolves action return values. It is stateless and safe for
// concurrent use.
type Resolver struct {
	maxStreamItems int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxStreamItems sets the stream buffer bound. Values below 1 keep the
// default.
func WithMaxStreamItems(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxStreamItems = n
		}
	}
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{maxStreamItems: DefaultMaxStreamItems}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve reduces v and reports the outcome to sink. Exactly one of
// sink.Reply and sink.Fail is called, exactly once. Resolve returns as soon as
// the synchronous part is done; async shapes finish on whichever goroutine
// completes them.
func (r *Resolver) Resolve(v any, sink Sink) {
	c := &call{resolver: r, sink: sink}
	c.resolve(v)
}

// call is the state of one top-level Resolve. Steps of a resolution chain
// run one after another, each handing off to the next, so meta needs no
// lock.
type call struct {
	resolver *Resolver
	sink     Sink
	once     sync.Once
	meta     meta
}

type meta struct {
	status  int
	headers map[string]string
}

func (c *call) reply(p *Payload) {
	c.once.Do(func() {
		p.Status = c.meta.status
		p.Headers = c.meta.headers
		c.sink.Reply(p)
	})
}

func (c *call) fail(err error) {
	c.once.Do(func() {
		c.sink.Fail(err)
	})
}

func (c *call) resolve(v any) {
	defer func() {
		if rec := recover(); rec != nil {
			c.fail(&async.PanicError{Value: rec})
		}
	}()

	switch shape := Classify(v); shape {
	case ShapeTerminal:
		c.reply(terminal(v))
	case ShapeDocument:
		c.resolveDocument(v)
	case ShapeSingleAsync:
		c.resolveSingle(v.(async.Single))
	case ShapeMultiAsync:
		c.resolveMulti(v)
	case ShapeGenericAsync:
		c.resolveGeneric(v)
	case ShapeEnvelope:
		c.resolveEnvelope(v)
	case ShapeOpaque:
		b, err := json.Marshal(v)
		if err != nil {
			c.fail(fmt.Errorf("encoding %T: %w", v, err))
			return
		}
		c.reply(&Payload{Body: b, ContentType: ContentTypeJSON})
	default:
		c.fail(fmt.Errorf("unhandled result shape %s", shape))
	}
}

func terminal(v any) *Payload {
	switch t := v.(type) {
	case string:
		return &Payload{Body: []byte(t), ContentType: ContentTypeText}
	case []byte:
		return &Payload{Body: t}
	default:
		return &Payload{}
	}
}

func (c *call) resolveDocument(v any) {
	var (
		b   []byte
		err error
	)
	switch d := v.(type) {
	case json.RawMessage:
		b = d
	case proto.Message:
		b, err = protojson.Marshal(d)
	case Document:
		b, err = d.EncodeDocument()
	}
	if err != nil {
		c.fail(fmt.Errorf("encoding %T: %w", v, err))
		return
	}
	c.reply(&Payload{Body: b, ContentType: ContentTypeJSON})
}

func (c *call) resolveSingle(s async.Single) {
	s.OnComplete(func(value any, err error) {
		if err != nil {
			c.fail(err)
			return
		}
		c.resolve(value)
	})
}

func (c *call) resolveMulti(v any) {
	m, ok := v.(async.Multi)
	if !ok {
		m = chanMulti{ch: reflect.ValueOf(v)}
	}

	var (
		mu     sync.Mutex
		items  = make([]any, 0)
		over   bool
		cancel func()
	)
	limit := c.resolver.maxStreamItems
	stop := m.Subscribe(
		func(item any) {
			mu.Lock()
			defer mu.Unlock()
			if over {
				return
			}
			if len(items) == limit {
				over = true
				c.fail(fmt.Errorf("%w (%d)", ErrStreamLimit, limit))
				if cancel != nil {
					cancel()
				}
				return
			}
			items = append(items, item)
		},
		func(err error) {
			mu.Lock()
			defer mu.Unlock()
			switch {
			case over:
			case err != nil:
				c.fail(err)
			default:
				c.resolve(items)
			}
		},
	)

	// Items may overflow before Subscribe returns the cancel func.
	mu.Lock()
	defer mu.Unlock()
	if stop == nil {
		stop = func() {}
	}
	cancel = stop
	if over {
		cancel()
	}
}

// chanMulti adapts a receive-capable Go channel to async.Multi. The channel
// is drained on a new goroutine until it is closed or the subscriber
// cancels. The channel belongs to the handler, so cancelling only stops
// receiving; a producer blocked on a send should watch the call's context.
type chanMulti struct {
	ch reflect.Value
}

func (m chanMulti) Subscribe(onItem func(any), onDone func(error)) (cancel func()) {
	stop := make(chan struct{})
	var once sync.Once

	cases := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(stop)},
		{Dir: reflect.SelectRecv, Chan: m.ch},
	}
	go func() {
		for {
			chosen, item, ok := reflect.Select(cases)
			if chosen == 0 {
				return
			}
			if !ok {
				onDone(nil)
				return
			}
			onItem(item.Interface())
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}

func (c *call) resolveGeneric(v any) {
	var await func() (any, error)
	if a, ok := v.(async.Awaitable); ok {
		await = a.Await
	} else {
		fn := reflect.ValueOf(v)
		await = func() (any, error) {
			out := fn.Call(nil)
			err, _ := out[1].Interface().(error)
			return out[0].Interface(), err
		}
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				c.fail(&async.PanicError{Value: rec})
			}
		}()
		value, err := await()
		if err != nil {
			c.fail(err)
			return
		}
		c.resolve(value)
	}()
}

// resolveEnvelope records status and headers, then resolves the body. The
// outermost envelope wins for status and for each header key.
func (c *call) resolveEnvelope(v any) {
	var resp *Response
	switch e := v.(type) {
	case *Response:
		resp = e
	case Response:
		resp = &e
	}

	if c.meta.status == 0 {
		c.meta.status = resp.Status
	}
	for k, val := range resp.Headers {
		if c.meta.headers == nil {
			c.meta.headers = make(map[string]string, len(resp.Headers))
		}
		if _, set := c.meta.headers[k]; !set {
			c.meta.headers[k] = val
		}
	}
	c.resolve(resp.Body)
}

// Collect resolves v synchronously and returns the payload or the failure.
// It blocks until an async chain completes.
func (r *Resolver) Collect(v any) (*Payload, error) {
	type outcome struct {
		p   *Payload
		err error
	}
	done := make(chan outcome, 1)
	r.Resolve(v, Callbacks{
		OnReply: func(p *Payload) { done <- outcome{p: p} },
		OnFail:  func(err error) { done <- outcome{err: err} },
	})
	o := <-done
	return o.p, o.err
}
