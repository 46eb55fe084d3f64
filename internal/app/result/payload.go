package result

import "maps"

// Content types set on terminal payloads.
const (
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeJSON = "application/json"
)

// Payload is a fully resolved reply ready for the transport. Status is zero
// unless an envelope set one; the transport then uses its own success code.
type Payload struct {
	Body        []byte
	ContentType string
	Status      int
	Headers     map[string]string
}

// Sink receives the outcome of a resolution. Exactly one of Reply or Fail is
// called, exactly once, possibly on a different goroutine than Resolve.
type Sink interface {
	Reply(p *Payload)
	Fail(err error)
}

// Callbacks adapts two functions into a Sink.
type Callbacks struct {
	OnReply func(*Payload)
	OnFail  func(error)
}

// Reply implements Sink.
func (c Callbacks) Reply(p *Payload) {
	if c.OnReply != nil {
		c.OnReply(p)
	}
}

// Fail implements Sink.
func (c Callbacks) Fail(err error) {
	if c.OnFail != nil {
		c.OnFail(err)
	}
}

// Response is the envelope a handler returns to control the reply status and
// headers. Body may be any resolvable value, including another async handle.
type Response struct {
	Status  int
	Headers map[string]string
	Body    any
}

// NewResponse returns a Response with the given status and body.
func NewResponse(status int, body any) *Response {
	return &Response{Status: status, Body: body}
}

// WithHeader returns a copy of r with an extra header.
func (r *Response) WithHeader(key, value string) *Response {
	cp := *r
	cp.Headers = maps.Clone(r.Headers)
	if cp.Headers == nil {
		cp.Headers = make(map[string]string, 1)
	}
	cp.Headers[key] = value
	return &cp
}
