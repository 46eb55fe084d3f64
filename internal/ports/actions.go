package ports

import (
	"context"
	"errors"
)

// Transport errors returned by ActionRequester implementations.
var (
	// ErrNoHandler indicates no consumer is registered for the address.
	ErrNoHandler = errors.New("no handler for address")

	// ErrTimeout indicates the reply did not arrive before the deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrUnavailable indicates the transport could not deliver the request,
	// for example because the peer is down or its circuit is open.
	ErrUnavailable = errors.New("transport unavailable")
)

// Message is one request or reply exchanged with an action address. Header
// keys are lower-case.
type Message struct {
	Headers map[string]string
	Body    []byte
}

// Header returns the value of the lower-case header key, or "".
func (m *Message) Header(key string) string {
	if m == nil {
		return ""
	}
	return m.Headers[key]
}

// ActionRequester sends a request to an action address and waits for its
// reply. Implemented by the local bus, the NATS adapter, and the remote
// client; called by the HTTP bridge.
type ActionRequester interface {
	// Request delivers msg to address and returns the reply. If ctx carries
	// no deadline the implementation applies its own send timeout.
	// Returns an error wrapping ErrNoHandler when nothing consumes the
	// address and ErrTimeout when no reply arrives in time.
	Request(ctx context.Context, address string, msg *Message) (*Message, error)
}

// ActionPublisher delivers a message to an action address without waiting
// for a reply.
type ActionPublisher interface {
	Publish(ctx context.Context, address string, msg *Message) error
}
