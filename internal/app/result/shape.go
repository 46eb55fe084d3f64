package result

import (
	"encoding/json"
	"reflect"

	"google.golang.org/protobuf/proto"

	"github.com/jsamuelsen11/go-actionbus/internal/app/async"
)

// Shape is the structural category of a value returned by an action.
type Shape int

const (
	// ShapeTerminal is nil, a string, or a []byte.
	ShapeTerminal Shape = iota
	// ShapeDocument has a known wire encoding: json.RawMessage,
	// proto.Message, or Document.
	ShapeDocument
	// ShapeSingleAsync completes once later (async.Single).
	ShapeSingleAsync
	// ShapeMultiAsync emits many values (async.Multi or a Go channel).
	ShapeMultiAsync
	// ShapeGenericAsync is any other deferred value: async.Awaitable or a
	// func() (T, error) thunk.
	ShapeGenericAsync
	// ShapeEnvelope carries status and headers around a body (Response).
	ShapeEnvelope
	// ShapeOpaque is anything else; it is encoded as JSON.
	ShapeOpaque
)

var shapeNames = [...]string{
	ShapeTerminal:     "terminal",
	ShapeDocument:     "document",
	ShapeSingleAsync:  "single_async",
	ShapeMultiAsync:   "multi_async",
	ShapeGenericAsync: "generic_async",
	ShapeEnvelope:     "envelope",
	ShapeOpaque:       "opaque",
}

func (s Shape) String() string {
	if int(s) < len(shapeNames) {
		return shapeNames[s]
	}
	return "unknown"
}

// Document is implemented by values that encode themselves.
type Document interface {
	EncodeDocument() ([]byte, error)
}

var errorType = reflect.TypeFor[error]()

// Classify returns the shape of v. The checks run in a fixed order and the
// first match wins.
func Classify(v any) Shape {
	switch v.(type) {
	case nil, string, []byte:
		return ShapeTerminal
	}
	if isNilRef(v) {
		return ShapeTerminal
	}

	switch v.(type) {
	case json.RawMessage, proto.Message, Document:
		return ShapeDocument
	case async.Single:
		return ShapeSingleAsync
	case async.Multi:
		return ShapeMultiAsync
	}
	if isRecvChan(v) {
		return ShapeMultiAsync
	}

	switch v.(type) {
	case async.Awaitable:
		return ShapeGenericAsync
	}
	if isThunk(v) {
		return ShapeGenericAsync
	}

	switch v.(type) {
	case *Response, Response:
		return ShapeEnvelope
	}
	return ShapeOpaque
}

// isNilRef reports typed nil pointers, funcs, and chans. Nil maps
// and slices are left to the JSON encoder.
func isNilRef(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

func isRecvChan(v any) bool {
	t := reflect.TypeOf(v)
	return t.Kind() == reflect.Chan && t.ChanDir()&reflect.RecvDir != 0
}

// isThunk matches func() (T, error).
func isThunk(v any) bool {
	t := reflect.TypeOf(v)
	return t.Kind() == reflect.Func &&
		t.NumIn() == 0 &&
		t.NumOut() == 2 &&
		t.Out(1) == errorType
}
