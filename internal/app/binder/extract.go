package binder

import (
	"bytes"
	"encoding/json"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	appctx "github.com/jsamuelsen11/go-actionbus/internal/app/context"
	"github.com/jsamuelsen11/go-actionbus/internal/domain"
)

func bindContext(rc *appctx.RequestContext) (reflect.Value, error) {
	return reflect.ValueOf(rc), nil
}

func bindPrincipal(rc *appctx.RequestContext) (reflect.Value, error) {
	p := rc.Identity()
	if p == nil {
		return reflect.Value{}, &domain.AuthenticationError{}
	}
	return reflect.ValueOf(*p), nil
}

func bindOptionalPrincipal(rc *appctx.RequestContext) (reflect.Value, error) {
	return reflect.ValueOf(rc.Identity()), nil
}

func bindNamedArg(t reflect.Type) extractor {
	name := argName(t)
	return func(rc *appctx.RequestContext) (reflect.Value, error) {
		if !rc.HasArgs() {
			return reflect.Value{}, domain.NewValidationError("argument %q is not available on this transport", name)
		}
		raw, ok := rc.Arg(name)
		if !ok {
			return reflect.Value{}, &domain.ValidationError{
				Fields: map[string]string{name: "is required"},
			}
		}

		// Fast path when the transport already holds the right type.
		if v := reflect.ValueOf(raw); v.IsValid() && v.Type().AssignableTo(t) {
			return v, nil
		}

		b, err := json.Marshal(raw)
		if err != nil {
			return reflect.Value{}, invalidArg(name)
		}
		ptr := reflect.New(t)
		if err := json.Unmarshal(b, ptr.Interface()); err != nil {
			return reflect.Value{}, invalidArg(name)
		}
		return ptr.Elem(), nil
	}
}

func invalidArg(name string) error {
	return &domain.ValidationError{Fields: map[string]string{name: "invalid value"}}
}

// argName reads the declared name from a zero value of t.
func argName(t reflect.Type) string {
	var v reflect.Value
	if t.Kind() == reflect.Pointer {
		v = reflect.New(t.Elem())
	} else {
		v = reflect.Zero(t)
	}
	return v.Interface().(NamedArg).ArgName()
}

func bindText(rc *appctx.RequestContext) (reflect.Value, error) {
	s, _ := rc.BodyAsString()
	return reflect.ValueOf(s), nil
}

func bindBytes(rc *appctx.RequestContext) (reflect.Value, error) {
	return reflect.ValueOf(rc.Body()), nil
}

func bindJSONDocument(t reflect.Type) extractor {
	return func(rc *appctx.RequestContext) (reflect.Value, error) {
		ptr := reflect.New(t)
		body := bytes.TrimSpace(rc.Body())
		if len(body) == 0 {
			return ptr.Elem(), nil
		}
		if t == rawMessageType {
			ptr.Elem().SetBytes(body)
			return ptr.Elem(), nil
		}
		if err := json.Unmarshal(body, ptr.Interface()); err != nil {
			return reflect.Value{}, invalidBody()
		}
		return ptr.Elem(), nil
	}
}

func bindProto(t reflect.Type) extractor {
	return func(rc *appctx.RequestContext) (reflect.Value, error) {
		ptr := reflect.New(t.Elem())
		msg := ptr.Interface().(proto.Message)
		if body := bytes.TrimSpace(rc.Body()); len(body) > 0 {
			if err := protojson.Unmarshal(body, msg); err != nil {
				return reflect.Value{}, invalidBody()
			}
		}
		return ptr, nil
	}
}

func bindCommand(t reflect.Type) extractor {
	return func(rc *appctx.RequestContext) (reflect.Value, error) {
		if t.Kind() == reflect.Pointer {
			ptr := reflect.New(t.Elem())
			if err := rc.DecodeCommand(ptr.Interface()); err != nil {
				return reflect.Value{}, err
			}
			return ptr, nil
		}
		ptr := reflect.New(t)
		if err := rc.DecodeCommand(ptr.Interface()); err != nil {
			return reflect.Value{}, err
		}
		return ptr.Elem(), nil
	}
}

func invalidBody() error {
	return &domain.ValidationError{Fields: map[string]string{"body": "invalid JSON"}}
}
