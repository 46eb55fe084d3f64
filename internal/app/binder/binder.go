// Package binder turns a plain Go function into an invocation plan: for each
// parameter it picks, once, how the argument is extracted from a
// RequestContext, and it knows how to read the function's results.
//
// Parameters are matched against a fixed list of rules, first match wins:
//
//  1. context.Context or *appctx.RequestContext: the call's context
//  2. domain.Principal (required) or *domain.Principal (optional)
//  3. types implementing NamedArg: a named transport argument
//  4. string: the body as text
//  5. []byte: the raw body
//  6. json.RawMessage, map[string]any, []any, proto.Message: decoded as is
//  7. anything else: decoded from JSON and validated as a command
//
// Functions may return nothing, a value, an error, or a value and an error.
package binder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"

	appctx "github.com/jsamuelsen11/go-actionbus/internal/app/context"
	"github.com/jsamuelsen11/go-actionbus/internal/domain"
)

// NamedArg is implemented by parameter types bound from a named transport
// argument rather than the body. ArgName must not depend on the receiver's
// value; it is called on the zero value when the plan is compiled.
type NamedArg interface {
	ArgName() string
}

// Rule identifies how a parameter is bound.
type Rule int

const (
	RuleContext Rule = iota + 1
	RuleIdentity
	RuleNamedArg
	RuleText
	RuleBytes
	RuleDocument
	RuleCommand
)

var ruleNames = map[Rule]string{
	RuleContext:  "context",
	RuleIdentity: "identity",
	RuleNamedArg: "named_arg",
	RuleText:     "text",
	RuleBytes:    "bytes",
	RuleDocument: "document",
	RuleCommand:  "command",
}

func (r Rule) String() string {
	if name, ok := ruleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Rule(%d)", int(r))
}

var (
	errorType        = reflect.TypeFor[error]()
	contextType      = reflect.TypeFor[context.Context]()
	requestCtxType   = reflect.TypeFor[*appctx.RequestContext]()
	principalType    = reflect.TypeFor[domain.Principal]()
	principalPtrType = reflect.TypeFor[*domain.Principal]()
	namedArgType     = reflect.TypeFor[NamedArg]()
	stringType       = reflect.TypeFor[string]()
	bytesType        = reflect.TypeFor[[]byte]()
	rawMessageType   = reflect.TypeFor[json.RawMessage]()
	mapType          = reflect.TypeFor[map[string]any]()
	sliceType        = reflect.TypeFor[[]any]()
	protoMessageType = reflect.TypeFor[proto.Message]()
)

// ErrNotFunc is returned by Compile for handlers that are not functions.
var ErrNotFunc = errors.New("binder: handler is not a function")

type extractor func(rc *appctx.RequestContext) (reflect.Value, error)

type param struct {
	rule    Rule
	typ     reflect.Type
	name    string
	extract extractor
}

// Plan is the compiled form of a handler. It is immutable and safe for
// concurrent use.
type Plan struct {
	fn      reflect.Value
	params  []param
	results resultShape
}

type resultShape int

const (
	resultsNone resultShape = iota
	resultsValue
	resultsError
	resultsValueError
)

// Compile inspects fn and builds its Plan.
func Compile(fn any) (*Plan, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: %T", ErrNotFunc, fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("binder: variadic handler %s is not supported", t)
	}

	results, err := compileResults(t)
	if err != nil {
		return nil, err
	}

	params := make([]param, t.NumIn())
	for i := range t.NumIn() {
		params[i] = compileParam(t.In(i))
	}

	return &Plan{fn: v, params: params, results: results}, nil
}

func compileResults(t reflect.Type) (resultShape, error) {
	switch t.NumOut() {
	case 0:
		return resultsNone, nil
	case 1:
		if t.Out(0) == errorType {
			return resultsError, nil
		}
		return resultsValue, nil
	case 2:
		if t.Out(1) == errorType {
			return resultsValueError, nil
		}
	}
	return 0, fmt.Errorf("binder: handler %s must return (), (T), (error), or (T, error)", t)
}

func compileParam(t reflect.Type) param {
	switch {
	case t == contextType || t == requestCtxType:
		return param{rule: RuleContext, typ: t, extract: bindContext}
	case t == principalType:
		return param{rule: RuleIdentity, typ: t, extract: bindPrincipal}
	case t == principalPtrType:
		return param{rule: RuleIdentity, typ: t, extract: bindOptionalPrincipal}
	case t.Implements(namedArgType):
		return param{rule: RuleNamedArg, typ: t, name: argName(t), extract: bindNamedArg(t)}
	case t == stringType:
		return param{rule: RuleText, typ: t, extract: bindText}
	case t == bytesType:
		return param{rule: RuleBytes, typ: t, extract: bindBytes}
	case t == rawMessageType, t == mapType, t == sliceType:
		return param{rule: RuleDocument, typ: t, extract: bindJSONDocument(t)}
	case t.Implements(protoMessageType) && t.Kind() == reflect.Pointer:
		return param{rule: RuleDocument, typ: t, extract: bindProto(t)}
	default:
		return param{rule: RuleCommand, typ: t, extract: bindCommand(t)}
	}
}

// Rules returns the rule chosen for each parameter, in order.
func (p *Plan) Rules() []Rule {
	rules := make([]Rule, len(p.params))
	for i, prm := range p.params {
		rules[i] = prm.rule
	}
	return rules
}

// ArgNames returns the names of the named-argument parameters, in order.
func (p *Plan) ArgNames() []string {
	var names []string
	for _, prm := range p.params {
		if prm.rule == RuleNamedArg {
			names = append(names, prm.name)
		}
	}
	return names
}

// ReadsBody reports whether any parameter is bound from the message body.
func (p *Plan) ReadsBody() bool {
	for _, prm := range p.params {
		switch prm.rule {
		case RuleText, RuleBytes, RuleDocument, RuleCommand:
			return true
		}
	}
	return false
}

// Bind extracts the argument list for one call. The first extraction error
// is returned. Bind runs handler-author code (UnmarshalJSON, Validate) and
// does not recover its panics; the dispatcher turns them into failures.
func (p *Plan) Bind(rc *appctx.RequestContext) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(p.params))
	for i, prm := range p.params {
		v, err := prm.extract(rc)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// Call invokes the handler with args bound by Bind. Panics in the handler
// are not recovered here.
func (p *Plan) Call(args []reflect.Value) (any, error) {
	out := p.fn.Call(args)
	switch p.results {
	case resultsValue:
		return out[0].Interface(), nil
	case resultsError:
		return nil, asError(out[0])
	case resultsValueError:
		if err := asError(out[1]); err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	case resultsNone:
		return nil, nil
	default:
		return nil, nil
	}
}

func asError(v reflect.Value) error {
	err, _ := v.Interface().(error)
	return err
}
