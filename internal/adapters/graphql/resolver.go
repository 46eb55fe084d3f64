// Package graphql exposes registered actions as GraphQL fields. Each field
// resolver dispatches its action in process, with the field arguments
// available as named arguments and, JSON-encoded, as the message body.
//
//	res := graphql.NewResolvers(dispatcher, propagator)
//	schema, err := graphql.SchemaFor(reg, res)
//	router.Handle("/graphql", graphql.NewHandler(schema))
package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	gql "github.com/graphql-go/graphql"

	appctx "github.com/jsamuelsen11/go-actionbus/internal/app/context"
	"github.com/jsamuelsen11/go-actionbus/internal/app/dispatch"
	"github.com/jsamuelsen11/go-actionbus/internal/app/failure"
	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
	"github.com/jsamuelsen11/go-actionbus/internal/app/result"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
)

// InputArg is the field argument whose value becomes the message body.
// Without it, all arguments are encoded as the body.
const InputArg = "input"

type headersKey struct{}

// WithHeaders attaches the inbound request headers to ctx so field
// resolvers can forward identity and other metadata to the action.
func WithHeaders(ctx context.Context, headers map[string]string) context.Context {
	return context.WithValue(ctx, headersKey{}, headers)
}

func headersFrom(ctx context.Context) map[string]string {
	h, _ := ctx.Value(headersKey{}).(map[string]string)
	return h
}

// Resolvers builds GraphQL field resolvers backed by a dispatcher.
type Resolvers struct {
	dispatcher *dispatch.Dispatcher
	propagator *telemetry.Propagator
}

// NewResolvers creates Resolvers dispatching through d. Spans for each field
// are children of the span in the resolver's context.
func NewResolvers(d *dispatch.Dispatcher, p *telemetry.Propagator) *Resolvers {
	return &Resolvers{dispatcher: d, propagator: p}
}

type outcome struct {
	value any
	err   error
}

// Field returns the resolver for the action at address. The action is
// dispatched as soon as the resolver runs; the returned thunk waits for its
// reply, so sibling fields resolve concurrently.
func (r *Resolvers) Field(address registry.Address) gql.FieldResolveFn {
	return func(params gql.ResolveParams) (any, error) {
		ctx := params.Context
		if ctx == nil {
			ctx = context.Background()
		}

		body, err := encodeArgs(params.Args)
		if err != nil {
			return nil, fmt.Errorf("encoding arguments for %s: %w", address, err)
		}

		headers := r.headers(ctx)
		args := params.Args
		if args == nil {
			args = map[string]any{}
		}

		rc := appctx.New(ctx, appctx.Source{
			Headers: func() map[string]string { return headers },
			Body:    func() []byte { return body },
			Args:    args,
		},
			appctx.WithPropagator(r.propagator),
			appctx.WithOperation(string(address)),
			appctx.WithDestination(params.Info.FieldName),
		)

		done := make(chan outcome, 1)
		r.dispatcher.Dispatch(rc, address, dispatch.ReplyFuncs{
			OnReply: func(p *result.Payload) {
				v, err := decodePayload(p)
				done <- outcome{value: v, err: err}
			},
			OnFail: func(f *failure.Failure) {
				done <- outcome{err: &FieldError{Failure: f}}
			},
		})

		return func() (any, error) {
			select {
			case o := <-done:
				return o.value, o.err
			case <-ctx.Done():
				logging.FromContext(ctx).WarnContext(ctx, "graphql field abandoned",
					slog.String("operation", "Resolvers.Field"),
					slog.String("address", string(address)),
					slog.Any("error", ctx.Err()),
				)
				return nil, ctx.Err()
			}
		}, nil
	}
}

// headers combines the inbound request headers with the carrier of the span
// in ctx, so the action's span continues the trace.
func (r *Resolvers) headers(ctx context.Context) map[string]string {
	in := headersFrom(ctx)
	out := make(map[string]string, len(in)+3)
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	maps.Copy(out, r.propagator.Inject(ctx, nil))
	return out
}

// encodeArgs builds the message body. A string input is passed as is so
// text parameters receive it unquoted.
func encodeArgs(args map[string]any) ([]byte, error) {
	if input, ok := args[InputArg]; ok {
		if s, isString := input.(string); isString {
			return []byte(s), nil
		}
		return json.Marshal(input)
	}
	if len(args) == 0 {
		return nil, nil
	}
	return json.Marshal(args)
}

// decodePayload turns a resolved reply into a GraphQL value. JSON bodies are
// decoded; anything else is returned as a string.
func decodePayload(p *result.Payload) (any, error) {
	if len(p.Body) == 0 {
		return nil, nil
	}
	if strings.HasPrefix(p.ContentType, result.ContentTypeJSON) {
		var v any
		if err := json.Unmarshal(p.Body, &v); err != nil {
			return nil, fmt.Errorf("decoding reply: %w", err)
		}
		return v, nil
	}
	return string(p.Body), nil
}

// FieldError is a classified action failure reported as a GraphQL error.
// The error code and status are exposed as extensions.
type FieldError struct {
	Failure *failure.Failure
}

func (e *FieldError) Error() string {
	return e.Failure.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Failure
}

// Extensions implements gqlerrors.ExtendedError.
func (e *FieldError) Extensions() map[string]any {
	ext := map[string]any{"status": e.Failure.Status}
	if e.Failure.ErrorCode != "" {
		ext["errorCode"] = e.Failure.ErrorCode
	}
	return ext
}
