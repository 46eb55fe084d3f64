package graphql

import (
	"fmt"
	"strconv"
	"strings"

	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
)

// JSON is a scalar carrying any JSON value. Action arguments and results are
// typed by the Go handler, not the schema, so every field uses it.
var JSON = gql.NewScalar(gql.ScalarConfig{
	Name:         "JSON",
	Description:  "Any JSON value.",
	Serialize:    func(v any) any { return v },
	ParseValue:   func(v any) any { return v },
	ParseLiteral: parseLiteral,
})

func parseLiteral(node ast.Value) any {
	switch v := node.(type) {
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.IntValue:
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil
		}
		return n
	case *ast.FloatValue:
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil
		}
		return f
	case *ast.EnumValue:
		return v.Value
	case *ast.ListValue:
		out := make([]any, len(v.Values))
		for i, item := range v.Values {
			out[i] = parseLiteral(item)
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]any, len(v.Fields))
		for _, f := range v.Fields {
			out[f.Name.Value] = parseLiteral(f.Value)
		}
		return out
	default:
		return nil
	}
}

// FieldName converts an address to a GraphQL field name: "order:byId"
// becomes "order_byId".
func FieldName(address registry.Address) string {
	var b strings.Builder
	for i, r := range string(address) {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Fields builds one GraphQL field per registered action. Named arguments
// become field arguments; actions reading the body also accept "input".
func Fields(reg *registry.Registry, res *Resolvers) (gql.Fields, error) {
	fields := make(gql.Fields, reg.Len())
	owners := make(map[string]registry.Address, reg.Len())

	for _, a := range reg.Actions() {
		name := FieldName(a.Address())
		if prev, taken := owners[name]; taken {
			return nil, fmt.Errorf("graphql: actions %s and %s both map to field %q", prev, a.Address(), name)
		}
		owners[name] = a.Address()

		args := gql.FieldConfigArgument{}
		for _, arg := range a.Plan().ArgNames() {
			args[arg] = &gql.ArgumentConfig{Type: JSON}
		}
		if a.Plan().ReadsBody() {
			if _, clash := args[InputArg]; !clash {
				args[InputArg] = &gql.ArgumentConfig{Type: JSON}
			}
		}

		fields[name] = &gql.Field{
			Type:        JSON,
			Description: a.Description(),
			Args:        args,
			Resolve:     res.Field(a.Address()),
		}
	}
	return fields, nil
}

// SchemaFor builds a schema whose Query type has one field per action.
func SchemaFor(reg *registry.Registry, res *Resolvers) (gql.Schema, error) {
	fields, err := Fields(reg, res)
	if err != nil {
		return gql.Schema{}, err
	}
	if len(fields) == 0 {
		return gql.Schema{}, fmt.Errorf("graphql: no actions registered")
	}

	schema, err := gql.NewSchema(gql.SchemaConfig{
		Query: gql.NewObject(gql.ObjectConfig{Name: "Query", Fields: fields}),
	})
	if err != nil {
		return gql.Schema{}, fmt.Errorf("graphql: building schema: %w", err)
	}
	return schema, nil
}
