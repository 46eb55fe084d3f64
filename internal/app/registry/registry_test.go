package registry_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
)

type orderService struct{}

func (orderService) Create(string) string { return "created" }
func (orderService) Import(string) string { return "imported" }
func (orderService) Get() string          { return "got" }

func module(defs ...registry.Definition) registry.Module {
	return registry.ModuleFunc(func() []registry.Definition { return defs })
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	svc := orderService{}
	reg, err := registry.Discover(
		module(
			registry.Definition{Scope: "order", Name: "get", Handler: svc.Get},
			registry.Definition{Scope: "order", Name: "create", Handler: svc.Create, Description: "create an order"},
		),
		module(registry.Definition{Scope: "billing", Name: "charge", Handler: func() error { return nil }}),
	)
	require.NoError(t, err)

	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, []registry.Address{"billing:charge", "order:create", "order:get"}, reg.Addresses())

	a, ok := reg.Lookup("order:create")
	require.True(t, ok)
	assert.Equal(t, registry.Address("order:create"), a.Address())
	assert.Equal(t, "create an order", a.Description())
	assert.NotNil(t, a.Plan())

	_, ok = reg.Lookup("order:delete")
	assert.False(t, ok)
}

func TestDiscover_DuplicateAddressFails(t *testing.T) {
	t.Parallel()

	svc := orderService{}
	reg, err := registry.Discover(
		module(registry.Definition{Scope: "order", Name: "create", Handler: svc.Create}),
		module(registry.Definition{Scope: "order", Name: "create", Handler: svc.Import}),
	)

	require.Error(t, err)
	assert.Nil(t, reg)
	assert.Contains(t, err.Error(), "order:create")
	assert.ErrorIs(t, err, registry.ErrDuplicateAddress)

	var dup *registry.DuplicateAddressError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, registry.Address("order:create"), dup.Address)
	assert.Equal(t, 2, dup.Count)
}

func TestDiscover_ReportsEveryDuplicate(t *testing.T) {
	t.Parallel()

	noop := func() {}
	_, err := registry.Discover(module(
		registry.Definition{Scope: "b", Name: "x", Handler: noop},
		registry.Definition{Scope: "a", Name: "x", Handler: noop},
		registry.Definition{Scope: "b", Name: "x", Handler: noop},
		registry.Definition{Scope: "a", Name: "x", Handler: noop},
		registry.Definition{Scope: "a", Name: "x", Handler: noop},
	))
	require.Error(t, err)

	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	dups := joined.Unwrap()
	require.Len(t, dups, 2)
	assert.Equal(t, `registry: address "a:x" is declared by 3 actions`, dups[0].Error())
	assert.Equal(t, `registry: address "b:x" is declared by 2 actions`, dups[1].Error())
}

func TestDiscover_InvalidHandlerFails(t *testing.T) {
	t.Parallel()

	_, err := registry.Discover(module(
		registry.Definition{Scope: "order", Name: "broken", Handler: "not a func"},
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order:broken")
}

func TestDiscover_InvalidAddressFails(t *testing.T) {
	t.Parallel()

	_, err := registry.Discover(module(
		registry.Definition{Scope: "", Name: "x", Handler: func() {}},
	))
	assert.Error(t, err)
}

func TestDiscover_ActionsIsACopy(t *testing.T) {
	t.Parallel()

	reg, err := registry.Discover(module(registry.Definition{Scope: "a", Name: "b", Handler: func() {}}))
	require.NoError(t, err)

	actions := reg.Actions()
	actions[0] = nil
	assert.NotNil(t, reg.Actions()[0])
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		wantErr bool
	}{
		{"order:create", false},
		{"order", true},
		{":create", true},
		{"order:", true},
		{"a:b:c", true},
		{"order:cre ate", true},
		{"order:*", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			addr, err := registry.ParseAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "order", addr.Scope())
			assert.Equal(t, "create", addr.Name())
		})
	}
}
