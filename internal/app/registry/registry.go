// Package registry builds the immutable dispatch table of actions from an
// explicit list of modules. Every definition is compiled once; duplicate
// addresses and uncompilable handlers are fatal at startup.
package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/jsamuelsen11/go-actionbus/internal/app/binder"
)

// Definition declares one action. Handler is a function, usually a method
// value bound to its owning service.
type Definition struct {
	Scope       string
	Name        string
	Handler     any
	Description string
}

// Address returns the address computed from the definition.
func (d Definition) Address() Address {
	return NewAddress(d.Scope, d.Name)
}

// Module contributes definitions to a registry.
type Module interface {
	Actions() []Definition
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func() []Definition

// Actions implements Module.
func (f ModuleFunc) Actions() []Definition {
	return f()
}

// Action is a registered, compiled action.
type Action struct {
	address     Address
	description string
	plan        *binder.Plan
}

// Address returns the action's address.
func (a *Action) Address() Address { return a.address }

// Description returns the human-readable description, if any.
func (a *Action) Description() string { return a.description }

// Plan returns the compiled invocation plan.
func (a *Action) Plan() *binder.Plan { return a.plan }

// DuplicateAddressError reports an address declared by more than one
// definition.
type DuplicateAddressError struct {
	Address Address
	Count   int
}

func (e *DuplicateAddressError) Error() string {
	return fmt.Sprintf("registry: address %q is declared by %d actions", e.Address, e.Count)
}

// ErrDuplicateAddress matches any *DuplicateAddressError with errors.Is.
var ErrDuplicateAddress = errors.New("registry: duplicate address")

func (e *DuplicateAddressError) Is(target error) bool {
	return target == ErrDuplicateAddress
}

// Registry is the immutable dispatch table. It is safe for concurrent reads
// without synchronization.
type Registry struct {
	actions map[Address]*Action
	ordered []*Action
}

// Discover collects the definitions of all modules, checks that every address
// is unique, and compiles each handler. All duplicates are reported together,
// sorted by address.
func Discover(modules ...Module) (*Registry, error) {
	groups := make(map[Address][]Definition)
	for _, m := range modules {
		for _, def := range m.Actions() {
			addr := def.Address()
			groups[addr] = append(groups[addr], def)
		}
	}

	addrs := slices.Sorted(maps.Keys(groups))

	var errs []error
	for _, addr := range addrs {
		if n := len(groups[addr]); n > 1 {
			errs = append(errs, &DuplicateAddressError{Address: addr, Count: n})
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	reg := &Registry{
		actions: make(map[Address]*Action, len(addrs)),
		ordered: make([]*Action, 0, len(addrs)),
	}
	for _, addr := range addrs {
		if _, err := ParseAddress(string(addr)); err != nil {
			errs = append(errs, err)
			continue
		}
		def := groups[addr][0]
		plan, err := binder.Compile(def.Handler)
		if err != nil {
			errs = append(errs, fmt.Errorf("registry: compiling %s: %w", addr, err))
			continue
		}
		action := &Action{address: addr, description: def.Description, plan: plan}
		reg.actions[addr] = action
		reg.ordered = append(reg.ordered, action)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reg, nil
}

// Lookup returns the action registered under addr.
func (r *Registry) Lookup(addr Address) (*Action, bool) {
	a, ok := r.actions[addr]
	return a, ok
}

// Actions returns all actions sorted by address.
func (r *Registry) Actions() []*Action {
	return slices.Clone(r.ordered)
}

// Addresses returns all addresses, sorted.
func (r *Registry) Addresses() []Address {
	addrs := make([]Address, len(r.ordered))
	for i, a := range r.ordered {
		addrs[i] = a.address
	}
	return addrs
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	return len(r.ordered)
}
