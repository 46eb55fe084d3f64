package registry

import (
	"fmt"
	"strings"
)

// Address is the unique key an action is reachable under, in the form
// "{scope}:{name}". The same string is used as the local bus address, the
// NATS subject suffix, the HTTP path segment, and the GraphQL field binding.
type Address string

// NewAddress builds the address for scope and name.
func NewAddress(scope, name string) Address {
	return Address(scope + ":" + name)
}

// ParseAddress validates s and returns it as an Address.
func ParseAddress(s string) (Address, error) {
	scope, name, ok := strings.Cut(s, ":")
	if !ok || scope == "" || name == "" || strings.Contains(name, ":") {
		return "", fmt.Errorf("registry: invalid address %q, want scope:name", s)
	}
	if strings.ContainsAny(s, " \t\r\n/*>") {
		return "", fmt.Errorf("registry: invalid address %q, contains reserved characters", s)
	}
	return Address(s), nil
}

// Scope returns the part before the colon.
func (a Address) Scope() string {
	scope, _, _ := strings.Cut(string(a), ":")
	return scope
}

// Name returns the part after the colon.
func (a Address) Name() string {
	_, name, _ := strings.Cut(string(a), ":")
	return name
}

func (a Address) String() string {
	return string(a)
}
