// Package dto provides HTTP request/response data transfer objects and
// RFC 9457 Problem Details error responses for the HTTP-to-bus bridge.
package dto

import (
	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
)

// ActionResponse describes one registered action in HTTP responses.
type ActionResponse struct {
	Address     string   `json:"address"`
	Scope       string   `json:"scope"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Parameters  []string `json:"parameters"`
}

// ActionListResponse represents the list of registered actions.
type ActionListResponse struct {
	Actions []ActionResponse `json:"actions"`
	Count   int              `json:"count"`
}

// ToActionResponse converts a registered action to its HTTP response DTO.
// Parameters lists the binding rule of each handler parameter in order.
func ToActionResponse(a *registry.Action) ActionResponse {
	rules := a.Plan().Rules()
	params := make([]string, len(rules))
	for i, r := range rules {
		params[i] = r.String()
	}
	return ActionResponse{
		Address:     string(a.Address()),
		Scope:       a.Address().Scope(),
		Name:        a.Address().Name(),
		Description: a.Description(),
		Parameters:  params,
	}
}

// ToActionListResponse converts the registered actions to a list response.
func ToActionListResponse(actions []*registry.Action) ActionListResponse {
	resp := ActionListResponse{
		Actions: make([]ActionResponse, len(actions)),
		Count:   len(actions),
	}
	for i, a := range actions {
		resp.Actions[i] = ToActionResponse(a)
	}
	return resp
}
