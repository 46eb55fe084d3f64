// Package ports defines interfaces between layers in the hexagonal architecture.
// Inbound adapters (HTTP bridge, GraphQL) depend on the requester port to reach
// actions without knowing which transport delivers them; outbound adapters
// (local bus, NATS, remote client) implement it.
package ports
