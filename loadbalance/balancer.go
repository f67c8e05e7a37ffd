// Package loadbalance selects one responder endpoint out of a discovered list.
package loadbalance

import (
	"errors"

	"wsrpc/registry"
)

// ErrNoEndpoints is returned when the candidate list is empty.
var ErrNoEndpoints = errors.New("no endpoints available")

// Balancer picks one endpoint from a candidate list.
type Balancer interface {
	Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error)
	Name() string
}
