package loadbalance

import (
	"sync/atomic"

	"wsrpc/registry"
)

// RoundRobinBalancer cycles through endpoints in order. The atomic counter
// keeps Pick lock-free and safe under concurrent use.
type RoundRobinBalancer struct {
	counter int64
}

func (b *RoundRobinBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(endpoints))
	return &endpoints[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
