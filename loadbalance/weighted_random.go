package loadbalance

import (
	"math/rand"

	"wsrpc/registry"
)

// WeightedRandomBalancer picks endpoints with probability proportional to
// their advertised weight. Endpoints with weight 0 are treated as weight 1 so
// an unweighted list degrades to uniform random.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	total := 0
	for _, ep := range endpoints {
		total += effectiveWeight(ep)
	}

	r := rand.Intn(total)
	for i := range endpoints {
		r -= effectiveWeight(endpoints[i])
		if r < 0 {
			return &endpoints[i], nil
		}
	}
	return &endpoints[len(endpoints)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func effectiveWeight(ep registry.Endpoint) int {
	if ep.Weight <= 0 {
		return 1
	}
	return ep.Weight
}
