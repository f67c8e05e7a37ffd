package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"wsrpc/registry"
)

// ConsistentHashBalancer maps keys to endpoints on a hash ring, so the same
// key keeps landing on the same endpoint until the ring changes. Useful when
// responders hold per-caller state or caches.
//
// Each real endpoint is placed on the ring as 100 virtual nodes; without them
// a small endpoint count clusters on the ring and skews the distribution.
type ConsistentHashBalancer struct {
	replicas int
	ring     []uint32                      // sorted hash positions
	nodes    map[uint32]*registry.Endpoint // position → endpoint
}

func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*registry.Endpoint),
	}
}

// Add places an endpoint onto the ring under its virtual node positions.
func (b *ConsistentHashBalancer) Add(ep *registry.Endpoint) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", ep.URL, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = ep
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// PickKey finds the endpoint responsible for key: the first ring position at
// or clockwise after the key's hash, wrapping to the start of the ring.
//
// Consistent hashing is key-addressed, so this does not satisfy the
// list-based Balancer interface; callers that need affinity use it directly.
func (b *ConsistentHashBalancer) PickKey(key string) (*registry.Endpoint, error) {
	if len(b.ring) == 0 {
		return nil, ErrNoEndpoints
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
