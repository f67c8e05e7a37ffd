// Package registry provides service discovery for responders: each one
// advertises the websocket URL it serves under a per-service etcd prefix,
// and initiators discover or watch the live endpoint list.
//
//	Key:   /wsrpc/{service}/{url}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL leases with KeepAlive renewal, so an endpoint whose
// process dies disappears when its lease expires instead of lingering as a
// ghost entry.
package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/wsrpc/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register advertises an endpoint with a TTL lease and starts background
// renewal. The lease id stays local to this call so concurrent registrations
// through one EtcdRegistry do not race.
func (r *EtcdRegistry) Register(service string, ep Endpoint, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix+service+"/"+ep.URL, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Drain renewal acks so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes an advertised endpoint. Called on graceful shutdown,
// before the responder stops accepting.
func (r *EtcdRegistry) Deregister(service string, url string) error {
	_, err := r.client.Delete(context.TODO(), keyPrefix+service+"/"+url)
	return err
}

// Discover returns all currently advertised endpoints for a service.
func (r *EtcdRegistry) Discover(service string) ([]Endpoint, error) {
	resp, err := r.client.Get(context.TODO(), keyPrefix+service+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			continue // skip malformed entries
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Watch emits the full endpoint list whenever the service's prefix changes
// (registrations, deregistrations, lease expirations).
func (r *EtcdRegistry) Watch(service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		watchChan := r.client.Watch(context.TODO(), keyPrefix+service+"/", clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch the whole list rather than folding individual events.
			endpoints, err := r.Discover(service)
			if err != nil {
				continue
			}
			ch <- endpoints
		}
	}()

	return ch
}

// Close releases the underlying etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
