package registry

// Endpoint describes one advertised responder.
type Endpoint struct {
	URL    string `json:"url"`              // websocket URL, e.g. "ws://10.0.0.5:8080/"
	Weight int    `json:"weight,omitempty"` // weight for load balancing
}

// Registry lets responders advertise themselves and initiators find them.
type Registry interface {
	Register(service string, ep Endpoint, ttl int64) error
	Deregister(service string, url string) error
	Discover(service string) ([]Endpoint, error)
	Watch(service string) <-chan []Endpoint
}
