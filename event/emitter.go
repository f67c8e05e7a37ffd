// Package event provides the ordered subscription mechanism both endpoints use
// to surface protocol events and re-emit inbound notifications. Subscriptions
// are keyed by name; handlers for a name run synchronously in registration
// order.
package event

import "sync"

// Built-in event names raised by the endpoints. Notification methods share the
// same namespace, so a notification named like one of these is observable
// through the same subscription.
const (
	Send    = "send"    // every outbound message, payload *message.Message
	Receive = "receive" // every inbound message pre-correlation, payload *message.Message
	Error   = "error"   // local faults (parse failures, unmatched responses), payload error
	Close   = "close"   // connection ended, payload the closing error (may be nil)
)

// Handler receives the payload emitted under a subscribed name.
type Handler func(payload any)

// Emitter maps event names to ordered subscriber lists.
type Emitter struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

// Subscription is the handle returned by Subscribe; Unsubscribe detaches it.
type Subscription struct {
	emitter *Emitter
	name    string
	handler Handler
}

func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[string][]*Subscription)}
}

// Subscribe registers h for name after any existing subscribers.
func (e *Emitter) Subscribe(name string, h Handler) *Subscription {
	s := &Subscription{emitter: e, name: name, handler: h}
	e.mu.Lock()
	e.subs[name] = append(e.subs[name], s)
	e.mu.Unlock()
	return s
}

// Emit invokes every subscriber of name with payload, in registration order.
// The subscriber list is snapshotted first so handlers may subscribe or
// unsubscribe without deadlocking.
func (e *Emitter) Emit(name string, payload any) {
	e.mu.RLock()
	snapshot := make([]*Subscription, len(e.subs[name]))
	copy(snapshot, e.subs[name])
	e.mu.RUnlock()

	for _, s := range snapshot {
		s.handler(payload)
	}
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	e := s.emitter
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.subs[s.name]
	for i, sub := range list {
		if sub == s {
			e.subs[s.name] = append(list[:i], list[i+1:]...)
			return
		}
	}
}
