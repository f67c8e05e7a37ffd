package event

import (
	"testing"
)

func TestEmitInRegistrationOrder(t *testing.T) {
	e := NewEmitter()

	var order []int
	e.Subscribe("x", func(any) { order = append(order, 1) })
	e.Subscribe("x", func(any) { order = append(order, 2) })
	e.Subscribe("x", func(any) { order = append(order, 3) })

	e.Emit("x", nil)

	if len(order) != 3 {
		t.Fatalf("expect 3 invocations, got %d", len(order))
	}
	for i, v := range order {
		if v != i+1 {
			t.Fatalf("expect registration order, got %v", order)
		}
	}
}

func TestEmitPassesPayload(t *testing.T) {
	e := NewEmitter()

	var got any
	e.Subscribe("notify", func(payload any) { got = payload })
	e.Emit("notify", "hello")

	if got != "hello" {
		t.Fatalf("expect payload 'hello', got %v", got)
	}
}

func TestEmitUnknownNameIsNoop(t *testing.T) {
	e := NewEmitter()
	e.Emit("nobody-listens", nil) // must not panic
}

func TestUnsubscribe(t *testing.T) {
	e := NewEmitter()

	count := 0
	sub := e.Subscribe("x", func(any) { count++ })
	e.Emit("x", nil)
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	e.Emit("x", nil)

	if count != 1 {
		t.Fatalf("expect 1 invocation after unsubscribe, got %d", count)
	}
}

func TestSubscribeDuringEmitDoesNotDeadlock(t *testing.T) {
	e := NewEmitter()

	e.Subscribe("x", func(any) {
		e.Subscribe("x", func(any) {})
	})
	e.Emit("x", nil)
}
