package test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"wsrpc/client"
	"wsrpc/event"
	"wsrpc/loadbalance"
	"wsrpc/message"
	"wsrpc/middleware"
	"wsrpc/registry"
	"wsrpc/server"
)

type sumArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type sumReply struct {
	Result int `json:"result"`
}

func newSumServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	s := server.NewServer(server.WithLogger(zap.NewNop()))
	s.Use(middleware.Logging(zap.NewNop()))
	s.Reply("sum", func(ctx context.Context, params json.RawMessage) (any, error) {
		var args sumArgs
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		return sumReply{Result: args.A + args.B}, nil
	})
	s.Reply("echo", func(ctx context.Context, params json.RawMessage) (any, error) {
		return params, nil
	})
	srv := httptest.NewServer(s.Acceptor())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { s.Shutdown(time.Second) })
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// Full path: client → websocket → classify → middleware → handler → reply →
// correlation back to the caller.
func TestEndToEndCall(t *testing.T) {
	_, url := newSumServer(t)

	c, err := client.Dial(url)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var reply sumReply
	if err := c.Call("sum", sumArgs{A: 3, B: 5}, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 8 {
		t.Fatalf("sum: expect 8, got %d", reply.Result)
	}
}

func TestConcurrentCallsCorrelateCorrectly(t *testing.T) {
	_, url := newSumServer(t)

	c, err := client.Dial(url)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var wg sync.WaitGroup
	errCh := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var reply sumReply
			if err := c.Call("sum", sumArgs{A: i, B: i * 10}, &reply); err != nil {
				errCh <- err
				return
			}
			if reply.Result != i+i*10 {
				errCh <- errors.New("response correlated to wrong request")
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}

func TestNotificationsBothDirections(t *testing.T) {
	s, url := newSumServer(t)

	fromClient := make(chan json.RawMessage, 1)
	s.Subscribe("client/ping", func(payload any) {
		fromClient <- payload.(json.RawMessage)
	})

	c, err := client.Dial(url)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	fromServer := make(chan json.RawMessage, 1)
	c.Subscribe("server/pong", func(payload any) {
		fromServer <- payload.(json.RawMessage)
	})

	if err := c.Notify("client/ping", map[string]int{"seq": 1}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fromClient:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw client notification")
	}

	s.Notify("server/pong", map[string]int{"seq": 2})
	select {
	case <-fromServer:
	case <-time.After(2 * time.Second):
		t.Fatal("client never saw server notification")
	}
}

func TestRateLimitedServer(t *testing.T) {
	s := server.NewServer()
	s.Use(middleware.RateLimit(1, 2))
	s.Reply("echo", func(ctx context.Context, params json.RawMessage) (any, error) {
		return params, nil
	})
	srv := httptest.NewServer(s.Acceptor())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { s.Shutdown(time.Second) })

	c, err := client.Dial("ws" + strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// burst=2 passes, the third is rejected within the taxonomy.
	for i := 0; i < 2; i++ {
		if err := c.Call("echo", nil, nil); err != nil {
			t.Fatalf("call %d should pass, got %v", i, err)
		}
	}
	err = c.Call("echo", nil, nil)
	var rpcErr *message.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != message.CodeInternalError {
		t.Fatalf("expect rate-limited error reply, got %v", err)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	s := server.NewServer()
	s.Reply("echo", func(ctx context.Context, params json.RawMessage) (any, error) {
		return params, nil
	})
	srv := httptest.NewServer(s.Acceptor())
	t.Cleanup(srv.Close)

	c, err := client.Dial("ws" + strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	closed := make(chan any, 1)
	c.Subscribe(event.Close, func(payload any) { closed <- payload })

	if err := c.Call("echo", nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := s.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed by server shutdown")
	}
}

// memoryRegistry keeps discovery in-process so the registry/balancer dial path
// is exercised without an etcd.
type memoryRegistry struct {
	mu        sync.Mutex
	endpoints map[string][]registry.Endpoint
}

func (r *memoryRegistry) Register(service string, ep registry.Endpoint, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endpoints == nil {
		r.endpoints = make(map[string][]registry.Endpoint)
	}
	r.endpoints[service] = append(r.endpoints[service], ep)
	return nil
}

func (r *memoryRegistry) Deregister(service string, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.endpoints[service]
	for i, ep := range list {
		if ep.URL == url {
			r.endpoints[service] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (r *memoryRegistry) Discover(service string) ([]registry.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.Endpoint(nil), r.endpoints[service]...), nil
}

func (r *memoryRegistry) Watch(service string) <-chan []registry.Endpoint {
	ch := make(chan []registry.Endpoint)
	close(ch)
	return ch
}

func TestDialServiceThroughRegistry(t *testing.T) {
	_, url1 := newSumServer(t)
	_, url2 := newSumServer(t)

	reg := &memoryRegistry{}
	reg.Register("sum", registry.Endpoint{URL: url1, Weight: 10}, 10)
	reg.Register("sum", registry.Endpoint{URL: url2, Weight: 10}, 10)

	bal := &loadbalance.RoundRobinBalancer{}
	for i := 0; i < 4; i++ {
		c, err := client.DialService(reg, bal, "sum")
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		var reply sumReply
		if err := c.Call("sum", sumArgs{A: i, B: 1}, &reply); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if reply.Result != i+1 {
			t.Fatalf("call %d: expect %d, got %d", i, i+1, reply.Result)
		}
		c.Close()
	}
}
