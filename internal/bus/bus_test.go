package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tonewire/tonewire/pkg/wire"
)

// Test nodes use a private base port so derived ports never collide with a
// locally running daemon.
const (
	testBasePort = 42000
	testPortSpan = 1000
)

func startNode(t *testing.T, service string, handlers map[string]Handler) *Node {
	t.Helper()
	node := NewNode(service, "127.0.0.1", testBasePort, testPortSpan, zap.NewNop())
	for method, handler := range handlers {
		require.NoError(t, node.Register(method, handler))
	}
	require.NoError(t, node.Start(context.Background()))
	t.Cleanup(func() { node.Close() })
	return node
}

func testClient(source string) *Client {
	return NewClient(source, "127.0.0.1", testBasePort, testPortSpan, 5*time.Second)
}

func TestCallRoundTrip(t *testing.T) {
	startNode(t, "roundtrip_svc", map[string]Handler{
		"echo": func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"got": params["value"]}, nil
		},
	})

	result, err := testClient("test_caller").Call(context.Background(), "roundtrip_svc", "echo",
		map[string]interface{}{"value": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result["got"])
}

func TestCallUnknownMethod(t *testing.T) {
	startNode(t, "unknown_method_svc", map[string]Handler{
		"known": func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return nil, nil
		},
	})

	_, err := testClient("test_caller").Call(context.Background(), "unknown_method_svc", "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown method "nope"`)
}

func TestCallHandlerError(t *testing.T) {
	startNode(t, "handler_error_svc", map[string]Handler{
		"fails": func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return nil, fmt.Errorf("plugin not loaded")
		},
	})

	_, err := testClient("test_caller").Call(context.Background(), "handler_error_svc", "fails", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin not loaded")
}

func TestCallUnreachableService(t *testing.T) {
	client := NewClient("test_caller", "127.0.0.1", testBasePort, testPortSpan, 500*time.Millisecond)
	_, err := client.Call(context.Background(), "nobody_listening_here", "ping", nil)
	require.Error(t, err)
}

func TestDispatchIsSerialized(t *testing.T) {
	// The counter is deliberately unguarded: serialized dispatch is the
	// only thing keeping the increments race-free.
	counter := 0
	startNode(t, "serialized_svc", map[string]Handler{
		"bump": func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			value := counter
			time.Sleep(time.Millisecond)
			counter = value + 1
			return map[string]interface{}{"count": counter}, nil
		},
	})

	const calls = 10
	var wg sync.WaitGroup
	client := testClient("test_caller")
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Call(context.Background(), "serialized_svc", "bump", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, calls, counter)
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	startNode(t, "panic_svc", map[string]Handler{
		"boom": func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			panic("unexpected state")
		},
		"ping": func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"pong": true}, nil
		},
	})
	client := testClient("test_caller")

	_, err := client.Call(context.Background(), "panic_svc", "boom", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	result, err := client.Call(context.Background(), "panic_svc", "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, true, result["pong"])
}

func TestRegisterValidation(t *testing.T) {
	node := NewNode("register_svc", "127.0.0.1", testBasePort, testPortSpan, zap.NewNop())

	noop := func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return nil, nil
	}

	require.NoError(t, node.Register("status", noop))
	assert.Error(t, node.Register("status", noop), "duplicate method")
	assert.Error(t, node.Register("", noop))
	assert.Error(t, node.Register("nil_handler", nil))

	assert.Equal(t, []string{"status"}, node.Methods())

	require.NoError(t, node.Start(context.Background()))
	defer node.Close()
	assert.Error(t, node.Register("late", noop), "registration after start")
}

func TestPublishReachesSubscriber(t *testing.T) {
	node := startNode(t, "publishing_svc", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := Subscribe(ctx, "127.0.0.1", testBasePort, testPortSpan,
		[]string{"publishing_svc"}, zap.NewNop())
	defer sub.Close()

	// Wait for the subscriber to attach before publishing; delivery is
	// at-most-once with no replay.
	require.Eventually(t, func() bool {
		return node.publisher.SubscriberCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	node.Publish(wire.TopicPluginLoaded, map[string]interface{}{"instance_id": "abc"})

	select {
	case msg := <-sub.Events():
		assert.Equal(t, wire.TopicPluginLoaded, msg.Topic)
		assert.Equal(t, "publishing_svc", msg.Peer)
		assert.Equal(t, wire.TopicPluginLoaded, msg.Event.EventType)
		assert.Equal(t, "abc", msg.Event.Data["instance_id"])
	case <-time.After(5 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestPublishWithNoSubscribersIsFireAndForget(t *testing.T) {
	node := startNode(t, "lonely_svc", nil)
	node.Publish(wire.TopicSessionReset, nil)
	assert.Equal(t, 0, node.publisher.SubscriberCount())
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	startNode(t, "close_test_svc", nil)

	sub := Subscribe(context.Background(), "127.0.0.1", testBasePort, testPortSpan,
		[]string{"close_test_svc"}, zap.NewNop())
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	// Channel closes once every peer goroutine has exited.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Events():
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
