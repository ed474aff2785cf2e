package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEngine is a scriptable TCP stand-in for the audio engine. Each
// accepted connection is served by the handler, one JSON line per
// request/response pair.
type fakeEngine struct {
	listener net.Listener
	handler  func(req map[string]interface{}) map[string]interface{}

	mu       sync.Mutex
	requests []map[string]interface{}
	accepted int
}

func newFakeEngine(t *testing.T, handler func(map[string]interface{}) map[string]interface{}) *fakeEngine {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fe := &fakeEngine{listener: ln, handler: handler}
	go fe.serve()
	t.Cleanup(func() { ln.Close() })
	return fe
}

func (fe *fakeEngine) serve() {
	for {
		conn, err := fe.listener.Accept()
		if err != nil {
			return
		}
		fe.mu.Lock()
		fe.accepted++
		fe.mu.Unlock()
		go fe.serveConn(conn)
	}
}

func (fe *fakeEngine) serveConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req map[string]interface{}
		if err := json.Unmarshal(line, &req); err != nil {
			return
		}
		fe.mu.Lock()
		fe.requests = append(fe.requests, req)
		fe.mu.Unlock()

		if fe.handler == nil {
			continue // silent engine, never replies
		}
		resp, err := json.Marshal(fe.handler(req))
		if err != nil {
			return
		}
		conn.Write(append(resp, '\n'))
	}
}

func (fe *fakeEngine) addr() string { return fe.listener.Addr().String() }

func (fe *fakeEngine) lastRequest() map[string]interface{} {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if len(fe.requests) == 0 {
		return nil
	}
	return fe.requests[len(fe.requests)-1]
}

func (fe *fakeEngine) acceptedConns() int {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.accepted
}

func startedClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c := NewClient(opts, zap.NewNop())
	c.Start()
	t.Cleanup(func() { c.Close() })

	// Wait for the reconnect loop or the initial dial to connect.
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
	return c
}

func TestCallTranslatesThroughDialectTable(t *testing.T) {
	fe := newFakeEngine(t, func(req map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"instance_id": "fx_1"}
	})
	c := startedClient(t, Options{Address: fe.addr()})

	result := c.Call(context.Background(), "load_plugin", map[string]interface{}{"uri": "urn:fx:chorus"})
	require.True(t, result.Success, result.Err)
	assert.Equal(t, "fx_1", result.String("instance_id"))

	req := fe.lastRequest()
	assert.Equal(t, "plugin", req["action"])
	assert.Equal(t, "load", req["method"])
	assert.Equal(t, "urn:fx:chorus", req["uri"])
}

func TestUnknownMethodRejectedLocally(t *testing.T) {
	fe := newFakeEngine(t, nil)
	c := startedClient(t, Options{Address: fe.addr()})

	result := c.Call(context.Background(), "make_coffee", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Err, "unknown method")
	assert.Nil(t, fe.lastRequest(), "unknown methods must never reach the engine")
}

func TestEngineErrorNormalized(t *testing.T) {
	fe := newFakeEngine(t, func(req map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"error": "no such plugin"}
	})
	c := startedClient(t, Options{Address: fe.addr()})

	result := c.Call(context.Background(), "load_plugin", map[string]interface{}{"uri": "urn:fx:nope"})
	assert.False(t, result.Success)
	assert.Equal(t, "no such plugin", result.Err)
}

func TestMalformedReplyDegradesToFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		bufio.NewReader(conn).ReadBytes('\n')
		conn.Write([]byte("not json at all\n"))
	}()

	c := startedClient(t, Options{Address: ln.Addr().String()})
	result := c.Call(context.Background(), "get_sample_rate", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Err, "malformed engine reply")
}

func TestConnectSendsTextualCommand(t *testing.T) {
	fe := newFakeEngine(t, func(req map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"connected": true}
	})
	c := startedClient(t, Options{Address: fe.addr()})

	result := c.Connect(context.Background(), "fx_1:out_1", "fx_2:in_1")
	require.True(t, result.Success, result.Err)
	assert.Equal(t, "connect fx_1:out_1 fx_2:in_1", fe.lastRequest()["command"])

	result = c.Disconnect(context.Background(), "fx_1:out_1", "fx_2:in_1")
	require.True(t, result.Success, result.Err)
	assert.Equal(t, "disconnect fx_1:out_1 fx_2:in_1", fe.lastRequest()["command"])

	result = c.DisconnectID(context.Background(), "c-42")
	require.True(t, result.Success, result.Err)
	assert.Equal(t, "disconnect_id c-42", fe.lastRequest()["command"])
}

func TestHealthCheckUsesCheapAudioQuery(t *testing.T) {
	fe := newFakeEngine(t, func(req map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"sample_rate": 48000}
	})
	c := startedClient(t, Options{Address: fe.addr()})

	result := c.HealthCheck(context.Background())
	require.True(t, result.Success, result.Err)
	assert.Equal(t, "audio", fe.lastRequest()["action"])
	assert.Equal(t, "get_sample_rate", fe.lastRequest()["method"])
}

func TestTimeoutAgainstSilentEngine(t *testing.T) {
	fe := newFakeEngine(t, nil) // reads requests, never answers
	c := startedClient(t, Options{
		Address:        fe.addr(),
		CallTimeout:    50 * time.Millisecond,
		ReconnectDelay: 50 * time.Millisecond,
	})

	start := time.Now()
	result := c.Call(context.Background(), "get_sample_rate", nil)
	assert.False(t, result.Success)
	assert.Equal(t, "Bridge timeout", result.Err)
	assert.Less(t, time.Since(start), time.Second, "timeout must resolve in bounded time")

	// The bridge marks itself disconnected, then reconnects unattended.
	assert.False(t, c.Connected())
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, fe.acceptedConns(), 2)
}

func TestCallWithoutConnection(t *testing.T) {
	// Dead address: nothing is listening.
	c := NewClient(Options{Address: "127.0.0.1:1", ReconnectDelay: time.Hour}, zap.NewNop())
	c.Start()
	defer c.Close()

	result := c.Call(context.Background(), "get_sample_rate", nil)
	assert.False(t, result.Success)
	assert.Equal(t, "bridge unavailable", result.Err)
}

func TestContextDeadlineCapsCallTimeout(t *testing.T) {
	fe := newFakeEngine(t, nil)
	c := startedClient(t, Options{Address: fe.addr(), CallTimeout: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := c.Call(ctx, "get_sample_rate", nil)
	assert.False(t, result.Success)
	assert.Equal(t, "Bridge timeout", result.Err)
	assert.Less(t, time.Since(start), time.Second)
}
