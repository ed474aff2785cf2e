// Package bridge implements the client side of the engine socket: it
// translates canonical calls into the engine's JSON dialect, normalizes
// every reply into a wire.Result, and keeps the connection alive with a
// background reconnect loop.
//
// No error escapes a call as anything other than a failure Result, so a
// dead or misbehaving engine degrades service-by-service instead of
// crashing the host.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tonewire/tonewire/pkg/wire"
)

// Caller is the narrow surface the managers depend on. Tests substitute a
// fake; production code uses *Client.
type Caller interface {
	// Call translates a canonical method into the engine dialect and
	// performs one request/response pair. Unknown methods fail locally.
	Call(ctx context.Context, method string, params map[string]interface{}) wire.Result

	// Connect asks the engine to wire source to target. Endpoints are
	// "<instance>:<port>" strings.
	Connect(ctx context.Context, source, target string) wire.Result

	// Disconnect asks the engine to remove the edge between two endpoints.
	Disconnect(ctx context.Context, source, target string) wire.Result

	// HealthCheck performs the cheap audio query standing in for a health probe.
	HealthCheck(ctx context.Context) wire.Result

	// Connected reports whether the bridge currently holds a live connection.
	Connected() bool
}

// Options configures a Client. Zero values fall back to the documented defaults.
type Options struct {
	Address        string
	CallTimeout    time.Duration // default 5s
	ReconnectDelay time.Duration // default 2s
}

// Client is the engine bridge. One request/response pair is in flight at a
// time; the mutex serializes callers over the single connection. A caller's
// timeout abandons its wait but does not cancel the engine-side operation,
// which may still complete; the connection is torn down on timeout so a
// stale reply can never be paired with the wrong request.
type Client struct {
	addr           string
	callTimeout    time.Duration
	reconnectDelay time.Duration
	logger         *zap.Logger

	mu     sync.Mutex // serializes request/response pairs and guards conn
	conn   net.Conn
	reader *bufio.Reader

	connected atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient builds a bridge client. Call Start to establish the connection
// and begin the reconnect loop.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	return &Client{
		addr:           opts.Address,
		callTimeout:    opts.CallTimeout,
		reconnectDelay: opts.ReconnectDelay,
		logger:         logger.With(zap.String("component", "bridge")),
		done:           make(chan struct{}),
	}
}

// Start dials the engine and launches the reconnect loop. A failed initial
// dial is not an error: the loop keeps retrying unattended.
func (c *Client) Start() {
	if err := c.dial(); err != nil {
		c.logger.Warn("initial engine dial failed, reconnect loop will retry",
			zap.String("addr", c.addr), zap.Error(err))
	}
	c.wg.Add(1)
	go c.reconnectLoop()
}

// Close stops the reconnect loop and drops the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	c.teardown()
	return nil
}

// Connected reports whether the bridge holds a live engine connection.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) dial() error {
	conn, err := net.DialTimeout("tcp", c.addr, c.callTimeout)
	if err != nil {
		return fmt.Errorf("failed to dial engine at %s: %w", c.addr, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.mu.Unlock()

	c.connected.Store(true)
	c.logger.Info("engine connected", zap.String("addr", c.addr))
	return nil
}

// teardown drops the connection and marks the bridge disconnected. The
// reconnect loop picks it up from there.
func (c *Client) teardown() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	c.mu.Unlock()
	c.connected.Store(false)
}

func (c *Client) reconnectLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.reconnectDelay)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.connected.Load() {
				continue
			}
			if err := c.dial(); err != nil {
				c.logger.Debug("engine redial failed", zap.Error(err))
			}
		}
	}
}

// Call implements Caller. The method is translated through the dialect
// table; unknown methods are rejected without touching the socket.
func (c *Client) Call(ctx context.Context, method string, params map[string]interface{}) wire.Result {
	d, ok := methodTable[method]
	if !ok {
		return wire.Errorf("unknown method: %s", method)
	}

	payload := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		payload[k] = v
	}
	payload["action"] = d.action
	payload["method"] = d.method

	return c.roundTrip(ctx, payload)
}

// Connect implements Caller using the textual command form.
func (c *Client) Connect(ctx context.Context, source, target string) wire.Result {
	return c.roundTrip(ctx, map[string]interface{}{
		"command": fmt.Sprintf("connect %s %s", source, target),
	})
}

// Disconnect implements Caller using the textual command form. Both
// endpoints are sent in full instance:port form: the engine also accepts
// bare instance names, but those tear down every edge touching the
// instance, and the fuller form names exactly one edge. Callers that do
// want instance-wide removal pass the bare names themselves.
func (c *Client) Disconnect(ctx context.Context, source, target string) wire.Result {
	return c.roundTrip(ctx, map[string]interface{}{
		"command": fmt.Sprintf("disconnect %s %s", source, target),
	})
}

// DisconnectID removes an edge by the engine's connection identifier.
func (c *Client) DisconnectID(ctx context.Context, id string) wire.Result {
	return c.roundTrip(ctx, map[string]interface{}{
		"command": fmt.Sprintf("disconnect_id %s", id),
	})
}

// HealthCheck implements Caller.
func (c *Client) HealthCheck(ctx context.Context) wire.Result {
	return c.Call(ctx, healthCheckMethod, nil)
}

// roundTrip performs one request/response pair under the client mutex.
// Every failure path degrades to a structured Result; on I/O failure the
// connection is torn down for the reconnect loop to recreate.
func (c *Client) roundTrip(ctx context.Context, payload map[string]interface{}) wire.Result {
	data, err := json.Marshal(payload)
	if err != nil {
		return wire.Errorf("failed to encode engine request: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return wire.Errorf("bridge unavailable")
	}

	deadline := time.Now().Add(c.callTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		c.failConnLocked()
		return wire.Errorf("bridge unavailable")
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.failConnLocked()
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return wire.Errorf("Bridge timeout")
		}
		return wire.Errorf("bridge unavailable")
	}
	c.conn.SetDeadline(time.Time{})

	return normalize(line)
}

// failConnLocked drops the connection after an I/O failure. Caller holds mu.
func (c *Client) failConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	c.connected.Store(false)
	c.logger.Warn("engine connection lost, reconnecting")
}

// normalize reduces a raw engine reply to the one typed Result shape.
// Engine failure is signalled by the presence of an error field.
func normalize(line []byte) wire.Result {
	var fields map[string]interface{}
	if err := json.Unmarshal(line, &fields); err != nil {
		return wire.Errorf("malformed engine reply")
	}
	if msg, ok := fields["error"].(string); ok && msg != "" {
		return wire.Errorf("%s", msg)
	}
	delete(fields, "error")
	return wire.Ok(fields)
}
