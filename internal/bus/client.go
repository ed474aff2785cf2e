package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/tonewire/tonewire/pkg/wire"
)

// DefaultCallTimeout bounds one RPC round trip when the caller's context
// carries no earlier deadline.
const DefaultCallTimeout = 10 * time.Second

// Client issues RPC calls to peers by service name. One connection per
// call: dial, write the request line, read the reply line, close.
type Client struct {
	source   string
	host     string
	basePort int
	portSpan int
	timeout  time.Duration
}

// NewClient builds a bus client identifying itself as the given source
// service. A non-positive timeout selects DefaultCallTimeout.
func NewClient(source, host string, basePort, portSpan int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Client{
		source:   source,
		host:     host,
		basePort: basePort,
		portSpan: portSpan,
		timeout:  timeout,
	}
}

// Call sends one request to the named service and waits for its reply.
// An error reply from the callee is returned as an error; a success reply
// yields the result fields.
func (c *Client) Call(ctx context.Context, service, method string, params map[string]interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	addr := wire.RPCAddr(c.host, c.basePort, c.portSpan, service)
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach service %q at %s: %w", service, addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	req := wire.NewRequest(method, c.source, params)
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send request to %q: %w", service, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("no reply from service %q: %w", service, err)
	}

	var resp wire.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("malformed reply from %q: %w", service, err)
	}
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reply from %q: %w", service, err)
	}
	if resp.RequestID != req.RequestID {
		return nil, fmt.Errorf("reply from %q answers request %s, expected %s", service, resp.RequestID, req.RequestID)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp.Result, nil
}
