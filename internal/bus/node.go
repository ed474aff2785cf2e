// Package bus implements the inter-service transport: an RPC node with an
// explicit method table and serialized dispatch, a publish side fanning
// events out to connected subscribers, and the matching client and
// subscriber ends. Addressing is derived from service names (pkg/wire), so
// no registry process exists.
package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tonewire/tonewire/pkg/wire"
)

// Handler serves one RPC method. The returned map becomes the reply's
// result field; a non-nil error becomes an error reply instead.
type Handler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// readHeaderTimeout bounds how long an accepted connection may take to
// deliver its single request line.
const readHeaderTimeout = 30 * time.Second

// Node is one service's presence on the bus: an RPC listener with an
// explicit method table and a publisher for its events.
//
// Dispatch is deliberately serialized: a single goroutine drains the
// request queue and runs one handler to completion before the next, so
// handlers never observe concurrent bus-driven mutation. A failed or
// panicking handler produces an error reply and never takes the queue
// down with it.
type Node struct {
	service  string
	host     string
	basePort int
	portSpan int
	logger   *zap.Logger

	handlers  map[string]Handler
	publisher *Publisher

	mu       sync.Mutex
	started  bool
	listener net.Listener
	jobs     chan job
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type job struct {
	req  *wire.Request
	conn net.Conn
}

// NewNode builds a bus node for the named service. Register every handler
// before calling Start.
func NewNode(service, host string, basePort, portSpan int, logger *zap.Logger) *Node {
	return &Node{
		service:  service,
		host:     host,
		basePort: basePort,
		portSpan: portSpan,
		logger:   logger.With(zap.String("component", "bus"), zap.String("service", service)),
		handlers: make(map[string]Handler),
	}
}

// Register adds a method to the node's dispatch table. Duplicate names and
// registration after Start are programming errors.
func (n *Node) Register(method string, handler Handler) error {
	if method == "" {
		return fmt.Errorf("handler method name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for %q cannot be nil", method)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return fmt.Errorf("cannot register %q after the node has started", method)
	}
	if _, exists := n.handlers[method]; exists {
		return fmt.Errorf("handler %q already registered", method)
	}
	n.handlers[method] = handler
	return nil
}

// Methods returns the registered method names, sorted.
func (n *Node) Methods() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.handlers))
	for method := range n.handlers {
		out = append(out, method)
	}
	sort.Strings(out)
	return out
}

// RPCAddr returns the address the node listens on, derived from its name.
func (n *Node) RPCAddr() string {
	return wire.RPCAddr(n.host, n.basePort, n.portSpan, n.service)
}

// Start binds the RPC and publish listeners and begins serving. The node
// runs until Close or context cancellation.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return fmt.Errorf("bus node already started")
	}

	listener, err := net.Listen("tcp", n.RPCAddr())
	if err != nil {
		return fmt.Errorf("failed to bind RPC listener: %w", err)
	}

	publisher := NewPublisher(n.service, wire.PublishAddr(n.host, n.basePort, n.portSpan, n.service), n.logger)
	if err := publisher.Start(); err != nil {
		listener.Close()
		return fmt.Errorf("failed to start publisher: %w", err)
	}

	nodeCtx, cancel := context.WithCancel(ctx)
	n.listener = listener
	n.publisher = publisher
	n.jobs = make(chan job, 64)
	n.cancel = cancel
	n.started = true

	n.wg.Add(2)
	go n.acceptLoop(nodeCtx)
	go n.dispatchLoop(nodeCtx)

	n.logger.Info("bus node listening",
		zap.String("rpc_addr", listener.Addr().String()),
		zap.String("publish_addr", publisher.Addr()))
	return nil
}

// Close stops serving and tears down both listeners.
func (n *Node) Close() error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = false
	cancel := n.cancel
	listener := n.listener
	publisher := n.publisher
	n.mu.Unlock()

	cancel()
	listener.Close()
	publisher.Close()
	n.wg.Wait()
	return nil
}

// Publish sends an event to every connected subscriber. Fire and forget.
func (n *Node) Publish(topic string, data map[string]interface{}) {
	n.mu.Lock()
	publisher := n.publisher
	n.mu.Unlock()
	if publisher == nil {
		return
	}
	publisher.Publish(topic, data)
	eventsPublishedTotal.WithLabelValues(topic).Inc()
}

func (n *Node) acceptLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		n.wg.Add(1)
		go n.readRequest(ctx, conn)
	}
}

// readRequest reads the connection's single request line and queues it for
// dispatch. Malformed requests are answered and closed here, without ever
// reaching the dispatch queue.
func (n *Node) readRequest(ctx context.Context, conn net.Conn) {
	defer n.wg.Done()

	conn.SetReadDeadline(time.Now().Add(readHeaderTimeout))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		n.logger.Warn("failed to read request", zap.Error(err))
		conn.Close()
		return
	}

	var req wire.Request
	if err := json.Unmarshal(line, &req); err != nil {
		writeReply(conn, wire.Fail("", "malformed request: %v", err))
		conn.Close()
		return
	}
	if err := req.Validate(); err != nil {
		writeReply(conn, wire.Fail(req.RequestID, "invalid request: %v", err))
		conn.Close()
		return
	}

	select {
	case n.jobs <- job{req: &req, conn: conn}:
	case <-ctx.Done():
		conn.Close()
	}
}

func (n *Node) dispatchLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-n.jobs:
			n.serve(ctx, j)
		}
	}
}

func (n *Node) serve(ctx context.Context, j job) {
	defer j.conn.Close()
	requestsTotal.WithLabelValues(j.req.Method).Inc()

	n.mu.Lock()
	handler := n.handlers[j.req.Method]
	n.mu.Unlock()

	if handler == nil {
		requestErrorsTotal.WithLabelValues(j.req.Method).Inc()
		writeReply(j.conn, wire.Fail(j.req.RequestID, "unknown method %q", j.req.Method))
		return
	}

	result, err := n.invoke(ctx, handler, j.req)
	if err != nil {
		requestErrorsTotal.WithLabelValues(j.req.Method).Inc()
		n.logger.Warn("handler failed",
			zap.String("method", j.req.Method),
			zap.String("request_id", j.req.RequestID),
			zap.Error(err))
		writeReply(j.conn, wire.Fail(j.req.RequestID, "%v", err))
		return
	}
	writeReply(j.conn, wire.OK(j.req.RequestID, result))
}

// invoke runs one handler, converting a panic into an error reply so a
// single bad request cannot stop the dispatch loop.
func (n *Node) invoke(ctx context.Context, handler Handler, req *wire.Request) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %q panicked: %v", req.Method, r)
		}
	}()
	return handler(ctx, req.Params)
}

func writeReply(conn net.Conn, resp *wire.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.Write(append(payload, '\n'))
}
