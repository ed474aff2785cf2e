package bus

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tonewire/tonewire/pkg/wire"
)

// publishWriteTimeout bounds one frame delivery to one subscriber. A
// subscriber that cannot keep up is dropped, never waited on.
const publishWriteTimeout = time.Second

// Publisher owns a service's publish listener and fans event frames out to
// every connected subscriber. Delivery is at-most-once: a failed write
// drops the subscriber and the event is gone.
type Publisher struct {
	service string
	addr    string
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	subs     map[net.Conn]struct{}
	closed   bool
}

// NewPublisher builds a publisher for the named service on the given address.
func NewPublisher(service, addr string, logger *zap.Logger) *Publisher {
	return &Publisher{
		service: service,
		addr:    addr,
		logger:  logger,
		subs:    make(map[net.Conn]struct{}),
	}
}

// Start binds the publish listener and begins accepting subscribers.
func (p *Publisher) Start() error {
	listener, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to bind publish listener: %w", err)
	}

	p.mu.Lock()
	p.listener = listener
	p.mu.Unlock()

	go p.acceptLoop(listener)
	return nil
}

// Addr returns the bound publish address.
func (p *Publisher) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return p.addr
	}
	return p.listener.Addr().String()
}

func (p *Publisher) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.subs[conn] = struct{}{}
		count := len(p.subs)
		p.mu.Unlock()
		p.logger.Debug("subscriber connected",
			zap.String("remote", conn.RemoteAddr().String()), zap.Int("subscribers", count))
	}
}

// Publish encodes one event frame and writes it to every subscriber.
// Send failures drop the subscriber, never the caller.
func (p *Publisher) Publish(topic string, data map[string]interface{}) {
	event := wire.NewEvent(topic, p.service, data)
	frame, err := event.EncodeFrame(topic)
	if err != nil {
		p.logger.Warn("failed to encode event", zap.String("topic", topic), zap.Error(err))
		return
	}
	frame = append(frame, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	for conn := range p.subs {
		conn.SetWriteDeadline(time.Now().Add(publishWriteTimeout))
		if _, err := conn.Write(frame); err != nil {
			p.logger.Warn("dropping subscriber",
				zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			conn.Close()
			delete(p.subs, conn)
			subscribersDroppedTotal.Inc()
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close stops accepting and disconnects every subscriber.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.listener != nil {
		p.listener.Close()
	}
	for conn := range p.subs {
		conn.Close()
	}
	p.subs = make(map[net.Conn]struct{})
	return nil
}
