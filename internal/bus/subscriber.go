package bus

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tonewire/tonewire/pkg/wire"
)

// subscriberRedialDelay is the pause between attempts to reach a peer's
// publish port. Peers come and go; the subscriber just keeps trying.
const subscriberRedialDelay = 2 * time.Second

// Message is one event received from a peer.
type Message struct {
	Topic string
	Event *wire.Event
	Peer  string
}

// Subscription is an active subscription to one or more peers' events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Message
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of received events. The channel is closed
// when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Message {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors. The
// subscription continues after an error; frames are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe connects to every named peer's publish port, derived from the
// peer's service name, and delivers decoded events on a buffered channel.
// Unreachable peers are redialed in the background until the subscription
// is closed.
func Subscribe(ctx context.Context, host string, basePort, portSpan int, peers []string, logger *zap.Logger) *Subscription {
	eventsChan := make(chan *Message, 64)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			addr := wire.PublishAddr(host, basePort, portSpan, peer)
			followPeer(subCtx, peer, addr, eventsChan, errorsChan, logger)
		}(peer)
	}

	go func() {
		wg.Wait()
		close(eventsChan)
		close(errorsChan)
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}
}

// followPeer dials one peer's publish port and streams its frames,
// redialing after any failure until the context ends.
func followPeer(ctx context.Context, peer, addr string, events chan<- *Message, errors chan<- error, logger *zap.Logger) {
	dialer := &net.Dialer{}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(subscriberRedialDelay):
				continue
			}
		}
		logger.Debug("subscribed to peer", zap.String("peer", peer), zap.String("addr", addr))

		// Close the conn when the context ends so the blocked read returns.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		readFrames(ctx, peer, conn, events, errors)
		close(done)
		conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(subscriberRedialDelay):
		}
	}
}

func readFrames(ctx context.Context, peer string, conn net.Conn, events chan<- *Message, errors chan<- error) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		topic, event, err := wire.DecodeFrame(scanner.Bytes())
		if err != nil {
			select {
			case errors <- err:
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case events <- &Message{Topic: topic, Event: event, Peer: peer}:
		case <-ctx.Done():
			return
		}
	}
}
