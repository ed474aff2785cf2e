// Package connections manages the routing edges between plugin and
// hardware ports. Edges live here and are mirrored into the current
// pedalboard through a narrow write method; the service never mutates the
// pedalboard directly.
package connections

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonewire/tonewire/internal/bridge"
	"github.com/tonewire/tonewire/internal/plugins"
	"github.com/tonewire/tonewire/pkg/wire"
)

// ErrNotFound is returned when an operation names a connection id that is
// not present. A second remove of the same id gets this, never a crash.
var ErrNotFound = errors.New("connection not found")

// Connection is one routing edge. The identifier is generated locally;
// endpoint instances must be loaded when the edge is created.
type Connection struct {
	ID             string    `json:"id"`
	SourceInstance string    `json:"source_instance"`
	SourcePort     string    `json:"source_port"`
	TargetInstance string    `json:"target_instance"`
	TargetPort     string    `json:"target_port"`
	CreatedAt      time.Time `json:"created_at"`
}

// SourceEndpoint returns the engine-facing "<instance>:<port>" form.
func (c Connection) SourceEndpoint() string {
	return fmt.Sprintf("%s:%s", c.SourceInstance, c.SourcePort)
}

// TargetEndpoint returns the engine-facing "<instance>:<port>" form.
func (c Connection) TargetEndpoint() string {
	return fmt.Sprintf("%s:%s", c.TargetInstance, c.TargetPort)
}

// InstanceView is the read access the service needs into the plugin table.
type InstanceView interface {
	Get(instanceID string) (*plugins.Instance, bool)
}

// Mirror receives the full connection set after every change. The
// pedalboard service implements it; this is the only write path from here
// into the pedalboard aggregate.
type Mirror interface {
	MirrorConnections(conns []Connection)
}

// EventPublisher is the best-effort event sink.
type EventPublisher interface {
	Publish(topic string, data map[string]interface{})
}

// Service owns the connection set.
type Service struct {
	engine    bridge.Caller
	instances InstanceView
	mirror    Mirror
	events    EventPublisher
	logger    *zap.Logger

	mu    sync.Mutex
	edges map[string]Connection
}

// NewService builds a connection service.
func NewService(engine bridge.Caller, instances InstanceView, mirror Mirror, events EventPublisher, logger *zap.Logger) *Service {
	return &Service{
		engine:    engine,
		instances: instances,
		mirror:    mirror,
		events:    events,
		logger:    logger.With(zap.String("component", "connection_service")),
		edges:     make(map[string]Connection),
	}
}

// Create validates both endpoints against the loaded-instance table, asks
// the engine to wire them, then records and mirrors the edge.
func (s *Service) Create(ctx context.Context, sourceInstance, sourcePort, targetInstance, targetPort string) (Connection, error) {
	if _, ok := s.instances.Get(sourceInstance); !ok {
		return Connection{}, fmt.Errorf("source instance not loaded: %s", sourceInstance)
	}
	if _, ok := s.instances.Get(targetInstance); !ok {
		return Connection{}, fmt.Errorf("target instance not loaded: %s", targetInstance)
	}

	conn := Connection{
		ID:             uuid.NewString(),
		SourceInstance: sourceInstance,
		SourcePort:     sourcePort,
		TargetInstance: targetInstance,
		TargetPort:     targetPort,
		CreatedAt:      time.Now().UTC(),
	}

	result := s.engine.Connect(ctx, conn.SourceEndpoint(), conn.TargetEndpoint())
	if !result.Success {
		return Connection{}, fmt.Errorf("engine rejected connection %s -> %s: %s",
			conn.SourceEndpoint(), conn.TargetEndpoint(), result.Err)
	}

	s.mu.Lock()
	s.edges[conn.ID] = conn
	s.mirror.MirrorConnections(s.snapshotLocked())
	s.mu.Unlock()

	s.events.Publish(wire.TopicConnectionCreated, map[string]interface{}{
		"connection_id": conn.ID,
		"source":        conn.SourceEndpoint(),
		"target":        conn.TargetEndpoint(),
	})
	return conn, nil
}

// Remove deletes an edge by id. The engine-side disconnect is tolerant:
// a failure there is logged and local removal proceeds.
func (s *Service) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	conn, ok := s.edges[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	result := s.engine.Disconnect(ctx, conn.SourceEndpoint(), conn.TargetEndpoint())
	if !result.Success {
		s.logger.Warn("engine disconnect failed, removing locally anyway",
			zap.String("connection", id), zap.String("error", result.Err))
	}

	s.mu.Lock()
	delete(s.edges, id)
	s.mirror.MirrorConnections(s.snapshotLocked())
	s.mu.Unlock()

	s.events.Publish(wire.TopicConnectionRemoved, map[string]interface{}{
		"connection_id": conn.ID,
		"source":        conn.SourceEndpoint(),
		"target":        conn.TargetEndpoint(),
	})
	return nil
}

// List returns the connection set ordered by creation time.
func (s *Service) List() []Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Count returns the number of edges.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edges)
}

// ClearAll removes every edge best-effort, tolerating engine failures.
func (s *Service) ClearAll(ctx context.Context) int {
	s.mu.Lock()
	edges := s.snapshotLocked()
	s.mu.Unlock()

	for _, conn := range edges {
		result := s.engine.Disconnect(ctx, conn.SourceEndpoint(), conn.TargetEndpoint())
		if !result.Success {
			s.logger.Warn("engine disconnect failed during clear",
				zap.String("connection", conn.ID), zap.String("error", result.Err))
		}
	}

	s.mu.Lock()
	s.edges = make(map[string]Connection)
	s.mirror.MirrorConnections(nil)
	s.mu.Unlock()
	return len(edges)
}

// snapshotLocked copies the edge set sorted by creation time. Caller holds mu.
func (s *Service) snapshotLocked() []Connection {
	out := make([]Connection, 0, len(s.edges))
	for _, conn := range s.edges {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
