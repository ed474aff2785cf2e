// Package session provides whole-session control: reset, initialization,
// mute, and an aggregated status snapshot across the core services.
package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tonewire/tonewire/internal/board"
	"github.com/tonewire/tonewire/internal/bridge"
	"github.com/tonewire/tonewire/pkg/wire"
)

// PluginHost is the plugin-manager surface the session service consumes.
type PluginHost interface {
	ClearAll(ctx context.Context) int
	Count() int
}

// Router is the connection-service surface the session service consumes.
type Router interface {
	ClearAll(ctx context.Context) int
	Count() int
}

// Boards is the pedalboard-service surface the session service consumes.
type Boards interface {
	ClearCurrent()
	Current() (*board.Pedalboard, error)
}

// EventPublisher is the best-effort event sink.
type EventPublisher interface {
	Publish(topic string, data map[string]interface{})
}

// BoardInfo identifies the current pedalboard in a session state snapshot.
type BoardInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// State is the aggregated session status. System carries the engine's own
// audio-state fields and is empty when the engine cannot be reached.
type State struct {
	BridgeConnected bool                   `json:"bridge_connected"`
	Plugins         int                    `json:"plugins"`
	Connections     int                    `json:"connections"`
	Pedalboard      *BoardInfo             `json:"pedalboard,omitempty"`
	System          map[string]interface{} `json:"system"`
}

// Service coordinates session-wide operations.
type Service struct {
	engine  bridge.Caller
	plugins PluginHost
	router  Router
	boards  Boards
	events  EventPublisher
	logger  *zap.Logger
}

// NewService builds a session service.
func NewService(engine bridge.Caller, host PluginHost, router Router, boards Boards, events EventPublisher, logger *zap.Logger) *Service {
	return &Service{
		engine:  engine,
		plugins: host,
		router:  router,
		boards:  boards,
		events:  events,
		logger:  logger.With(zap.String("component", "session_service")),
	}
}

// clearLocal drops every connection, instance, and the current pedalboard.
// Connections go first so no edge ever references an unloaded instance.
func (s *Service) clearLocal(ctx context.Context) (conns, insts int) {
	conns = s.router.ClearAll(ctx)
	insts = s.plugins.ClearAll(ctx)
	s.boards.ClearCurrent()
	return conns, insts
}

// Reset clears all local state and asks the engine to reset its audio
// graph. The engine's own result decides success; the event is published
// only when the engine agrees.
func (s *Service) Reset(ctx context.Context) error {
	conns, insts := s.clearLocal(ctx)
	s.logger.Info("session state cleared",
		zap.Int("connections", conns), zap.Int("instances", insts))

	if result := s.engine.Call(ctx, "reset_audio", nil); !result.Success {
		return fmt.Errorf("engine reset failed: %s", result.Err)
	}

	s.events.Publish(wire.TopicSessionReset, map[string]interface{}{
		"connections_removed": conns,
		"instances_removed":   insts,
	})
	return nil
}

// Initialize performs a full reset and then re-initializes the engine's
// audio subsystem.
func (s *Service) Initialize(ctx context.Context) error {
	conns, insts := s.clearLocal(ctx)
	s.logger.Info("session state cleared for initialization",
		zap.Int("connections", conns), zap.Int("instances", insts))

	if result := s.engine.Call(ctx, "reset_audio", nil); !result.Success {
		return fmt.Errorf("engine reset failed: %s", result.Err)
	}
	if result := s.engine.Call(ctx, "init_audio", nil); !result.Success {
		return fmt.Errorf("engine audio initialization failed: %s", result.Err)
	}

	s.events.Publish(wire.TopicSessionInitialized, nil)
	return nil
}

// Mute silences the engine's audio output.
func (s *Service) Mute(ctx context.Context) error {
	if result := s.engine.Call(ctx, "mute_audio", nil); !result.Success {
		return fmt.Errorf("engine mute failed: %s", result.Err)
	}
	s.events.Publish(wire.TopicSessionMuted, nil)
	return nil
}

// Unmute restores the engine's audio output.
func (s *Service) Unmute(ctx context.Context) error {
	if result := s.engine.Call(ctx, "unmute_audio", nil); !result.Success {
		return fmt.Errorf("engine unmute failed: %s", result.Err)
	}
	s.events.Publish(wire.TopicSessionUnmuted, nil)
	return nil
}

// GetState aggregates local counts with a best-effort engine snapshot.
// It never fails: an unreachable engine yields an empty system section.
func (s *Service) GetState(ctx context.Context) *State {
	state := &State{
		BridgeConnected: s.engine.Connected(),
		Plugins:         s.plugins.Count(),
		Connections:     s.router.Count(),
		System:          map[string]interface{}{},
	}

	if pb, err := s.boards.Current(); err == nil {
		state.Pedalboard = &BoardInfo{ID: pb.ID, Name: pb.Name}
	}

	if result := s.engine.Call(ctx, "get_audio_state", nil); result.Success {
		for key, value := range result.Fields {
			state.System[key] = value
		}
	} else {
		s.logger.Debug("engine state unavailable", zap.String("error", result.Err))
	}
	return state
}
