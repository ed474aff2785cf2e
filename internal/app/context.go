// Package app assembles the daemon: it builds every service from
// configuration, wires them together, registers the bus handler table, and
// owns process lifecycle. All state lives on the App value; there are no
// package-level mutable globals.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tonewire/tonewire/internal/board"
	"github.com/tonewire/tonewire/internal/bridge"
	"github.com/tonewire/tonewire/internal/bus"
	"github.com/tonewire/tonewire/internal/config"
	"github.com/tonewire/tonewire/internal/connections"
	"github.com/tonewire/tonewire/internal/metrics"
	"github.com/tonewire/tonewire/internal/plugins"
	"github.com/tonewire/tonewire/internal/session"
	"github.com/tonewire/tonewire/internal/store"
)

// App is the explicit service context. Everything a handler touches hangs
// off this value, constructed once at process start.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	engine      bridge.Caller
	ownedBridge *bridge.Client

	Store       *store.Store
	Plugins     *plugins.Manager
	Connections *connections.Service
	Boards      *board.Service
	Session     *session.Service
	Node        *bus.Node

	metricsServer *metrics.Server
	subscription  *bus.Subscription

	// Snapshots are ephemeral, held by name for the life of the process.
	// Serialized bus dispatch is the only writer.
	snapshots map[string]*board.Snapshot
}

// boardMirror breaks the construction cycle between the connection and
// pedalboard services: connections are built first with this indirection,
// the board service is bound afterwards.
type boardMirror struct {
	boards *board.Service
}

func (m *boardMirror) MirrorConnections(conns []connections.Connection) {
	if m.boards != nil {
		m.boards.MirrorConnections(conns)
	}
}

// New builds the full service graph from configuration. The bridge is
// constructed but not yet connected; call Start.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	client := bridge.NewClient(bridge.Options{
		Address:        cfg.Engine.Address,
		CallTimeout:    cfg.Engine.GetCallTimeout(),
		ReconnectDelay: cfg.Engine.GetReconnectDelay(),
	}, logger)

	app, err := assemble(cfg, logger, client)
	if err != nil {
		return nil, err
	}
	app.ownedBridge = client
	return app, nil
}

// assemble wires the services around the given engine. Tests pass a fake
// engine here; New passes the real bridge.
func assemble(cfg *config.Config, logger *zap.Logger, engine bridge.Caller) (*App, error) {
	st, err := store.New(cfg.Storage.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open pedalboard store: %w", err)
	}

	node := bus.NewNode(cfg.ServiceName, cfg.Host, cfg.BasePort, cfg.PortSpan, logger)

	gate := plugins.Gate{
		Attempts: cfg.Engine.LoadGate.Attempts,
		Interval: cfg.Engine.LoadGate.GetInterval(),
	}
	mgr := plugins.NewManager(engine, node, gate, logger)

	mirror := &boardMirror{}
	conns := connections.NewService(engine, mgr, mirror, node, logger)
	boards := board.NewService(engine, mgr, conns, st, node, logger)
	mirror.boards = boards

	sess := session.NewService(engine, mgr, conns, boards, node, logger)

	app := &App{
		cfg:         cfg,
		logger:      logger,
		engine:      engine,
		Store:       st,
		Plugins:     mgr,
		Connections: conns,
		Boards:      boards,
		Session:     sess,
		Node:        node,
		snapshots:   make(map[string]*board.Snapshot),
	}
	if err := app.registerHandlers(); err != nil {
		return nil, fmt.Errorf("failed to build handler table: %w", err)
	}
	return app, nil
}

// Start connects the bridge, fetches the plugin catalog, binds the bus
// listeners, and (when configured) starts the metrics endpoint and the
// peer event follower.
func (a *App) Start(ctx context.Context) error {
	if a.ownedBridge != nil {
		a.ownedBridge.Start()
	}
	a.Plugins.Start(ctx)

	if err := a.Node.Start(ctx); err != nil {
		return err
	}

	if a.cfg.Metrics != nil {
		a.metricsServer = metrics.NewServer(a.cfg.Metrics.Addr, a.logger)
		a.metricsServer.Start()
	}

	if len(a.cfg.Peers) > 0 {
		a.subscription = bus.Subscribe(ctx, a.cfg.Host, a.cfg.BasePort, a.cfg.PortSpan, a.cfg.Peers, a.logger)
		go a.followPeerEvents()
	}

	a.logger.Info("tonewire daemon ready",
		zap.String("service", a.cfg.ServiceName),
		zap.String("rpc_addr", a.Node.RPCAddr()),
		zap.String("engine_addr", a.cfg.Engine.Address))
	return nil
}

// followPeerEvents drains the peer subscription, logging what arrives.
func (a *App) followPeerEvents() {
	for {
		select {
		case msg, ok := <-a.subscription.Events():
			if !ok {
				return
			}
			a.logger.Info("peer event",
				zap.String("peer", msg.Peer),
				zap.String("topic", msg.Topic),
				zap.Any("data", msg.Event.Data))
		case err, ok := <-a.subscription.Errors():
			if !ok {
				return
			}
			a.logger.Warn("peer event stream error", zap.Error(err))
		}
	}
}

// Shutdown tears everything down in reverse dependency order.
func (a *App) Shutdown(ctx context.Context) {
	if a.subscription != nil {
		a.subscription.Close()
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics shutdown failed", zap.Error(err))
		}
	}
	if err := a.Node.Close(); err != nil {
		a.logger.Warn("bus shutdown failed", zap.Error(err))
	}
	if a.ownedBridge != nil {
		a.ownedBridge.Close()
	}
	a.logger.Info("tonewire daemon stopped")
}
