// Package board owns the current pedalboard aggregate: creation, loading
// with hardware reconciliation, saving, and snapshots. The connection
// service mirrors its edge set in through MirrorConnections; nothing else
// writes the aggregate from outside.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonewire/tonewire/internal/bridge"
	"github.com/tonewire/tonewire/internal/connections"
	"github.com/tonewire/tonewire/internal/plugins"
	"github.com/tonewire/tonewire/pkg/wire"
)

// ErrNoCurrent is returned by operations that require a current pedalboard.
var ErrNoCurrent = errors.New("no current pedalboard")

// Default stereo pair used when hardware discovery fails or comes back
// empty. System I/O lists are never left empty.
var (
	DefaultInputs  = []string{"system:capture_1", "system:capture_2"}
	DefaultOutputs = []string{"system:playback_1", "system:playback_2"}
)

// Reconciliation strategies reported in the system_io_reconciled event.
const (
	StrategyAdoptedCurrent  = "adopted_current"  // no recorded I/O, current hardware adopted
	StrategyReplacedCurrent = "replaced_current" // recorded ports missing, whole set replaced
	StrategyKeptRecorded    = "kept_recorded"    // recorded I/O fully present, kept verbatim
)

// PluginHost is the plugin-manager surface the board service consumes.
type PluginHost interface {
	Load(ctx context.Context, uri string, x, y float64, params map[string]float64) (*plugins.Instance, error)
	List() []*plugins.Instance
	SetParameter(ctx context.Context, instanceID, symbol string, value float64) error
	ClearAll(ctx context.Context) int
}

// Router is the connection-service surface the board service consumes.
type Router interface {
	Create(ctx context.Context, sourceInstance, sourcePort, targetInstance, targetPort string) (connections.Connection, error)
	List() []connections.Connection
	ClearAll(ctx context.Context) int
}

// EventPublisher is the best-effort event sink.
type EventPublisher interface {
	Publish(topic string, data map[string]interface{})
}

// LoadReport describes what happened during a pedalboard load. Individual
// plugin, connection, and wiring failures are collected, not fatal.
type LoadReport struct {
	Strategy           string            `json:"strategy"`
	MissingPorts       []string          `json:"missing_ports,omitempty"`
	InstanceMap        map[string]string `json:"instance_map"` // authored id -> engine id
	PluginFailures     []string          `json:"plugin_failures,omitempty"`
	ConnectionFailures []string          `json:"connection_failures,omitempty"`
	WireFailures       []string          `json:"wire_failures,omitempty"`
	WireAttempts       int               `json:"wire_attempts"`
}

// Service owns the current pedalboard.
//
// Locking: opMu serializes the multi-step operations (create, load, save,
// system wiring) against each other; stateMu guards the current-board
// pointer. Router calls are never made while stateMu is held, because the
// router mirrors its edge set back in through MirrorConnections.
type Service struct {
	engine  bridge.Caller
	plugins PluginHost
	router  Router
	store   Store
	events  EventPublisher
	logger  *zap.Logger

	opMu    sync.Mutex
	stateMu sync.Mutex
	current *Pedalboard
}

// NewService builds a pedalboard service.
func NewService(engine bridge.Caller, host PluginHost, router Router, store Store, events EventPublisher, logger *zap.Logger) *Service {
	return &Service{
		engine:  engine,
		plugins: host,
		router:  router,
		store:   store,
		events:  events,
		logger:  logger.With(zap.String("component", "pedalboard_service")),
	}
}

// discoverSystemIO asks the engine for the current hardware ports, falling
// back to the default stereo pair when the call fails or returns nothing.
func (s *Service) discoverSystemIO(ctx context.Context) (inputs, outputs []string) {
	result := s.engine.Call(ctx, "get_system_ports", nil)
	if result.Success {
		inputs = result.Strings("inputs")
		outputs = result.Strings("outputs")
	} else {
		s.logger.Warn("hardware discovery failed, using default stereo pair", zap.String("error", result.Err))
	}
	if len(inputs) == 0 {
		inputs = append([]string(nil), DefaultInputs...)
	}
	if len(outputs) == 0 {
		outputs = append([]string(nil), DefaultOutputs...)
	}
	return inputs, outputs
}

// Create replaces the current pedalboard wholesale: hardware I/O is
// discovered fresh and the connection set is cleared.
func (s *Service) Create(ctx context.Context, name, description string) (*Pedalboard, error) {
	if name == "" {
		return nil, fmt.Errorf("pedalboard name cannot be empty")
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.router.ClearAll(ctx)
	inputs, outputs := s.discoverSystemIO(ctx)

	now := time.Now().UTC()
	pb := &Pedalboard{
		ID:            uuid.NewString(),
		Name:          name,
		Description:   description,
		Plugins:       []PluginRef{},
		Connections:   []connections.Connection{},
		SystemInputs:  inputs,
		SystemOutputs: outputs,
		CreatedAt:     now,
		ModifiedAt:    now,
	}

	s.stateMu.Lock()
	s.current = pb
	s.stateMu.Unlock()

	s.events.Publish(wire.TopicPedalboardCreated, map[string]interface{}{
		"pedalboard_id": pb.ID,
		"name":          pb.Name,
	})
	s.logger.Info("pedalboard created", zap.String("id", pb.ID), zap.String("name", name))
	return pb.clone(), nil
}

// reconcileSystemIO applies the all-or-nothing strategy: adopt current
// hardware when nothing was recorded, replace the entire recorded set when
// any recorded port is missing, otherwise keep the recorded set verbatim.
// Partial merges are never attempted.
func reconcileSystemIO(recordedIn, recordedOut, currentIn, currentOut []string) (inputs, outputs []string, strategy string, missing []string) {
	if len(recordedIn) == 0 && len(recordedOut) == 0 {
		return currentIn, currentOut, StrategyAdoptedCurrent, nil
	}

	available := make(map[string]bool, len(currentIn)+len(currentOut))
	for _, p := range currentIn {
		available[p] = true
	}
	for _, p := range currentOut {
		available[p] = true
	}
	for _, p := range recordedIn {
		if !available[p] {
			missing = append(missing, p)
		}
	}
	for _, p := range recordedOut {
		if !available[p] {
			missing = append(missing, p)
		}
	}

	if len(missing) > 0 {
		return currentIn, currentOut, StrategyReplacedCurrent, missing
	}
	return recordedIn, recordedOut, StrategyKeptRecorded, nil
}

// LoadBoard makes the given pedalboard current: reconciles its recorded
// system I/O against discoverable hardware, reloads every authored plugin
// (remapping authored instance ids to freshly minted engine ids),
// recreates the authored connections, and wires the resolved system I/O to
// the chain's ends. Plugin and connection failures are logged and
// collected; only a completely unusable payload is an error.
func (s *Service) LoadBoard(ctx context.Context, pb *Pedalboard) (*LoadReport, error) {
	if pb == nil || pb.ID == "" {
		return nil, fmt.Errorf("pedalboard payload missing id")
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	currentIn, currentOut := s.discoverSystemIO(ctx)
	inputs, outputs, strategy, missing := reconcileSystemIO(
		pb.SystemInputs, pb.SystemOutputs, currentIn, currentOut)

	s.events.Publish(wire.TopicSystemIOReconciled, map[string]interface{}{
		"pedalboard_id": pb.ID,
		"strategy":      strategy,
		"missing_ports": missing,
	})

	// Loading replaces the whole session: clear live state first.
	s.router.ClearAll(ctx)
	s.plugins.ClearAll(ctx)

	report := &LoadReport{
		Strategy:     strategy,
		MissingPorts: missing,
		InstanceMap:  make(map[string]string, len(pb.Plugins)),
	}

	loaded := &Pedalboard{
		ID:            pb.ID,
		Name:          pb.Name,
		Description:   pb.Description,
		Plugins:       make([]PluginRef, 0, len(pb.Plugins)),
		Connections:   []connections.Connection{},
		SystemInputs:  inputs,
		SystemOutputs: outputs,
		CreatedAt:     pb.CreatedAt,
		ModifiedAt:    pb.ModifiedAt,
		Metadata:      pb.Metadata,
	}

	for _, ref := range pb.Plugins {
		inst, err := s.plugins.Load(ctx, ref.URI, ref.Position.X, ref.Position.Y, ref.Parameters)
		if err != nil {
			s.logger.Warn("plugin failed to load, continuing",
				zap.String("uri", ref.URI), zap.Error(err))
			report.PluginFailures = append(report.PluginFailures, fmt.Sprintf("%s: %v", ref.URI, err))
			continue
		}
		if ref.InstanceID != "" {
			report.InstanceMap[ref.InstanceID] = inst.InstanceID
		}
		newRef := ref
		newRef.InstanceID = inst.InstanceID
		loaded.Plugins = append(loaded.Plugins, newRef)
	}

	s.stateMu.Lock()
	s.current = loaded
	s.stateMu.Unlock()

	for _, conn := range pb.Connections {
		src, okSrc := report.InstanceMap[conn.SourceInstance]
		tgt, okTgt := report.InstanceMap[conn.TargetInstance]
		if !okSrc || !okTgt {
			report.ConnectionFailures = append(report.ConnectionFailures,
				fmt.Sprintf("%s -> %s: endpoint instance not loaded", conn.SourceEndpoint(), conn.TargetEndpoint()))
			continue
		}
		if _, err := s.router.Create(ctx, src, conn.SourcePort, tgt, conn.TargetPort); err != nil {
			s.logger.Warn("connection failed to recreate, continuing",
				zap.String("source", conn.SourceEndpoint()), zap.String("target", conn.TargetEndpoint()), zap.Error(err))
			report.ConnectionFailures = append(report.ConnectionFailures,
				fmt.Sprintf("%s -> %s: %v", conn.SourceEndpoint(), conn.TargetEndpoint(), err))
		}
	}

	var chain []string
	for _, ref := range loaded.Plugins {
		chain = append(chain, ref.InstanceID)
	}
	report.WireAttempts, report.WireFailures = s.wireSystemIO(ctx, loaded.SystemInputs, loaded.SystemOutputs, chain)

	s.events.Publish(wire.TopicPedalboardLoaded, map[string]interface{}{
		"pedalboard_id": pb.ID,
		"name":          pb.Name,
		"strategy":      strategy,
	})
	return report, nil
}

// SetupSystemIO wires the current board's system I/O to the ends of the
// live plugin chain. The chain comes from the plugin manager, not the
// board's authored plugin list, so instances loaded after the board was
// created or saved are seen. Returns the number of wire attempts and the
// collected failures.
func (s *Service) SetupSystemIO(ctx context.Context) (int, []string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stateMu.Lock()
	pb := s.current
	var inputs, outputs []string
	if pb != nil {
		inputs = append([]string(nil), pb.SystemInputs...)
		outputs = append([]string(nil), pb.SystemOutputs...)
	}
	s.stateMu.Unlock()
	if pb == nil {
		return 0, nil, ErrNoCurrent
	}

	var chain []string
	for _, inst := range s.plugins.List() {
		chain = append(chain, inst.InstanceID)
	}

	attempts, failures := s.wireSystemIO(ctx, inputs, outputs, chain)
	return attempts, failures, nil
}

// wireSystemIO connects up to two system inputs to the first instance's
// in_1/in_2 and up to two system outputs from the last instance's
// out_1/out_2. Every attempt is independent; failures are collected, never
// fatal.
func (s *Service) wireSystemIO(ctx context.Context, inputs, outputs, chain []string) (attempts int, failures []string) {
	if len(chain) == 0 {
		return 0, nil
	}
	first := chain[0]
	last := chain[len(chain)-1]

	wireOne := func(source, target string) {
		attempts++
		if result := s.engine.Connect(ctx, source, target); !result.Success {
			s.logger.Warn("system wire failed",
				zap.String("source", source), zap.String("target", target), zap.String("error", result.Err))
			failures = append(failures, fmt.Sprintf("%s -> %s: %s", source, target, result.Err))
		}
	}

	for i, input := range inputs {
		if i >= 2 {
			break
		}
		wireOne(input, fmt.Sprintf("%s:in_%d", first, i+1))
	}
	for i, output := range outputs {
		if i >= 2 {
			break
		}
		wireOne(fmt.Sprintf("%s:out_%d", last, i+1), output)
	}
	return attempts, failures
}

// Save snapshots the live plugin and connection state into the current
// pedalboard, stamps it, and persists it atomically.
func (s *Service) Save(ctx context.Context) (*Pedalboard, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	refs := make([]PluginRef, 0)
	for _, inst := range s.plugins.List() {
		params := make(map[string]float64, len(inst.Parameters))
		for symbol, value := range inst.Parameters {
			params[symbol] = value
		}
		refs = append(refs, PluginRef{
			URI:        inst.URI,
			InstanceID: inst.InstanceID,
			Position:   inst.Position,
			Parameters: params,
			Enabled:    inst.Enabled,
		})
	}
	conns := s.router.List()

	s.stateMu.Lock()
	if s.current == nil {
		s.stateMu.Unlock()
		return nil, ErrNoCurrent
	}
	s.current.Plugins = refs
	s.current.Connections = conns
	s.current.ModifiedAt = time.Now().UTC()
	snapshot := s.current.clone()
	s.stateMu.Unlock()

	if err := s.store.Save(snapshot); err != nil {
		return nil, fmt.Errorf("failed to persist pedalboard %s: %w", snapshot.ID, err)
	}

	s.events.Publish(wire.TopicPedalboardSaved, map[string]interface{}{
		"pedalboard_id": snapshot.ID,
		"name":          snapshot.Name,
	})
	return snapshot, nil
}

// Current returns a copy of the current pedalboard, or ErrNoCurrent.
func (s *Service) Current() (*Pedalboard, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.current == nil {
		return nil, ErrNoCurrent
	}
	return s.current.clone(), nil
}

// MirrorConnections implements the narrow write path granted to the
// connection service: only the connections subset of the current board.
func (s *Service) MirrorConnections(conns []connections.Connection) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.current == nil {
		return
	}
	if conns == nil {
		conns = []connections.Connection{}
	}
	s.current.Connections = conns
}

// ClearCurrent drops the current pedalboard. Used by session reset.
func (s *Service) ClearCurrent() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.current = nil
}

// CreateSnapshot captures every loaded instance's parameter values.
func (s *Service) CreateSnapshot(name string) *Snapshot {
	snap := &Snapshot{
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Params:    make(map[string]map[string]float64),
	}
	for _, inst := range s.plugins.List() {
		values := make(map[string]float64, len(inst.Parameters))
		for symbol, value := range inst.Parameters {
			values[symbol] = value
		}
		snap.Params[inst.InstanceID] = values
	}
	return snap
}

// ApplySnapshot replays captured parameter values, tolerating and counting
// individual failures without aborting the batch.
func (s *Service) ApplySnapshot(ctx context.Context, snap *Snapshot) (applied, failed int) {
	for instanceID, values := range snap.Params {
		for symbol, value := range values {
			if err := s.plugins.SetParameter(ctx, instanceID, symbol, value); err != nil {
				s.logger.Warn("snapshot parameter failed",
					zap.String("instance", instanceID), zap.String("symbol", symbol), zap.Error(err))
				failed++
				continue
			}
			applied++
		}
	}
	return applied, failed
}

// clone copies the aggregate so callers cannot mutate the service's state.
func (pb *Pedalboard) clone() *Pedalboard {
	out := *pb
	out.Plugins = append([]PluginRef(nil), pb.Plugins...)
	out.Connections = append([]connections.Connection(nil), pb.Connections...)
	out.SystemInputs = append([]string(nil), pb.SystemInputs...)
	out.SystemOutputs = append([]string(nil), pb.SystemOutputs...)
	return &out
}
