// Package plugins tracks the plugin catalog and the table of loaded
// instances, and owns every load/unload/parameter interaction with the
// engine.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tonewire/tonewire/internal/bridge"
	"github.com/tonewire/tonewire/pkg/wire"
)

var (
	// ErrUnknownURI is returned when a load names a URI absent from the catalog.
	ErrUnknownURI = errors.New("unknown plugin uri")

	// ErrNotLoaded is returned when an operation names an instance that is
	// not in the table. A second unload of the same id gets this, never a crash.
	ErrNotLoaded = errors.New("plugin instance not loaded")

	// ErrUnknownParameter is returned before the engine is contacted when a
	// symbol is not in the instance's addressable set.
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrLoadTimeout is returned when a freshly loaded instance never became
	// queryable within the configured gate.
	ErrLoadTimeout = errors.New("plugin load timed out")
)

// EventPublisher is the best-effort event sink. Implementations must never
// block or fail the caller.
type EventPublisher interface {
	Publish(topic string, data map[string]interface{})
}

// Gate bounds the post-load poll confirming a new instance is queryable.
// The engine acknowledges loads before the instance is reliably visible to
// queries, so the ack alone cannot be trusted.
type Gate struct {
	Attempts int
	Interval time.Duration
}

// Manager owns the plugin catalog and instance table.
//
// Locking: opMu serializes multi-step mutations (load, unload, clear);
// tableMu guards the maps themselves. Read paths take only tableMu.RLock
// and are deliberately not serialized behind opMu, so listings stay
// responsive while a load gate is polling.
type Manager struct {
	engine bridge.Caller
	events EventPublisher
	logger *zap.Logger
	gate   Gate

	opMu    sync.Mutex
	tableMu sync.RWMutex
	catalog map[string]CatalogEntry
	loaded  map[string]*Instance
}

// NewManager builds a plugin manager. Call Start to fetch the catalog.
func NewManager(engine bridge.Caller, events EventPublisher, gate Gate, logger *zap.Logger) *Manager {
	if gate.Attempts <= 0 {
		gate.Attempts = 20
	}
	if gate.Interval <= 0 {
		gate.Interval = 500 * time.Millisecond
	}
	return &Manager{
		engine:  engine,
		events:  events,
		logger:  logger.With(zap.String("component", "plugin_manager")),
		gate:    gate,
		catalog: make(map[string]CatalogEntry),
		loaded:  make(map[string]*Instance),
	}
}

// Start fetches the plugin catalog once. A fetch failure degrades to an
// empty catalog; the manager still serves everything else.
func (m *Manager) Start(ctx context.Context) {
	result := m.engine.Call(ctx, "get_available_plugins", nil)
	if !result.Success {
		m.logger.Warn("catalog fetch failed, starting with empty catalog", zap.String("error", result.Err))
		return
	}

	entries, _ := result.Fields["plugins"].([]interface{})
	catalog := make(map[string]CatalogEntry, len(entries))
	for _, raw := range entries {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		uri, _ := entry["uri"].(string)
		if uri == "" {
			continue
		}
		name, _ := entry["name"].(string)
		brand, _ := entry["brand"].(string)
		version, _ := entry["version"].(string)
		catalog[uri] = CatalogEntry{URI: uri, Name: name, Brand: brand, Version: version}
	}

	m.tableMu.Lock()
	m.catalog = catalog
	m.tableMu.Unlock()
	m.logger.Info("plugin catalog ready", zap.Int("plugins", len(catalog)))
}

// AvailablePlugins returns the catalog sorted by URI.
func (m *Manager) AvailablePlugins() []CatalogEntry {
	m.tableMu.RLock()
	defer m.tableMu.RUnlock()
	out := make([]CatalogEntry, 0, len(m.catalog))
	for _, entry := range m.catalog {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Load loads a plugin by URI. The engine mints the instance id; the id is
// only trusted after the bounded poll confirms the instance answers
// queries. Initial parameter values are applied after the gate passes.
func (m *Manager) Load(ctx context.Context, uri string, x, y float64, params map[string]float64) (*Instance, error) {
	m.tableMu.RLock()
	entry, known := m.catalog[uri]
	m.tableMu.RUnlock()
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownURI, uri)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	result := m.engine.Call(ctx, "load_plugin", map[string]interface{}{"uri": uri})
	if !result.Success {
		return nil, fmt.Errorf("engine rejected load of %s: %s", uri, result.Err)
	}
	instanceID := result.String("instance_id")
	if instanceID == "" {
		return nil, fmt.Errorf("engine load of %s returned no instance id", uri)
	}

	info, err := m.awaitQueryable(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load of %s (instance %s): %w", uri, instanceID, err)
	}

	inst := &Instance{
		URI:                 uri,
		InstanceID:          instanceID,
		Name:                entry.Name,
		Brand:               entry.Brand,
		Version:             entry.Version,
		Parameters:          make(map[string]float64),
		AvailableParameters: parseParameters(info),
		Position:            Position{X: x, Y: y},
		Enabled:             true,
		CreatedAt:           time.Now().UTC(),
	}
	if ports, ok := info["audio_ports"].([]interface{}); ok {
		for _, p := range ports {
			if s, ok := p.(string); ok {
				inst.Ports = append(inst.Ports, s)
			}
		}
	}
	for symbol, p := range inst.AvailableParameters {
		inst.Parameters[symbol] = p.Default
	}

	for symbol, value := range params {
		if !inst.HasParameter(symbol) {
			m.logger.Warn("skipping unknown initial parameter",
				zap.String("instance", instanceID), zap.String("symbol", symbol))
			continue
		}
		set := m.engine.Call(ctx, "set_parameter", map[string]interface{}{
			"instance_id": instanceID, "symbol": symbol, "value": value,
		})
		if !set.Success {
			m.logger.Warn("initial parameter rejected by engine",
				zap.String("instance", instanceID), zap.String("symbol", symbol), zap.String("error", set.Err))
			continue
		}
		inst.Parameters[symbol] = value
	}

	m.tableMu.Lock()
	m.loaded[instanceID] = inst
	m.tableMu.Unlock()

	m.events.Publish(wire.TopicPluginLoaded, map[string]interface{}{
		"uri": uri, "instance_id": instanceID,
	})
	m.logger.Info("plugin loaded", zap.String("uri", uri), zap.String("instance", instanceID))
	return inst, nil
}

// awaitQueryable polls get_plugin_info until the engine answers for the new
// instance or the gate expires.
func (m *Manager) awaitQueryable(ctx context.Context, instanceID string) (map[string]interface{}, error) {
	for attempt := 0; attempt < m.gate.Attempts; attempt++ {
		result := m.engine.Call(ctx, "get_plugin_info", map[string]interface{}{"instance_id": instanceID})
		if result.Success {
			return result.Fields, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrLoadTimeout
		case <-time.After(m.gate.Interval):
		}
	}
	return nil, ErrLoadTimeout
}

// Unload removes an instance. Engine-side failure is logged but never
// blocks local removal, so the loaded view cannot get stuck behind the
// engine.
func (m *Manager) Unload(ctx context.Context, instanceID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.tableMu.RLock()
	inst, ok := m.loaded[instanceID]
	m.tableMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, instanceID)
	}

	result := m.engine.Call(ctx, "unload_plugin", map[string]interface{}{"instance_id": instanceID})
	if !result.Success {
		m.logger.Warn("engine unload failed, removing locally anyway",
			zap.String("instance", instanceID), zap.String("error", result.Err))
	}

	m.tableMu.Lock()
	delete(m.loaded, instanceID)
	m.tableMu.Unlock()

	m.events.Publish(wire.TopicPluginUnloaded, map[string]interface{}{
		"uri": inst.URI, "instance_id": instanceID,
	})
	return nil
}

// SetParameter sets one parameter value. The symbol is validated locally
// before the engine is contacted; an engine failure aborts the set.
func (m *Manager) SetParameter(ctx context.Context, instanceID, symbol string, value float64) error {
	m.tableMu.RLock()
	inst, ok := m.loaded[instanceID]
	m.tableMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, instanceID)
	}
	if !inst.HasParameter(symbol) {
		return fmt.Errorf("%w: %s on %s", ErrUnknownParameter, symbol, instanceID)
	}

	result := m.engine.Call(ctx, "set_parameter", map[string]interface{}{
		"instance_id": instanceID, "symbol": symbol, "value": value,
	})
	if !result.Success {
		return fmt.Errorf("engine rejected parameter %s on %s: %s", symbol, instanceID, result.Err)
	}

	m.tableMu.Lock()
	inst.Parameters[symbol] = value
	m.tableMu.Unlock()

	m.events.Publish(wire.TopicParameterChanged, map[string]interface{}{
		"instance_id": instanceID, "symbol": symbol, "value": value,
	})
	return nil
}

// GetParameter reads one parameter, preferring the engine's live value and
// falling back to the last locally-known value when the engine fails.
func (m *Manager) GetParameter(ctx context.Context, instanceID, symbol string) (float64, error) {
	m.tableMu.RLock()
	inst, ok := m.loaded[instanceID]
	m.tableMu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotLoaded, instanceID)
	}
	if !inst.HasParameter(symbol) {
		return 0, fmt.Errorf("%w: %s on %s", ErrUnknownParameter, symbol, instanceID)
	}

	result := m.engine.Call(ctx, "get_parameter", map[string]interface{}{
		"instance_id": instanceID, "symbol": symbol,
	})
	if result.Success {
		if value, ok := result.Float("value"); ok {
			m.tableMu.Lock()
			inst.Parameters[symbol] = value
			m.tableMu.Unlock()
			return value, nil
		}
	}

	m.tableMu.RLock()
	defer m.tableMu.RUnlock()
	return inst.Parameters[symbol], nil
}

// SetEnabled toggles an instance's bypass state.
func (m *Manager) SetEnabled(ctx context.Context, instanceID string, enabled bool) error {
	m.tableMu.RLock()
	inst, ok := m.loaded[instanceID]
	m.tableMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, instanceID)
	}

	result := m.engine.Call(ctx, "set_bypass", map[string]interface{}{
		"instance_id": instanceID, "bypass": !enabled,
	})
	if !result.Success {
		return fmt.Errorf("engine rejected bypass toggle on %s: %s", instanceID, result.Err)
	}

	m.tableMu.Lock()
	inst.Enabled = enabled
	m.tableMu.Unlock()
	return nil
}

// Get returns a loaded instance by id.
func (m *Manager) Get(instanceID string) (*Instance, bool) {
	m.tableMu.RLock()
	defer m.tableMu.RUnlock()
	inst, ok := m.loaded[instanceID]
	return inst, ok
}

// List returns the loaded instances sorted by creation time.
func (m *Manager) List() []*Instance {
	m.tableMu.RLock()
	defer m.tableMu.RUnlock()
	out := make([]*Instance, 0, len(m.loaded))
	for _, inst := range m.loaded {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the number of loaded instances.
func (m *Manager) Count() int {
	m.tableMu.RLock()
	defer m.tableMu.RUnlock()
	return len(m.loaded)
}

// ClearAll unloads every instance best-effort, tolerating individual
// failures. Returns the number of instances removed locally.
func (m *Manager) ClearAll(ctx context.Context) int {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.tableMu.Lock()
	ids := make([]string, 0, len(m.loaded))
	for id := range m.loaded {
		ids = append(ids, id)
	}
	m.tableMu.Unlock()

	for _, id := range ids {
		result := m.engine.Call(ctx, "unload_plugin", map[string]interface{}{"instance_id": id})
		if !result.Success {
			m.logger.Warn("engine unload failed during clear", zap.String("instance", id), zap.String("error", result.Err))
		}
		m.tableMu.Lock()
		delete(m.loaded, id)
		m.tableMu.Unlock()
	}
	return len(ids)
}
