package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tonewire/tonewire/internal/board"
	"github.com/tonewire/tonewire/internal/bus"
)

// registerHandlers builds the explicit method table. Every operation the
// daemon serves is listed here; handler discovery by convention does not
// exist.
func (a *App) registerHandlers() error {
	handlers := map[string]bus.Handler{
		"health": a.handleHealth,

		"get_available_plugins": a.handleGetAvailablePlugins,
		"load_plugin":           a.handleLoadPlugin,
		"unload_plugin":         a.handleUnloadPlugin,
		"enable_plugin":         a.handleEnablePlugin,
		"set_parameter":         a.handleSetParameter,
		"get_parameter":         a.handleGetParameter,

		"create_connection": a.handleCreateConnection,
		"remove_connection": a.handleRemoveConnection,
		"get_connections":   a.handleGetConnections,

		"create_pedalboard":           a.handleCreatePedalboard,
		"load_pedalboard":             a.handleLoadPedalboard,
		"save_pedalboard":             a.handleSavePedalboard,
		"list_pedalboards":            a.handleListPedalboards,
		"get_pedalboard":              a.handleGetPedalboard,
		"delete_pedalboard":           a.handleDeletePedalboard,
		"export_pedalboard":           a.handleExportPedalboard,
		"import_pedalboard":           a.handleImportPedalboard,
		"create_snapshot":             a.handleCreateSnapshot,
		"apply_snapshot":              a.handleApplySnapshot,
		"setup_system_io_connections": a.handleSetupSystemIO,

		"reset_session":      a.handleResetSession,
		"initialize_session": a.handleInitializeSession,
		"mute_session":       a.handleMuteSession,
		"unmute_session":     a.handleUnmuteSession,
		"get_session_state":  a.handleGetSessionState,
	}
	for method, handler := range handlers {
		if err := a.Node.Register(method, handler); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) handleHealth(context.Context, map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"status":           "ok",
		"service":          a.cfg.ServiceName,
		"bridge_connected": a.engine.Connected(),
	}, nil
}

func (a *App) handleGetAvailablePlugins(context.Context, map[string]interface{}) (map[string]interface{}, error) {
	catalog, err := toList(a.Plugins.AvailablePlugins())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"plugins": catalog}, nil
}

func (a *App) handleLoadPlugin(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	uri, err := strParam(params, "uri")
	if err != nil {
		return nil, err
	}
	x := optFloatParam(params, "x")
	y := optFloatParam(params, "y")
	initial, err := floatMapParam(params, "parameters")
	if err != nil {
		return nil, err
	}

	inst, err := a.Plugins.Load(ctx, uri, x, y, initial)
	if err != nil {
		return nil, err
	}
	return toMap(inst)
}

func (a *App) handleUnloadPlugin(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	id, err := strParam(params, "instance_id")
	if err != nil {
		return nil, err
	}
	if err := a.Plugins.Unload(ctx, id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"instance_id": id, "unloaded": true}, nil
}

func (a *App) handleEnablePlugin(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	id, err := strParam(params, "instance_id")
	if err != nil {
		return nil, err
	}
	enabled, err := boolParam(params, "enabled")
	if err != nil {
		return nil, err
	}
	if err := a.Plugins.SetEnabled(ctx, id, enabled); err != nil {
		return nil, err
	}
	return map[string]interface{}{"instance_id": id, "enabled": enabled}, nil
}

func (a *App) handleSetParameter(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	id, err := strParam(params, "instance_id")
	if err != nil {
		return nil, err
	}
	symbol, err := strParam(params, "symbol")
	if err != nil {
		return nil, err
	}
	value, err := floatParam(params, "value")
	if err != nil {
		return nil, err
	}
	if err := a.Plugins.SetParameter(ctx, id, symbol, value); err != nil {
		return nil, err
	}
	return map[string]interface{}{"instance_id": id, "symbol": symbol, "value": value}, nil
}

func (a *App) handleGetParameter(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	id, err := strParam(params, "instance_id")
	if err != nil {
		return nil, err
	}
	symbol, err := strParam(params, "symbol")
	if err != nil {
		return nil, err
	}
	value, err := a.Plugins.GetParameter(ctx, id, symbol)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"instance_id": id, "symbol": symbol, "value": value}, nil
}

func (a *App) handleCreateConnection(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	sourceInstance, err := strParam(params, "source_instance")
	if err != nil {
		return nil, err
	}
	sourcePort, err := strParam(params, "source_port")
	if err != nil {
		return nil, err
	}
	targetInstance, err := strParam(params, "target_instance")
	if err != nil {
		return nil, err
	}
	targetPort, err := strParam(params, "target_port")
	if err != nil {
		return nil, err
	}

	conn, err := a.Connections.Create(ctx, sourceInstance, sourcePort, targetInstance, targetPort)
	if err != nil {
		return nil, err
	}
	return toMap(conn)
}

func (a *App) handleRemoveConnection(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	id, err := strParam(params, "connection_id")
	if err != nil {
		return nil, err
	}
	if err := a.Connections.Remove(ctx, id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"connection_id": id, "removed": true}, nil
}

func (a *App) handleGetConnections(context.Context, map[string]interface{}) (map[string]interface{}, error) {
	conns, err := toList(a.Connections.List())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"connections": conns}, nil
}

func (a *App) handleCreatePedalboard(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	name, err := strParam(params, "name")
	if err != nil {
		return nil, err
	}
	pb, err := a.Boards.Create(ctx, name, optStrParam(params, "description"))
	if err != nil {
		return nil, err
	}
	return toMap(pb)
}

func (a *App) handleLoadPedalboard(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	id, err := strParam(params, "pedalboard_id")
	if err != nil {
		return nil, err
	}
	pb, err := a.Store.Load(id)
	if err != nil {
		return nil, err
	}
	report, err := a.Boards.LoadBoard(ctx, pb)
	if err != nil {
		return nil, err
	}
	result, err := toMap(report)
	if err != nil {
		return nil, err
	}
	result["pedalboard_id"] = pb.ID
	result["name"] = pb.Name
	return result, nil
}

func (a *App) handleSavePedalboard(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	pb, err := a.Boards.Save(ctx)
	if err != nil {
		return nil, err
	}
	return toMap(pb)
}

func (a *App) handleListPedalboards(context.Context, map[string]interface{}) (map[string]interface{}, error) {
	summaries, err := a.Store.List()
	if err != nil {
		return nil, err
	}
	list, err := toList(summaries)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"pedalboards": list}, nil
}

// handleGetPedalboard returns a persisted pedalboard when pedalboard_id is
// given, otherwise the current one.
func (a *App) handleGetPedalboard(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	if id := optStrParam(params, "pedalboard_id"); id != "" {
		pb, err := a.Store.Load(id)
		if err != nil {
			return nil, err
		}
		return toMap(pb)
	}
	pb, err := a.Boards.Current()
	if err != nil {
		return nil, err
	}
	return toMap(pb)
}

func (a *App) handleDeletePedalboard(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	id, err := strParam(params, "pedalboard_id")
	if err != nil {
		return nil, err
	}
	if err := a.Store.Delete(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"pedalboard_id": id, "deleted": true}, nil
}

func (a *App) handleExportPedalboard(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	id, err := strParam(params, "pedalboard_id")
	if err != nil {
		return nil, err
	}
	path, err := strParam(params, "path")
	if err != nil {
		return nil, err
	}
	if err := a.Store.Export(id, path); err != nil {
		return nil, err
	}
	return map[string]interface{}{"pedalboard_id": id, "path": path}, nil
}

func (a *App) handleImportPedalboard(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	path, err := strParam(params, "path")
	if err != nil {
		return nil, err
	}
	pb, err := a.Store.Import(path)
	if err != nil {
		return nil, err
	}
	return toMap(pb)
}

func (a *App) handleCreateSnapshot(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	name, err := strParam(params, "name")
	if err != nil {
		return nil, err
	}
	snap := a.Boards.CreateSnapshot(name)
	a.snapshots[name] = snap
	return map[string]interface{}{"name": name, "instances": len(snap.Params)}, nil
}

// handleApplySnapshot restores parameter values either from a capture held
// by this process (by name) or from an inline "params" capture shaped as
// {instance id -> {symbol -> value}}, so callers can replay a snapshot
// taken elsewhere.
func (a *App) handleApplySnapshot(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	if raw, ok := params["params"]; ok {
		snap, err := snapshotFromCapture(raw)
		if err != nil {
			return nil, err
		}
		applied, failed := a.Boards.ApplySnapshot(ctx, snap)
		return map[string]interface{}{"applied": applied, "failed": failed}, nil
	}

	name, err := strParam(params, "name")
	if err != nil {
		return nil, err
	}
	snap, ok := a.snapshots[name]
	if !ok {
		return nil, fmt.Errorf("snapshot %q not found", name)
	}
	applied, failed := a.Boards.ApplySnapshot(ctx, snap)
	return map[string]interface{}{"name": name, "applied": applied, "failed": failed}, nil
}

func snapshotFromCapture(raw interface{}) (*board.Snapshot, error) {
	instances, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("parameter params must be an object of instances")
	}
	snap := &board.Snapshot{Params: make(map[string]map[string]float64, len(instances))}
	for instanceID, v := range instances {
		values, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("params for instance %q must be an object of symbols", instanceID)
		}
		captured := make(map[string]float64, len(values))
		for symbol, value := range values {
			f, ok := value.(float64)
			if !ok {
				return nil, fmt.Errorf("value for %s/%s must be a number", instanceID, symbol)
			}
			captured[symbol] = f
		}
		snap.Params[instanceID] = captured
	}
	return snap, nil
}

func (a *App) handleSetupSystemIO(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	attempts, failures, err := a.Boards.SetupSystemIO(ctx)
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{"attempts": attempts}
	if len(failures) > 0 {
		result["failures"] = failures
	}
	return result, nil
}

func (a *App) handleResetSession(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	if err := a.Session.Reset(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"reset": true}, nil
}

func (a *App) handleInitializeSession(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	if err := a.Session.Initialize(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"initialized": true}, nil
}

func (a *App) handleMuteSession(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	if err := a.Session.Mute(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"muted": true}, nil
}

func (a *App) handleUnmuteSession(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	if err := a.Session.Unmute(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"muted": false}, nil
}

func (a *App) handleGetSessionState(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	return toMap(a.Session.GetState(ctx))
}

// Param extraction. Bus params arrive as decoded JSON, so numbers are
// float64 and nested maps are map[string]interface{}.

func strParam(params map[string]interface{}, key string) (string, error) {
	value, ok := params[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return value, nil
}

func optStrParam(params map[string]interface{}, key string) string {
	value, _ := params[key].(string)
	return value
}

func floatParam(params map[string]interface{}, key string) (float64, error) {
	value, ok := params[key].(float64)
	if !ok {
		return 0, fmt.Errorf("missing or non-numeric parameter %q", key)
	}
	return value, nil
}

func optFloatParam(params map[string]interface{}, key string) float64 {
	value, _ := params[key].(float64)
	return value
}

func boolParam(params map[string]interface{}, key string) (bool, error) {
	value, ok := params[key].(bool)
	if !ok {
		return false, fmt.Errorf("missing or non-boolean parameter %q", key)
	}
	return value, nil
}

func floatMapParam(params map[string]interface{}, key string) (map[string]float64, error) {
	raw, present := params[key]
	if !present || raw == nil {
		return nil, nil
	}
	entries, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("parameter %q must be an object of numbers", key)
	}
	out := make(map[string]float64, len(entries))
	for name, value := range entries {
		number, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("parameter %q: %q is not a number", key, name)
		}
		out[name] = number
	}
	return out, nil
}

// toMap converts any JSON-serializable value into a reply result map.
func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize result: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to shape result: %w", err)
	}
	return out, nil
}

// toList converts a slice of JSON-serializable values into reply form.
func toList(v interface{}) ([]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize result: %w", err)
	}
	var out []interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to shape result: %w", err)
	}
	return out, nil
}
