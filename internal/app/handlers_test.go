package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tonewire/tonewire/internal/config"
	"github.com/tonewire/tonewire/internal/testutil"
)

func newTestApp(t *testing.T) (*App, *testutil.FakeEngine) {
	t.Helper()
	cfg, err := config.Default(t.TempDir())
	require.NoError(t, err)

	engine := testutil.NewFakeEngine()
	application, err := assemble(cfg, zap.NewNop(), engine)
	require.NoError(t, err)
	return application, engine
}

// scriptOnePlugin makes the fake engine expose one loadable plugin.
func scriptOnePlugin(engine *testutil.FakeEngine) {
	engine.Reply("get_available_plugins", map[string]interface{}{
		"plugins": []interface{}{
			map[string]interface{}{"uri": "http://example.org/drive", "name": "Drive", "brand": "Example", "version": "1.0"},
		},
	})
	engine.Reply("load_plugin", map[string]interface{}{"instance_id": "inst-1"})
	engine.Reply("get_plugin_info", map[string]interface{}{
		"parameters": []interface{}{
			map[string]interface{}{"symbol": "gain", "name": "Gain", "valid": true, "min": 0.0, "max": 1.0, "default": 0.5},
		},
	})
	engine.Reply("get_system_ports", map[string]interface{}{
		"inputs":  []interface{}{"system:capture_1", "system:capture_2"},
		"outputs": []interface{}{"system:playback_1", "system:playback_2"},
	})
}

// TestHandlerTableMethodSet pins the daemon's public method surface. A
// handler added or removed without updating this list is a deliberate
// decision, not an accident.
func TestHandlerTableMethodSet(t *testing.T) {
	application, _ := newTestApp(t)

	expected := []string{
		"apply_snapshot",
		"create_connection",
		"create_pedalboard",
		"create_snapshot",
		"delete_pedalboard",
		"enable_plugin",
		"export_pedalboard",
		"get_available_plugins",
		"get_connections",
		"get_parameter",
		"get_pedalboard",
		"get_session_state",
		"health",
		"import_pedalboard",
		"initialize_session",
		"list_pedalboards",
		"load_pedalboard",
		"load_plugin",
		"mute_session",
		"remove_connection",
		"reset_session",
		"save_pedalboard",
		"set_parameter",
		"setup_system_io_connections",
		"unload_plugin",
		"unmute_session",
	}
	assert.Equal(t, expected, application.Node.Methods())
}

func TestHealthHandler(t *testing.T) {
	application, _ := newTestApp(t)

	result, err := application.handleHealth(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result["status"])
	assert.Equal(t, true, result["bridge_connected"])
}

func TestPluginWorkflowThroughHandlers(t *testing.T) {
	application, engine := newTestApp(t)
	scriptOnePlugin(engine)
	application.Plugins.Start(context.Background())
	ctx := context.Background()

	// Catalog is visible.
	catalog, err := application.handleGetAvailablePlugins(ctx, nil)
	require.NoError(t, err)
	require.Len(t, catalog["plugins"], 1)

	// A board, then a plugin with an initial parameter.
	created, err := application.handleCreatePedalboard(ctx, map[string]interface{}{"name": "Amp"})
	require.NoError(t, err)
	boardID := created["id"].(string)
	require.NotEmpty(t, boardID)

	inst, err := application.handleLoadPlugin(ctx, map[string]interface{}{
		"uri":        "http://example.org/drive",
		"x":          10.0,
		"y":          20.0,
		"parameters": map[string]interface{}{"gain": 0.8},
	})
	require.NoError(t, err)
	assert.Equal(t, "inst-1", inst["instance_id"])

	got, err := application.handleGetParameter(ctx, map[string]interface{}{
		"instance_id": "inst-1", "symbol": "gain",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.8, got["value"])

	// Save, list, reload.
	saved, err := application.handleSavePedalboard(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, boardID, saved["id"])

	list, err := application.handleListPedalboards(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list["pedalboards"], 1)

	loaded, err := application.handleLoadPedalboard(ctx, map[string]interface{}{"pedalboard_id": boardID})
	require.NoError(t, err)
	assert.Equal(t, boardID, loaded["pedalboard_id"])

	state, err := application.handleGetSessionState(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(1), state["plugins"])
}

func TestSnapshotHandlers(t *testing.T) {
	application, engine := newTestApp(t)
	scriptOnePlugin(engine)
	application.Plugins.Start(context.Background())
	ctx := context.Background()

	_, err := application.handleLoadPlugin(ctx, map[string]interface{}{"uri": "http://example.org/drive"})
	require.NoError(t, err)

	created, err := application.handleCreateSnapshot(ctx, map[string]interface{}{"name": "verse"})
	require.NoError(t, err)
	assert.Equal(t, 1, created["instances"])

	applied, err := application.handleApplySnapshot(ctx, map[string]interface{}{"name": "verse"})
	require.NoError(t, err)
	assert.Equal(t, 1, applied["applied"])
	assert.Equal(t, 0, applied["failed"])

	_, err = application.handleApplySnapshot(ctx, map[string]interface{}{"name": "chorus"})
	require.Error(t, err)
}

func TestApplySnapshotWithInlineCapture(t *testing.T) {
	application, engine := newTestApp(t)
	scriptOnePlugin(engine)
	application.Plugins.Start(context.Background())
	ctx := context.Background()

	_, err := application.handleLoadPlugin(ctx, map[string]interface{}{"uri": "http://example.org/drive"})
	require.NoError(t, err)

	// No create_snapshot first: the capture arrives inline with the call,
	// as the JSON decoder delivers it.
	applied, err := application.handleApplySnapshot(ctx, map[string]interface{}{
		"params": map[string]interface{}{
			"inst-1": map[string]interface{}{"gain": 0.8},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, applied["applied"])
	assert.Equal(t, 0, applied["failed"])

	sets := engine.CallsTo("set_parameter")
	require.NotEmpty(t, sets)

	_, err = application.handleApplySnapshot(ctx, map[string]interface{}{
		"params": map[string]interface{}{
			"inst-1": map[string]interface{}{"gain": "loud"},
		},
	})
	require.Error(t, err)
}

func TestHandlerParamValidation(t *testing.T) {
	application, _ := newTestApp(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		handler func(context.Context, map[string]interface{}) (map[string]interface{}, error)
		params  map[string]interface{}
	}{
		{"load_plugin missing uri", application.handleLoadPlugin, map[string]interface{}{}},
		{"load_plugin bad parameters", application.handleLoadPlugin, map[string]interface{}{
			"uri": "http://example.org/drive", "parameters": map[string]interface{}{"gain": "loud"},
		}},
		{"set_parameter missing value", application.handleSetParameter, map[string]interface{}{
			"instance_id": "inst-1", "symbol": "gain",
		}},
		{"enable_plugin missing flag", application.handleEnablePlugin, map[string]interface{}{
			"instance_id": "inst-1",
		}},
		{"create_connection missing port", application.handleCreateConnection, map[string]interface{}{
			"source_instance": "a", "target_instance": "b", "target_port": "in_1",
		}},
		{"create_pedalboard missing name", application.handleCreatePedalboard, map[string]interface{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.handler(ctx, tt.params)
			require.Error(t, err)
		})
	}
}
