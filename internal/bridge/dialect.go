package bridge

// The engine speaks a two-tier JSON dialect. Structured calls carry
// {"action": "audio"|"plugin", "method": <name>, ...fields}; the two
// composite connection operations have no structured equivalent and are
// sent as textual commands inside {"command": "<text>"}.
//
// Canonical method names are translated through a fixed table. Anything
// outside the table is rejected locally and never reaches the engine.

type dialect struct {
	action string // "audio" or "plugin"
	method string // method name in the engine's vocabulary
}

var methodTable = map[string]dialect{
	// Plugin tier
	"get_available_plugins": {"plugin", "list"},
	"load_plugin":           {"plugin", "load"},
	"unload_plugin":         {"plugin", "unload"},
	"get_plugin_info":       {"plugin", "get_info"},
	"set_parameter":         {"plugin", "set_parameter"},
	"get_parameter":         {"plugin", "get_parameter"},
	"set_bypass":            {"plugin", "set_bypass"},

	// Audio tier
	"get_system_ports": {"audio", "get_system_ports"},
	"get_sample_rate":  {"audio", "get_sample_rate"},
	"get_audio_state":  {"audio", "get_state"},
	"reset_audio":      {"audio", "reset"},
	"init_audio":       {"audio", "init"},
	"mute_audio":       {"audio", "mute"},
	"unmute_audio":     {"audio", "unmute"},
}

// healthCheckMethod is the cheap audio query that stands in for a health
// probe; the engine exposes no dedicated health method.
const healthCheckMethod = "get_sample_rate"
