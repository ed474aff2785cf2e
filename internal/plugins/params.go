package plugins

// Parameter metadata parsing
//
// Engines disagree about where parameter descriptors live in a plugin's
// info blob. The fields are tried in precedence order and the first
// non-empty one wins:
//
//	1. "parameters" — the modern shape, a list of descriptor objects
//	2. "controls"   — older engines expose control ports here
//	3. "ports"      — oldest shape, descriptors mixed into the port list
//
// A descriptor is accepted when it is flagged valid, or when it simply
// carries a symbol or a name. Whichever of symbol/name is missing falls
// back to the other.

var parameterFields = []string{"parameters", "controls", "ports"}

// parseParameters extracts addressable parameters from a plugin info blob.
// Returns an empty map, never nil, when nothing usable is found.
func parseParameters(info map[string]interface{}) map[string]Parameter {
	params := make(map[string]Parameter)
	for _, field := range parameterFields {
		entries, ok := info[field].([]interface{})
		if !ok || len(entries) == 0 {
			continue
		}
		for _, raw := range entries {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if p, ok := parseDescriptor(entry); ok {
				params[p.Symbol] = p
			}
		}
		if len(params) > 0 {
			break
		}
	}
	return params
}

// parseDescriptor accepts a single descriptor entry, permissively.
func parseDescriptor(entry map[string]interface{}) (Parameter, bool) {
	symbol, _ := entry["symbol"].(string)
	name, _ := entry["name"].(string)

	if valid, flagged := entry["valid"].(bool); flagged && !valid {
		return Parameter{}, false
	}
	if symbol == "" && name == "" {
		return Parameter{}, false
	}
	if symbol == "" {
		symbol = name
	}
	if name == "" {
		name = symbol
	}

	p := Parameter{Symbol: symbol, Name: name}
	p.Min, _ = entry["min"].(float64)
	p.Max, _ = entry["max"].(float64)
	if def, ok := entry["default"].(float64); ok {
		p.Default = def
	}
	return p, true
}
