package plugins

import "time"

// CatalogEntry describes an installable plugin as reported by the engine's
// catalog listing.
type CatalogEntry struct {
	URI     string `json:"uri"`
	Name    string `json:"name"`
	Brand   string `json:"brand,omitempty"`
	Version string `json:"version,omitempty"`
}

// Parameter describes one addressable control of a loaded instance.
type Parameter struct {
	Symbol  string  `json:"symbol"`
	Name    string  `json:"name,omitempty"`
	Min     float64 `json:"min,omitempty"`
	Max     float64 `json:"max,omitempty"`
	Default float64 `json:"default,omitempty"`
}

// Position is pass-through UI metadata; the orchestrator never interprets it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Instance is one loaded occurrence of a plugin. The instance id is minted
// by the engine and never invented locally.
type Instance struct {
	URI                 string               `json:"uri"`
	InstanceID          string               `json:"instance_id"`
	Name                string               `json:"name"`
	Brand               string               `json:"brand,omitempty"`
	Version             string               `json:"version,omitempty"`
	Ports               []string             `json:"ports,omitempty"`
	Parameters          map[string]float64   `json:"parameters"`           // current values
	AvailableParameters map[string]Parameter `json:"available_parameters"` // addressable subset
	Position            Position             `json:"position"`
	Enabled             bool                 `json:"enabled"`
	CreatedAt           time.Time            `json:"created_at"`
}

// HasParameter reports whether symbol is addressable on this instance.
func (i *Instance) HasParameter(symbol string) bool {
	_, ok := i.AvailableParameters[symbol]
	return ok
}
