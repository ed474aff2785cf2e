package board

import (
	"time"

	"github.com/tonewire/tonewire/internal/connections"
	"github.com/tonewire/tonewire/internal/plugins"
)

// PluginRef is the authored form of a loaded plugin inside a pedalboard:
// enough to reload it (uri, position, parameter values) plus the instance
// id it had when the board was saved. On load, authored ids are remapped to
// whatever ids the engine mints this time.
type PluginRef struct {
	URI        string             `json:"uri"`
	InstanceID string             `json:"instance_id"`
	Position   plugins.Position   `json:"position"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Enabled    bool               `json:"enabled"`
}

// Pedalboard is the aggregate of ordered plugins, their connections, and
// the hardware I/O bound to the chain's ends. Exactly one board is current
// per process; persisted boards are independent snapshots addressed by id.
type Pedalboard struct {
	ID            string                   `json:"id"`
	Name          string                   `json:"name"`
	Description   string                   `json:"description,omitempty"`
	Plugins       []PluginRef              `json:"plugins"`
	Connections   []connections.Connection `json:"connections"`
	SystemInputs  []string                 `json:"system_inputs"`
	SystemOutputs []string                 `json:"system_outputs"`
	CreatedAt     time.Time                `json:"created_at"`
	ModifiedAt    time.Time                `json:"modified_at"`
	Metadata      map[string]interface{}   `json:"metadata,omitempty"`
}

// Snapshot is an ephemeral capture of parameter values per instance, for
// instant recall without altering routing. Snapshots are handed back to the
// caller; the core does not store them durably.
type Snapshot struct {
	Name      string                        `json:"name"`
	CreatedAt time.Time                     `json:"created_at"`
	Params    map[string]map[string]float64 `json:"params"` // instance id -> symbol -> value
}

// Summary is the listing form of a persisted pedalboard.
type Summary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	SavedAt    time.Time `json:"saved_at"`
}

// Store is the persistence the board service depends on; internal/store
// provides the disk implementation.
type Store interface {
	Save(pb *Pedalboard) error
	Load(id string) (*Pedalboard, error)
	List() ([]Summary, error)
	Delete(id string) error
	Export(id, destPath string) error
	Import(srcPath string) (*Pedalboard, error)
}
