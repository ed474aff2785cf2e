package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level tonewire.yml configuration.
type Config struct {
	ServiceName string         `yaml:"service_name"`        // Bus name of this process (ports derive from it)
	Host        string         `yaml:"host,omitempty"`      // Interface peers dial, default 127.0.0.1
	BasePort    int            `yaml:"base_port,omitempty"` // Bottom of the RPC port range, default 5555
	PortSpan    int            `yaml:"port_span,omitempty"` // Width of the RPC range, default 1000
	Peers       []string       `yaml:"peers,omitempty"`     // Service names whose events this process subscribes to
	Engine      EngineConfig   `yaml:"engine"`
	Storage     StorageConfig  `yaml:"storage"`
	Metrics     *MetricsConfig `yaml:"metrics,omitempty"`
}

// EngineConfig specifies how to reach the audio engine and how patiently to
// treat it.
type EngineConfig struct {
	Address        string         `yaml:"address"`                   // host:port of the engine socket
	CallTimeout    string         `yaml:"call_timeout,omitempty"`    // Per-call deadline, default 5s
	ReconnectDelay string         `yaml:"reconnect_delay,omitempty"` // Pause between redial attempts, default 2s
	LoadGate       LoadGateConfig `yaml:"load_gate,omitempty"`

	callTimeout    time.Duration
	reconnectDelay time.Duration
}

// LoadGateConfig bounds the post-load poll that confirms a freshly loaded
// plugin instance is actually queryable before it is trusted.
type LoadGateConfig struct {
	Attempts int    `yaml:"attempts,omitempty"` // Default 20
	Interval string `yaml:"interval,omitempty"` // Default 500ms

	interval time.Duration
}

// StorageConfig specifies where saved pedalboards live.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// MetricsConfig enables the Prometheus endpoint when present.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Listen address, e.g. ":9090"
}

// Validate performs strict validation and fills in defaults.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.BasePort == 0 {
		c.BasePort = 5555
	}
	if c.BasePort < 1024 || c.BasePort > 65535 {
		return fmt.Errorf("base_port out of range: %d", c.BasePort)
	}
	if c.PortSpan == 0 {
		c.PortSpan = 1000
	}
	if c.PortSpan < 1 {
		return fmt.Errorf("port_span must be >= 1, got %d", c.PortSpan)
	}
	if c.BasePort+2*c.PortSpan > 65535 {
		return fmt.Errorf("base_port %d + 2*port_span %d exceeds the port space", c.BasePort, c.PortSpan)
	}

	if err := c.Engine.validate(); err != nil {
		return err
	}

	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}

	if c.Metrics != nil && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics is configured")
	}

	return nil
}

func (e *EngineConfig) validate() error {
	if e.Address == "" {
		return fmt.Errorf("engine.address is required")
	}

	var err error
	if e.callTimeout, err = parseDuration("engine.call_timeout", e.CallTimeout, 5*time.Second); err != nil {
		return err
	}
	if e.reconnectDelay, err = parseDuration("engine.reconnect_delay", e.ReconnectDelay, 2*time.Second); err != nil {
		return err
	}

	if e.LoadGate.Attempts == 0 {
		e.LoadGate.Attempts = 20
	}
	if e.LoadGate.Attempts < 1 {
		return fmt.Errorf("engine.load_gate.attempts must be >= 1, got %d", e.LoadGate.Attempts)
	}
	if e.LoadGate.interval, err = parseDuration("engine.load_gate.interval", e.LoadGate.Interval, 500*time.Millisecond); err != nil {
		return err
	}

	return nil
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q (use Go duration format like '5s' or '500ms')", field, value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, d)
	}
	return d, nil
}

// GetCallTimeout returns the parsed per-call engine deadline. Valid after Validate.
func (e *EngineConfig) GetCallTimeout() time.Duration { return e.callTimeout }

// GetReconnectDelay returns the parsed redial pause. Valid after Validate.
func (e *EngineConfig) GetReconnectDelay() time.Duration { return e.reconnectDelay }

// GetInterval returns the parsed poll interval. Valid after Validate.
func (g *LoadGateConfig) GetInterval() time.Duration { return g.interval }

// Load reads and validates tonewire.yml from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a validated configuration with every field at its default,
// rooted at the given storage directory. Used when no config file is supplied.
func Default(storageDir string) (*Config, error) {
	config := &Config{
		ServiceName: "pedal_host",
		Engine: EngineConfig{
			Address: "127.0.0.1:5115",
		},
		Storage: StorageConfig{Dir: storageDir},
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
