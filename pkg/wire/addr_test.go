package wire

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPortDeterminism(t *testing.T) {
	// Identical names must map to identical ports on every run.
	for i := 0; i < 10; i++ {
		assert.Equal(t, RPCPort(DefaultBasePort, DefaultPortSpan, "pedal_host"),
			RPCPort(DefaultBasePort, DefaultPortSpan, "pedal_host"))
	}
}

func TestPortRanges(t *testing.T) {
	names := []string{"pedal_host", "tonectl", "session_manager", "a", ""}
	for _, name := range names {
		rpc := RPCPort(DefaultBasePort, DefaultPortSpan, name)
		pub := PublishPort(DefaultBasePort, DefaultPortSpan, name)

		assert.GreaterOrEqual(t, rpc, DefaultBasePort)
		assert.Less(t, rpc, DefaultBasePort+DefaultPortSpan)
		assert.Equal(t, rpc+DefaultPortSpan, pub)
	}
}

func TestAddrFormatting(t *testing.T) {
	rpc := RPCPort(DefaultBasePort, DefaultPortSpan, "pedal_host")
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", rpc),
		RPCAddr("127.0.0.1", DefaultBasePort, DefaultPortSpan, "pedal_host"))
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", rpc+DefaultPortSpan),
		PublishAddr("127.0.0.1", DefaultBasePort, DefaultPortSpan, "pedal_host"))
}
