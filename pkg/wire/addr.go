package wire

import (
	"fmt"
	"hash/fnv"
)

// Deterministic service addressing
//
// Every service derives its ports from its own name: the RPC port is
// base + (FNV-1a32(name) mod span), and the publish port sits one span
// above it. Any process that knows a peer's name can compute where to
// reach it, so no registry is involved. Distinct names can collide on
// the same port; deployments that hit a collision rename a service.

const (
	// DefaultBasePort is the bottom of the RPC port range.
	DefaultBasePort = 5555

	// DefaultPortSpan is the width of the RPC range; publish ports occupy
	// the span directly above it.
	DefaultPortSpan = 1000
)

// RPCPort returns the request/response port for a service name.
func RPCPort(base, span int, service string) int {
	h := fnv.New32a()
	h.Write([]byte(service))
	return base + int(h.Sum32()%uint32(span))
}

// PublishPort returns the event-publish port for a service name.
func PublishPort(base, span int, service string) int {
	return RPCPort(base, span, service) + span
}

// RPCAddr returns the dialable request/response address for a service on a host.
func RPCAddr(host string, base, span int, service string) string {
	return fmt.Sprintf("%s:%d", host, RPCPort(base, span, service))
}

// PublishAddr returns the dialable publish address for a service on a host.
func PublishAddr(host string, base, span int, service string) string {
	return fmt.Sprintf("%s:%d", host, PublishPort(base, span, service))
}
