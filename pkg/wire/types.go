// Package wire provides the shared protocol types for the Tonewire bus: the
// request/reply envelopes exchanged between service processes, the two-part
// event frames published on state changes, and the normalized Result shape
// every engine interaction is reduced to before it crosses a component
// boundary.
//
// All frames are newline-delimited JSON over TCP. Service addressing is
// derived deterministically from the service name (see addr.go), so peers
// need no central registry to find each other.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Request is the envelope for a single RPC call between services.
// Exactly one Request is written per connection, followed by exactly one
// Response from the callee.
type Request struct {
	Method        string                 `json:"method"`         // Handler name, matched exactly by the callee
	Params        map[string]interface{} `json:"params"`         // Method arguments, may be nil
	SourceService string                 `json:"source_service"` // Logical name of the caller
	RequestID     string                 `json:"request_id"`     // UUID, echoed back in the Response
	Timestamp     time.Time              `json:"timestamp"`      // Time the request was built
}

// NewRequest builds a Request with a fresh request ID and timestamp.
func NewRequest(method, source string, params map[string]interface{}) *Request {
	return &Request{
		Method:        method,
		Params:        params,
		SourceService: source,
		RequestID:     uuid.NewString(),
		Timestamp:     time.Now().UTC(),
	}
}

// Validate checks that a received Request is well-formed enough to dispatch.
func (r *Request) Validate() error {
	if r.Method == "" {
		return fmt.Errorf("request method cannot be empty")
	}
	if r.RequestID == "" {
		return fmt.Errorf("request %q missing request_id", r.Method)
	}
	return nil
}

// Response is the reply envelope for a Request. Exactly one of Result or
// Error is set; a response carrying both (or neither) is malformed.
type Response struct {
	RequestID string                 `json:"request_id"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// OK builds a success Response for the given request.
func OK(requestID string, result map[string]interface{}) *Response {
	if result == nil {
		result = map[string]interface{}{}
	}
	return &Response{RequestID: requestID, Result: result}
}

// Fail builds an error Response for the given request.
func Fail(requestID, format string, a ...interface{}) *Response {
	return &Response{RequestID: requestID, Error: fmt.Sprintf(format, a...)}
}

// Validate checks the exactly-one-of Result/Error invariant.
func (r *Response) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("response missing request_id")
	}
	if r.Result != nil && r.Error != "" {
		return fmt.Errorf("response %s carries both result and error", r.RequestID)
	}
	if r.Result == nil && r.Error == "" {
		return fmt.Errorf("response %s carries neither result nor error", r.RequestID)
	}
	return nil
}

// Event is the envelope published on the event side of the bus. Events are
// fire-and-forget notifications; no component may rely on their delivery.
type Event struct {
	EventType     string                 `json:"event_type"`
	Data          map[string]interface{} `json:"data"`
	SourceService string                 `json:"source_service"`
	Timestamp     time.Time              `json:"timestamp"`
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Event{
		EventType:     eventType,
		Data:          data,
		SourceService: source,
		Timestamp:     time.Now().UTC(),
	}
}

// EncodeFrame encodes an Event as the two-part publish frame
// [topic, envelope] used on the wire.
func (e *Event) EncodeFrame(topic string) ([]byte, error) {
	envelope, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	frame, err := json.Marshal([2]json.RawMessage{json.RawMessage(fmt.Sprintf("%q", topic)), envelope})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event frame: %w", err)
	}
	return frame, nil
}

// DecodeFrame decodes a two-part publish frame back into its topic and Event.
func DecodeFrame(frame []byte) (topic string, event *Event, err error) {
	var parts [2]json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil {
		return "", nil, fmt.Errorf("malformed event frame: %w", err)
	}
	if err := json.Unmarshal(parts[0], &topic); err != nil {
		return "", nil, fmt.Errorf("malformed event topic: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(parts[1], &ev); err != nil {
		return "", nil, fmt.Errorf("malformed event envelope: %w", err)
	}
	return topic, &ev, nil
}

// Event topics published by the core services.
const (
	TopicPluginLoaded       = "plugin_loaded"
	TopicPluginUnloaded     = "plugin_unloaded"
	TopicParameterChanged   = "parameter_changed"
	TopicConnectionCreated  = "connection_created"
	TopicConnectionRemoved  = "connection_removed"
	TopicPedalboardCreated  = "pedalboard_created"
	TopicPedalboardLoaded   = "pedalboard_loaded"
	TopicPedalboardSaved    = "pedalboard_saved"
	TopicSystemIOReconciled = "system_io_reconciled"
	TopicSessionReset       = "session_reset"
	TopicSessionInitialized = "session_initialized"
	TopicSessionMuted       = "session_muted"
	TopicSessionUnmuted     = "session_unmuted"
)
