// Package testutil provides shared fakes for manager and service tests:
// a scriptable in-memory engine standing in for the bridge, and an event
// recorder standing in for the bus publisher.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/tonewire/tonewire/pkg/wire"
)

// EngineCall records one call that reached the fake engine.
type EngineCall struct {
	Method string
	Params map[string]interface{}
}

// FakeEngine is a scriptable bridge.Caller. Handlers are registered per
// canonical method; unscripted methods succeed with an empty result.
// Composite connect/disconnect commands are scripted under the method
// names "connect" and "disconnect".
type FakeEngine struct {
	mu       sync.Mutex
	handlers map[string]func(params map[string]interface{}) wire.Result
	calls    []EngineCall
	offline  bool
}

// NewFakeEngine returns a connected fake with no scripted handlers.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{handlers: make(map[string]func(map[string]interface{}) wire.Result)}
}

// On scripts a handler for a canonical method.
func (f *FakeEngine) On(method string, handler func(params map[string]interface{}) wire.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = handler
}

// Reply scripts a fixed success reply for a method.
func (f *FakeEngine) Reply(method string, fields map[string]interface{}) {
	f.On(method, func(map[string]interface{}) wire.Result { return wire.Ok(fields) })
}

// FailWith scripts a fixed failure reply for a method.
func (f *FakeEngine) FailWith(method, msg string) {
	f.On(method, func(map[string]interface{}) wire.Result { return wire.Errorf("%s", msg) })
}

// SetOffline makes every subsequent call fail like a dead bridge.
func (f *FakeEngine) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// Calls returns a copy of every call that reached the fake.
func (f *FakeEngine) Calls() []EngineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EngineCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the calls recorded for one method.
func (f *FakeEngine) CallsTo(method string) []EngineCall {
	var out []EngineCall
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeEngine) dispatch(method string, params map[string]interface{}) wire.Result {
	f.mu.Lock()
	f.calls = append(f.calls, EngineCall{Method: method, Params: params})
	offline := f.offline
	handler := f.handlers[method]
	f.mu.Unlock()

	if offline {
		return wire.Errorf("bridge unavailable")
	}
	if handler == nil {
		return wire.Ok(nil)
	}
	return handler(params)
}

// Call implements bridge.Caller.
func (f *FakeEngine) Call(_ context.Context, method string, params map[string]interface{}) wire.Result {
	return f.dispatch(method, params)
}

// Connect implements bridge.Caller.
func (f *FakeEngine) Connect(_ context.Context, source, target string) wire.Result {
	return f.dispatch("connect", map[string]interface{}{"source": source, "target": target})
}

// Disconnect implements bridge.Caller.
func (f *FakeEngine) Disconnect(_ context.Context, source, target string) wire.Result {
	return f.dispatch("disconnect", map[string]interface{}{"source": source, "target": target})
}

// HealthCheck implements bridge.Caller.
func (f *FakeEngine) HealthCheck(ctx context.Context) wire.Result {
	return f.Call(ctx, "get_sample_rate", nil)
}

// Connected implements bridge.Caller.
func (f *FakeEngine) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.offline
}

// RecordedEvent is one event captured by the Events recorder.
type RecordedEvent struct {
	Topic string
	Data  map[string]interface{}
}

// Events records published events for assertions. Implements the
// EventPublisher interface every service consumes.
type Events struct {
	mu     sync.Mutex
	events []RecordedEvent
}

// NewEvents returns an empty recorder.
func NewEvents() *Events { return &Events{} }

// Publish implements the event sink.
func (e *Events) Publish(topic string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, RecordedEvent{Topic: topic, Data: data})
}

// All returns a copy of every recorded event.
func (e *Events) All() []RecordedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RecordedEvent, len(e.events))
	copy(out, e.events)
	return out
}

// Topics returns the recorded topics in order.
func (e *Events) Topics() []string {
	var out []string
	for _, ev := range e.All() {
		out = append(out, ev.Topic)
	}
	return out
}

// Last returns the most recent event for a topic, or an error if none exists.
func (e *Events) Last(topic string) (RecordedEvent, error) {
	all := e.All()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Topic == topic {
			return all[i], nil
		}
	}
	return RecordedEvent{}, fmt.Errorf("no event recorded for topic %q", topic)
}
