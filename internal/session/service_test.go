package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tonewire/tonewire/internal/board"
	"github.com/tonewire/tonewire/internal/testutil"
	"github.com/tonewire/tonewire/pkg/wire"
)

type fakeHost struct {
	count   int
	cleared int
}

func (h *fakeHost) ClearAll(context.Context) int {
	n := h.count
	h.count = 0
	h.cleared++
	return n
}
func (h *fakeHost) Count() int { return h.count }

type fakeRouter struct {
	count   int
	cleared int
}

func (r *fakeRouter) ClearAll(context.Context) int {
	n := r.count
	r.count = 0
	r.cleared++
	return n
}
func (r *fakeRouter) Count() int { return r.count }

type fakeBoards struct {
	current *board.Pedalboard
	cleared int
}

func (b *fakeBoards) ClearCurrent() {
	b.current = nil
	b.cleared++
}

func (b *fakeBoards) Current() (*board.Pedalboard, error) {
	if b.current == nil {
		return nil, board.ErrNoCurrent
	}
	return b.current, nil
}

type sessionFixture struct {
	service *Service
	engine  *testutil.FakeEngine
	host    *fakeHost
	router  *fakeRouter
	boards  *fakeBoards
	events  *testutil.Events
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		engine: testutil.NewFakeEngine(),
		host:   &fakeHost{},
		router: &fakeRouter{},
		boards: &fakeBoards{},
		events: testutil.NewEvents(),
	}
	f.service = NewService(f.engine, f.host, f.router, f.boards, f.events, zap.NewNop())
	return f
}

func TestResetClearsStateAndPublishes(t *testing.T) {
	f := newSessionFixture(t)
	f.host.count = 3
	f.router.count = 2
	f.boards.current = &board.Pedalboard{ID: "b1", Name: "Amp"}

	require.NoError(t, f.service.Reset(context.Background()))

	assert.Equal(t, 1, f.host.cleared)
	assert.Equal(t, 1, f.router.cleared)
	assert.Equal(t, 1, f.boards.cleared)

	require.Len(t, f.engine.CallsTo("reset_audio"), 1)

	ev, err := f.events.Last(wire.TopicSessionReset)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Data["connections_removed"])
	assert.Equal(t, 3, ev.Data["instances_removed"])
}

func TestResetRequiresEngineSuccess(t *testing.T) {
	f := newSessionFixture(t)
	f.engine.FailWith("reset_audio", "audio graph busy")

	err := f.service.Reset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio graph busy")

	// Local state is still cleared, but the event is withheld.
	assert.Equal(t, 1, f.host.cleared)
	_, evErr := f.events.Last(wire.TopicSessionReset)
	assert.Error(t, evErr)
}

func TestInitializeResetsThenInits(t *testing.T) {
	f := newSessionFixture(t)

	require.NoError(t, f.service.Initialize(context.Background()))

	require.Len(t, f.engine.CallsTo("reset_audio"), 1)
	require.Len(t, f.engine.CallsTo("init_audio"), 1)
	_, err := f.events.Last(wire.TopicSessionInitialized)
	require.NoError(t, err)
}

func TestInitializeStopsOnInitFailure(t *testing.T) {
	f := newSessionFixture(t)
	f.engine.FailWith("init_audio", "no audio device")

	err := f.service.Initialize(context.Background())
	require.Error(t, err)
	_, evErr := f.events.Last(wire.TopicSessionInitialized)
	assert.Error(t, evErr)
}

func TestMuteUnmute(t *testing.T) {
	f := newSessionFixture(t)

	require.NoError(t, f.service.Mute(context.Background()))
	_, err := f.events.Last(wire.TopicSessionMuted)
	require.NoError(t, err)

	require.NoError(t, f.service.Unmute(context.Background()))
	_, err = f.events.Last(wire.TopicSessionUnmuted)
	require.NoError(t, err)

	f.engine.FailWith("mute_audio", "not running")
	assert.Error(t, f.service.Mute(context.Background()))
}

func TestGetStateAggregates(t *testing.T) {
	f := newSessionFixture(t)
	f.host.count = 2
	f.router.count = 1
	f.boards.current = &board.Pedalboard{ID: "b1", Name: "Amp"}
	f.engine.Reply("get_audio_state", map[string]interface{}{
		"sample_rate": 48000.0,
		"running":     true,
	})

	state := f.service.GetState(context.Background())

	assert.True(t, state.BridgeConnected)
	assert.Equal(t, 2, state.Plugins)
	assert.Equal(t, 1, state.Connections)
	require.NotNil(t, state.Pedalboard)
	assert.Equal(t, "Amp", state.Pedalboard.Name)
	assert.Equal(t, 48000.0, state.System["sample_rate"])
}

func TestGetStateNeverFails(t *testing.T) {
	f := newSessionFixture(t)
	f.engine.SetOffline(true)

	state := f.service.GetState(context.Background())

	assert.False(t, state.BridgeConnected)
	assert.Nil(t, state.Pedalboard)
	assert.NotNil(t, state.System)
	assert.Empty(t, state.System, "engine failure yields an empty system section")
}
