package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tonewire/tonewire/internal/board"
	"github.com/tonewire/tonewire/internal/connections"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func sampleBoard(id, name string) *board.Pedalboard {
	return &board.Pedalboard{
		ID:   id,
		Name: name,
		Plugins: []board.PluginRef{
			{URI: "urn:fx:chorus", InstanceID: "fx_1", Parameters: map[string]float64{"rate": 2.5}, Enabled: true},
		},
		Connections: []connections.Connection{
			{ID: "c1", SourceInstance: "fx_1", SourcePort: "out_1", TargetInstance: "fx_2", TargetPort: "in_1"},
		},
		SystemInputs:  []string{"system:capture_1", "system:capture_2"},
		SystemOutputs: []string{"system:playback_1", "system:playback_2"},
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		ModifiedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	pb := sampleBoard("pb-1", "Amp")
	require.NoError(t, s.Save(pb))

	loaded, err := s.Load("pb-1")
	require.NoError(t, err)
	assert.Equal(t, pb.Name, loaded.Name)
	assert.Equal(t, pb.Plugins, loaded.Plugins)
	assert.Equal(t, pb.Connections, loaded.Connections)
	assert.Equal(t, pb.SystemInputs, loaded.SystemInputs)
	assert.Equal(t, pb.SystemOutputs, loaded.SystemOutputs)
}

func TestSaveStampsSchemaAndTime(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(sampleBoard("pb-1", "Amp")))

	raw, err := os.ReadFile(filepath.Join(s.dir, "pb-1.json"))
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, float64(SchemaVersion), fields["_schema_version"])
	assert.NotEmpty(t, fields["saved_at"])
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(sampleBoard("pb-1", "Amp")))

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pb-1.json", entries[0].Name())
}

func TestSaveRejectsPathEscapingIDs(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "../evil", `a\b`, "..", "x/y"} {
		assert.Error(t, s.Save(sampleBoard(id, "Evil")), "id %q", id)
	}
}

func TestLoadMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSkipsUnreadableFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(sampleBoard("pb-1", "Amp")))
	require.NoError(t, s.Save(sampleBoard("pb-2", "Bass")))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "corrupt.json"), []byte("{half a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "notes.txt"), []byte("ignored"), 0644))

	summaries, err := s.List()
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "Amp", summaries[0].Name)
	assert.Equal(t, "Bass", summaries[1].Name)
	assert.False(t, summaries[0].SavedAt.IsZero())
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(sampleBoard("pb-1", "Amp")))
	require.NoError(t, s.Delete("pb-1"))

	_, err := s.Load("pb-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete("pb-1"), ErrNotFound)
}

func TestExportImport(t *testing.T) {
	src := newTestStore(t)
	require.NoError(t, src.Save(sampleBoard("pb-1", "Amp")))

	exportPath := filepath.Join(t.TempDir(), "amp-export.json")
	require.NoError(t, src.Export("pb-1", exportPath))

	dest := newTestStore(t)
	imported, err := dest.Import(exportPath)
	require.NoError(t, err)
	assert.Equal(t, "pb-1", imported.ID)

	loaded, err := dest.Load("pb-1")
	require.NoError(t, err)
	assert.Equal(t, "Amp", loaded.Name)
}

func TestExportMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.Export("ghost", filepath.Join(t.TempDir(), "out.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}
