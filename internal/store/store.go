// Package store persists pedalboards as one JSON file each, written
// atomically: a reader can never observe a partial write, and disk
// failures always propagate to the caller.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tonewire/tonewire/internal/board"
)

// SchemaVersion stamps every saved file for forward migration.
const SchemaVersion = 1

// ErrNotFound is returned when no pedalboard file exists for an id.
var ErrNotFound = errors.New("pedalboard not found")

// envelope is the on-disk shape: the aggregate plus the persistence stamps.
type envelope struct {
	board.Pedalboard
	SavedAt       time.Time `json:"saved_at"`
	SchemaVersion int       `json:"_schema_version"`
}

// Store is a directory of pedalboard files named "<id>.json".
type Store struct {
	dir    string
	logger *zap.Logger
}

// New creates the storage directory if needed and returns a store.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger.With(zap.String("component", "store"))}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// validID rejects ids that could escape the storage directory.
func validID(id string) error {
	if id == "" {
		return fmt.Errorf("pedalboard id cannot be empty")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid pedalboard id: %q", id)
	}
	return nil
}

// Save writes a pedalboard atomically: temp file in the destination
// directory, flush and sync, then rename over the target.
func (s *Store) Save(pb *board.Pedalboard) error {
	if err := validID(pb.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(envelope{
		Pedalboard:    *pb,
		SavedAt:       time.Now().UTC(),
		SchemaVersion: SchemaVersion,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize pedalboard %s: %w", pb.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+pb.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write pedalboard %s: %w", pb.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync pedalboard %s: %w", pb.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", pb.ID, err)
	}

	if err := os.Rename(tmpName, s.path(pb.ID)); err != nil {
		return fmt.Errorf("failed to rename pedalboard %s into place: %w", pb.ID, err)
	}
	return nil
}

// Load reads a pedalboard by id.
func (s *Store) Load(id string) (*board.Pedalboard, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	env, err := s.read(s.path(id))
	if err != nil {
		return nil, err
	}
	return &env.Pedalboard, nil
}

func (s *Store) read(path string) (*envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &env, nil
}

// List returns a summary per saved pedalboard, sorted by name. Unreadable
// files are logged and skipped, never fatal.
func (s *Store) List() ([]board.Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage dir: %w", err)
	}

	summaries := make([]board.Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		env, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable pedalboard file",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		summaries = append(summaries, board.Summary{
			ID:         env.ID,
			Name:       env.Name,
			ModifiedAt: env.ModifiedAt,
			SavedAt:    env.SavedAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries, nil
}

// Delete removes a saved pedalboard.
func (s *Store) Delete(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete pedalboard %s: %w", id, err)
	}
	return nil
}

// Export copies a saved pedalboard file to an arbitrary destination path.
func (s *Store) Export(id, destPath string) error {
	if err := validID(id); err != nil {
		return err
	}
	src, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to open pedalboard %s: %w", id, err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return fmt.Errorf("failed to export pedalboard %s: %w", id, err)
	}
	return nil
}

// Import reads a pedalboard file from an arbitrary path and saves it into
// the store under its own id.
func (s *Store) Import(srcPath string) (*board.Pedalboard, error) {
	env, err := s.read(srcPath)
	if err != nil {
		return nil, err
	}
	if err := s.Save(&env.Pedalboard); err != nil {
		return nil, err
	}
	return &env.Pedalboard, nil
}
