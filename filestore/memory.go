package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deepnoodle-ai/autopilot"
)

// MemoryStore is an autopilot.MemoryStore keeping one JSON file per key.
// File names are a hash of the key so subject ids never reach the
// filesystem.
type MemoryStore struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

var _ autopilot.MemoryStore = (*MemoryStore)(nil)

type memoryFile struct {
	Key autopilot.MemoryKey `json:"key"`
	autopilot.Memory
}

// NewMemoryStore creates a memory store rooted at dir.
func NewMemoryStore(dir string) (*MemoryStore, error) {
	dir, err := prepareDir(dir)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{dir: dir, now: time.Now}, nil
}

func (s *MemoryStore) path(key autopilot.MemoryKey) string {
	sum := sha256.Sum256([]byte(key.OrgID + "\x00" + key.DefinitionID + "\x00" + key.SubjectID))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".json")
}

func (s *MemoryStore) Get(ctx context.Context, key autopilot.MemoryKey) (*autopilot.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.read(key)
	if err != nil {
		return nil, err
	}
	memory := file.Memory
	return &memory, nil
}

func (s *MemoryStore) read(key autopilot.MemoryKey) (*memoryFile, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("filestore: memory %s/%s: %w", key.DefinitionID, key.SubjectID, autopilot.ErrNotFound)
		}
		return nil, fmt.Errorf("filestore: read memory: %w", err)
	}
	var file memoryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("filestore: decode memory: %w", err)
	}
	return &file, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, key autopilot.MemoryKey, memory map[string]any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runCount := 1
	existing, err := s.read(key)
	switch {
	case err == nil:
		runCount = existing.RunCount + 1
	case !errors.Is(err, autopilot.ErrNotFound):
		return 0, err
	}
	if memory == nil {
		memory = map[string]any{}
	}
	data, err := json.MarshalIndent(memoryFile{
		Key:    key,
		Memory: autopilot.Memory{Memory: memory, RunCount: runCount, LastRunAt: s.now().UTC()},
	}, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("filestore: encode memory: %w", err)
	}
	if err := writeFileAtomic(s.path(key), data); err != nil {
		return 0, fmt.Errorf("filestore: write memory: %w", err)
	}
	return runCount, nil
}

// writeFileAtomic writes data to a temporary file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
