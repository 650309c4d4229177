package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/jackc/pgx/v5"
)

// MemoryStore is an autopilot.MemoryStore backed by the memories table.
type MemoryStore struct {
	pool Pool
	now  func() time.Time
}

var _ autopilot.MemoryStore = (*MemoryStore)(nil)

// NewMemoryStore returns a memory store using pool.
func NewMemoryStore(pool Pool) *MemoryStore {
	return &MemoryStore{pool: pool, now: utcNow}
}

func (s *MemoryStore) Get(ctx context.Context, key autopilot.MemoryKey) (*autopilot.Memory, error) {
	var (
		data   []byte
		memory autopilot.Memory
	)
	err := s.pool.QueryRow(ctx,
		`SELECT memory, run_count, last_run_at FROM memories
		 WHERE org_id = $1 AND definition_id = $2 AND subject_id = $3`,
		key.OrgID, key.DefinitionID, key.SubjectID,
	).Scan(&data, &memory.RunCount, &memory.LastRunAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: memory %s/%s: %w", key.DefinitionID, key.SubjectID, autopilot.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get memory: %w", err)
	}
	if err := json.Unmarshal(data, &memory.Memory); err != nil {
		return nil, fmt.Errorf("postgres: decode memory: %w", err)
	}
	return &memory, nil
}

// Upsert replaces the payload and increments the run count in one
// statement.
func (s *MemoryStore) Upsert(ctx context.Context, key autopilot.MemoryKey, memory map[string]any) (int, error) {
	data, err := marshalObject(memory)
	if err != nil {
		return 0, fmt.Errorf("postgres: encode memory: %w", err)
	}
	var runCount int
	err = s.pool.QueryRow(ctx,
		`INSERT INTO memories (org_id, definition_id, subject_id, memory, run_count, last_run_at)
		 VALUES ($1, $2, $3, $4, 1, $5)
		 ON CONFLICT (org_id, definition_id, subject_id) DO UPDATE SET
		     memory = EXCLUDED.memory,
		     run_count = memories.run_count + 1,
		     last_run_at = EXCLUDED.last_run_at
		 RETURNING run_count`,
		key.OrgID, key.DefinitionID, key.SubjectID, data, s.now(),
	).Scan(&runCount)
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert memory: %w", err)
	}
	return runCount, nil
}
