package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/autopilot"
)

// MemoryStore is an autopilot.MemoryStore stored in the memories table.
type MemoryStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ autopilot.MemoryStore = (*MemoryStore)(nil)

func (s *MemoryStore) Get(ctx context.Context, key autopilot.MemoryKey) (*autopilot.Memory, error) {
	var (
		data      string
		lastRunAt string
		memory    autopilot.Memory
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT memory, run_count, last_run_at FROM memories
		 WHERE org_id = ? AND definition_id = ? AND subject_id = ?`,
		key.OrgID, key.DefinitionID, key.SubjectID,
	).Scan(&data, &memory.RunCount, &lastRunAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlite: memory %s/%s: %w", key.DefinitionID, key.SubjectID, autopilot.ErrNotFound)
		}
		return nil, fmt.Errorf("sqlite: get memory: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &memory.Memory); err != nil {
		return nil, fmt.Errorf("sqlite: decode memory: %w", err)
	}
	if memory.LastRunAt, err = parseTime(lastRunAt); err != nil {
		return nil, fmt.Errorf("sqlite: decode last_run_at: %w", err)
	}
	return &memory, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, key autopilot.MemoryKey, memory map[string]any) (int, error) {
	data, err := marshalObject(memory)
	if err != nil {
		return 0, fmt.Errorf("sqlite: encode memory: %w", err)
	}
	var runCount int
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO memories (org_id, definition_id, subject_id, memory, run_count, last_run_at)
		 VALUES (?, ?, ?, ?, 1, ?)
		 ON CONFLICT (org_id, definition_id, subject_id) DO UPDATE SET
		     memory = excluded.memory,
		     run_count = memories.run_count + 1,
		     last_run_at = excluded.last_run_at
		 RETURNING run_count`,
		key.OrgID, key.DefinitionID, key.SubjectID, string(data), formatTime(s.now()),
	).Scan(&runCount)
	if err != nil {
		return 0, fmt.Errorf("sqlite: upsert memory: %w", err)
	}
	return runCount, nil
}
