package autopilot

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is an in-memory Ledger.
//
// Suitable for development, testing, and single-instance deployments.
// Data is lost when the process exits.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]*ExecutionRecord
	now     func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: make(map[string]*ExecutionRecord),
		now:     time.Now,
	}
}

func (l *MemoryLedger) Create(ctx context.Context, record *ExecutionRecord) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := record.Clone()
	if cp.ID == "" {
		cp.ID = NewExecutionID()
	}
	if _, exists := l.records[cp.ID]; exists {
		return "", fmt.Errorf("execution %s already exists", cp.ID)
	}
	if cp.Status == "" {
		cp.Status = StatusRunning
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = l.now()
	}
	l.records[cp.ID] = cp
	return cp.ID, nil
}

func (l *MemoryLedger) AppendStep(ctx context.Context, id string, step Step) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[id]
	if !ok {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if record.Status.IsTerminal() {
		return fmt.Errorf("execution %s: %w", id, ErrTerminal)
	}
	if step.Index != len(record.Steps) {
		return fmt.Errorf("execution %s: step %d, expected %d: %w", id, step.Index, len(record.Steps), ErrStepOutOfOrder)
	}
	record.Steps = append(record.Steps, step)
	return nil
}

func (l *MemoryLedger) Finalize(ctx context.Context, id string, result *ExecutionResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[id]
	if !ok {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if record.Status.IsTerminal() {
		return fmt.Errorf("execution %s: %w", id, ErrTerminal)
	}
	record.ApplyResult(result, l.now())
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, id string) (*ExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	record, ok := l.records[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return record.Clone(), nil
}

func (l *MemoryLedger) ListByDefinition(ctx context.Context, definitionID string, limit int) ([]*ExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var records []*ExecutionRecord
	for _, record := range l.records {
		if record.DefinitionID == definitionID {
			records = append(records, record.Clone())
		}
	}
	SortRecordsNewestFirst(records)
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}

// SortRecordsNewestFirst orders records by start time, newest first, breaking
// ties by id.
func SortRecordsNewestFirst(records []*ExecutionRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].StartedAt.After(records[j].StartedAt)
		}
		return records[i].ID > records[j].ID
	})
}

// InMemoryMemoryStore is an in-memory MemoryStore.
type InMemoryMemoryStore struct {
	mu      sync.Mutex
	entries map[MemoryKey]*Memory
	now     func() time.Time
}

// NewInMemoryMemoryStore creates an empty in-memory memory store.
func NewInMemoryMemoryStore() *InMemoryMemoryStore {
	return &InMemoryMemoryStore{
		entries: make(map[MemoryKey]*Memory),
		now:     time.Now,
	}
}

func (s *InMemoryMemoryStore) Get(ctx context.Context, key MemoryKey) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("memory %s/%s/%s: %w", key.DefinitionID, key.SubjectID, key.OrgID, ErrNotFound)
	}
	return &Memory{
		Memory:    maps.Clone(entry.Memory),
		RunCount:  entry.RunCount,
		LastRunAt: entry.LastRunAt,
	}, nil
}

func (s *InMemoryMemoryStore) Upsert(ctx context.Context, key MemoryKey, memory map[string]any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runCount := 1
	if entry, ok := s.entries[key]; ok {
		runCount = entry.RunCount + 1
	}
	s.entries[key] = &Memory{
		Memory:    maps.Clone(memory),
		RunCount:  runCount,
		LastRunAt: s.now(),
	}
	return runCount, nil
}

// MemoryDefinitionStore is an in-memory DefinitionStore.
type MemoryDefinitionStore struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
	now         func() time.Time
}

// NewMemoryDefinitionStore creates a store seeded with defs. Seeded
// definitions are validated and stored at version 1 unless they carry a
// version.
func NewMemoryDefinitionStore(defs ...*Definition) (*MemoryDefinitionStore, error) {
	s := &MemoryDefinitionStore{
		definitions: make(map[string]*Definition),
		now:         time.Now,
	}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		cp := def.Clone()
		if cp.Version == 0 {
			cp.Version = 1
		}
		s.definitions[cp.ID] = cp
	}
	return s, nil
}

func (s *MemoryDefinitionStore) Get(ctx context.Context, id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[id]
	if !ok {
		return nil, fmt.Errorf("definition %s: %w", id, ErrNotFound)
	}
	return def.Clone(), nil
}

func (s *MemoryDefinitionStore) List(ctx context.Context) ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]*Definition, 0, len(s.definitions))
	for _, def := range s.definitions {
		defs = append(defs, def.Clone())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

func (s *MemoryDefinitionStore) Upsert(ctx context.Context, def *Definition) (*Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.definitions[def.ID]
	merged := MergeDefinition(existing, def)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	merged.Version = 1
	if existing != nil {
		merged.Version = existing.Version + 1
	}
	merged.UpdatedAt = s.now()
	s.definitions[merged.ID] = merged
	return merged.Clone(), nil
}
