package autopilot

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefinitionStore holds agent definitions addressed by id.
type DefinitionStore interface {
	// Get returns the definition or an error wrapping ErrNotFound.
	Get(ctx context.Context, id string) (*Definition, error)

	// List returns all definitions ordered by id.
	List(ctx context.Context) ([]*Definition, error)

	// Upsert merges def onto the stored definition with the same id (see
	// MergeDefinition), validates the result, increments its version and
	// stores it. Invalid definitions are rejected with ErrInvalidDefinition.
	Upsert(ctx context.Context, def *Definition) (*Definition, error)
}

// Ledger persists one ExecutionRecord per run.
type Ledger interface {
	// Create stores a new record and returns its id. A record without an id
	// is assigned one.
	Create(ctx context.Context, record *ExecutionRecord) (string, error)

	// AppendStep adds a step to a running execution. The step index must
	// equal the number of steps already stored.
	AppendStep(ctx context.Context, id string, step Step) error

	// Finalize records the terminal result. Finalizing a terminal record
	// returns ErrTerminal.
	Finalize(ctx context.Context, id string, result *ExecutionResult) error

	// Get returns the record or an error wrapping ErrNotFound.
	Get(ctx context.Context, id string) (*ExecutionRecord, error)

	// ListByDefinition returns the most recent records for a definition,
	// newest first. A limit of zero or less returns all records.
	ListByDefinition(ctx context.Context, definitionID string, limit int) ([]*ExecutionRecord, error)
}

// MemoryKey identifies the memory a definition keeps for one subject within
// one organization.
type MemoryKey struct {
	DefinitionID string `json:"definitionId"`
	SubjectID    string `json:"subjectId"`
	OrgID        string `json:"orgId"`
}

// Memory is the opaque payload a definition carries across runs.
type Memory struct {
	Memory    map[string]any `json:"memory"`
	RunCount  int            `json:"runCount"`
	LastRunAt time.Time      `json:"lastRunAt"`
}

// MemoryStore persists cross-run memory. Writes replace the payload wholesale
// and concurrent writers race with last-write-wins semantics.
type MemoryStore interface {
	// Get returns the memory for key or an error wrapping ErrNotFound.
	Get(ctx context.Context, key MemoryKey) (*Memory, error)

	// Upsert replaces the memory for key, increments its run count and
	// returns the new run count.
	Upsert(ctx context.Context, key MemoryKey, memory map[string]any) (int, error)
}

// NewExecutionID returns a new random execution id.
func NewExecutionID() string {
	return "exec_" + uuid.NewString()
}
