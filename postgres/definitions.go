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

// DefinitionStore is an autopilot.DefinitionStore backed by the definitions
// table. The definition body is stored as JSON; version and updated_at are
// columns of their own.
type DefinitionStore struct {
	pool Pool
	now  func() time.Time
}

var _ autopilot.DefinitionStore = (*DefinitionStore)(nil)

// NewDefinitionStore returns a definition store using pool.
func NewDefinitionStore(pool Pool) *DefinitionStore {
	return &DefinitionStore{pool: pool, now: utcNow}
}

func scanDefinition(row pgx.Row) (*autopilot.Definition, error) {
	var (
		body      []byte
		version   int
		updatedAt time.Time
	)
	if err := row.Scan(&body, &version, &updatedAt); err != nil {
		return nil, err
	}
	var def autopilot.Definition
	if err := json.Unmarshal(body, &def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	def.Version = version
	def.UpdatedAt = updatedAt
	return &def, nil
}

func (s *DefinitionStore) Get(ctx context.Context, id string) (*autopilot.Definition, error) {
	def, err := scanDefinition(s.pool.QueryRow(ctx,
		`SELECT body, version, updated_at FROM definitions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: definition %s: %w", id, autopilot.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get definition: %w", err)
	}
	return def, nil
}

func (s *DefinitionStore) List(ctx context.Context) ([]*autopilot.Definition, error) {
	rows, err := s.pool.Query(ctx, `SELECT body, version, updated_at FROM definitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list definitions: %w", err)
	}
	defer rows.Close()
	defs := []*autopilot.Definition{}
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list definitions: %w", err)
	}
	return defs, nil
}

// Upsert merges def onto the stored row under a row lock, so concurrent
// updates of one definition get consecutive versions.
func (s *DefinitionStore) Upsert(ctx context.Context, def *autopilot.Definition) (*autopilot.Definition, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("%w: id is required", autopilot.ErrInvalidDefinition)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer rollback(ctx, tx)

	existing, err := scanDefinition(tx.QueryRow(ctx,
		`SELECT body, version, updated_at FROM definitions WHERE id = $1 FOR UPDATE`, def.ID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: get definition: %w", err)
	}
	merged := autopilot.MergeDefinition(existing, def)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	merged.Version = 1
	if existing != nil {
		merged.Version = existing.Version + 1
	}
	merged.UpdatedAt = s.now()
	body, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode definition: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO definitions (id, version, body, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		merged.ID, merged.Version, body, merged.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("postgres: upsert definition: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}
	return merged, nil
}
