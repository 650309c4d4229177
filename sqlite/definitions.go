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

// DefinitionStore is an autopilot.DefinitionStore stored in the definitions
// table.
type DefinitionStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ autopilot.DefinitionStore = (*DefinitionStore)(nil)

func scanDefinition(row scanner) (*autopilot.Definition, error) {
	var (
		body      string
		version   int
		updatedAt string
	)
	if err := row.Scan(&body, &version, &updatedAt); err != nil {
		return nil, err
	}
	var def autopilot.Definition
	if err := json.Unmarshal([]byte(body), &def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	t, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	def.Version = version
	def.UpdatedAt = t
	return &def, nil
}

func (s *DefinitionStore) Get(ctx context.Context, id string) (*autopilot.Definition, error) {
	def, err := scanDefinition(s.db.QueryRowContext(ctx,
		`SELECT body, version, updated_at FROM definitions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlite: definition %s: %w", id, autopilot.ErrNotFound)
		}
		return nil, fmt.Errorf("sqlite: get definition: %w", err)
	}
	return def, nil
}

func (s *DefinitionStore) List(ctx context.Context) ([]*autopilot.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body, version, updated_at FROM definitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list definitions: %w", err)
	}
	defer rows.Close()
	defs := []*autopilot.Definition{}
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *DefinitionStore) Upsert(ctx context.Context, def *autopilot.Definition) (*autopilot.Definition, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("%w: id is required", autopilot.ErrInvalidDefinition)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanDefinition(tx.QueryRowContext(ctx,
		`SELECT body, version, updated_at FROM definitions WHERE id = ?`, def.ID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: get definition: %w", err)
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
		return nil, fmt.Errorf("sqlite: encode definition: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO definitions (id, version, body, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET version = excluded.version, body = excluded.body, updated_at = excluded.updated_at`,
		merged.ID, merged.Version, string(body), formatTime(merged.UpdatedAt),
	); err != nil {
		return nil, fmt.Errorf("sqlite: upsert definition: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return merged, nil
}
