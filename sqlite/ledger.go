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

const executionColumns = `id, definition_id, definition_version, input, org_id, user_id, subject_id,
	org_prompt, trigger_type, status, summary, error, usage, duration_ms, started_at, completed_at`

// Ledger is an autopilot.Ledger stored in the executions and
// execution_steps tables.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

var _ autopilot.Ledger = (*Ledger)(nil)

func (l *Ledger) Create(ctx context.Context, record *autopilot.ExecutionRecord) (string, error) {
	r := record.Clone()
	if r.ID == "" {
		r.ID = autopilot.NewExecutionID()
	}
	if r.Status == "" {
		r.Status = autopilot.StatusRunning
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = l.now()
	}
	input, err := marshalObject(r.Input)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode input: %w", err)
	}
	usage, err := json.Marshal(r.Usage)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode usage: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO executions (id, definition_id, definition_version, input, org_id, user_id, subject_id,
			org_prompt, trigger_type, status, usage, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DefinitionID, r.DefinitionVersion, string(input), r.OrgID, r.UserID, r.SubjectID,
		r.OrgPrompt, string(r.TriggerType), string(r.Status), string(usage), formatTime(r.StartedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return "", fmt.Errorf("sqlite: execution %s already exists", r.ID)
		}
		return "", fmt.Errorf("sqlite: create execution: %w", err)
	}
	return r.ID, nil
}

func checkRunning(ctx context.Context, tx *sql.Tx, id string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = ?`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: execution %s: %w", id, autopilot.ErrNotFound)
		}
		return fmt.Errorf("sqlite: read execution status: %w", err)
	}
	if autopilot.Status(status).IsTerminal() {
		return fmt.Errorf("sqlite: execution %s: %w", id, autopilot.ErrTerminal)
	}
	return nil
}

func (l *Ledger) AppendStep(ctx context.Context, id string, step autopilot.Step) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("sqlite: encode step: %w", err)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if err := checkRunning(ctx, tx, id); err != nil {
		return err
	}
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM execution_steps WHERE execution_id = ?`, id,
	).Scan(&count); err != nil {
		return fmt.Errorf("sqlite: count steps: %w", err)
	}
	if step.Index != count {
		return fmt.Errorf("sqlite: execution %s: step %d, expected %d: %w", id, step.Index, count, autopilot.ErrStepOutOfOrder)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO execution_steps (execution_id, idx, step) VALUES (?, ?, ?)`,
		id, step.Index, string(data),
	); err != nil {
		return fmt.Errorf("sqlite: insert step: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (l *Ledger) Finalize(ctx context.Context, id string, result *autopilot.ExecutionResult) error {
	usage, err := json.Marshal(result.Usage)
	if err != nil {
		return fmt.Errorf("sqlite: encode usage: %w", err)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if err := checkRunning(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE executions SET status = ?, summary = ?, error = ?, usage = ?, duration_ms = ?, completed_at = ?
		 WHERE id = ?`,
		string(result.Status), result.Summary, result.Error, string(usage), result.DurationMs,
		formatTime(l.now()), id,
	); err != nil {
		return fmt.Errorf("sqlite: finalize execution: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_steps WHERE execution_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: replace steps: %w", err)
	}
	for _, step := range result.Steps {
		data, err := json.Marshal(step)
		if err != nil {
			return fmt.Errorf("sqlite: encode step: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO execution_steps (execution_id, idx, step) VALUES (?, ?, ?)`,
			id, step.Index, string(data),
		); err != nil {
			return fmt.Errorf("sqlite: insert step: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*autopilot.ExecutionRecord, error) {
	record, err := scanExecution(l.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlite: execution %s: %w", id, autopilot.ErrNotFound)
		}
		return nil, fmt.Errorf("sqlite: get execution: %w", err)
	}
	if err := l.loadSteps(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (l *Ledger) ListByDefinition(ctx context.Context, definitionID string, limit int) ([]*autopilot.ExecutionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE definition_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		definitionID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list executions: %w", err)
	}
	var records []*autopilot.ExecutionRecord
	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scan execution: %w", err)
		}
		records = append(records, record)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("sqlite: list executions: %w", err)
	}
	// The single connection is free again once rows is closed.
	for _, record := range records {
		if err := l.loadSteps(ctx, record); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (l *Ledger) loadSteps(ctx context.Context, record *autopilot.ExecutionRecord) error {
	rows, err := l.db.QueryContext(ctx,
		`SELECT step FROM execution_steps WHERE execution_id = ? ORDER BY idx`, record.ID)
	if err != nil {
		return fmt.Errorf("sqlite: load steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("sqlite: scan step: %w", err)
		}
		var step autopilot.Step
		if err := json.Unmarshal([]byte(data), &step); err != nil {
			return fmt.Errorf("sqlite: decode step: %w", err)
		}
		record.Steps = append(record.Steps, step)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*autopilot.ExecutionRecord, error) {
	var (
		r           autopilot.ExecutionRecord
		input       string
		usage       string
		triggerType string
		status      string
		startedAt   string
		completedAt sql.NullString
	)
	if err := row.Scan(
		&r.ID, &r.DefinitionID, &r.DefinitionVersion, &input, &r.OrgID, &r.UserID, &r.SubjectID,
		&r.OrgPrompt, &triggerType, &status, &r.Summary, &r.Error, &usage, &r.DurationMs,
		&startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	r.TriggerType = autopilot.TriggerType(triggerType)
	r.Status = autopilot.Status(status)
	if err := json.Unmarshal([]byte(input), &r.Input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if err := json.Unmarshal([]byte(usage), &r.Usage); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	var err error
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("decode started_at: %w", err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("decode completed_at: %w", err)
		}
		r.CompletedAt = &t
	}
	r.Steps = []autopilot.Step{}
	return &r, nil
}

func marshalObject(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
