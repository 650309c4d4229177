package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const executionColumns = `id, definition_id, definition_version, input, org_id, user_id, subject_id,
	org_prompt, trigger_type, status, summary, error, usage, duration_ms, started_at, completed_at`

// Ledger is an autopilot.Ledger backed by the executions and
// execution_steps tables. Step order and terminal state are enforced inside
// a transaction that locks the execution row.
type Ledger struct {
	pool Pool
	now  func() time.Time
}

var _ autopilot.Ledger = (*Ledger)(nil)

// NewLedger returns a ledger using pool.
func NewLedger(pool Pool) *Ledger {
	return &Ledger{pool: pool, now: utcNow}
}

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
		return "", fmt.Errorf("postgres: encode input: %w", err)
	}
	usage, err := json.Marshal(r.Usage)
	if err != nil {
		return "", fmt.Errorf("postgres: encode usage: %w", err)
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO executions (id, definition_id, definition_version, input, org_id, user_id, subject_id,
			org_prompt, trigger_type, status, usage, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.DefinitionID, r.DefinitionVersion, input, r.OrgID, r.UserID, r.SubjectID,
		r.OrgPrompt, string(r.TriggerType), string(r.Status), usage, r.StartedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("postgres: execution %s already exists", r.ID)
		}
		return "", fmt.Errorf("postgres: create execution: %w", err)
	}
	return r.ID, nil
}

// lockRunning locks the execution row and fails unless it is running.
func lockRunning(ctx context.Context, tx pgx.Tx, id string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM executions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: execution %s: %w", id, autopilot.ErrNotFound)
		}
		return fmt.Errorf("postgres: lock execution: %w", err)
	}
	if autopilot.Status(status).IsTerminal() {
		return fmt.Errorf("postgres: execution %s: %w", id, autopilot.ErrTerminal)
	}
	return nil
}

func (l *Ledger) AppendStep(ctx context.Context, id string, step autopilot.Step) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("postgres: encode step: %w", err)
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer rollback(ctx, tx)

	if err := lockRunning(ctx, tx, id); err != nil {
		return err
	}
	var count int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM execution_steps WHERE execution_id = $1`, id,
	).Scan(&count); err != nil {
		return fmt.Errorf("postgres: count steps: %w", err)
	}
	if step.Index != count {
		return fmt.Errorf("postgres: execution %s: step %d, expected %d: %w", id, step.Index, count, autopilot.ErrStepOutOfOrder)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO execution_steps (execution_id, idx, step) VALUES ($1, $2, $3)`,
		id, step.Index, data,
	); err != nil {
		return fmt.Errorf("postgres: insert step: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Finalize writes the terminal fields and replaces the stored steps with the
// result's steps.
func (l *Ledger) Finalize(ctx context.Context, id string, result *autopilot.ExecutionResult) error {
	usage, err := json.Marshal(result.Usage)
	if err != nil {
		return fmt.Errorf("postgres: encode usage: %w", err)
	}
	rows := make([][]any, 0, len(result.Steps))
	for _, step := range result.Steps {
		data, err := json.Marshal(step)
		if err != nil {
			return fmt.Errorf("postgres: encode step: %w", err)
		}
		rows = append(rows, []any{id, step.Index, data})
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer rollback(ctx, tx)

	if err := lockRunning(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE executions SET status = $1, summary = $2, error = $3, usage = $4, duration_ms = $5, completed_at = $6
		 WHERE id = $7`,
		string(result.Status), result.Summary, result.Error, usage, result.DurationMs, l.now(), id,
	); err != nil {
		return fmt.Errorf("postgres: finalize execution: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM execution_steps WHERE execution_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: replace steps: %w", err)
	}
	if len(rows) > 0 {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"execution_steps"},
			[]string{"execution_id", "idx", "step"}, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("postgres: copy steps: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("postgres: copied %d steps, expected %d", n, len(rows))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*autopilot.ExecutionRecord, error) {
	record, err := scanExecution(l.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: execution %s: %w", id, autopilot.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get execution: %w", err)
	}
	if err := l.loadSteps(ctx, []*autopilot.ExecutionRecord{record}); err != nil {
		return nil, err
	}
	return record, nil
}

func (l *Ledger) ListByDefinition(ctx context.Context, definitionID string, limit int) ([]*autopilot.ExecutionRecord, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := l.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE definition_id = $1 ORDER BY started_at DESC, id DESC LIMIT $2`,
		definitionID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()
	var records []*autopilot.ExecutionRecord
	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	rows.Close()
	if err := l.loadSteps(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// loadSteps fills in the steps of records with one query.
func (l *Ledger) loadSteps(ctx context.Context, records []*autopilot.ExecutionRecord) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	byID := make(map[string]*autopilot.ExecutionRecord, len(records))
	for i, r := range records {
		ids[i] = r.ID
		byID[r.ID] = r
	}
	rows, err := l.pool.Query(ctx,
		`SELECT execution_id, step FROM execution_steps
		 WHERE execution_id = ANY($1) ORDER BY execution_id, idx`, ids)
	if err != nil {
		return fmt.Errorf("postgres: load steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return fmt.Errorf("postgres: scan step: %w", err)
		}
		var step autopilot.Step
		if err := json.Unmarshal(data, &step); err != nil {
			return fmt.Errorf("postgres: decode step: %w", err)
		}
		if r := byID[id]; r != nil {
			r.Steps = append(r.Steps, step)
		}
	}
	return rows.Err()
}

func scanExecution(row pgx.Row) (*autopilot.ExecutionRecord, error) {
	var (
		r           autopilot.ExecutionRecord
		input       []byte
		usage       []byte
		triggerType string
		status      string
	)
	if err := row.Scan(
		&r.ID, &r.DefinitionID, &r.DefinitionVersion, &input, &r.OrgID, &r.UserID, &r.SubjectID,
		&r.OrgPrompt, &triggerType, &status, &r.Summary, &r.Error, &usage, &r.DurationMs,
		&r.StartedAt, &r.CompletedAt,
	); err != nil {
		return nil, err
	}
	r.TriggerType = autopilot.TriggerType(triggerType)
	r.Status = autopilot.Status(status)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &r.Input); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
	}
	if len(usage) > 0 {
		if err := json.Unmarshal(usage, &r.Usage); err != nil {
			return nil, fmt.Errorf("decode usage: %w", err)
		}
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
