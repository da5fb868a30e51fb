package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// Repository persists committed workflow and delegation snapshots
type Repository interface {
	SaveWorkflow(ctx context.Context, wf Workflow) error
	SaveDelegation(ctx context.Context, d Delegation) error
	LoadWorkflows(ctx context.Context) ([]Workflow, error)
	LoadDelegations(ctx context.Context) ([]Delegation, error)
}

// PostgresRepository stores snapshots as JSONB, with the columns queries
// filter on kept alongside
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// SaveWorkflow upserts a snapshot. An older snapshot never overwrites a newer
// one.
func (r *PostgresRepository) SaveWorkflow(ctx context.Context, wf Workflow) error {
	snapshot, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", wf.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO approval_workflows (id, type, status, session_id, initiator, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
		WHERE approval_workflows.updated_at <= EXCLUDED.updated_at
	`, wf.ID, string(wf.Type), string(wf.Status), wf.Report.SessionID, wf.Initiator,
		snapshot, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (r *PostgresRepository) SaveDelegation(ctx context.Context, d Delegation) error {
	snapshot, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delegation %s: %w", d.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO delegations (id, delegated_by, delegated_to, role, valid_from, valid_to, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, d.ID, d.DelegatedBy, d.DelegatedTo, string(d.Role), d.ValidFrom, d.ValidTo, snapshot)
	if err != nil {
		return fmt.Errorf("failed to save delegation %s: %w", d.ID, err)
	}
	return nil
}

// LoadWorkflows returns every stored workflow, oldest first
func (r *PostgresRepository) LoadWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT snapshot FROM approval_workflows ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		var wf Workflow
		if err := json.Unmarshal(raw, &wf); err != nil {
			return nil, fmt.Errorf("failed to decode workflow snapshot: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) LoadDelegations(ctx context.Context) ([]Delegation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT snapshot FROM delegations ORDER BY valid_from, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query delegations: %w", err)
	}
	defer rows.Close()

	var out []Delegation
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		var d Delegation
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("failed to decode delegation snapshot: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
