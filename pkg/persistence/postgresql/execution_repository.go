package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
)

// ExecutionRepository stores execution records keyed by (instance_id,
// node_id). Update runs under a row lock, which is what makes RecordStart's
// duplicate-dispatch rejection reliable across engine processes.
type ExecutionRepository struct {
	db *sql.DB
}

const executionColumns = `instance_id, node_id, status, input, output, error,
	retry_count, max_retries, next_retry_at, started_at, finished_at, updated_at`

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	input, err := jsonbValue(execution.Input)
	if err != nil {
		return &persistence.ExecutionError{Op: "Save", InstanceID: execution.InstanceID, NodeID: execution.NodeID, Err: err}
	}

	output, err := jsonbValue(execution.Output)
	if err != nil {
		return &persistence.ExecutionError{Op: "Save", InstanceID: execution.InstanceID, NodeID: execution.NodeID, Err: err}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (instance_id, node_id) DO UPDATE SET
			status = EXCLUDED.status,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			next_retry_at = EXCLUDED.next_retry_at,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			updated_at = EXCLUDED.updated_at
	`,
		execution.InstanceID, execution.NodeID, execution.Status, input, output, execution.Error,
		execution.RetryCount, execution.MaxRetries, nullTime(execution.NextRetryAt),
		nullTime(execution.StartedAt), nullTime(execution.FinishedAt), execution.UpdatedAt,
	)
	if err != nil {
		return &persistence.ExecutionError{Op: "Save", InstanceID: execution.InstanceID, NodeID: execution.NodeID, Err: err}
	}

	return nil
}

func (r *ExecutionRepository) Get(ctx context.Context, instanceID, nodeID string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE instance_id = $1 AND node_id = $2`,
		instanceID, nodeID)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrExecutionNotFound
	}

	if err != nil {
		return nil, &persistence.ExecutionError{Op: "Get", InstanceID: instanceID, NodeID: nodeID, Err: err}
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE instance_id = $1 ORDER BY node_id`,
		instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for instance %s: %w", instanceID, err)
	}
	defer rows.Close()

	var executions []*models.Execution

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate execution rows: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) Update(ctx context.Context, instanceID, nodeID string, mutate func(*models.Execution) error) (*models.Execution, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &persistence.ExecutionError{Op: "Update", InstanceID: instanceID, NodeID: nodeID, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE instance_id = $1 AND node_id = $2 FOR UPDATE`,
		instanceID, nodeID)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrExecutionNotFound
	}

	if err != nil {
		return nil, &persistence.ExecutionError{Op: "Update", InstanceID: instanceID, NodeID: nodeID, Err: err}
	}

	if err := mutate(execution); err != nil {
		return nil, err
	}

	input, err := jsonbValue(execution.Input)
	if err != nil {
		return nil, &persistence.ExecutionError{Op: "Update", InstanceID: instanceID, NodeID: nodeID, Err: err}
	}

	output, err := jsonbValue(execution.Output)
	if err != nil {
		return nil, &persistence.ExecutionError{Op: "Update", InstanceID: instanceID, NodeID: nodeID, Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE executions SET
			status = $3, input = $4, output = $5, error = $6, retry_count = $7,
			max_retries = $8, next_retry_at = $9, started_at = $10, finished_at = $11,
			updated_at = $12
		WHERE instance_id = $1 AND node_id = $2
	`,
		execution.InstanceID, execution.NodeID, execution.Status, input, output, execution.Error,
		execution.RetryCount, execution.MaxRetries, nullTime(execution.NextRetryAt),
		nullTime(execution.StartedAt), nullTime(execution.FinishedAt), execution.UpdatedAt,
	)
	if err != nil {
		return nil, &persistence.ExecutionError{Op: "Update", InstanceID: instanceID, NodeID: nodeID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &persistence.ExecutionError{Op: "Update", InstanceID: instanceID, NodeID: nodeID, Err: err}
	}

	return execution, nil
}

func (r *ExecutionRepository) DeleteByInstance(ctx context.Context, instanceID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM executions WHERE instance_id = $1", instanceID)
	if err != nil {
		return fmt.Errorf("failed to delete executions for instance %s: %w", instanceID, err)
	}

	return nil
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		input       []byte
		output      []byte
		nextRetryAt sql.NullTime
		startedAt   sql.NullTime
		finishedAt  sql.NullTime
	)

	err := row.Scan(
		&execution.InstanceID, &execution.NodeID, &execution.Status, &input, &output, &execution.Error,
		&execution.RetryCount, &execution.MaxRetries, &nextRetryAt, &startedAt, &finishedAt, &execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := scanJSONB(input, &execution.Input); err != nil {
		return nil, err
	}

	if err := scanJSONB(output, &execution.Output); err != nil {
		return nil, err
	}

	execution.NextRetryAt = timePtr(nextRetryAt)
	execution.StartedAt = timePtr(startedAt)
	execution.FinishedAt = timePtr(finishedAt)

	return &execution, nil
}
