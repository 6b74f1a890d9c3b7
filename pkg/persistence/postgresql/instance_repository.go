package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
)

// InstanceRepository stores instances with their frozen definition snapshot
// serialized as JSONB. Executions cascade on delete through the schema.
type InstanceRepository struct {
	db *sql.DB
}

const instanceColumns = `id, workflow_id, workflow_version, trigger_id, definition, status, context,
	input, output, error_message, parent_instance_id, created_at, started_at, finished_at`

func (r *InstanceRepository) Save(ctx context.Context, instance *models.Instance) error {
	definition, err := jsonbValue(instance.Definition)
	if err != nil {
		return &persistence.InstanceError{Op: "Save", InstanceID: instance.ID, Err: err}
	}

	contextBlob, err := jsonbValue(instance.Context)
	if err != nil {
		return &persistence.InstanceError{Op: "Save", InstanceID: instance.ID, Err: err}
	}

	input, err := jsonbValue(instance.Input)
	if err != nil {
		return &persistence.InstanceError{Op: "Save", InstanceID: instance.ID, Err: err}
	}

	output, err := jsonbValue(instance.Output)
	if err != nil {
		return &persistence.InstanceError{Op: "Save", InstanceID: instance.ID, Err: err}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			output = EXCLUDED.output,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`,
		instance.ID, instance.WorkflowID, instance.WorkflowVersion, instance.TriggerID,
		definition, instance.Status, contextBlob, input, output, instance.ErrorMessage,
		nullString(instance.ParentInstanceID), instance.CreatedAt,
		nullTime(instance.StartedAt), nullTime(instance.FinishedAt),
	)
	if err != nil {
		return &persistence.InstanceError{Op: "Save", InstanceID: instance.ID, Err: err}
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id)

	instance, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrInstanceNotFound
	}

	if err != nil {
		return nil, &persistence.InstanceError{Op: "GetByID", InstanceID: id, Err: err}
	}

	return instance, nil
}

func (r *InstanceRepository) ListByStatus(ctx context.Context, statuses ...models.InstanceStatus) ([]*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances`
	args := make([]any, 0, len(statuses))

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}

		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	query += " ORDER BY created_at"

	return r.list(ctx, query, args...)
}

func (r *InstanceRepository) ListByParent(ctx context.Context, parentInstanceID string) ([]*models.Instance, error) {
	return r.list(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE parent_instance_id = $1 ORDER BY created_at`,
		parentInstanceID)
}

func (r *InstanceRepository) list(ctx context.Context, query string, args ...any) ([]*models.Instance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.Instance

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance row: %w", err)
		}

		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instance rows: %w", err)
	}

	return instances, nil
}

// Update applies mutate under a row lock so that instance status
// recomputation is serialized per instance.
func (r *InstanceRepository) Update(ctx context.Context, id string, mutate func(*models.Instance) error) (*models.Instance, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &persistence.InstanceError{Op: "Update", InstanceID: id, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = $1 FOR UPDATE`, id)

	instance, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrInstanceNotFound
	}

	if err != nil {
		return nil, &persistence.InstanceError{Op: "Update", InstanceID: id, Err: err}
	}

	if err := mutate(instance); err != nil {
		return nil, err
	}

	contextBlob, err := jsonbValue(instance.Context)
	if err != nil {
		return nil, &persistence.InstanceError{Op: "Update", InstanceID: id, Err: err}
	}

	output, err := jsonbValue(instance.Output)
	if err != nil {
		return nil, &persistence.InstanceError{Op: "Update", InstanceID: id, Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE instances SET
			status = $2, context = $3, output = $4, error_message = $5,
			started_at = $6, finished_at = $7
		WHERE id = $1
	`,
		instance.ID, instance.Status, contextBlob, output, instance.ErrorMessage,
		nullTime(instance.StartedAt), nullTime(instance.FinishedAt),
	)
	if err != nil {
		return nil, &persistence.InstanceError{Op: "Update", InstanceID: id, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &persistence.InstanceError{Op: "Update", InstanceID: id, Err: err}
	}

	return instance, nil
}

func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM instances WHERE id = $1", id)
	if err != nil {
		return &persistence.InstanceError{Op: "Delete", InstanceID: id, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.InstanceError{Op: "Delete", InstanceID: id, Err: err}
	}

	if affected == 0 {
		return persistence.ErrInstanceNotFound
	}

	return nil
}

func scanInstance(row rowScanner) (*models.Instance, error) {
	var (
		instance    models.Instance
		definition  []byte
		contextBlob []byte
		input       []byte
		output      []byte
		parentID    sql.NullString
		startedAt   sql.NullTime
		finishedAt  sql.NullTime
	)

	err := row.Scan(
		&instance.ID, &instance.WorkflowID, &instance.WorkflowVersion, &instance.TriggerID,
		&definition, &instance.Status, &contextBlob, &input, &output, &instance.ErrorMessage,
		&parentID, &instance.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Definition = &models.GraphDefinition{}
	if err := scanJSONB(definition, instance.Definition); err != nil {
		return nil, err
	}

	if err := scanJSONB(contextBlob, &instance.Context); err != nil {
		return nil, err
	}

	if err := scanJSONB(input, &instance.Input); err != nil {
		return nil, err
	}

	if err := scanJSONB(output, &instance.Output); err != nil {
		return nil, err
	}

	instance.ParentInstanceID = stringPtr(parentID)
	instance.StartedAt = timePtr(startedAt)
	instance.FinishedAt = timePtr(finishedAt)

	return &instance, nil
}
