package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
)

// TriggerRepository stores triggers in the triggers table.
type TriggerRepository struct {
	db *sql.DB
}

const triggerColumns = `id, workflow_id, name, type, config, active, last_triggered, trigger_count, created_at, updated_at`

func (r *TriggerRepository) Save(ctx context.Context, trigger *models.Trigger) error {
	config, err := jsonbValue(trigger.Config)
	if err != nil {
		return fmt.Errorf("failed to save trigger %s: %w", trigger.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO triggers (`+triggerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			config = EXCLUDED.config,
			active = EXCLUDED.active,
			last_triggered = EXCLUDED.last_triggered,
			trigger_count = EXCLUDED.trigger_count,
			updated_at = EXCLUDED.updated_at
	`,
		trigger.ID, trigger.WorkflowID, trigger.Name, trigger.Type, config, trigger.Active,
		nullTime(trigger.LastTriggered), trigger.TriggerCount, trigger.CreatedAt, trigger.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger %s: %w", trigger.ID, err)
	}

	return nil
}

func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE id = $1`, id)

	trigger, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTriggerNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get trigger %s: %w", id, err)
	}

	return trigger, nil
}

func (r *TriggerRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Trigger, error) {
	return r.list(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE workflow_id = $1 ORDER BY id`, workflowID)
}

func (r *TriggerRepository) ListActiveByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	return r.list(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE type = $1 AND active ORDER BY id`, triggerType)
}

func (r *TriggerRepository) list(ctx context.Context, query string, args ...any) ([]*models.Trigger, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*models.Trigger

	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger row: %w", err)
		}

		triggers = append(triggers, trigger)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trigger rows: %w", err)
	}

	return triggers, nil
}

func (r *TriggerRepository) Update(ctx context.Context, id string, mutate func(*models.Trigger) error) (*models.Trigger, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update trigger %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE id = $1 FOR UPDATE`, id)

	trigger, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTriggerNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to update trigger %s: %w", id, err)
	}

	if err := mutate(trigger); err != nil {
		return nil, err
	}

	config, err := jsonbValue(trigger.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to update trigger %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE triggers SET
			name = $2, type = $3, config = $4, active = $5, last_triggered = $6,
			trigger_count = $7, updated_at = $8
		WHERE id = $1
	`,
		trigger.ID, trigger.Name, trigger.Type, config, trigger.Active,
		nullTime(trigger.LastTriggered), trigger.TriggerCount, trigger.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update trigger %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to update trigger %s: %w", id, err)
	}

	return trigger, nil
}

func (r *TriggerRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM triggers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete trigger %s: %w", id, err)
	}

	if affected == 0 {
		return persistence.ErrTriggerNotFound
	}

	return nil
}

func scanTrigger(row rowScanner) (*models.Trigger, error) {
	var (
		trigger       models.Trigger
		config        []byte
		lastTriggered sql.NullTime
	)

	err := row.Scan(
		&trigger.ID, &trigger.WorkflowID, &trigger.Name, &trigger.Type, &config,
		&trigger.Active, &lastTriggered, &trigger.TriggerCount, &trigger.CreatedAt, &trigger.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := scanJSONB(config, &trigger.Config); err != nil {
		return nil, err
	}

	trigger.LastTriggered = timePtr(lastTriggered)

	return &trigger, nil
}
