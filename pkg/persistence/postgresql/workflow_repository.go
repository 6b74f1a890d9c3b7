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

// WorkflowRepository stores workflows in the workflows table with the graph
// definition serialized as JSONB.
type WorkflowRepository struct {
	db *sql.DB
}

const workflowColumns = `id, name, description, version, status, definition, config, owner, created_at, updated_at, archived_at`

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	definition, err := jsonbValue(workflow.Definition)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	config, err := jsonbValue(workflow.Config)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			definition = EXCLUDED.definition,
			config = EXCLUDED.config,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at,
			archived_at = EXCLUDED.archived_at
	`,
		workflow.ID, workflow.Name, workflow.Description, workflow.Version, workflow.Status,
		definition, config, workflow.Owner, workflow.CreatedAt, workflow.UpdatedAt,
		nullTime(workflow.ArchivedAt),
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrWorkflowNotFound
	}

	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.ListWorkflowsResult, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		where = append(where, fmt.Sprintf("owner = $%d", len(args)))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	orderClause, err := orderBy(opts.SortBy, opts.SortOrder)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows"+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows` + whereClause + orderClause

	if opts.Limit > 0 {
		args = append(args, opts.Limit+1)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflow rows: %w", err)
	}

	hasNext := false
	if opts.Limit > 0 && len(workflows) > opts.Limit {
		workflows = workflows[:opts.Limit]
		hasNext = true
	}

	return &persistence.ListWorkflowsResult{
		Workflows:   workflows,
		TotalCount:  total,
		HasNextPage: hasNext,
	}, nil
}

func orderBy(sortBy, sortOrder string) (string, error) {
	column := ""

	switch sortBy {
	case "", "created_at":
		column = "created_at"
	case "updated_at":
		column = "updated_at"
	case "name":
		column = "name"
	default:
		return "", persistence.ErrInvalidSortField
	}

	direction := "ASC"
	if strings.EqualFold(sortOrder, "desc") {
		direction = "DESC"
	}

	return fmt.Sprintf(" ORDER BY %s %s", column, direction), nil
}

// Update applies mutate inside a transaction holding a row lock, giving the
// single-writer-at-a-time guarantee the engine relies on.
func (r *WorkflowRepository) Update(ctx context.Context, id string, mutate func(*models.Workflow) error) (*models.Workflow, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewWorkflowError("Update", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1 FOR UPDATE`, id)

	workflow, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrWorkflowNotFound
	}

	if err != nil {
		return nil, persistence.NewWorkflowError("Update", id, err)
	}

	if err := mutate(workflow); err != nil {
		return nil, err
	}

	definition, err := jsonbValue(workflow.Definition)
	if err != nil {
		return nil, persistence.NewWorkflowError("Update", id, err)
	}

	config, err := jsonbValue(workflow.Config)
	if err != nil {
		return nil, persistence.NewWorkflowError("Update", id, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflows SET
			name = $2, description = $3, version = $4, status = $5, definition = $6,
			config = $7, owner = $8, updated_at = $9, archived_at = $10
		WHERE id = $1
	`,
		workflow.ID, workflow.Name, workflow.Description, workflow.Version, workflow.Status,
		definition, config, workflow.Owner, workflow.UpdatedAt, nullTime(workflow.ArchivedAt),
	)
	if err != nil {
		return nil, persistence.NewWorkflowError("Update", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence.NewWorkflowError("Update", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow   models.Workflow
		definition []byte
		config     []byte
		archivedAt sql.NullTime
	)

	err := row.Scan(
		&workflow.ID, &workflow.Name, &workflow.Description, &workflow.Version, &workflow.Status,
		&definition, &config, &workflow.Owner, &workflow.CreatedAt, &workflow.UpdatedAt, &archivedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.Definition = &models.GraphDefinition{}
	if err := scanJSONB(definition, workflow.Definition); err != nil {
		return nil, err
	}

	if err := scanJSONB(config, &workflow.Config); err != nil {
		return nil, err
	}

	workflow.ArchivedAt = timePtr(archivedAt)

	return &workflow, nil
}
