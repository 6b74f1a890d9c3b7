// Package postgresql provides PostgreSQL persistence for workflows,
// triggers, instances and executions.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Registers the postgres driver.
	_ "github.com/lib/pq"

	"github.com/venlock/orchid/pkg/persistence"
	"github.com/venlock/orchid/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	workflowRepo  *WorkflowRepository
	triggerRepo   *TriggerRepository
	instanceRepo  *InstanceRepository
	executionRepo *ExecutionRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs schema
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		workflowRepo:  &WorkflowRepository{db: database},
		triggerRepo:   &TriggerRepository{db: database},
		instanceRepo:  &InstanceRepository{db: database},
		executionRepo: &ExecutionRepository{db: database},
	}, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) TriggerRepository() persistence.TriggerRepository {
	return p.triggerRepo
}

func (p *Persistence) InstanceRepository() persistence.InstanceRepository {
	return p.instanceRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 1,
				status TEXT NOT NULL,
				definition JSONB NOT NULL,
				config JSONB,
				owner TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				archived_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows (status);
			CREATE INDEX IF NOT EXISTS idx_workflows_owner ON workflows (owner);

			CREATE TABLE IF NOT EXISTS triggers (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows (id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				type TEXT NOT NULL,
				config JSONB,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				last_triggered TIMESTAMP WITH TIME ZONE,
				trigger_count BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_triggers_workflow ON triggers (workflow_id);
			CREATE INDEX IF NOT EXISTS idx_triggers_type_active ON triggers (type, active);

			CREATE TABLE IF NOT EXISTS instances (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				workflow_version INTEGER NOT NULL DEFAULT 1,
				trigger_id TEXT NOT NULL DEFAULT '',
				definition JSONB NOT NULL,
				status TEXT NOT NULL,
				context JSONB,
				input JSONB,
				output JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				parent_instance_id TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_instances_status ON instances (status);
			CREATE INDEX IF NOT EXISTS idx_instances_parent ON instances (parent_instance_id);

			CREATE TABLE IF NOT EXISTS executions (
				instance_id TEXT NOT NULL REFERENCES instances (id) ON DELETE CASCADE,
				node_id TEXT NOT NULL,
				status TEXT NOT NULL,
				input JSONB,
				output JSONB,
				error TEXT NOT NULL DEFAULT '',
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				next_retry_at TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (instance_id, node_id)
			);

			CREATE INDEX IF NOT EXISTS idx_executions_status ON executions (status);
		`,
	}
}
