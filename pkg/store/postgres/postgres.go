// Package postgres provides pgx-backed implementations of the instance and
// execution stores. Update runs inside a transaction with SELECT ... FOR
// UPDATE so concurrent counter increments against the same row never lose
// writes; unrelated rows proceed in parallel.
package postgres

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
)

// Schema creates the tables the stores expect. Applied by the daemon at
// startup; idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS connector_instances (
    id               TEXT PRIMARY KEY,
    connector_id     TEXT NOT NULL,
    tenant_id        TEXT NOT NULL,
    name             TEXT NOT NULL,
    status           TEXT NOT NULL,
    config           JSONB,
    credentials      JSONB NOT NULL,
    last_sync        TIMESTAMPTZ,
    total_calls      BIGINT NOT NULL DEFAULT 0,
    successful_calls BIGINT NOT NULL DEFAULT 0,
    failed_calls     BIGINT NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instances_connector ON connector_instances (connector_id);

CREATE TABLE IF NOT EXISTS connector_executions (
    id          TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    endpoint_id TEXT NOT NULL,
    status      TEXT NOT NULL,
    input       JSONB,
    output      JSONB,
    error       TEXT,
    start_time  TIMESTAMPTZ NOT NULL,
    end_time    TIMESTAMPTZ,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    retry_count INT NOT NULL DEFAULT 0,
    metadata    JSONB
);
CREATE INDEX IF NOT EXISTS idx_executions_instance ON connector_executions (instance_id, start_time);
`

// EnsureSchema applies the schema.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to apply store schema")
	}
	return nil
}

// InstanceStore is a Postgres-backed core.InstanceStore.
type InstanceStore struct {
	pool *pgxpool.Pool
}

// NewInstanceStore creates the store over an existing pool.
func NewInstanceStore(pool *pgxpool.Pool) *InstanceStore {
	return &InstanceStore{pool: pool}
}

// Put inserts or replaces the instance row.
func (s *InstanceStore) Put(ctx context.Context, inst *core.ConnectorInstance) error {
	config, err := json.Marshal(inst.Config)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode instance config")
	}
	credentials, err := json.Marshal(inst.Credentials)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode instance credentials")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO connector_instances
		    (id, connector_id, tenant_id, name, status, config, credentials,
		     last_sync, total_calls, successful_calls, failed_calls, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
		    connector_id = EXCLUDED.connector_id,
		    tenant_id = EXCLUDED.tenant_id,
		    name = EXCLUDED.name,
		    status = EXCLUDED.status,
		    config = EXCLUDED.config,
		    credentials = EXCLUDED.credentials,
		    last_sync = EXCLUDED.last_sync,
		    total_calls = EXCLUDED.total_calls,
		    successful_calls = EXCLUDED.successful_calls,
		    failed_calls = EXCLUDED.failed_calls,
		    updated_at = EXCLUDED.updated_at`,
		inst.ID, inst.ConnectorID, inst.TenantID, inst.Name, string(inst.Status),
		config, credentials, inst.LastSync,
		inst.TotalCalls, inst.SuccessfulCalls, inst.FailedCalls,
		inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to store instance")
	}
	return nil
}

// Get returns one instance.
func (s *InstanceStore) Get(ctx context.Context, id string) (*core.ConnectorInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, connector_id, tenant_id, name, status, config, credentials,
		       last_sync, total_calls, successful_calls, failed_calls, created_at, updated_at
		FROM connector_instances WHERE id = $1`, id)
	inst, err := scanInstance(row)
	if err == pgx.ErrNoRows {
		return nil, errors.InstanceNotFound(id)
	}
	return inst, err
}

// Delete removes the instance row. Executions are retained.
func (s *InstanceStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM connector_instances WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to delete instance")
	}
	if tag.RowsAffected() == 0 {
		return errors.InstanceNotFound(id)
	}
	return nil
}

// List returns instances, optionally filtered by connector id, ordered by
// creation time.
func (s *InstanceStore) List(ctx context.Context, connectorID string) ([]*core.ConnectorInstance, error) {
	query := `
		SELECT id, connector_id, tenant_id, name, status, config, credentials,
		       last_sync, total_calls, successful_calls, failed_calls, created_at, updated_at
		FROM connector_instances`
	args := []interface{}{}
	if connectorID != "" {
		query += ` WHERE connector_id = $1`
		args = append(args, connectorID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to list instances")
	}
	defer rows.Close()

	var out []*core.ConnectorInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Update applies fn to the row under a row lock.
func (s *InstanceStore) Update(ctx context.Context, id string, fn func(*core.ConnectorInstance) error) (*core.ConnectorInstance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx, `
		SELECT id, connector_id, tenant_id, name, status, config, credentials,
		       last_sync, total_calls, successful_calls, failed_calls, created_at, updated_at
		FROM connector_instances WHERE id = $1 FOR UPDATE`, id)
	inst, err := scanInstance(row)
	if err == pgx.ErrNoRows {
		return nil, errors.InstanceNotFound(id)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(inst); err != nil {
		return nil, err
	}

	config, err := json.Marshal(inst.Config)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode instance config")
	}
	credentials, err := json.Marshal(inst.Credentials)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode instance credentials")
	}

	_, err = tx.Exec(ctx, `
		UPDATE connector_instances SET
		    name = $2, status = $3, config = $4, credentials = $5, last_sync = $6,
		    total_calls = $7, successful_calls = $8, failed_calls = $9, updated_at = $10
		WHERE id = $1`,
		inst.ID, inst.Name, string(inst.Status), config, credentials, inst.LastSync,
		inst.TotalCalls, inst.SuccessfulCalls, inst.FailedCalls, inst.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to update instance")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to commit instance update")
	}
	return inst, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner) (*core.ConnectorInstance, error) {
	var (
		inst        core.ConnectorInstance
		status      string
		config      []byte
		credentials []byte
	)
	err := row.Scan(&inst.ID, &inst.ConnectorID, &inst.TenantID, &inst.Name, &status,
		&config, &credentials, &inst.LastSync,
		&inst.TotalCalls, &inst.SuccessfulCalls, &inst.FailedCalls,
		&inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan instance row")
	}

	inst.Status = core.InstanceStatus(status)
	if len(config) > 0 {
		if err := json.Unmarshal(config, &inst.Config); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode instance config")
		}
	}
	if len(credentials) > 0 {
		if err := json.Unmarshal(credentials, &inst.Credentials); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode instance credentials")
		}
	}
	return &inst, nil
}

// ExecutionStore is a Postgres-backed core.ExecutionStore.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates the store over an existing pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Put inserts or replaces the execution row.
func (s *ExecutionStore) Put(ctx context.Context, exec *core.Execution) error {
	input, output, metadata, err := encodeExecutionJSON(exec)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO connector_executions
		    (id, instance_id, endpoint_id, status, input, output, error,
		     start_time, end_time, duration_ms, retry_count, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
		    status = EXCLUDED.status,
		    output = EXCLUDED.output,
		    error = EXCLUDED.error,
		    end_time = EXCLUDED.end_time,
		    duration_ms = EXCLUDED.duration_ms,
		    retry_count = EXCLUDED.retry_count,
		    metadata = EXCLUDED.metadata`,
		exec.ID, exec.InstanceID, exec.EndpointID, string(exec.Status),
		input, output, exec.Error,
		exec.StartTime, exec.EndTime, exec.Duration.Milliseconds(), exec.RetryCount, metadata)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to store execution")
	}
	return nil
}

// Get returns one execution.
func (s *ExecutionStore) Get(ctx context.Context, id string) (*core.Execution, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, instance_id, endpoint_id, status, input, output, error,
		       start_time, end_time, duration_ms, retry_count, metadata
		FROM connector_executions WHERE id = $1`, id)
	exec, err := scanExecution(row)
	if err == pgx.ErrNoRows {
		return nil, executionNotFound(id)
	}
	return exec, err
}

// List returns executions, optionally filtered by instance id, ordered by
// start time.
func (s *ExecutionStore) List(ctx context.Context, instanceID string) ([]*core.Execution, error) {
	query := `
		SELECT id, instance_id, endpoint_id, status, input, output, error,
		       start_time, end_time, duration_ms, retry_count, metadata
		FROM connector_executions`
	args := []interface{}{}
	if instanceID != "" {
		query += ` WHERE instance_id = $1`
		args = append(args, instanceID)
	}
	query += ` ORDER BY start_time`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to list executions")
	}
	defer rows.Close()

	var out []*core.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// Update applies fn to the row under a row lock.
func (s *ExecutionStore) Update(ctx context.Context, id string, fn func(*core.Execution) error) (*core.Execution, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx, `
		SELECT id, instance_id, endpoint_id, status, input, output, error,
		       start_time, end_time, duration_ms, retry_count, metadata
		FROM connector_executions WHERE id = $1 FOR UPDATE`, id)
	exec, err := scanExecution(row)
	if err == pgx.ErrNoRows {
		return nil, executionNotFound(id)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(exec); err != nil {
		return nil, err
	}

	input, output, metadata, err := encodeExecutionJSON(exec)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE connector_executions SET
		    status = $2, input = $3, output = $4, error = $5,
		    end_time = $6, duration_ms = $7, retry_count = $8, metadata = $9
		WHERE id = $1`,
		exec.ID, string(exec.Status), input, output, exec.Error,
		exec.EndTime, exec.Duration.Milliseconds(), exec.RetryCount, metadata)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to update execution")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to commit execution update")
	}
	return exec, nil
}

func encodeExecutionJSON(exec *core.Execution) (input, output, metadata []byte, err error) {
	if input, err = json.Marshal(exec.Input); err != nil {
		return nil, nil, nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode execution input")
	}
	if output, err = json.Marshal(exec.Output); err != nil {
		return nil, nil, nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode execution output")
	}
	if metadata, err = json.Marshal(exec.Metadata); err != nil {
		return nil, nil, nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode execution metadata")
	}
	return input, output, metadata, nil
}

func scanExecution(row rowScanner) (*core.Execution, error) {
	var (
		exec       core.Execution
		status     string
		input      []byte
		output     []byte
		metadata   []byte
		durationMS int64
	)
	err := row.Scan(&exec.ID, &exec.InstanceID, &exec.EndpointID, &status,
		&input, &output, &exec.Error,
		&exec.StartTime, &exec.EndTime, &durationMS, &exec.RetryCount, &metadata)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan execution row")
	}

	exec.Status = core.ExecutionStatus(status)
	exec.Duration = time.Duration(durationMS) * time.Millisecond
	if len(input) > 0 {
		if err := json.Unmarshal(input, &exec.Input); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode execution input")
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &exec.Output); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode execution output")
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &exec.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode execution metadata")
		}
	}
	return &exec, nil
}

func executionNotFound(id string) *errors.Error {
	return errors.New(errors.ErrorTypeNotFound, "execution "+id+" not found").
		WithDetail("resource", "execution").
		WithDetail("id", id)
}
