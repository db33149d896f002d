// Package engine orchestrates endpoint executions: it resolves the instance
// and connector, validates input, applies inbound transformations, gates the
// call through the rate limiter, drives the transport with the connector's
// retry policy, applies outbound transformations, and records the terminal
// outcome exactly once.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/audit"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/base"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/instance"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/registry"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/validate"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/logger"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/metrics"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/transform"
)

// DefaultEndpointTimeout applies to transport attempts when the endpoint
// declares no timeout of its own.
const DefaultEndpointTimeout = 30 * time.Second

// Config wires the engine's collaborators. Registry, Instances, Executions,
// and Transport are required; the rest default to sensible in-process
// implementations.
type Config struct {
	Registry   *registry.Registry
	Instances  *instance.Manager
	Executions core.ExecutionStore
	Transport  core.Transport
	Pipeline   *transform.Pipeline
	Audit      core.AuditSink
	AuditRetry audit.ReliableConfig
	Metrics    *metrics.Collector
}

// Engine executes connector endpoints. Safe for concurrent use; unrelated
// executions never serialize on each other.
type Engine struct {
	registry   *registry.Registry
	instances  *instance.Manager
	executions core.ExecutionStore
	transport  core.Transport
	pipeline   *transform.Pipeline
	limiter    *Limiter
	audit      core.AuditSink
	metrics    *metrics.Collector
	tracer     trace.Tracer
	logger     *zap.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// New creates an engine. The audit sink is wrapped so terminal execution
// records are written with bounded retries before ExecuteEndpoint returns.
func New(cfg Config) *Engine {
	pipeline := cfg.Pipeline
	if pipeline == nil {
		pipeline = transform.New()
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewCollector(nil)
	}
	var sink core.AuditSink
	if cfg.Audit != nil {
		sink = audit.NewReliableSink(cfg.Audit, cfg.AuditRetry)
	}

	return &Engine{
		registry:   cfg.Registry,
		instances:  cfg.Instances,
		executions: cfg.Executions,
		transport:  cfg.Transport,
		pipeline:   pipeline,
		limiter:    NewLimiter(),
		audit:      sink,
		metrics:    collector,
		tracer:     otel.Tracer("connector/engine"),
		logger:     logger.Get().With(zap.String("component", "execution_engine")),
		inflight:   make(map[string]context.CancelFunc),
	}
}

// ExecuteEndpoint performs one call through an instance. An execution record
// is created in state running before any work happens and finalized exactly
// once; the returned record reflects the terminal state even when err is
// non-nil.
func (e *Engine) ExecuteEndpoint(ctx context.Context, instanceID, endpointID string, input core.Record, caller core.Caller) (*core.Execution, error) {
	inst, err := e.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != core.InstanceStatusActive {
		return nil, errors.ConfigurationInvalid(
			fmt.Sprintf("instance %s is %s, not active", inst.ID, inst.Status)).
			WithDetail("instance_id", inst.ID).
			WithDetail("status", string(inst.Status))
	}
	def, err := e.registry.Get(inst.ConnectorID)
	if err != nil {
		return nil, err
	}
	ep, ok := def.Endpoint(endpointID)
	if !ok {
		return nil, errors.EndpointNotFound(def.ID, endpointID)
	}

	exec := &core.Execution{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		EndpointID: endpointID,
		Status:     core.ExecutionStatusRunning,
		Input:      input,
		StartTime:  time.Now().UTC(),
		Metadata: map[string]interface{}{
			"connector_id": def.ID,
			"tenant_id":    caller.TenantID,
		},
	}
	if err := e.executions.Put(ctx, exec); err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, logger.ExecutionIDKey, exec.ID)
	ctx = context.WithValue(ctx, logger.InstanceIDKey, instanceID)
	log := logger.WithContext(ctx).With(zap.String("component", "execution_engine"))

	ctx, span := e.tracer.Start(ctx, "connector.execute_endpoint",
		trace.WithAttributes(
			attribute.String("connector.id", def.ID),
			attribute.String("connector.instance_id", instanceID),
			attribute.String("connector.endpoint_id", endpointID),
		))
	defer span.End()

	callCtx, cancel := context.WithCancel(ctx)
	e.registerInflight(exec.ID, cancel)
	defer e.releaseInflight(exec.ID)

	e.metrics.ExecutionStarted()

	run := &execRun{
		engine: e,
		def:    def,
		exec:   exec,
		caller: caller,
		span:   span,
		log:    log,
	}
	// The run finalizes exactly once; a panic inside steps 4-9 still leaves
	// a terminal record behind.
	defer run.recoverToFailed(ctx)

	// Step 4: validate before anything else touches the transport.
	if err := validate.Input(input, ep, def.Validation); err != nil {
		return run.finalize(ctx, core.ExecutionStatusFailed, nil, err, 0)
	}

	// Step 5: inbound transformations.
	inbound, err := e.pipeline.Apply(input, def.InboundRules())
	if err != nil {
		return run.finalize(ctx, core.ExecutionStatusFailed, nil,
			errors.Wrap(err, errors.ErrorTypeTransformation, "inbound transformation failed"), 0)
	}
	if inbound.Filtered {
		exec.Metadata["filtered"] = true
		return run.finalize(ctx, core.ExecutionStatusCompleted, nil, nil, 0)
	}

	// Step 6: rate-limiter gate. A rejected call costs no transport attempt
	// but still counts toward the instance totals.
	policy := def.RateLimit
	if ep.RateLimit != nil {
		policy = *ep.RateLimit
	}
	if !e.limiter.Allow(instanceID, endpointID, policy) {
		e.metrics.RateLimitRejected(def.ID)
		return run.finalize(ctx, core.ExecutionStatusFailed, nil,
			errors.RateLimited(instanceID, endpointID), 0)
	}

	// Steps 7-8: transport with retry policy.
	var credentials map[string]string
	if ep.RequiresAuth {
		credentials, err = e.instances.DecryptCredentials(ctx, inst)
		if err != nil {
			return run.finalize(ctx, core.ExecutionStatusFailed, nil, err, 0)
		}
	}

	req := &core.Request{
		BaseURL:     def.BaseURL,
		Endpoint:    ep,
		Auth:        def.Auth,
		Credentials: credentials,
		Input:       inbound.Record,
		InstanceID:  instanceID,
	}

	retrier := base.NewRetrier(def.Retry)
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = DefaultEndpointTimeout
	}

	var output core.Record
	retryCount := 0
	for {
		output, err = e.callOnce(callCtx, req, timeout)
		if err == nil {
			break
		}
		if callCtx.Err() == context.Canceled {
			return run.finalize(ctx, core.ExecutionStatusCancelled, nil,
				errors.New(errors.ErrorTypeCancelled, "execution cancelled"), retryCount)
		}
		if !retrier.ShouldRetry(err, retryCount) {
			break
		}

		e.metrics.RetryAttempted(def.ID, errors.Classify(err))
		log.Warn("transport attempt failed, retrying",
			zap.Int("retry", retryCount+1),
			zap.Int("max_retries", retrier.MaxRetries()),
			zap.String("classification", errors.Classify(err)),
			zap.Error(err))

		if waitErr := retrier.Wait(callCtx, retryCount); waitErr != nil {
			return run.finalize(ctx, core.ExecutionStatusCancelled, nil,
				errors.New(errors.ErrorTypeCancelled, "execution cancelled"), retryCount)
		}
		retryCount++
	}
	if err != nil {
		return run.finalize(ctx, core.ExecutionStatusFailed, nil, err, retryCount)
	}

	// Step 9: outbound transformations on the response.
	outbound, err := e.pipeline.Apply(output, def.OutboundRules())
	if err != nil {
		return run.finalize(ctx, core.ExecutionStatusFailed, nil,
			errors.Wrap(err, errors.ErrorTypeTransformation, "outbound transformation failed"), retryCount)
	}
	if outbound.Filtered {
		exec.Metadata["filtered"] = true
		return run.finalize(ctx, core.ExecutionStatusCompleted, nil, nil, retryCount)
	}

	return run.finalize(ctx, core.ExecutionStatusCompleted, outbound.Record, nil, retryCount)
}

// callOnce performs a single transport attempt under the endpoint timeout.
func (e *Engine) callOnce(ctx context.Context, req *core.Request, timeout time.Duration) (core.Record, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.transport.Call(attemptCtx, req)
}

// CancelExecution requests cancellation of an in-flight execution. The
// execution transitions running → cancelled once its transport attempt or
// retry wait observes the cancellation. Unknown or already-terminal
// executions report not found.
func (e *Engine) CancelExecution(executionID string) error {
	e.mu.Lock()
	cancel, ok := e.inflight[executionID]
	e.mu.Unlock()
	if !ok {
		return errors.New(errors.ErrorTypeNotFound, "execution "+executionID+" is not in flight").
			WithDetail("resource", "execution").
			WithDetail("id", executionID)
	}
	cancel()
	return nil
}

// GetExecution returns one execution record.
func (e *Engine) GetExecution(ctx context.Context, id string) (*core.Execution, error) {
	return e.executions.Get(ctx, id)
}

// ListExecutions returns execution records, optionally filtered by instance.
func (e *Engine) ListExecutions(ctx context.Context, instanceID string) ([]*core.Execution, error) {
	return e.executions.List(ctx, instanceID)
}

func (e *Engine) registerInflight(executionID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.inflight[executionID] = cancel
	e.mu.Unlock()
}

func (e *Engine) releaseInflight(executionID string) {
	e.mu.Lock()
	cancel, ok := e.inflight[executionID]
	delete(e.inflight, executionID)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// execRun tracks the finalization of one execution so it happens exactly once.
type execRun struct {
	engine *Engine
	def    *core.ConnectorDefinition
	exec   *core.Execution
	caller core.Caller
	span   trace.Span
	log    *zap.Logger

	finalized bool
}

// finalize writes the terminal state to the execution store, updates the
// instance counters, records metrics, and emits the audit event. It returns
// the updated record together with execErr so the caller's return statement
// stays a one-liner.
func (r *execRun) finalize(ctx context.Context, status core.ExecutionStatus, output core.Record, execErr error, retryCount int) (*core.Execution, error) {
	if r.finalized {
		return r.exec, execErr
	}
	r.finalized = true

	now := time.Now().UTC()
	duration := now.Sub(r.exec.StartTime)

	updated, err := r.engine.executions.Update(ctx, r.exec.ID, func(e *core.Execution) error {
		e.Status = status
		e.Output = output
		e.EndTime = &now
		e.Duration = duration
		e.RetryCount = retryCount
		if execErr != nil {
			e.Error = execErr.Error()
		}
		for k, v := range r.exec.Metadata {
			if e.Metadata == nil {
				e.Metadata = map[string]interface{}{}
			}
			e.Metadata[k] = v
		}
		return nil
	})
	if err != nil {
		// The store write failed; the returned record must still reflect the
		// terminal state, so apply the same fields to the local copy.
		r.log.Error("failed to finalize execution record", zap.Error(err))
		r.exec.Status = status
		r.exec.Output = output
		r.exec.EndTime = &now
		r.exec.Duration = duration
		r.exec.RetryCount = retryCount
		if execErr != nil {
			r.exec.Error = execErr.Error()
		}
		updated = r.exec
	} else {
		r.exec = updated
	}

	if err := r.engine.instances.RecordCallOutcome(ctx, r.exec.InstanceID, status); err != nil {
		r.log.Warn("failed to update instance counters", zap.Error(err))
	}

	r.engine.metrics.ExecutionFinished(r.def.ID, string(status), duration)

	switch status {
	case core.ExecutionStatusCompleted:
		r.span.SetStatus(codes.Ok, "")
		r.log.Info("execution completed",
			zap.Duration("duration", duration),
			zap.Int("retry_count", retryCount))
	default:
		if execErr != nil {
			r.span.RecordError(execErr)
		}
		r.span.SetStatus(codes.Error, string(status))
		r.log.Warn("execution "+string(status),
			zap.Duration("duration", duration),
			zap.Int("retry_count", retryCount),
			zap.Error(execErr))
	}

	r.recordAudit(ctx, status, execErr, retryCount, duration)
	return updated, execErr
}

// recoverToFailed finalizes a panicking run as failed and re-panics, so a
// bug in a transformation or transport never leaves the record running.
func (r *execRun) recoverToFailed(ctx context.Context) {
	if p := recover(); p != nil {
		if !r.finalized {
			_, _ = r.finalize(ctx, core.ExecutionStatusFailed, nil,
				errors.New(errors.ErrorTypeInternal, "execution panicked"), r.exec.RetryCount)
		}
		panic(p)
	}
}

func (r *execRun) recordAudit(ctx context.Context, status core.ExecutionStatus, execErr error, retryCount int, duration time.Duration) {
	if r.engine.audit == nil {
		return
	}
	details := map[string]interface{}{
		"connector_id": r.def.ID,
		"instance_id":  r.exec.InstanceID,
		"endpoint_id":  r.exec.EndpointID,
		"status":       string(status),
		"retry_count":  retryCount,
		"duration_ms":  duration.Milliseconds(),
	}
	if execErr != nil {
		details["error"] = execErr.Error()
		if class := errors.Classify(execErr); class != "" {
			details["classification"] = class
		}
	}
	if err := r.engine.audit.Record(ctx, core.AuditEvent{
		Type:       "execution." + string(status),
		TenantID:   r.caller.TenantID,
		UserID:     r.caller.UserID,
		Resource:   "execution",
		ResourceID: r.exec.ID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		r.log.Error("terminal audit record failed", zap.Error(err))
	}
}
