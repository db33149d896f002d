package engine

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/instance"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/registry"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/store/memory"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/vault"
)

type scriptedTransport struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req *core.Request) (core.Record, error)
}

func (t *scriptedTransport) Call(ctx context.Context, req *core.Request) (core.Record, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return t.fn(ctx, req)
}

func (t *scriptedTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type capturingSink struct {
	mu     sync.Mutex
	events []core.AuditEvent
}

func (s *capturingSink) Record(_ context.Context, event core.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *capturingSink) last() core.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

var testCaller = core.Caller{TenantID: "tenant-1", UserID: "user-1"}

func bookingConnector() *core.ConnectorDefinition {
	return &core.ConnectorDefinition{
		ID:       "nhs_gp_connect",
		Name:     "NHS GP Connect",
		Version:  "1.0.0",
		Category: "healthcare",
		BaseURL:  "https://gpconnect.example.nhs.uk",
		Auth:     core.AuthScheme{Kind: core.AuthKindAPIKey, Config: map[string]string{"header": "X-Api-Key"}},
		Endpoints: []core.EndpointDefinition{
			{
				ID:     "book_appointment",
				Name:   "Book appointment",
				Method: "POST",
				Path:   "/appointments",
				Parameters: []core.ParameterSpec{
					{Name: "patientId", Type: "string", Required: true},
					{Name: "appointmentType", Type: "string", Required: true},
				},
				Timeout: 5 * time.Second,
			},
		},
		Transformations: []core.TransformationRule{
			{
				ID: "uppercase-left-as-map", Name: "rename appointment type",
				Shape: core.RuleShapeField, Operation: core.OpMap,
				Source: "appointmentType", Target: "slotType", Enabled: true,
			},
			{
				ID: "confirmation", Name: "surface confirmation code",
				Shape: core.RuleShapeObject, Operation: core.OpMap,
				Source: "booking.reference", Target: "confirmationCode", Enabled: true,
			},
		},
		Retry: core.RetryPolicy{
			MaxRetries:        3,
			BaseDelay:         time.Millisecond,
			MaxDelay:          5 * time.Millisecond,
			BackoffMultiplier: 2,
		},
	}
}

type testEnv struct {
	engine    *Engine
	manager   *instance.Manager
	transport *scriptedTransport
	sink      *capturingSink
	inst      *core.ConnectorInstance
}

func newTestEnv(t *testing.T, def *core.ConnectorDefinition, transport *scriptedTransport) *testEnv {
	t.Helper()
	ctx := context.Background()

	reg := registry.NewRegistry(nil)
	require.NoError(t, reg.Register(ctx, def))

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	v, err := vault.NewLocalVault(key)
	require.NoError(t, err)

	sink := &capturingSink{}
	manager := instance.NewManager(reg, memory.NewInstanceStore(), v, nil)
	inst, err := manager.CreateInstance(ctx, def.ID, "Maple Lodge", nil,
		map[string]interface{}{"api_key": "secret"}, testCaller)
	require.NoError(t, err)
	inst, err = manager.SetStatus(ctx, inst.ID, core.InstanceStatusActive, testCaller)
	require.NoError(t, err)

	eng := New(Config{
		Registry:   reg,
		Instances:  manager,
		Executions: memory.NewExecutionStore(),
		Transport:  transport,
		Audit:      sink,
	})

	return &testEnv{engine: eng, manager: manager, transport: transport, sink: sink, inst: inst}
}

func TestExecuteEndpointSuccess(t *testing.T) {
	transport := &scriptedTransport{fn: func(_ context.Context, req *core.Request) (core.Record, error) {
		// Inbound map rule already renamed the field.
		if _, ok := req.Input["slotType"]; !ok {
			return nil, errors.New(errors.ErrorTypeData, "missing transformed field")
		}
		return core.Record{"booking": map[string]interface{}{"reference": "ABC-123"}}, nil
	}}
	env := newTestEnv(t, bookingConnector(), transport)
	ctx := context.Background()

	exec, err := env.engine.ExecuteEndpoint(ctx, env.inst.ID, "book_appointment",
		core.Record{"patientId": "p-1", "appointmentType": "routine"}, testCaller)
	require.NoError(t, err)

	assert.Equal(t, core.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 0, exec.RetryCount)
	require.NotNil(t, exec.EndTime)
	assert.Equal(t, "ABC-123", exec.Output["confirmationCode"])
	assert.Equal(t, 1, transport.callCount())

	inst, err := env.manager.Get(ctx, env.inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inst.TotalCalls)
	assert.Equal(t, int64(1), inst.SuccessfulCalls)
	assert.NotNil(t, inst.LastSync)

	event := env.sink.last()
	assert.Equal(t, "execution.completed", event.Type)
	assert.Equal(t, exec.ID, event.ResourceID)
	assert.Equal(t, "tenant-1", event.TenantID)
}

func TestExecuteEndpointValidationFailureSkipsTransport(t *testing.T) {
	transport := &scriptedTransport{fn: func(_ context.Context, _ *core.Request) (core.Record, error) {
		return core.Record{}, nil
	}}
	env := newTestEnv(t, bookingConnector(), transport)
	ctx := context.Background()

	exec, err := env.engine.ExecuteEndpoint(ctx, env.inst.ID, "book_appointment",
		core.Record{"appointmentType": "routine"}, testCaller)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	require.NotNil(t, exec)
	assert.Equal(t, core.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, 0, exec.RetryCount)
	assert.Equal(t, 0, transport.callCount())

	inst, err := env.manager.Get(ctx, env.inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inst.TotalCalls)
	assert.Equal(t, int64(0), inst.SuccessfulCalls)
	assert.Equal(t, int64(1), inst.FailedCalls)

	assert.Equal(t, "execution.failed", env.sink.last().Type)
}

func TestExecuteEndpointUnknownIdentifiers(t *testing.T) {
	transport := &scriptedTransport{fn: func(_ context.Context, _ *core.Request) (core.Record, error) {
		return core.Record{}, nil
	}}
	env := newTestEnv(t, bookingConnector(), transport)
	ctx := context.Background()

	_, err := env.engine.ExecuteEndpoint(ctx, "no-such-instance", "book_appointment", nil, testCaller)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = env.engine.ExecuteEndpoint(ctx, env.inst.ID, "no-such-endpoint", nil, testCaller)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	// Neither resolution failure creates an execution record.
	execs, err := env.engine.ListExecutions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestExecuteEndpointRefusesInactiveInstance(t *testing.T) {
	transport := &scriptedTransport{fn: func(_ context.Context, _ *core.Request) (core.Record, error) {
		return core.Record{}, nil
	}}
	env := newTestEnv(t, bookingConnector(), transport)
	ctx := context.Background()

	_, err := env.manager.SetStatus(ctx, env.inst.ID, core.InstanceStatusMaintenance, testCaller)
	require.NoError(t, err)

	_, err = env.engine.ExecuteEndpoint(ctx, env.inst.ID, "book_appointment",
		core.Record{"patientId": "p1", "appointmentType": "gp"}, testCaller)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Equal(t, 0, transport.callCount())

	execs, err := env.engine.ListExecutions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestExecuteEndpointRateLimited(t *testing.T) {
	def := bookingConnector()
	def.RateLimit = core.RateLimitPolicy{BurstLimit: 1, WindowSize: time.Hour}
	transport := &scriptedTransport{fn: func(_ context.Context, _ *core.Request) (core.Record, error) {
		return core.Record{"booking": map[string]interface{}{"reference": "ABC-123"}}, nil
	}}
	env := newTestEnv(t, def, transport)
	ctx := context.Background()
	input := core.Record{"patientId": "p-1", "appointmentType": "routine"}

	first, err := env.engine.ExecuteEndpoint(ctx, env.inst.ID, "book_appointment", input, testCaller)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusCompleted, first.Status)

	second, err := env.engine.ExecuteEndpoint(ctx, env.inst.ID, "book_appointment", input, testCaller)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))
	assert.Equal(t, core.ExecutionStatusFailed, second.Status)

	// No second transport attempt was made, but the call still counts.
	assert.Equal(t, 1, transport.callCount())
	inst, err := env.manager.Get(ctx, env.inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inst.TotalCalls)
	assert.Equal(t, int64(1), inst.SuccessfulCalls)
}

func TestExecuteEndpointRetriesThenFails(t *testing.T) {
	transport := &scriptedTransport{fn: func(_ context.Context, _ *core.Request) (core.Record, error) {
		return nil, errors.New(errors.ErrorTypeTimeout, "upstream timed out")
	}}
	env := newTestEnv(t, bookingConnector(), transport)
	ctx := context.Background()

	exec, err := env.engine.ExecuteEndpoint(ctx, env.inst.ID, "book_appointment",
		core.Record{"patientId": "p-1", "appointmentType": "routine"}, testCaller)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))

	// maxRetries=3 means exactly 4 attempts in total.
	assert.Equal(t, core.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, 3, exec.RetryCount)
	assert.Equal(t, 4, transport.callCount())
}

func TestExecuteEndpointNonRetryableFailsImmediately(t *testing.T) {
	transport := &scriptedTransport{fn: func(_ context.Context, _ *core.Request) (core.Record, error) {
		return nil, errors.New(errors.ErrorTypeData, "422 unprocessable entity")
	}}
	env := newTestEnv(t, bookingConnector(), transport)

	exec, err := env.engine.ExecuteEndpoint(context.Background(), env.inst.ID, "book_appointment",
		core.Record{"patientId": "p-1", "appointmentType": "routine"}, testCaller)
	require.Error(t, err)
	assert.Equal(t, core.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, 0, exec.RetryCount)
	assert.Equal(t, 1, transport.callCount())
}

func TestCancelExecution(t *testing.T) {
	started := make(chan struct{})
	transport := &scriptedTransport{fn: func(ctx context.Context, _ *core.Request) (core.Record, error) {
		close(started)
		<-ctx.Done()
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeConnection, "call aborted")
	}}
	env := newTestEnv(t, bookingConnector(), transport)
	ctx := context.Background()

	type result struct {
		exec *core.Execution
		err  error
	}
	done := make(chan result, 1)
	go func() {
		exec, err := env.engine.ExecuteEndpoint(ctx, env.inst.ID, "book_appointment",
			core.Record{"patientId": "p-1", "appointmentType": "routine"}, testCaller)
		done <- result{exec, err}
	}()

	<-started
	execs, err := env.engine.ListExecutions(ctx, env.inst.ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.NoError(t, env.engine.CancelExecution(execs[0].ID))

	res := <-done
	require.Error(t, res.err)
	assert.True(t, errors.IsType(res.err, errors.ErrorTypeCancelled))
	assert.Equal(t, core.ExecutionStatusCancelled, res.exec.Status)

	// Cancellation counts the call but not as a failure.
	inst, err := env.manager.Get(ctx, env.inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inst.TotalCalls)
	assert.Equal(t, int64(0), inst.FailedCalls)

	// The execution is no longer in flight.
	err = env.engine.CancelExecution(execs[0].ID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestExecuteEndpointInboundFilterSkipsTransport(t *testing.T) {
	def := bookingConnector()
	def.Transformations = append(def.Transformations, core.TransformationRule{
		ID: "drop-test-patients", Name: "drop test patients",
		Shape: core.RuleShapeField, Operation: core.OpFilter,
		Conditions: []core.RuleCondition{
			{Field: "patientId", Operator: core.CondNotEquals, Value: "test"},
		},
		Enabled: true,
	})
	transport := &scriptedTransport{fn: func(_ context.Context, _ *core.Request) (core.Record, error) {
		return core.Record{}, nil
	}}
	env := newTestEnv(t, def, transport)

	exec, err := env.engine.ExecuteEndpoint(context.Background(), env.inst.ID, "book_appointment",
		core.Record{"patientId": "test", "appointmentType": "routine"}, testCaller)
	require.NoError(t, err)

	assert.Equal(t, core.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, true, exec.Metadata["filtered"])
	assert.Equal(t, 0, transport.callCount())
}

// updateFailingStore accepts the initial Put but refuses every Update, as a
// store losing its backend mid-execution would.
type updateFailingStore struct {
	core.ExecutionStore
}

func (s *updateFailingStore) Update(_ context.Context, _ string, _ func(*core.Execution) error) (*core.Execution, error) {
	return nil, errors.New(errors.ErrorTypeConnection, "execution store unavailable")
}

func TestExecuteEndpointReturnsTerminalRecordOnStoreFailure(t *testing.T) {
	transport := &scriptedTransport{fn: func(_ context.Context, _ *core.Request) (core.Record, error) {
		return core.Record{"booking": map[string]interface{}{"reference": "ABC-123"}}, nil
	}}
	env := newTestEnv(t, bookingConnector(), transport)
	env.engine.executions = &updateFailingStore{ExecutionStore: env.engine.executions}

	exec, err := env.engine.ExecuteEndpoint(context.Background(), env.inst.ID, "book_appointment",
		core.Record{"patientId": "p1", "appointmentType": "gp"}, testCaller)
	require.NoError(t, err)

	// The persisted record could not be updated, but the returned one still
	// reflects the terminal state.
	assert.Equal(t, core.ExecutionStatusCompleted, exec.Status)
	require.NotNil(t, exec.EndTime)
	assert.Equal(t, "ABC-123", exec.Output["confirmationCode"])
	assert.Equal(t, 0, exec.RetryCount)
}
