package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
)

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

func definition(id string) *core.ConnectorDefinition {
	return &core.ConnectorDefinition{
		ID:       id,
		Name:     "NHS GP Connect",
		Version:  "1.0.0",
		Category: "healthcare",
		Endpoints: []core.EndpointDefinition{
			{ID: "book_appointment", Method: "POST", Path: "/appointments"},
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	sink := &capturingSink{}
	r := NewRegistry(sink)

	require.NoError(t, r.Register(context.Background(), definition("nhs_gp_connect")))

	def, err := r.Get("nhs_gp_connect")
	require.NoError(t, err)
	assert.Equal(t, "NHS GP Connect", def.Name)
	assert.True(t, r.Has("nhs_gp_connect"))

	require.Len(t, sink.events, 1)
	assert.Equal(t, "connector.registered", sink.events[0].Type)
	assert.Equal(t, "nhs_gp_connect", sink.events[0].ResourceID)
}

func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	r := NewRegistry(nil)

	invalid := definition("bad")
	invalid.Endpoints = nil

	err := r.Register(context.Background(), invalid)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.False(t, r.Has("bad"))
}

func TestReRegistrationOverwrites(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, definition("nhs_gp_connect")))

	updated := definition("nhs_gp_connect")
	updated.Version = "2.0.0"
	require.NoError(t, r.Register(ctx, updated))

	def, err := r.Get("nhs_gp_connect")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", def.Version)
	assert.Len(t, r.List(), 1)
}

func TestGetUnknownConnector(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Get("unknown")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestConcurrentRegistrationAndLookup(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Register(ctx, definition("nhs_gp_connect"))
			_, _ = r.Get("nhs_gp_connect")
			_ = r.List()
		}()
	}
	wg.Wait()

	assert.True(t, r.Has("nhs_gp_connect"))
}
