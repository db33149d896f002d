package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
)

func validDefinition() *core.ConnectorDefinition {
	return &core.ConnectorDefinition{
		ID:       "nhs_gp_connect",
		Name:     "NHS GP Connect",
		Version:  "1.0.0",
		Category: "healthcare",
		Endpoints: []core.EndpointDefinition{
			{ID: "book_appointment", Name: "Book Appointment", Method: "POST", Path: "/appointments"},
		},
	}
}

func TestDefinitionAcceptsValid(t *testing.T) {
	assert.NoError(t, Definition(validDefinition()))
}

func TestDefinitionRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*core.ConnectorDefinition)
	}{
		{"missing id", func(d *core.ConnectorDefinition) { d.ID = "" }},
		{"missing name", func(d *core.ConnectorDefinition) { d.Name = "" }},
		{"missing version", func(d *core.ConnectorDefinition) { d.Version = "" }},
		{"missing category", func(d *core.ConnectorDefinition) { d.Category = "" }},
		{"no endpoints", func(d *core.ConnectorDefinition) { d.Endpoints = nil }},
		{"endpoint without method", func(d *core.ConnectorDefinition) { d.Endpoints[0].Method = "" }},
		{"endpoint without path", func(d *core.ConnectorDefinition) { d.Endpoints[0].Path = "" }},
		{"duplicate endpoint ids", func(d *core.ConnectorDefinition) {
			d.Endpoints = append(d.Endpoints, d.Endpoints[0])
		}},
		{"empty mapping source", func(d *core.ConnectorDefinition) {
			d.Mappings.Inbound = []core.MappingRule{{Source: "", Target: "x"}}
		}},
		{"empty mapping target", func(d *core.ConnectorDefinition) {
			d.Mappings.Outbound = []core.MappingRule{{Source: "x", Target: ""}}
		}},
		{"webhook without path", func(d *core.ConnectorDefinition) {
			d.Webhooks = []core.WebhookDefinition{{ID: "wh1"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)
			err := Definition(def)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestInputRequiredParameters(t *testing.T) {
	ep := &core.EndpointDefinition{
		ID:     "book_appointment",
		Method: "POST",
		Path:   "/appointments",
		Parameters: []core.ParameterSpec{
			{Name: "patientId", Type: "string", Required: true},
			{Name: "appointmentType", Type: "string", Required: true},
		},
	}

	err := Input(core.Record{"appointmentType": "routine"}, ep, core.ValidationSpec{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "patientId", e.Details["field"])

	err = Input(core.Record{"patientId": "p-1", "appointmentType": "routine"}, ep, core.ValidationSpec{})
	assert.NoError(t, err)
}

func TestInputTypeChecking(t *testing.T) {
	ep := &core.EndpointDefinition{
		ID: "telemetry",
		Parameters: []core.ParameterSpec{
			{Name: "deviceId", Type: "string", Required: true},
			{Name: "reading", Type: "number", Required: false},
		},
	}

	err := Input(core.Record{"deviceId": "dev-1", "reading": "high"}, ep, core.ValidationSpec{})
	require.Error(t, err)

	err = Input(core.Record{"deviceId": "dev-1", "reading": 9.2}, ep, core.ValidationSpec{})
	assert.NoError(t, err)
}

func TestInputRequestBody(t *testing.T) {
	ep := &core.EndpointDefinition{
		ID:          "create",
		RequestBody: &core.RequestBodySpec{Required: true},
	}

	err := Input(core.Record{}, ep, core.ValidationSpec{})
	require.Error(t, err)
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "body", e.Details["field"])

	err = Input(core.Record{"body": map[string]interface{}{"k": "v"}}, ep, core.ValidationSpec{})
	assert.NoError(t, err)
}

func TestInputConnectorLevelSpec(t *testing.T) {
	ep := &core.EndpointDefinition{ID: "e"}
	spec := core.ValidationSpec{
		Required: []string{"tenantRef"},
		Types:    map[string]string{"tenantRef": "string"},
	}

	assert.Error(t, Input(core.Record{}, ep, spec))
	assert.Error(t, Input(core.Record{"tenantRef": 7}, ep, spec))
	assert.NoError(t, Input(core.Record{"tenantRef": "t-1"}, ep, spec))
}

func TestInstanceConfig(t *testing.T) {
	schema := []core.ConfigField{
		{Name: "region", Type: "string", Required: true},
		{Name: "pollInterval", Type: "integer", Required: false},
	}

	assert.NoError(t, InstanceConfig(map[string]interface{}{"region": "uk-west"}, schema))
	assert.NoError(t, InstanceConfig(map[string]interface{}{"region": "uk-west", "pollInterval": float64(30)}, schema))

	err := InstanceConfig(map[string]interface{}{}, schema)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	err = InstanceConfig(map[string]interface{}{"region": 12}, schema)
	require.Error(t, err)

	err = InstanceConfig(map[string]interface{}{"region": "uk-west", "pollInterval": 2.5}, schema)
	require.Error(t, err)
}
