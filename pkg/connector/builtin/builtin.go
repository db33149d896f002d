// Package builtin holds the connector definitions shipped with the engine:
// the NHS GP Connect appointment integration and the resident IoT device
// telemetry integration. Operators can register additional definitions from
// YAML files at startup.
package builtin

import (
	"context"
	"time"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/registry"
)

// All returns the built-in connector definitions.
func All() []*core.ConnectorDefinition {
	return []*core.ConnectorDefinition{
		NHSGPConnect(),
		IoTDevices(),
	}
}

// Register registers every built-in definition.
func Register(ctx context.Context, reg *registry.Registry) error {
	for _, def := range All() {
		if err := reg.Register(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

// NHSGPConnect integrates with the NHS GP Connect appointment API.
func NHSGPConnect() *core.ConnectorDefinition {
	return &core.ConnectorDefinition{
		ID:       "nhs_gp_connect",
		Name:     "NHS GP Connect",
		Version:  "1.2.0",
		Category: "healthcare",
		BaseURL:  "https://api.service.nhs.uk/gp-connect",
		Auth: core.AuthScheme{
			Kind: core.AuthKindOAuth2,
			Config: map[string]string{
				"token_url": "https://auth.service.nhs.uk/oauth2/token",
				"scopes":    "patient/Appointment.write patient/Appointment.read",
			},
		},
		Endpoints: []core.EndpointDefinition{
			{
				ID:     "book_appointment",
				Name:   "Book appointment",
				Method: "POST",
				Path:   "/appointments",
				Parameters: []core.ParameterSpec{
					{Name: "patientId", Type: "string", Required: true},
					{Name: "appointmentType", Type: "string", Required: true},
					{Name: "preferredDate", Type: "string", Required: false},
				},
				RequestBody:  &core.RequestBodySpec{Required: false},
				RequiresAuth: true,
				Timeout:      20 * time.Second,
			},
			{
				ID:     "get_patient_record",
				Name:   "Retrieve patient summary record",
				Method: "GET",
				Path:   "/patients/{patientId}/record",
				Parameters: []core.ParameterSpec{
					{Name: "patientId", Type: "string", Required: true},
				},
				RequiresAuth: true,
				Timeout:      15 * time.Second,
				RateLimit:    &core.RateLimitPolicy{RequestsPerMinute: 30},
			},
			{
				ID:     "cancel_appointment",
				Name:   "Cancel appointment",
				Method: "DELETE",
				Path:   "/appointments/{appointmentId}",
				Parameters: []core.ParameterSpec{
					{Name: "appointmentId", Type: "string", Required: true},
					{Name: "reason", Type: "string", Required: false},
				},
				RequiresAuth: true,
				Timeout:      20 * time.Second,
			},
		},
		Transformations: []core.TransformationRule{
			{
				ID: "nhs-slot-type", Name: "rename appointment type to GP Connect slot type",
				Shape: core.RuleShapeField, Operation: core.OpMap,
				Source: "appointmentType", Target: "slotType", Enabled: true,
			},
			{
				ID: "nhs-confirmation", Name: "surface booking reference",
				Shape: core.RuleShapeObject, Operation: core.OpMap,
				Source: "appointment.reference", Target: "confirmationCode", Enabled: true,
			},
		},
		ConfigSchema: []core.ConfigField{
			{Name: "ods_code", Type: "string", Required: true},
			{Name: "interaction_id", Type: "string", Required: false},
		},
		RateLimit: core.RateLimitPolicy{RequestsPerMinute: 60, BurstLimit: 10, WindowSize: time.Second},
		Retry: core.RetryPolicy{
			MaxRetries:        3,
			BaseDelay:         time.Second,
			MaxDelay:          15 * time.Second,
			BackoffMultiplier: 2,
			RetryableErrors:   []string{"timeout", "network_error", "server_error"},
		},
		Webhooks: []core.WebhookDefinition{
			{ID: "appointment_changed", Name: "Appointment changed", Path: "/webhooks/nhs/appointments",
				Events: []string{"appointment.updated", "appointment.cancelled"}},
		},
	}
}

// IoTDevices integrates with the resident-room IoT telemetry platform
// (wearables, fall sensors, environmental monitors).
func IoTDevices() *core.ConnectorDefinition {
	return &core.ConnectorDefinition{
		ID:       "iot_devices",
		Name:     "Resident IoT Devices",
		Version:  "1.0.1",
		Category: "telemetry",
		BaseURL:  "https://iot.carehome.example.com/v1",
		Auth: core.AuthScheme{
			Kind:   core.AuthKindAPIKey,
			Config: map[string]string{"header": "X-Device-Platform-Key"},
		},
		Endpoints: []core.EndpointDefinition{
			{
				ID:     "push_vitals",
				Name:   "Push resident vitals reading",
				Method: "POST",
				Path:   "/devices/{deviceId}/vitals",
				Parameters: []core.ParameterSpec{
					{Name: "deviceId", Type: "string", Required: true},
					{Name: "residentId", Type: "string", Required: true},
					{Name: "heartRate", Type: "number", Required: false},
					{Name: "temperature", Type: "number", Required: false},
				},
				RequiresAuth: true,
				Timeout:      10 * time.Second,
			},
			{
				ID:     "get_device_status",
				Name:   "Read device status",
				Method: "GET",
				Path:   "/devices/{deviceId}",
				Parameters: []core.ParameterSpec{
					{Name: "deviceId", Type: "string", Required: true},
				},
				RequiresAuth: true,
				Timeout:      10 * time.Second,
			},
		},
		Transformations: []core.TransformationRule{
			{
				ID: "iot-normalize-hr", Name: "normalize heart rate",
				Shape: core.RuleShapeField, Operation: core.OpCalculate,
				Target: "normalizedHeartRate",
				Parameters: map[string]interface{}{
					"formula":   "heartRate * 1.0",
					"variables": map[string]interface{}{"heartRate": "heartRate"},
				},
				Enabled: true,
			},
			{
				ID: "iot-temp-number", Name: "coerce temperature to number",
				Shape: core.RuleShapeField, Operation: core.OpConvert,
				Source:     "temperature",
				Parameters: map[string]interface{}{"type": "number"},
				Enabled:    true,
			},
			{
				ID: "iot-battery", Name: "surface battery level",
				Shape: core.RuleShapeObject, Operation: core.OpMap,
				Source: "device.battery.level", Target: "batteryLevel", Enabled: true,
			},
		},
		ConfigSchema: []core.ConfigField{
			{Name: "site_code", Type: "string", Required: true},
		},
		RateLimit: core.RateLimitPolicy{RequestsPerMinute: 600, BurstLimit: 50, WindowSize: time.Second},
		Retry: core.RetryPolicy{
			MaxRetries:        5,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2,
		},
	}
}
