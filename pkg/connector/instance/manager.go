// Package instance manages credentialed deployments of connectors: creation
// with configuration validation and credential encryption, status lifecycle,
// updates, and deletion. Deleting an instance never cascades to its
// historical executions.
package instance

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/registry"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/validate"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/logger"
)

// Manager provisions and administers connector instances.
type Manager struct {
	registry *registry.Registry
	store    core.InstanceStore
	vault    core.CredentialVault
	audit    core.AuditSink
	logger   *zap.Logger
}

// NewManager creates an instance manager.
func NewManager(reg *registry.Registry, store core.InstanceStore, vault core.CredentialVault, audit core.AuditSink) *Manager {
	return &Manager{
		registry: reg,
		store:    store,
		vault:    vault,
		audit:    audit,
		logger:   logger.Get().With(zap.String("component", "instance_manager")),
	}
}

// UpdateRequest carries the mutable fields of an instance. Nil fields are
// left unchanged; a non-nil Credentials map replaces the stored credentials
// wholesale after encryption.
type UpdateRequest struct {
	Name        *string
	Config      map[string]interface{}
	Credentials map[string]interface{}
	Status      *core.InstanceStatus
}

// CreateInstance provisions a new instance of a registered connector. The
// configuration is validated against the connector's declared schema and
// every credential value is encrypted before the instance is stored; the
// plaintext map is not retained.
func (m *Manager) CreateInstance(ctx context.Context, connectorID, name string, config map[string]interface{}, credentials map[string]interface{}, caller core.Caller) (*core.ConnectorInstance, error) {
	def, err := m.registry.Get(connectorID)
	if err != nil {
		return nil, err
	}

	if err := validate.InstanceConfig(config, def.ConfigSchema); err != nil {
		return nil, err
	}

	encrypted, err := m.encryptCredentials(ctx, credentials)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inst := &core.ConnectorInstance{
		ID:          uuid.NewString(),
		ConnectorID: connectorID,
		TenantID:    caller.TenantID,
		Name:        name,
		Status:      core.InstanceStatusInactive,
		Config:      config,
		Credentials: encrypted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.Put(ctx, inst); err != nil {
		return nil, err
	}

	m.logger.Info("instance created",
		zap.String("instance_id", inst.ID),
		zap.String("connector_id", connectorID),
		zap.String("tenant_id", caller.TenantID))
	m.recordAudit(ctx, "instance.created", inst.ID, caller, map[string]interface{}{
		"connector_id": connectorID,
		"name":         name,
	})

	return inst.Clone(), nil
}

// Get returns an instance by id.
func (m *Manager) Get(ctx context.Context, id string) (*core.ConnectorInstance, error) {
	return m.store.Get(ctx, id)
}

// List returns instances, optionally filtered by connector id.
func (m *Manager) List(ctx context.Context, connectorID string) ([]*core.ConnectorInstance, error) {
	return m.store.List(ctx, connectorID)
}

// UpdateInstance applies the given changes. Configuration updates are
// re-validated against the connector schema; credential updates are
// encrypted field by field like at creation.
func (m *Manager) UpdateInstance(ctx context.Context, id string, req UpdateRequest, caller core.Caller) (*core.ConnectorInstance, error) {
	var encrypted map[string]string
	if req.Credentials != nil {
		var err error
		encrypted, err = m.encryptCredentials(ctx, req.Credentials)
		if err != nil {
			return nil, err
		}
	}

	updated, err := m.store.Update(ctx, id, func(inst *core.ConnectorInstance) error {
		if req.Config != nil {
			def, err := m.registry.Get(inst.ConnectorID)
			if err != nil {
				return err
			}
			if err := validate.InstanceConfig(req.Config, def.ConfigSchema); err != nil {
				return err
			}
			inst.Config = req.Config
		}
		if req.Name != nil {
			inst.Name = *req.Name
		}
		if encrypted != nil {
			inst.Credentials = encrypted
		}
		if req.Status != nil {
			inst.Status = *req.Status
		}
		inst.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.recordAudit(ctx, "instance.updated", id, caller, nil)
	return updated, nil
}

// SetStatus transitions the instance lifecycle status.
func (m *Manager) SetStatus(ctx context.Context, id string, status core.InstanceStatus, caller core.Caller) (*core.ConnectorInstance, error) {
	switch status {
	case core.InstanceStatusInactive, core.InstanceStatusActive, core.InstanceStatusError, core.InstanceStatusMaintenance:
	default:
		return nil, errors.ConfigurationInvalid(fmt.Sprintf("unknown instance status %q", status))
	}

	updated, err := m.store.Update(ctx, id, func(inst *core.ConnectorInstance) error {
		inst.Status = status
		inst.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.recordAudit(ctx, "instance.status_changed", id, caller, map[string]interface{}{
		"status": string(status),
	})
	return updated, nil
}

// DeleteInstance removes the instance. Execution history is retained.
func (m *Manager) DeleteInstance(ctx context.Context, id string, caller core.Caller) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}

	m.logger.Info("instance deleted", zap.String("instance_id", id))
	m.recordAudit(ctx, "instance.deleted", id, caller, nil)
	return nil
}

// RecordCallOutcome increments the instance call counters for one terminal
// execution. Every execution counts toward TotalCalls, including rate-limited
// and cancelled ones; only completed executions advance LastSync.
func (m *Manager) RecordCallOutcome(ctx context.Context, id string, status core.ExecutionStatus) error {
	_, err := m.store.Update(ctx, id, func(inst *core.ConnectorInstance) error {
		now := time.Now().UTC()
		inst.TotalCalls++
		switch status {
		case core.ExecutionStatusCompleted:
			inst.SuccessfulCalls++
			inst.LastSync = &now
		case core.ExecutionStatusFailed:
			inst.FailedCalls++
		}
		inst.UpdatedAt = now
		return nil
	})
	return err
}

// DecryptCredentials returns the plaintext credential map for a transport
// call. The result is transient and must not be stored or logged.
func (m *Manager) DecryptCredentials(ctx context.Context, inst *core.ConnectorInstance) (map[string]string, error) {
	out := make(map[string]string, len(inst.Credentials))
	for key, ciphertext := range inst.Credentials {
		plaintext, err := m.vault.Decrypt(ctx, ciphertext)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeAuthentication,
				fmt.Sprintf("failed to decrypt credential %s", key))
		}
		out[key] = plaintext
	}
	return out, nil
}

// encryptCredentials encrypts every credential value independently.
// Non-string values are serialized to JSON first; nothing passes through
// in plaintext.
func (m *Manager) encryptCredentials(ctx context.Context, credentials map[string]interface{}) (map[string]string, error) {
	out := make(map[string]string, len(credentials))
	for key, value := range credentials {
		plaintext, ok := value.(string)
		if !ok {
			raw, err := json.Marshal(value)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData,
					fmt.Sprintf("failed to encode credential %s", key))
			}
			plaintext = string(raw)
		}

		ciphertext, err := m.vault.Encrypt(ctx, plaintext)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal,
				fmt.Sprintf("failed to encrypt credential %s", key))
		}
		out[key] = ciphertext
	}
	return out, nil
}

func (m *Manager) recordAudit(ctx context.Context, eventType, instanceID string, caller core.Caller, details map[string]interface{}) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(ctx, core.AuditEvent{
		Type:       eventType,
		TenantID:   caller.TenantID,
		UserID:     caller.UserID,
		Resource:   "instance",
		ResourceID: instanceID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		m.logger.Warn("audit record failed",
			zap.String("event", eventType),
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}
}
