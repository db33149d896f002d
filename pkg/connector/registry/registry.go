// Package registry provides the in-memory catalog of connector definitions.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/validate"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/logger"
)

// Registry manages connector definition registration and lookup. Definitions
// are immutable once registered; re-registering under the same identifier
// overwrites the previous definition. Registration is synchronous and makes
// no network calls.
type Registry struct {
	definitions map[string]*core.ConnectorDefinition
	mu          sync.RWMutex
	logger      *zap.Logger
	audit       core.AuditSink
}

// NewRegistry creates a new connector registry. The audit sink may be nil,
// in which case registrations are only logged.
func NewRegistry(audit core.AuditSink) *Registry {
	return &Registry{
		definitions: make(map[string]*core.ConnectorDefinition),
		logger:      logger.Get().With(zap.String("component", "connector_registry")),
		audit:       audit,
	}
}

// Register validates and stores a connector definition under its identifier.
func (r *Registry) Register(ctx context.Context, def *core.ConnectorDefinition) error {
	if err := validate.Definition(def); err != nil {
		return err
	}

	r.mu.Lock()
	_, replaced := r.definitions[def.ID]
	r.definitions[def.ID] = def
	r.mu.Unlock()

	r.logger.Info("connector registered",
		zap.String("connector_id", def.ID),
		zap.String("version", def.Version),
		zap.Bool("replaced", replaced))

	if r.audit != nil {
		if err := r.audit.Record(ctx, core.AuditEvent{
			Type:       "connector.registered",
			Resource:   "connector",
			ResourceID: def.ID,
			Details: map[string]interface{}{
				"version":  def.Version,
				"category": def.Category,
				"replaced": replaced,
			},
			Timestamp: time.Now().UTC(),
		}); err != nil {
			r.logger.Warn("audit record for registration failed",
				zap.String("connector_id", def.ID),
				zap.Error(err))
		}
	}

	return nil
}

// Get retrieves a definition by identifier. The returned definition must not
// be modified.
func (r *Registry) Get(id string) (*core.ConnectorDefinition, error) {
	r.mu.RLock()
	def, exists := r.definitions[id]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.ConnectorNotFound(id)
	}
	return def, nil
}

// Has checks whether a connector is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.definitions[id]
	return exists
}

// List returns all registered definitions.
func (r *Registry) List() []*core.ConnectorDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*core.ConnectorDefinition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def)
	}
	return defs
}

// Clear removes all registered connectors (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions = make(map[string]*core.ConnectorDefinition)
}
