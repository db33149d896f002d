package core

import (
	"context"
	"time"
)

// CredentialVault encrypts and decrypts credential material. Instances only
// ever hold the output of Encrypt; Decrypt is called transiently when a
// transport call needs authentication.
type CredentialVault interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// AuditEvent describes a state change or terminal execution outcome.
type AuditEvent struct {
	Type       string                 `json:"type"`
	TenantID   string                 `json:"tenant_id,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// AuditSink records audit events. Implementations must be safe for
// concurrent use. The engine wraps its sink so that terminal execution
// records are written with bounded retries before ExecuteEndpoint returns.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// Request is the transport-level description of one call attempt.
type Request struct {
	BaseURL     string
	Endpoint    *EndpointDefinition
	Auth        AuthScheme
	Credentials map[string]string // decrypted, transient
	Input       Record
	InstanceID  string
}

// Transport invokes the target endpoint with the transformed input and
// returns the decoded response record. Implementations classify failures
// via pkg/errors so the retry policy can tell retryable from terminal.
type Transport interface {
	Call(ctx context.Context, req *Request) (Record, error)
}

// InstanceStore persists connector instances. Implementations must support
// concurrent access without serializing unrelated instances; Update applies
// the mutation atomically with respect to other writers of the same key.
type InstanceStore interface {
	Put(ctx context.Context, inst *ConnectorInstance) error
	Get(ctx context.Context, id string) (*ConnectorInstance, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, connectorID string) ([]*ConnectorInstance, error)
	Update(ctx context.Context, id string, fn func(*ConnectorInstance) error) (*ConnectorInstance, error)
}

// ExecutionStore persists execution records. Deleting an instance does not
// cascade here; history outlives instances.
type ExecutionStore interface {
	Put(ctx context.Context, exec *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	List(ctx context.Context, instanceID string) ([]*Execution, error)
	Update(ctx context.Context, id string, fn func(*Execution) error) (*Execution, error)
}
