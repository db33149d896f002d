// Package core defines the data model and collaborator interfaces for the
// connector engine: connector definitions, credentialed instances, execution
// records, and the policy objects consulted during a call.
package core

import (
	"time"

	json "github.com/goccy/go-json"
)

// Record is the unit of data flowing through the engine. Inputs, transport
// responses, and transformation results are all records.
type Record = map[string]interface{}

// AuthKind identifies the authentication scheme a connector uses.
type AuthKind string

const (
	AuthKindOAuth2 AuthKind = "oauth2"
	AuthKindAPIKey AuthKind = "api_key"
	AuthKindBasic  AuthKind = "basic"
	AuthKindJWT    AuthKind = "jwt"
	AuthKindCustom AuthKind = "custom"
	AuthKindNone   AuthKind = "none"
)

// AuthScheme describes how calls to the external system are authenticated.
// Config carries scheme-specific settings (token URL, header name, scopes);
// it never carries secrets, those live on the instance.
type AuthScheme struct {
	Kind   AuthKind          `json:"kind" yaml:"kind"`
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
}

// ParameterSpec declares a single endpoint parameter.
type ParameterSpec struct {
	Name        string                 `json:"name" yaml:"name"`
	Type        string                 `json:"type" yaml:"type"` // string, number, integer, boolean, object, array
	Required    bool                   `json:"required" yaml:"required"`
	Constraints map[string]interface{} `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// RequestBodySpec declares the endpoint's request body expectations.
type RequestBodySpec struct {
	Required bool                   `json:"required" yaml:"required"`
	Schema   map[string]interface{} `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// EndpointDefinition describes one callable operation on the external system.
type EndpointDefinition struct {
	ID           string                         `json:"id" yaml:"id"`
	Name         string                         `json:"name" yaml:"name"`
	Method       string                         `json:"method" yaml:"method"`
	Path         string                         `json:"path" yaml:"path"`
	Parameters   []ParameterSpec                `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody  *RequestBodySpec               `json:"request_body,omitempty" yaml:"request_body,omitempty"`
	Responses    map[int]map[string]interface{} `json:"responses,omitempty" yaml:"responses,omitempty"`
	RequiresAuth bool                           `json:"requires_auth" yaml:"requires_auth"`
	RateLimit    *RateLimitPolicy               `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	Timeout      time.Duration                  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// MappingRule maps a source field to a target field.
type MappingRule struct {
	ID     string `json:"id,omitempty" yaml:"id,omitempty"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// DataMappingSet groups the connector's field mappings by direction.
type DataMappingSet struct {
	Inbound       []MappingRule `json:"inbound,omitempty" yaml:"inbound,omitempty"`
	Outbound      []MappingRule `json:"outbound,omitempty" yaml:"outbound,omitempty"`
	Bidirectional []MappingRule `json:"bidirectional,omitempty" yaml:"bidirectional,omitempty"`
	Custom        []MappingRule `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// All returns every mapping rule in the set, in declaration order.
func (s DataMappingSet) All() []MappingRule {
	rules := make([]MappingRule, 0, len(s.Inbound)+len(s.Outbound)+len(s.Bidirectional)+len(s.Custom))
	rules = append(rules, s.Inbound...)
	rules = append(rules, s.Outbound...)
	rules = append(rules, s.Bidirectional...)
	rules = append(rules, s.Custom...)
	return rules
}

// RuleShape identifies what a transformation rule operates on.
type RuleShape string

const (
	RuleShapeField  RuleShape = "field"
	RuleShapeObject RuleShape = "object"
	RuleShapeArray  RuleShape = "array"
	RuleShapeCustom RuleShape = "custom"
)

// RuleOperation identifies the transformation a rule performs.
type RuleOperation string

const (
	OpMap       RuleOperation = "map"
	OpConvert   RuleOperation = "convert"
	OpCalculate RuleOperation = "calculate"
	OpFilter    RuleOperation = "filter"
	OpAggregate RuleOperation = "aggregate"
	OpSplit     RuleOperation = "split"
	OpMerge     RuleOperation = "merge"
	OpCustom    RuleOperation = "custom"
)

// ConditionOperator is the comparison used by rule conditions.
type ConditionOperator string

const (
	CondEquals      ConditionOperator = "equals"
	CondNotEquals   ConditionOperator = "not_equals"
	CondContains    ConditionOperator = "contains"
	CondGreaterThan ConditionOperator = "greater_than"
	CondLessThan    ConditionOperator = "less_than"
)

// RuleCondition is a single field/operator/value predicate.
type RuleCondition struct {
	Field    string            `json:"field" yaml:"field"`
	Operator ConditionOperator `json:"operator" yaml:"operator"`
	Value    interface{}       `json:"value" yaml:"value"`
}

// TransformationRule is a declarative step that reshapes a record. Rules with
// shape "field" run on the caller's input before the transport call; rules
// with shape "object" run on the transport's response.
type TransformationRule struct {
	ID         string                 `json:"id" yaml:"id"`
	Name       string                 `json:"name" yaml:"name"`
	Shape      RuleShape              `json:"shape" yaml:"shape"`
	Source     string                 `json:"source,omitempty" yaml:"source,omitempty"`
	Target     string                 `json:"target,omitempty" yaml:"target,omitempty"`
	Operation  RuleOperation          `json:"operation" yaml:"operation"`
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Conditions []RuleCondition        `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Enabled    bool                   `json:"enabled" yaml:"enabled"`
}

// ValidationSpec declares connector-level input requirements applied on top
// of the per-endpoint parameter specs.
type ValidationSpec struct {
	Required []string          `json:"required,omitempty" yaml:"required,omitempty"`
	Types    map[string]string `json:"types,omitempty" yaml:"types,omitempty"`
}

// ConfigField declares one field of the instance configuration schema.
type ConfigField struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
}

// RateLimitPolicy bounds call frequency per instance and endpoint. Zero
// values mean "no limit" for that window.
type RateLimitPolicy struct {
	RequestsPerMinute int           `json:"requests_per_minute,omitempty" yaml:"requests_per_minute,omitempty"`
	RequestsPerHour   int           `json:"requests_per_hour,omitempty" yaml:"requests_per_hour,omitempty"`
	RequestsPerDay    int           `json:"requests_per_day,omitempty" yaml:"requests_per_day,omitempty"`
	BurstLimit        int           `json:"burst_limit,omitempty" yaml:"burst_limit,omitempty"`
	WindowSize        time.Duration `json:"window_size,omitempty" yaml:"window_size,omitempty"`
}

// Zero reports whether the policy imposes no limits at all.
func (p RateLimitPolicy) Zero() bool {
	return p.RequestsPerMinute == 0 && p.RequestsPerHour == 0 && p.RequestsPerDay == 0 && p.BurstLimit == 0
}

// RetryPolicy is a bounded backoff strategy for retryable transport failures.
// RetryableErrors lists the error classifications the policy will retry;
// anything else is terminal on first occurrence.
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	BaseDelay         time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	RetryableErrors   []string      `json:"retryable_errors,omitempty" yaml:"retryable_errors,omitempty"`
}

// WebhookDefinition declares an inbound webhook the external system may call.
// Delivery handling is outside the engine; the definition is carried for
// registration-time validation and catalog consumers.
type WebhookDefinition struct {
	ID     string   `json:"id" yaml:"id"`
	Name   string   `json:"name,omitempty" yaml:"name,omitempty"`
	Path   string   `json:"path" yaml:"path"`
	Events []string `json:"events,omitempty" yaml:"events,omitempty"`
}

// ConnectorDefinition is the immutable, versioned description of how to talk
// to one external system. Definitions are registered once and must not be
// mutated afterwards.
type ConnectorDefinition struct {
	ID              string                 `json:"id" yaml:"id"`
	Name            string                 `json:"name" yaml:"name"`
	Version         string                 `json:"version" yaml:"version"`
	Category        string                 `json:"category" yaml:"category"`
	BaseURL         string                 `json:"base_url" yaml:"base_url"`
	Auth            AuthScheme             `json:"auth" yaml:"auth"`
	Endpoints       []EndpointDefinition   `json:"endpoints" yaml:"endpoints"`
	Mappings        DataMappingSet         `json:"mappings,omitempty" yaml:"mappings,omitempty"`
	Transformations []TransformationRule   `json:"transformations,omitempty" yaml:"transformations,omitempty"`
	Validation      ValidationSpec         `json:"validation,omitempty" yaml:"validation,omitempty"`
	ConfigSchema    []ConfigField          `json:"config_schema,omitempty" yaml:"config_schema,omitempty"`
	RateLimit       RateLimitPolicy        `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	Retry           RetryPolicy            `json:"retry,omitempty" yaml:"retry,omitempty"`
	Webhooks        []WebhookDefinition    `json:"webhooks,omitempty" yaml:"webhooks,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Endpoint looks up an endpoint by id.
func (d *ConnectorDefinition) Endpoint(id string) (*EndpointDefinition, bool) {
	for i := range d.Endpoints {
		if d.Endpoints[i].ID == id {
			return &d.Endpoints[i], true
		}
	}
	return nil, false
}

// InboundRules returns the enabled transformation rules applied to the
// caller's input before the transport call, in declaration order.
func (d *ConnectorDefinition) InboundRules() []TransformationRule {
	return d.rulesByShape(func(s RuleShape) bool { return s != RuleShapeObject })
}

// OutboundRules returns the enabled transformation rules applied to the
// transport's response, in declaration order.
func (d *ConnectorDefinition) OutboundRules() []TransformationRule {
	return d.rulesByShape(func(s RuleShape) bool { return s == RuleShapeObject })
}

func (d *ConnectorDefinition) rulesByShape(match func(RuleShape) bool) []TransformationRule {
	var rules []TransformationRule
	for _, r := range d.Transformations {
		if match(r.Shape) {
			rules = append(rules, r)
		}
	}
	return rules
}

// InstanceStatus is the lifecycle status of a connector instance.
type InstanceStatus string

const (
	InstanceStatusInactive    InstanceStatus = "inactive"
	InstanceStatusActive      InstanceStatus = "active"
	InstanceStatusError       InstanceStatus = "error"
	InstanceStatusMaintenance InstanceStatus = "maintenance"
)

// ConnectorInstance is a credentialed, tenant-specific deployment of a
// connector. Credentials are stored only in encrypted form; the JSON shape
// of an instance never contains them.
type ConnectorInstance struct {
	ID          string                 `json:"id"`
	ConnectorID string                 `json:"connector_id"`
	TenantID    string                 `json:"tenant_id"`
	Name        string                 `json:"name"`
	Status      InstanceStatus         `json:"status"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Credentials map[string]string      `json:"-"` // encrypted values only, redacted from JSON
	LastSync    *time.Time             `json:"last_sync,omitempty"`

	// Cumulative call counters. Only ever increase within a process
	// lifetime; mutated through InstanceStore.Update.
	TotalCalls      int64 `json:"total_calls"`
	SuccessfulCalls int64 `json:"successful_calls"`
	FailedCalls     int64 `json:"failed_calls"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep-enough copy for safe hand-out to callers: the maps
// are copied, so mutating the result never touches the stored instance.
func (i *ConnectorInstance) Clone() *ConnectorInstance {
	c := *i
	if i.Config != nil {
		c.Config = make(map[string]interface{}, len(i.Config))
		for k, v := range i.Config {
			c.Config[k] = v
		}
	}
	if i.Credentials != nil {
		c.Credentials = make(map[string]string, len(i.Credentials))
		for k, v := range i.Credentials {
			c.Credentials[k] = v
		}
	}
	if i.LastSync != nil {
		t := *i.LastSync
		c.LastSync = &t
	}
	return &c
}

// ExecutionStatus is the state-machine status of an execution record.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status ends the execution state machine.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// Execution is the immutable record of one call attempt-sequence through an
// instance. It is created when ExecuteEndpoint starts and finalized exactly
// once by the same call; EndTime is set if and only if the status is
// terminal.
type Execution struct {
	ID         string                 `json:"id"`
	InstanceID string                 `json:"instance_id"`
	EndpointID string                 `json:"endpoint_id"`
	Status     ExecutionStatus        `json:"status"`
	Input      Record                 `json:"input,omitempty"`
	Output     Record                 `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	StartTime  time.Time              `json:"start_time"`
	EndTime    *time.Time             `json:"end_time,omitempty"`
	Duration   time.Duration          `json:"duration,omitempty"`
	RetryCount int                    `json:"retry_count"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a copy safe to hand out to callers.
func (e *Execution) Clone() *Execution {
	c := *e
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Caller identifies who initiated an administrative or execution request.
type Caller struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

// MarshalJSON serializes the instance without credentials. The struct tag
// already skips them; this implementation exists so that a future tag change
// cannot silently start leaking secrets.
func (i *ConnectorInstance) MarshalJSON() ([]byte, error) {
	type alias ConnectorInstance // drop methods to avoid recursion
	a := alias(*i)
	a.Credentials = nil
	return json.Marshal(a)
}
