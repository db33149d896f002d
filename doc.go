// Package connectors provides the external-system integration engine for a
// multi-tenant care-home administration backend. It manages a registry of
// connector definitions, credentialed per-tenant instances, and an execution
// engine that transforms records, enforces rate limits, and calls external
// APIs with classified retries.
//
// # Architecture
//
// The module is organized around four layers:
//
// 1. Definitions: declarative connector specs (endpoints, auth, rate-limit
// and retry policies, transformation rules) held in a registry
// (pkg/connector/registry) and validated up front (pkg/connector/validate).
//
// 2. Instances: tenant-scoped, credentialed configurations of a definition
// (pkg/connector/instance). Credentials are encrypted through a vault
// backend (pkg/vault) before they touch a store and are decrypted only for
// the duration of an outbound call.
//
// 3. Execution: the engine (pkg/connector/engine) runs an endpoint call end
// to end (inbound transformation, rate limiting, the retrying HTTP transport
// in pkg/clients, outbound transformation) and records every run as an
// Execution with a terminal status.
//
// 4. Operations: audit events (pkg/audit), Prometheus metrics (pkg/metrics),
// and pluggable stores (pkg/store/memory, pkg/store/postgres).
//
// # Quick Start
//
// Wire an engine against the in-memory backends:
//
//	reg := registry.NewRegistry(nil)
//	_ = builtin.Register(ctx, reg)
//
//	v, _ := vault.NewLocalVault(key)
//	mgr := instance.NewManager(reg, memory.NewInstanceStore(), v, nil)
//
//	eng := engine.New(engine.Config{
//	    Registry:   reg,
//	    Instances:  mgr,
//	    Executions: memory.NewExecutionStore(),
//	    Transport:  clients.NewHTTPTransport(nil),
//	})
//
//	exec, err := eng.ExecuteEndpoint(ctx, instID, "book_appointment", input, caller)
//
// The connectord command (cmd/connectord) assembles the same components from
// YAML configuration and serves the admin HTTP API.
package connectors
