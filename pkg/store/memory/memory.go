// Package memory provides in-memory implementations of the instance and
// execution stores, sharded by key hash so concurrent calls against
// unrelated instances never contend on the same lock.
package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
)

const shardCount = 16

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

// InstanceStore is a sharded in-memory core.InstanceStore.
type InstanceStore struct {
	shards [shardCount]instanceShard
}

type instanceShard struct {
	mu        sync.RWMutex
	instances map[string]*core.ConnectorInstance
}

// NewInstanceStore creates an empty instance store.
func NewInstanceStore() *InstanceStore {
	s := &InstanceStore{}
	for i := range s.shards {
		s.shards[i].instances = make(map[string]*core.ConnectorInstance)
	}
	return s
}

// Put stores a copy of the instance.
func (s *InstanceStore) Put(_ context.Context, inst *core.ConnectorInstance) error {
	shard := &s.shards[shardIndex(inst.ID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.instances[inst.ID] = inst.Clone()
	return nil
}

// Get returns a copy of the instance.
func (s *InstanceStore) Get(_ context.Context, id string) (*core.ConnectorInstance, error) {
	shard := &s.shards[shardIndex(id)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	inst, ok := shard.instances[id]
	if !ok {
		return nil, errors.InstanceNotFound(id)
	}
	return inst.Clone(), nil
}

// Delete removes the instance. Historical executions are unaffected.
func (s *InstanceStore) Delete(_ context.Context, id string) error {
	shard := &s.shards[shardIndex(id)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.instances[id]; !ok {
		return errors.InstanceNotFound(id)
	}
	delete(shard.instances, id)
	return nil
}

// List returns copies of all instances, optionally filtered by connector id,
// ordered by creation time.
func (s *InstanceStore) List(_ context.Context, connectorID string) ([]*core.ConnectorInstance, error) {
	var out []*core.ConnectorInstance
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.RLock()
		for _, inst := range shard.instances {
			if connectorID == "" || inst.ConnectorID == connectorID {
				out = append(out, inst.Clone())
			}
		}
		shard.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Update applies fn to the stored instance under the shard lock, so
// concurrent counter updates against the same instance never lose writes.
func (s *InstanceStore) Update(_ context.Context, id string, fn func(*core.ConnectorInstance) error) (*core.ConnectorInstance, error) {
	shard := &s.shards[shardIndex(id)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	inst, ok := shard.instances[id]
	if !ok {
		return nil, errors.InstanceNotFound(id)
	}
	if err := fn(inst); err != nil {
		return nil, err
	}
	return inst.Clone(), nil
}

// ExecutionStore is a sharded in-memory core.ExecutionStore.
type ExecutionStore struct {
	shards [shardCount]executionShard
}

type executionShard struct {
	mu         sync.RWMutex
	executions map[string]*core.Execution
}

// NewExecutionStore creates an empty execution store.
func NewExecutionStore() *ExecutionStore {
	s := &ExecutionStore{}
	for i := range s.shards {
		s.shards[i].executions = make(map[string]*core.Execution)
	}
	return s
}

// Put stores a copy of the execution.
func (s *ExecutionStore) Put(_ context.Context, exec *core.Execution) error {
	shard := &s.shards[shardIndex(exec.ID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.executions[exec.ID] = exec.Clone()
	return nil
}

// Get returns a copy of the execution.
func (s *ExecutionStore) Get(_ context.Context, id string) (*core.Execution, error) {
	shard := &s.shards[shardIndex(id)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	exec, ok := shard.executions[id]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "execution "+id+" not found").
			WithDetail("resource", "execution").
			WithDetail("id", id)
	}
	return exec.Clone(), nil
}

// List returns copies of all executions, optionally filtered by instance id,
// ordered by start time.
func (s *ExecutionStore) List(_ context.Context, instanceID string) ([]*core.Execution, error) {
	var out []*core.Execution
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.RLock()
		for _, exec := range shard.executions {
			if instanceID == "" || exec.InstanceID == instanceID {
				out = append(out, exec.Clone())
			}
		}
		shard.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// Update applies fn to the stored execution under the shard lock.
func (s *ExecutionStore) Update(_ context.Context, id string, fn func(*core.Execution) error) (*core.Execution, error) {
	shard := &s.shards[shardIndex(id)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	exec, ok := shard.executions[id]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "execution "+id+" not found").
			WithDetail("resource", "execution").
			WithDetail("id", id)
	}
	if err := fn(exec); err != nil {
		return nil, err
	}
	return exec.Clone(), nil
}
