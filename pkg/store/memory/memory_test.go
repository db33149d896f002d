package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
)

func instance(id, connectorID string) *core.ConnectorInstance {
	now := time.Now().UTC()
	return &core.ConnectorInstance{
		ID:          id,
		ConnectorID: connectorID,
		Name:        "test " + id,
		Status:      core.InstanceStatusInactive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestInstanceStoreCRUD(t *testing.T) {
	s := NewInstanceStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, instance("inst-1", "nhs_gp_connect")))

	got, err := s.Get(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "nhs_gp_connect", got.ConnectorID)

	require.NoError(t, s.Delete(ctx, "inst-1"))
	_, err = s.Get(ctx, "inst-1")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.True(t, errors.IsType(s.Delete(ctx, "inst-1"), errors.ErrorTypeNotFound))
}

func TestInstanceStoreGetReturnsCopy(t *testing.T) {
	s := NewInstanceStore()
	ctx := context.Background()

	inst := instance("inst-1", "c1")
	inst.Config = map[string]interface{}{"region": "uk-west"}
	require.NoError(t, s.Put(ctx, inst))

	got, err := s.Get(ctx, "inst-1")
	require.NoError(t, err)
	got.Config["region"] = "mutated"
	got.TotalCalls = 999

	fresh, err := s.Get(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "uk-west", fresh.Config["region"])
	assert.Equal(t, int64(0), fresh.TotalCalls)
}

func TestInstanceStoreListFilters(t *testing.T) {
	s := NewInstanceStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, instance("a", "c1")))
	require.NoError(t, s.Put(ctx, instance("b", "c1")))
	require.NoError(t, s.Put(ctx, instance("c", "c2")))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := s.List(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
}

func TestInstanceStoreUpdateIsAtomic(t *testing.T) {
	s := NewInstanceStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, instance("inst-1", "c1")))

	const workers = 32
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := s.Update(ctx, "inst-1", func(inst *core.ConnectorInstance) error {
					inst.TotalCalls++
					return nil
				})
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), got.TotalCalls)
}

func TestExecutionStoreListByInstance(t *testing.T) {
	s := NewExecutionStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		exec := &core.Execution{
			ID:         fmt.Sprintf("exec-%d", i),
			InstanceID: "inst-1",
			Status:     core.ExecutionStatusRunning,
			StartTime:  time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		if i >= 3 {
			exec.InstanceID = "inst-2"
		}
		require.NoError(t, s.Put(ctx, exec))
	}

	execs, err := s.List(ctx, "inst-1")
	require.NoError(t, err)
	assert.Len(t, execs, 3)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].StartTime.Before(all[i-1].StartTime))
	}
}

func TestExecutionStoreUpdateFinalizes(t *testing.T) {
	s := NewExecutionStore()
	ctx := context.Background()

	start := time.Now().UTC()
	require.NoError(t, s.Put(ctx, &core.Execution{
		ID:         "exec-1",
		InstanceID: "inst-1",
		Status:     core.ExecutionStatusRunning,
		StartTime:  start,
	}))

	end := start.Add(120 * time.Millisecond)
	_, err := s.Update(ctx, "exec-1", func(exec *core.Execution) error {
		exec.Status = core.ExecutionStatusCompleted
		exec.EndTime = &end
		exec.Duration = end.Sub(exec.StartTime)
		return nil
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionStatusCompleted, got.Status)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, got.Duration, got.EndTime.Sub(got.StartTime))
}
