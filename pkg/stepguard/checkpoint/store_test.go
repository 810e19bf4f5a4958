package checkpoint_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
)

// storeFactory creates a store instance for testing.
type storeFactory func(t *testing.T) checkpoint.Store

func newCheckpoint(agentID string, step checkpoint.Step, payload string) *checkpoint.Checkpoint {
	return checkpoint.New(agentID, step,
		json.RawMessage(`{"payload":"`+payload+`"}`),
		json.RawMessage(`{"container_name":"sandbox"}`),
	)
}

// storeContractTest runs contract tests against any Store implementation.
func storeContractTest(t *testing.T, name string, factory storeFactory) {
	ctx := context.Background()

	t.Run(name+"/Append_and_Load", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		cp := newCheckpoint("agent-1", checkpoint.StepN(1), "one")
		require.NoError(t, store.Append(ctx, cp))

		loaded, err := checkpoint.LoadCheckpoint(ctx, store, "agent-1", checkpoint.StepN(1))
		require.NoError(t, err)
		assert.Equal(t, cp.ID, loaded.ID)
		assert.Equal(t, "agent-1", loaded.AgentID)
		assert.JSONEq(t, `{"payload":"one"}`, string(loaded.AgentSnapshot))
		assert.JSONEq(t, `{"container_name":"sandbox"}`, string(loaded.SystemSnapshot))
	})

	t.Run(name+"/Load_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Load(ctx, "agent-missing", checkpoint.StepN(7))
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run(name+"/Load_ByteStable", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Append(ctx, newCheckpoint("agent-1", checkpoint.StepN(2), "two")))

		first, err := store.Load(ctx, "agent-1", checkpoint.StepN(2))
		require.NoError(t, err)
		second, err := store.Load(ctx, "agent-1", checkpoint.StepN(2))
		require.NoError(t, err)
		assert.Equal(t, first, second)

		// Mutating a returned slice must not affect later reads.
		first[0] = 'X'
		third, err := store.Load(ctx, "agent-1", checkpoint.StepN(2))
		require.NoError(t, err)
		assert.Equal(t, second, third)
	})

	t.Run(name+"/Append_NeverOverwrites", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		first := newCheckpoint("agent-1", checkpoint.StepN(3), "first")
		require.NoError(t, store.Append(ctx, first))

		err := store.Append(ctx, newCheckpoint("agent-1", checkpoint.StepN(3), "second"))
		assert.ErrorIs(t, err, checkpoint.ErrCheckpointExists)

		loaded, err := checkpoint.LoadCheckpoint(ctx, store, "agent-1", checkpoint.StepN(3))
		require.NoError(t, err)
		assert.Equal(t, first.ID, loaded.ID)

		infos, err := store.List(ctx, "agent-1")
		require.NoError(t, err)
		assert.Len(t, infos, 1)
	})

	t.Run(name+"/Append_Invalid", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		cp := newCheckpoint("", checkpoint.StepN(1), "x")
		assert.ErrorIs(t, store.Append(ctx, cp), checkpoint.ErrInvalidCheckpoint)

		cp = newCheckpoint("agent-1", checkpoint.StepN(checkpoint.MaxStep+1), "x")
		assert.ErrorIs(t, store.Append(ctx, cp), checkpoint.ErrInvalidCheckpoint)
		_, err := store.Load(ctx, "agent-1", checkpoint.Final())
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run(name+"/List_Empty", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		infos, err := store.List(ctx, "agent-nonexistent")
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run(name+"/List_OrderedByStep", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		// Append out of order; FINAL sorts last.
		require.NoError(t, store.Append(ctx, newCheckpoint("agent-1", checkpoint.Final(), "f")))
		require.NoError(t, store.Append(ctx, newCheckpoint("agent-1", checkpoint.StepN(10), "ten")))
		require.NoError(t, store.Append(ctx, newCheckpoint("agent-1", checkpoint.StepN(2), "two")))

		infos, err := store.List(ctx, "agent-1")
		require.NoError(t, err)
		require.Len(t, infos, 3)

		assert.Equal(t, checkpoint.StepN(2), infos[0].Step)
		assert.Equal(t, checkpoint.StepN(10), infos[1].Step)
		assert.True(t, infos[2].Step.IsFinal())

		for _, info := range infos {
			assert.Equal(t, "agent-1", info.AgentID)
			assert.NotEmpty(t, info.ID)
			assert.Positive(t, info.Size)
		}
	})

	t.Run(name+"/Agents_Isolated", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Append(ctx, newCheckpoint("agent-1", checkpoint.StepN(1), "a1")))
		require.NoError(t, store.Append(ctx, newCheckpoint("agent-1", checkpoint.StepN(2), "a2")))
		require.NoError(t, store.Append(ctx, newCheckpoint("agent-2", checkpoint.StepN(1), "b1")))

		loaded, err := checkpoint.LoadCheckpoint(ctx, store, "agent-2", checkpoint.StepN(1))
		require.NoError(t, err)
		assert.JSONEq(t, `{"payload":"b1"}`, string(loaded.AgentSnapshot))

		infos1, err := store.List(ctx, "agent-1")
		require.NoError(t, err)
		infos2, err := store.List(ctx, "agent-2")
		require.NoError(t, err)
		assert.Len(t, infos1, 2)
		assert.Len(t, infos2, 1)
	})

	t.Run(name+"/Concurrent_SameStep", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		const writers = 8
		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := store.Append(ctx, newCheckpoint("agent-1", checkpoint.StepN(5), "race")); err == nil {
					successes.Add(1)
				} else {
					assert.ErrorIs(t, err, checkpoint.ErrCheckpointExists)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), successes.Load())
	})

	t.Run(name+"/Close_ThenError", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Close())

		err := store.Append(ctx, newCheckpoint("agent-1", checkpoint.StepN(1), "x"))
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		_, err = store.Load(ctx, "agent-1", checkpoint.StepN(1))
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		_, err = store.List(ctx, "agent-1")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
	})
}

// TestMemoryStore runs contract tests against MemoryStore.
func TestMemoryStore(t *testing.T) {
	factory := func(t *testing.T) checkpoint.Store {
		return checkpoint.NewMemoryStore()
	}
	storeContractTest(t, "MemoryStore", factory)
}

// TestFileStore runs contract tests against FileStore.
func TestFileStore(t *testing.T) {
	factory := func(t *testing.T) checkpoint.Store {
		store, err := checkpoint.NewFileStore(t.TempDir())
		require.NoError(t, err)
		return store
	}
	storeContractTest(t, "FileStore", factory)
}

// TestSQLiteStore runs contract tests against SQLiteStore.
func TestSQLiteStore(t *testing.T) {
	factory := func(t *testing.T) checkpoint.Store {
		store, err := checkpoint.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		return store
	}
	storeContractTest(t, "SQLiteStore", factory)
}

// TestRedisStore runs contract tests against RedisStore backed by miniredis.
func TestRedisStore(t *testing.T) {
	factory := func(t *testing.T) checkpoint.Store {
		mr := miniredis.RunT(t)
		return checkpoint.NewRedisStore(checkpoint.RedisOptions{Addr: mr.Addr()})
	}
	storeContractTest(t, "RedisStore", factory)
}

// TestRedisStore_IndexFailureLeavesNoRecord checks that a failed index update
// does not leave a checkpoint behind that blocks the step forever.
func TestRedisStore_IndexFailureLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := checkpoint.NewRedisStore(checkpoint.RedisOptions{Addr: mr.Addr()})
	t.Cleanup(func() { _ = store.Close() })

	indexKey := "stepguard:agent:{agent-1}:steps"
	require.NoError(t, mr.Set(indexKey, "not-a-sorted-set"))

	cp := newCheckpoint("agent-1", checkpoint.StepN(3), "payload")
	err := store.Append(ctx, cp)
	require.Error(t, err)
	assert.NotErrorIs(t, err, checkpoint.ErrCheckpointExists)

	_, err = store.Load(ctx, "agent-1", checkpoint.StepN(3))
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	mr.Del(indexKey)
	require.NoError(t, store.Append(ctx, cp))

	infos, err := store.List(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, checkpoint.StepN(3), infos[0].Step)

	assert.ErrorIs(t, store.Append(ctx, cp), checkpoint.ErrCheckpointExists)
}
