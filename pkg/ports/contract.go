package ports

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a Store implementation
// adheres to the defined interface contract.
func RunStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	newExec := func(subscriber string) *domain.ExecutionInstance {
		now := time.Now().UTC().Truncate(time.Millisecond)
		return &domain.ExecutionInstance{
			ID:           uuid.NewString(),
			FlowID:       "contract-flow",
			SubscriberID: subscriber,
			ChannelID:    "contract-channel",
			Status:       domain.StatusRunning,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	t.Run("Create and Get", func(t *testing.T) {
		exec := newExec("sub-create")
		require.NoError(t, store.CreateExecution(ctx, exec))

		loaded, err := store.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, exec.FlowID, loaded.FlowID)
		assert.Equal(t, exec.SubscriberID, loaded.SubscriberID)
		assert.Equal(t, domain.StatusRunning, loaded.Status)
		assert.Nil(t, loaded.Continuation)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.GetExecution(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		exec := newExec("sub-update")
		require.NoError(t, store.CreateExecution(ctx, exec))

		exec.Status = domain.StatusFailed
		exec.Error = "boom"
		require.NoError(t, store.UpdateExecution(ctx, exec))

		loaded, err := store.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, loaded.Status)
		assert.Equal(t, "boom", loaded.Error)
	})

	t.Run("ClaimWaiting", func(t *testing.T) {
		exec := newExec("sub-claim")
		exec.Status = domain.StatusWaitingForInput
		exec.Continuation = &domain.Continuation{PausedNodeID: "ask", Variable: "name", NextNodeID: "greet"}
		require.NoError(t, store.CreateExecution(ctx, exec))

		claimed, err := store.ClaimWaiting(ctx, exec.ID)
		require.NoError(t, err)
		require.NotNil(t, claimed.Continuation, "claim must return the continuation")
		assert.Equal(t, "name", claimed.Continuation.Variable)
		assert.Equal(t, "greet", claimed.Continuation.NextNodeID)

		loaded, err := store.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRunning, loaded.Status)
		assert.Nil(t, loaded.Continuation, "continuation must be cleared")

		_, err = store.ClaimWaiting(ctx, exec.ID)
		assert.ErrorIs(t, err, domain.ErrNotWaiting)
	})

	t.Run("ClaimWaiting Non-Existent", func(t *testing.T) {
		_, err := store.ClaimWaiting(ctx, "missing-"+uuid.NewString())
		assert.Error(t, err)
	})

	t.Run("ClaimWaiting Concurrent", func(t *testing.T) {
		exec := newExec("sub-race")
		exec.Status = domain.StatusWaitingForInput
		exec.Continuation = &domain.Continuation{PausedNodeID: "ask", Variable: "v"}
		require.NoError(t, store.CreateExecution(ctx, exec))

		const callers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			won     int
			lostErr int
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.ClaimWaiting(ctx, exec.ID)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					won++
				} else if errors.Is(err, domain.ErrNotWaiting) {
					lostErr++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, won, "exactly one claim must win")
		assert.Equal(t, callers-1, lostErr)
	})

	t.Run("FindWaiting", func(t *testing.T) {
		subscriber := "sub-find-" + uuid.NewString()
		_, err := store.FindWaiting(ctx, subscriber, "contract-channel")
		assert.ErrorIs(t, err, domain.ErrExecutionNotFound)

		exec := newExec(subscriber)
		exec.Status = domain.StatusWaitingForInput
		exec.Continuation = &domain.Continuation{PausedNodeID: "ask", Variable: "v"}
		require.NoError(t, store.CreateExecution(ctx, exec))

		found, err := store.FindWaiting(ctx, subscriber, "contract-channel")
		require.NoError(t, err)
		assert.Equal(t, exec.ID, found.ID)

		_, err = store.ClaimWaiting(ctx, exec.ID)
		require.NoError(t, err)
		_, err = store.FindWaiting(ctx, subscriber, "contract-channel")
		assert.ErrorIs(t, err, domain.ErrExecutionNotFound, "claimed executions are no longer waiting")
	})

	t.Run("Records keep append order", func(t *testing.T) {
		execID := uuid.NewString()
		for _, node := range []string{"a", "b", "c"} {
			require.NoError(t, store.AppendRecord(ctx, &domain.NodeExecutionRecord{
				ID:          uuid.NewString(),
				ExecutionID: execID,
				NodeID:      node,
				NodeType:    domain.NodeTypeText,
				Status:      domain.RecordSuccess,
				CreatedAt:   time.Now().UTC(),
			}))
		}
		recs, err := store.ListRecords(ctx, execID)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "a", recs[0].NodeID)
		assert.Equal(t, "b", recs[1].NodeID)
		assert.Equal(t, "c", recs[2].NodeID)

		empty, err := store.ListRecords(ctx, "none-"+execID)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Variables overwrite", func(t *testing.T) {
		execID := uuid.NewString()
		_, ok, err := store.GetVariable(ctx, execID, "name")
		require.NoError(t, err)
		assert.False(t, ok)

		for _, v := range []string{"Ana", "Bia"} {
			require.NoError(t, store.SetVariable(ctx, &domain.CollectedVariable{
				ExecutionID: execID, Name: "name", Value: v, CreatedAt: time.Now().UTC(),
			}))
		}
		value, ok, err := store.GetVariable(ctx, execID, "name")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Bia", value)

		vars, err := store.ListVariables(ctx, execID)
		require.NoError(t, err)
		assert.Len(t, vars, 1, "one row per (execution, name)")
	})

	if ml, ok := store.(MessageLog); ok {
		t.Run("Message log", func(t *testing.T) {
			execID := uuid.NewString()
			require.NoError(t, ml.AppendMessage(ctx, &domain.MessageLogEntry{
				ExecutionID: execID, Direction: domain.DirectionOutbound, Kind: domain.KindText, Text: "hi",
			}))
			require.NoError(t, ml.AppendMessage(ctx, &domain.MessageLogEntry{
				ExecutionID: execID, Direction: domain.DirectionInbound, Kind: domain.KindText, Text: "hello",
			}))
			msgs, err := ml.ListMessages(ctx, execID)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, domain.DirectionInbound, msgs[1].Direction)
		})
	}
}
