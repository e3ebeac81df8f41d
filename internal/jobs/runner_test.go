package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_Success(t *testing.T) {
	r := NewRunner(10, nil)

	id := r.Submit("import", func(ctx context.Context) error {
		return nil
	})
	r.Wait()

	task, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StateSucceeded, task.State)
	assert.Empty(t, task.Error)
	assert.False(t, task.FinishedAt.IsZero())
}

func TestRunner_Failure(t *testing.T) {
	r := NewRunner(10, nil)

	id := r.Submit("import", func(ctx context.Context) error {
		return errors.New("handshake rejected")
	})
	r.Wait()

	task, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StateFailed, task.State)
	assert.Equal(t, "handshake rejected", task.Error)
}

func TestRunner_UnknownTask(t *testing.T) {
	r := NewRunner(10, nil)

	_, ok := r.Get("nonexistent")
	assert.False(t, ok)
}

func TestRunner_EvictsOldest(t *testing.T) {
	r := NewRunner(2, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, r.Submit(fmt.Sprintf("task-%d", i), func(ctx context.Context) error {
			return nil
		}))
	}
	r.Wait()

	_, ok := r.Get(ids[0])
	assert.False(t, ok, "oldest task should be evicted")

	_, ok = r.Get(ids[2])
	assert.True(t, ok)
}
