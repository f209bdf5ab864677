package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskforge/internal/task"
)

func TestJobRegistry_Build(t *testing.T) {
	t.Parallel()

	registry := NewJobRegistry()
	registry.Register("echo", func(params json.RawMessage) (task.Job, error) {
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return task.JobFunc(func(ctx context.Context) (any, error) {
			return p.Message, nil
		}), nil
	})

	job, err := registry.Build("echo", json.RawMessage(`{"message":"hi"}`))
	require.NoError(t, err)

	result, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hi", result)
}

func TestJobRegistry_UnknownType(t *testing.T) {
	t.Parallel()

	registry := NewJobRegistry()

	_, err := registry.Build("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestJobRegistry_RegisterReplaces(t *testing.T) {
	t.Parallel()

	registry := NewJobRegistry()
	registry.Register("job", func(params json.RawMessage) (task.Job, error) {
		return task.JobFunc(func(ctx context.Context) (any, error) { return "old", nil }), nil
	})
	registry.Register("job", func(params json.RawMessage) (task.Job, error) {
		return task.JobFunc(func(ctx context.Context) (any, error) { return "new", nil }), nil
	})

	job, err := registry.Build("job", nil)
	require.NoError(t, err)
	result, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", result)

	assert.Equal(t, []string{"job"}, registry.Types())
}
