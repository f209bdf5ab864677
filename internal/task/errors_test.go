package task

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy_SentinelMatching(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{
			name:     "dependency error",
			err:      &DependencyError{TaskID: id, Missing: []uuid.UUID{uuid.New()}},
			sentinel: ErrDependencyNotFound,
		},
		{
			name:     "not found error",
			err:      &NotFoundError{TaskID: id},
			sentinel: ErrTaskNotFound,
		},
		{
			name:     "invalid state error",
			err:      &InvalidStateError{TaskID: id, Status: TaskStatusRunning, Op: "execute"},
			sentinel: ErrInvalidTaskState,
		},
		{
			name:     "execution error",
			err:      &ExecutionError{TaskID: id, Cause: errors.New("boom")},
			sentinel: ErrTaskExecution,
		},
		{
			name:     "timeout error",
			err:      &TimeoutError{TaskID: id, Timeout: time.Second},
			sentinel: ErrTaskTimeout,
		},
		{
			name:     "cancellation error",
			err:      &CancellationError{TaskID: id, Reason: "still running"},
			sentinel: ErrTaskCancellation,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestExecutionError_UnwrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := &ExecutionError{TaskID: uuid.New(), Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrTaskExecution)
}

func TestErrorTaxonomy_DoesNotCrossMatch(t *testing.T) {
	t.Parallel()

	err := &TimeoutError{TaskID: uuid.New(), Timeout: time.Second}

	assert.NotErrorIs(t, err, ErrTaskExecution)
	assert.NotErrorIs(t, err, ErrTaskNotFound)
}
