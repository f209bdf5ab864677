package shared

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	RespondWithJSON(rec, req, http.StatusCreated, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "value", body["key"])
}

func TestRespondWithError_IncludesTraceID(t *testing.T) {
	t.Parallel()

	ctx := SetTraceID(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, http.StatusNotFound, "Task not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Task not found", resp.Error)
	assert.Equal(t, GetTraceID(ctx), resp.TraceID)
	assert.Len(t, resp.TraceID, TraceIDLength*2)
}

func TestGetTraceID_MissingReturnsEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, GetTraceID(context.Background()))
}

func TestGetSubject(t *testing.T) {
	t.Parallel()

	_, ok := GetSubject(context.Background())
	assert.False(t, ok)

	ctx := context.WithValue(context.Background(), SubjectContextKey, "someone")
	subject, ok := GetSubject(ctx)
	assert.True(t, ok)
	assert.Equal(t, "someone", subject)
}
