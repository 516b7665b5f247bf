package errors

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProblemDetailsMarshalsExtraAtTopLevel(t *testing.T) {
	p := NewEngineFailureError("engine unavailable", "/api/v1/balance").
		WithTraceID("abc").
		WithExtra("timestamp", "2026-01-01T00:00:00Z")

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, TypeEngineFailure, out["type"])
	assert.Equal(t, float64(http.StatusBadGateway), out["status"])
	assert.Equal(t, "abc", out["trace_id"])
	assert.Equal(t, "2026-01-01T00:00:00Z", out["timestamp"])
	assert.NotContains(t, out, "errors")
}

func TestValidationErrorsAreListed(t *testing.T) {
	p := NewValidationError("validation failed", "/api/v1/order/buy").
		WithValidationErrors([]ValidationError{{Field: "side", Message: "failed on oneof", Code: "oneof"}})

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"field":"side"`)
	assert.Equal(t, "validation failed", p.Error())
}

func TestEngineRejectedStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, NewEngineRejectedError("Insufficient balance", "/").Status)
	assert.Equal(t, http.StatusForbidden, NewForbiddenError("no", "/").Status)
	assert.Equal(t, http.StatusNotFound, NewNotFoundError("no", "/").Status)
	assert.Equal(t, TypeInternalError, NewInternalError("boom", "/").Type)
}
