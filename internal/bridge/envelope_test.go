package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponseCasing(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		status    string
		message   string
		data      string
		retryable bool
	}{
		{
			name:   "lower case",
			raw:    `{"status":"success","data":{"amount":42}}`,
			status: StatusSuccess,
			data:   `{"amount":42}`,
		},
		{
			name:      "capitalized",
			raw:       `{"Status":"error","Message":"insufficient balance","Retryable":true}`,
			status:    StatusError,
			message:   "insufficient balance",
			retryable: true,
		},
		{
			name:    "lower case wins when both present",
			raw:     `{"status":"success","Status":"error","message":"ok","Message":"nope"}`,
			status:  StatusSuccess,
			message: "ok",
		},
		{
			name:   "null fields are ignored",
			raw:    `{"status":"error","message":null,"data":null}`,
			status: StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.status == StatusSuccess, resp.Success)
			assert.Equal(t, tt.message, resp.Message)
			assert.Equal(t, tt.retryable, resp.Retryable)
			if tt.data == "" {
				assert.Nil(t, resp.Data)
			} else {
				assert.JSONEq(t, tt.data, string(resp.Data))
			}
		})
	}
}

func TestDecodeResponseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`null`,
		`[]`,
		`{"message":"no status"}`,
		`{"status":"maybe"}`,
		`{"status":1}`,
		`{"status":"error","retryable":"yes"}`,
	} {
		_, err := DecodeResponse([]byte(raw))
		assert.ErrorIs(t, err, ErrDecode, raw)
	}
}

func TestCommandCarriesBothIDSpellings(t *testing.T) {
	raw, err := json.Marshal(Command{
		CorrelationID: "c-1",
		EventType:     EventGetBalance,
		Data:          map[string]string{"userId": "u1"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"responseId":"c-1","correlationId":"c-1","eventType":"GET_BALANCE","data":{"userId":"u1"}}`, string(raw))
}
