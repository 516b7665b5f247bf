package bridge

import (
	"encoding/json"
	"fmt"
)

// EventType tags a command for the engine.
type EventType string

const (
	EventCreateUser   EventType = "CREATE_USER"
	EventInitBalance  EventType = "INIT_BALANCE"
	EventGetBalance   EventType = "GET_BALANCE"
	EventAddBalance   EventType = "ADD_BALANCE"
	EventPlaceOrder   EventType = "PLACE_ORDER"
	EventSellOrder    EventType = "SELL_ORDER"
	EventCreateMarket EventType = "CREATE_MARKET"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Command is the envelope pushed onto the engine work queue.
type Command struct {
	CorrelationID string
	EventType     EventType
	Data          any
}

// MarshalJSON writes the correlation id under both names the engine has used.
func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ResponseID    string    `json:"responseId"`
		CorrelationID string    `json:"correlationId"`
		EventType     EventType `json:"eventType"`
		Data          any       `json:"data"`
	}{
		ResponseID:    c.CorrelationID,
		CorrelationID: c.CorrelationID,
		EventType:     c.EventType,
		Data:          c.Data,
	})
}

// Response is the canonical engine reply. Timeouts and local failures are
// reported in the same shape.
type Response struct {
	Status    string          `json:"status"`
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Retryable bool            `json:"retryable"`
}

func timeoutResponse() Response {
	return Response{Status: StatusError, Message: "timeout", Retryable: true}
}

func failedResponse(message string) Response {
	return Response{Status: StatusError, Message: message}
}

// DecodeResponse reads an engine reply written with either lower-case or
// capitalized field names. When both spellings are present the lower-case one
// wins.
func DecodeResponse(raw []byte) (Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if fields == nil {
		return Response{}, fmt.Errorf("%w: null response", ErrDecode)
	}

	pick := func(name string) (json.RawMessage, bool) {
		if v, ok := fields[name]; ok {
			return v, true
		}
		v, ok := fields[capitalize(name)]
		return v, ok
	}

	var resp Response
	rawStatus, ok := pick("status")
	if !ok {
		return Response{}, fmt.Errorf("%w: missing status", ErrDecode)
	}
	if err := json.Unmarshal(rawStatus, &resp.Status); err != nil {
		return Response{}, fmt.Errorf("%w: status: %v", ErrDecode, err)
	}
	switch resp.Status {
	case StatusSuccess, StatusError:
	default:
		return Response{}, fmt.Errorf("%w: unknown status %q", ErrDecode, resp.Status)
	}
	resp.Success = resp.Status == StatusSuccess

	if v, ok := pick("message"); ok && !isNull(v) {
		if err := json.Unmarshal(v, &resp.Message); err != nil {
			return Response{}, fmt.Errorf("%w: message: %v", ErrDecode, err)
		}
	}
	if v, ok := pick("data"); ok && !isNull(v) {
		resp.Data = append(json.RawMessage(nil), v...)
	}
	if v, ok := pick("retryable"); ok && !isNull(v) {
		if err := json.Unmarshal(v, &resp.Retryable); err != nil {
			return Response{}, fmt.Errorf("%w: retryable: %v", ErrDecode, err)
		}
	}
	return resp, nil
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func isNull(v json.RawMessage) bool {
	return string(v) == "null"
}
