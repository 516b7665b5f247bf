// Package ingest drains the process_db and process_db_retry topics into the store.
// Each message is attempted once per pass; a failed attempt is re-published to the
// retry topic and the offset is committed either way, so one bad message never
// blocks its partition.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event tags written by the engine.
const (
	EventIncreaseTradersCount = "INCREASE_TRADERS_COUNT"
	EventUpdateStockPrice     = "UPDATE_STOCK_PRICE"
	EventUpdateMarketTimeline = "UPDATE_MARKET_TIMELINE"
	EventRecordActivity       = "RECORD_ACTIVITY"
	EventOrderPlaced          = "ORDER_PLACED"
)

var (
	// ErrUnknownEvent is returned by Dispatch for a type with no handler.
	ErrUnknownEvent = errors.New("ingest: unknown event type")
	// ErrMalformedMessage marks a record that is not a {type, data} object.
	ErrMalformedMessage = errors.New("ingest: malformed message")
)

// Message is the value of every record on the ingestion topics.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeMessage parses a record value.
func DecodeMessage(value []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(value, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return m, nil
}
