// Package protocol defines the WebSocket messages exchanged with the robot
// bridge, the small process on the robot that forwards calls to the vendor
// SDK and pushes sensor notifications back.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Controller → Bridge
	TypeCall        MessageType = "call"        // Invoke a vendor SDK method
	TypeSubscribe   MessageType = "subscribe"   // Start forwarding an event
	TypeUnsubscribe MessageType = "unsubscribe" // Stop forwarding an event

	// Bridge → Controller
	TypeResult MessageType = "result" // Reply to a call or (un)subscribe
	TypeEvent  MessageType = "event"  // Asynchronous notification

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"` // Correlates calls with results
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, id string, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// CallData invokes Method (e.g. "ALTextToSpeech.say") with positional Args.
type CallData struct {
	Method string        `json:"method"`
	Args   []interface{} `json:"args,omitempty"`
}

// SubscribeData names the event to (un)subscribe from.
type SubscribeData struct {
	Event string `json:"event"`
}

// Result codes set by the bridge alongside Error.
const (
	CodeTimeout = "timeout" // a device could not be opened in time
)

// ResultData is the reply to a call. Error is empty on success.
type ResultData struct {
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// EventData is an asynchronous notification such as WordRecognized.
// Value carries the SDK payload unchanged.
type EventData struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

// NewCall creates a call message.
func NewCall(id, method string, args ...interface{}) (*Message, error) {
	return NewMessage(TypeCall, id, CallData{Method: method, Args: args})
}

// NewSubscribe creates a subscribe or unsubscribe message.
func NewSubscribe(id string, subscribe bool, event string) (*Message, error) {
	t := TypeSubscribe
	if !subscribe {
		t = TypeUnsubscribe
	}
	return NewMessage(t, id, SubscribeData{Event: event})
}

// NewResult creates a result message. A non-nil err is sent as its text.
func NewResult(id string, value interface{}, err error) (*Message, error) {
	res := ResultData{}
	if err != nil {
		res.Error = err.Error()
	} else if value != nil {
		raw, merr := json.Marshal(value)
		if merr != nil {
			return nil, fmt.Errorf("failed to marshal result value: %w", merr)
		}
		res.Value = raw
	}
	return NewMessage(TypeResult, id, res)
}

// NewEvent creates an event message.
func NewEvent(name string, value interface{}) (*Message, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event value: %w", err)
	}
	return NewMessage(TypeEvent, "", EventData{Name: name, Value: raw})
}
