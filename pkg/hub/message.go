// Package hub fans session events out to dashboard websocket clients.
package hub

import "encoding/json"

// Message is one pre-encoded JSON frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps v in a typed frame.
func Encode(typ string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: typ, Data: data})
}
