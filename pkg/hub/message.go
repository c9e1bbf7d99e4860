// Package hub fans camwatch events out to websocket subscribers using a
// single goroutine that owns the client set.
package hub

import (
	"encoding/json"
	"time"
)

// Event types.
const (
	EventChange  = "change"
	EventStall   = "stall"
	EventCapture = "capture"
	EventConfig  = "config"
)

// Event is the JSON envelope sent to subscribers. Image bytes are never
// included.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(typ string, data any) Event {
	return Event{Type: typ, Time: time.Now().UTC(), Data: data}
}

// Encode marshals the envelope.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
