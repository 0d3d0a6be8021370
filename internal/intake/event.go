// Package intake turns inbound requester events into supervisor calls. Events
// arrive from the HTTP API or the NATS bus, pass through one bounded queue and
// are handled by a single dispatcher goroutine.
package intake

import "time"

// Kind distinguishes inbound events.
type Kind string

// Event kinds.
const (
	KindMessage  Kind = "message"
	KindCallback Kind = "callback"
)

// Event is one inbound requester action.
type Event struct {
	Kind       Kind      `json:"type"`
	Owner      string    `json:"owner"`
	Text       string    `json:"text,omitempty"`
	Data       string    `json:"data,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitzero"`
}

// Message builds a text message event.
func Message(owner, text string) Event {
	return Event{Kind: KindMessage, Owner: owner, Text: text}
}

// Callback builds a button callback event.
func Callback(owner, data string) Event {
	return Event{Kind: KindCallback, Owner: owner, Data: data}
}
