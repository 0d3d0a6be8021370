// Package messenger defines how the service talks back to requesters and
// provides transport-agnostic implementations of that contract.
package messenger

import "context"

// Button is an inline action attached to a message.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Messenger is the outbound side of the chat transport. Every call may fail;
// callers log and carry on.
type Messenger interface {
	Send(ctx context.Context, owner, text string, buttons []Button) (string, error)
	Edit(ctx context.Context, owner, messageID, text string, buttons []Button) error
	SendFile(ctx context.Context, owner, path string) error
}
