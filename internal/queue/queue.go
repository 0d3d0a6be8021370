// Package queue defines the bounded hand-off between inbound transports and
// the single dispatcher goroutine.
package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a FIFO of inbound items.
type Queue[T any] interface {
	Enqueue(ctx context.Context, item T) error
	Dequeue(ctx context.Context) (T, error)
	Close()
}
