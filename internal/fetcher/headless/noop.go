package headless

import (
	"context"
	"errors"
	"net/http"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("headless rendering disabled")

// Noop stands in for a Renderer when rendering is switched off.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// PrintPDF always fails with ErrDisabled.
func (Noop) PrintPDF(context.Context, string, []*http.Cookie, string) error {
	return ErrDisabled
}

// Close does nothing.
func (Noop) Close() {}
