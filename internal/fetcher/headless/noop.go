package headless

import (
	"context"
	"errors"
	"net/http"
)

// ErrDisabled is returned when rendering is requested without a browser.
var ErrDisabled = errors.New("headless rendering not configured")

// Noop satisfies the renderer contract when headless Chrome is disabled.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Render always fails with ErrDisabled.
func (Noop) Render(_ context.Context, _ string, _ http.Header, _ RenderFunc) error {
	return ErrDisabled
}

// Close is a no-op.
func (Noop) Close() {}
