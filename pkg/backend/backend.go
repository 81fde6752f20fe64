// Package backend defines the remote call primitive the gateway mediates.
// The gateway makes no assumption about the wire protocol behind an Invoker;
// any single-request/single-response text-generation client fits.
package backend

import (
	"context"
	"fmt"
)

// Invoker sends one payload upstream and returns the generated text.
type Invoker interface {
	Invoke(ctx context.Context, payload string, maxOutput int) (string, error)
}

// Error is a transport-layer failure carrying the upstream status code when
// one is known. Status 0 means the request never produced a response.
type Error struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("backend: %s", e.Message)
	}
	return fmt.Sprintf("backend: status %d: %s", e.StatusCode, e.Message)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, payload string, maxOutput int) (string, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, payload string, maxOutput int) (string, error) {
	return f(ctx, payload, maxOutput)
}
