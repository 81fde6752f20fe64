package models

import "time"

// CallRequest describes a single logical call to the remote text-generation
// service. It is treated as an immutable value: the gateway never mutates a
// request after submission.
type CallRequest struct {
	// ID identifies the request in logs and the journal. Assigned by the
	// gateway when empty.
	ID string `json:"id"`
	// Payload is the opaque text sent upstream. Together with MaxOutput it
	// forms the cache key.
	Payload string `json:"payload"`
	// MaxOutput bounds the size of the generated response.
	MaxOutput int `json:"max_output"`
	// Operation labels the request for metrics and the journal.
	Operation string `json:"operation"`
	// Deadline, when positive, bounds the whole call including retries,
	// backoff sleeps and batch waits.
	Deadline time.Duration `json:"deadline,omitempty"`
}

// CallOptions selects per-call gateway behavior.
type CallOptions struct {
	// UseCache consults the response cache before dispatch and stores
	// successful results.
	UseCache bool
	// UseBatch routes the request through the batch coalescer instead of
	// dispatching directly.
	UseBatch bool
}
