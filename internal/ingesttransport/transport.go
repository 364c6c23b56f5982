// Package ingesttransport implements §9's message-passing contract for
// model-package delivery: a broker-specific consumer that only ever
// pushes raw payloads onto a buffered channel, never calling into the
// facade from the broker's own delivery goroutine. The caller that
// reads the channel decides when and how to call Apollo.AttachModel.
package ingesttransport

import "context"

// Transport is a pluggable source of model-package payloads.
type Transport interface {
	// Packages returns the channel packages are delivered on. It is
	// closed when the transport's consume loop stops.
	Packages() <-chan []byte
	// Run starts the consume loop and blocks until ctx is canceled or
	// an unrecoverable error occurs.
	Run(ctx context.Context) error
	Close() error
}
