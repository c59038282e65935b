// Package modeldriver defines the boundary to the generative model
// collaborator, which spec §1 explicitly places out of scope ("produces
// a lazy sequence of typed stream chunks"). The Session Controller
// drives a Driver; this package never implements an actual model
// backend.
package modeldriver

import (
	"context"

	"github.com/eternisai/chatcore/internal/chunkbuilder"
	"github.com/eternisai/chatcore/internal/wire"
)

// Request is what the Controller hands the driver to start one
// invocation: the reconciled message history plus any opaque custom
// fields from the chat-request body (§6).
type Request struct {
	Body wire.RequestBody
}

// Driver produces a lazy sequence of typed stream chunks for one model
// invocation. Stream must close the returned channel when done and
// send a final error (if any) before closing; it must stop producing
// promptly once ctx is cancelled (§5 "Cancellation... model iterator is
// asked to stop").
type Driver interface {
	Stream(ctx context.Context, req Request) (<-chan chunkbuilder.Chunk, <-chan error)
}
