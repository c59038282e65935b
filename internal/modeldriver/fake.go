package modeldriver

import (
	"context"

	"github.com/eternisai/chatcore/internal/chunkbuilder"
)

// Fake is an in-memory Driver used by tests, standing in for the
// out-of-scope model collaborator the way the teacher's
// mockReadCloser/slowMockReadCloser stand in for an upstream SSE body.
type Fake struct {
	// Chunks is replayed verbatim on every Stream call.
	Chunks []chunkbuilder.Chunk
	// Err, if set, is sent on the error channel after all chunks.
	Err error
	// RespectCancel, if true, stops producing once ctx is cancelled
	// (sending ctx.Err() on the error channel) instead of draining all
	// Chunks, to exercise cancellation (§5).
	RespectCancel bool
}

func (f *Fake) Stream(ctx context.Context, _ Request) (<-chan chunkbuilder.Chunk, <-chan error) {
	out := make(chan chunkbuilder.Chunk)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for _, c := range f.Chunks {
			if f.RespectCancel {
				select {
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				case out <- c:
				}
			} else {
				out <- c
			}
		}
		if f.Err != nil {
			errc <- f.Err
		}
	}()
	return out, errc
}
