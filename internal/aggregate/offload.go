package aggregate

import "context"

// offload runs fn on its own goroutine and blocks the caller until it
// finishes or ctx is cancelled, per spec §4.8's offload bridge: codec
// work (Galois-field encode/recalc) and peer RPC dispatch are
// CPU/network-bound enough that the iteration driver hands them off
// rather than running them inline, so a future concurrent driver
// design can overlap one stripe's offloaded work with the next
// stripe's assembly without restructuring the call sites.
//
// The current driver calls processStripe synchronously and therefore
// always waits for offload to return before continuing; the split
// exists so that boundary is in exactly one place.
func offload(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
