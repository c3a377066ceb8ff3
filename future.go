package usb

import (
	"context"
	"runtime"
)

// Future is a single-shot awaitable wrapper over a Transfer (C3). Poll never
// blocks; Wait blocks until completion or ctx is cancelled. If a Future is
// garbage collected before it observes completion, its finalizer cancels the
// underlying transfer so the dispatcher can still free it once the OS
// eventually signals (§4.2, §8 invariant 6) — Cancel is the preferred,
// immediate path; the finalizer is only a backstop.
type Future[T any] struct {
	t      *Transfer
	decode func(Completion) (T, error)
	done   bool
	result T
	resErr error
}

func newFuture[T any](t *Transfer, decode func(Completion) (T, error)) *Future[T] {
	f := &Future[T]{t: t, decode: decode}
	runtime.SetFinalizer(f, func(f *Future[T]) {
		if !f.done {
			_ = f.t.cancel()
		}
	})
	return f
}

// Poll returns (value, true, err) once the transfer has completed, where err
// is nil for StatusOk and non-nil for any other status or an unexpected
// payload type, or (_, false, nil) if it is still pending. It never blocks.
func (f *Future[T]) Poll() (T, bool, error) {
	var zero T
	if f.done {
		return f.result, true, f.resErr
	}
	if !f.t.pollComplete() {
		return zero, false, nil
	}
	completion, err := f.t.takeCompleted()
	if err != nil {
		return zero, false, err
	}
	val, decErr := f.decode(completion)
	f.result, f.resErr, f.done = val, decErr, true
	return val, true, decErr
}

// Wait blocks until the transfer completes or ctx is done. Cancelling ctx
// cancels the transfer and returns ctx.Err(); the transfer is then detached,
// matching drop semantics (§4.2).
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if val, ready, err := f.Poll(); ready {
		return val, err
	}
	select {
	case <-f.t.waitChan():
		val, _, err := f.Poll()
		return val, err
	case <-ctx.Done():
		_ = f.Cancel()
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel requests termination of the underlying transfer. Safe to call
// multiple times or after completion.
func (f *Future[T]) Cancel() error {
	return f.t.cancel()
}
