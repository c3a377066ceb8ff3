package usb

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Queue is a single-endpoint, single-owner FIFO pipeline of transfers (C4):
// free transfers are recycled across submissions, pending transfers complete
// to the caller strictly in submission order regardless of the order the OS
// reaps them in.
type Queue[Req, Resp any] struct {
	mu sync.Mutex

	ep        EndpointAddress
	transType TransferType
	newCB     func() (platformControlBlock, error)
	dev       *deviceBackendRef

	submit func(t *Transfer, req Req) error
	decode func(Completion) (Resp, error)

	free    []*Transfer
	pending []*Transfer

	closed bool
}

// QueueCompletion pairs a queue completion with its status, mirroring
// Completion but typed to the queue's response type.
type QueueCompletion[Resp any] struct {
	Value  Resp
	Status TransferStatus
}

func newQueue[Req, Resp any](
	ep EndpointAddress,
	tt TransferType,
	dev *deviceBackendRef,
	newCB func() (platformControlBlock, error),
	submit func(t *Transfer, req Req) error,
	decode func(Completion) (Resp, error),
) *Queue[Req, Resp] {
	return &Queue[Req, Resp]{ep: ep, transType: tt, dev: dev, newCB: newCB, submit: submit, decode: decode}
}

// Submit acquires a free transfer (allocating one if none are free), submits
// req on it, and appends it to the pending FIFO.
func (q *Queue[Req, Resp]) Submit(req Req) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: queue is closed", ErrClosed)
	}

	var t *Transfer
	if n := len(q.free); n > 0 {
		t = q.free[n-1]
		q.free = q.free[:n-1]
	} else {
		cb, err := q.newCB()
		if err != nil {
			return err
		}
		t = newTransfer(q.ep, q.transType, cb, q.dev)
	}

	if err := q.submit(t, req); err != nil {
		q.free = append(q.free, t)
		return err
	}
	q.pending = append(q.pending, t)
	return nil
}

// PollComplete blocks until the oldest outstanding transfer's completion is
// observed, in submission order, then returns its storage to the free list.
// It honors ctx cancellation while waiting.
func (q *Queue[Req, Resp]) PollComplete(ctx context.Context) (QueueCompletion[Resp], error) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return QueueCompletion[Resp]{}, fmt.Errorf("%w: no pending transfer", ErrBusy)
	}
	head := q.pending[0]
	q.mu.Unlock()

	select {
	case <-head.waitChan():
	case <-ctx.Done():
		return QueueCompletion[Resp]{}, ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	// head is guaranteed to still be q.pending[0]: only PollComplete removes
	// from the front, and it is the caller's responsibility not to call it
	// concurrently from multiple goroutines (Queue is single-owner).
	q.pending = q.pending[1:]
	completion, err := head.takeCompleted()
	if err != nil {
		return QueueCompletion[Resp]{}, err
	}
	q.free = append(q.free, head)
	val, decErr := q.decode(completion)
	return QueueCompletion[Resp]{Value: val, Status: completion.Status}, decErr
}

// CancelAll requests cancellation of every pending transfer. Completions
// still flow through PollComplete in submission order; cancelled transfers
// surface with StatusCancelled. Per the Open Question recorded in
// DESIGN.md, this does not flush: it marks every currently pending transfer
// cancelling and returns without waiting for any of them to drain, and
// Submit stays usable afterwards.
func (q *Queue[Req, Resp]) CancelAll() error {
	q.mu.Lock()
	pending := append([]*Transfer(nil), q.pending...)
	q.mu.Unlock()
	var firstErr error
	for _, t := range pending {
		if err := t.cancel(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (q *Queue[Req, Resp]) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue[Req, Resp]) IsEmpty() bool { return q.PendingLen() == 0 }

// Close cancels every in-flight transfer and blocks until every one of them
// has been reaped, so buffers are never freed while the kernel may still
// touch them (§4.3 "Drop semantics"). Cancellation and draining proceed
// concurrently via errgroup, one goroutine per outstanding transfer.
func (q *Queue[Req, Resp]) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	pending := append([]*Transfer(nil), q.pending...)
	q.pending = nil
	q.mu.Unlock()

	g, _ := errgroup.WithContext(context.Background())
	for _, t := range pending {
		t := t
		g.Go(func() error {
			if err := t.cancel(); err != nil {
				return err
			}
			<-t.waitChan()
			_, err := t.takeCompleted()
			return err
		})
	}
	return g.Wait()
}
