package usb

import (
	"context"
	"testing"
	"time"
)

func TestFuturePollPending(t *testing.T) {
	cb := &fakeControlBlock{}
	tr := newTransfer(0x81, TransferTypeBulk, cb, nil)
	if err := tr.submitIn(NewRequestBuffer(64, 64)); err != nil {
		t.Fatalf("submitIn: %v", err)
	}
	f := newFuture(tr, decodeBytesCompletion)

	if _, ready, err := f.Poll(); ready || err != nil {
		t.Fatalf("Poll before completion: ready=%v err=%v", ready, err)
	}
	tr.onComplete(StatusOk, 10, nil)
	val, ready, err := f.Poll()
	if !ready || err != nil {
		t.Fatalf("Poll after completion: ready=%v err=%v", ready, err)
	}
	if len(val) != 10 {
		t.Fatalf("len(val) = %d, want 10", len(val))
	}
}

func TestFutureWaitBlocksUntilNotified(t *testing.T) {
	cb := &fakeControlBlock{}
	tr := newTransfer(0x81, TransferTypeBulk, cb, nil)
	if err := tr.submitIn(NewRequestBuffer(64, 64)); err != nil {
		t.Fatalf("submitIn: %v", err)
	}
	f := newFuture(tr, decodeBytesCompletion)

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.onComplete(StatusOk, 5, nil)
	}()

	val, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(val) != 5 {
		t.Fatalf("len(val) = %d, want 5", len(val))
	}
}

func TestFutureCancelOnDrop(t *testing.T) {
	cb := &fakeControlBlock{}
	tr := newTransfer(0x81, TransferTypeBulk, cb, nil)
	if err := tr.submitIn(NewRequestBuffer(64, 64)); err != nil {
		t.Fatalf("submitIn: %v", err)
	}
	f := newFuture(tr, decodeBytesCompletion)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); err == nil {
		t.Fatal("expected deadline error from Wait")
	}
	if cb.cancelCalls != 1 {
		t.Fatalf("cancelCalls = %d, want 1", cb.cancelCalls)
	}
}
