package usb

import (
	"fmt"
	"sync"
)

// TransferType identifies which of the four USB endpoint types a transfer
// targets; it gates the direction/buffer-variant assertions in submit.
type TransferType uint8

const (
	TransferTypeControl TransferType = iota
	TransferTypeIsochronous
	TransferTypeBulk
	TransferTypeInterrupt
)

// transferState is the C2 state machine of §3/§4.1.
type transferState uint8

const (
	stateIdle transferState = iota
	statePending
	stateCancelling
	stateCompleted
)

// Completion is the pair returned by takeCompleted: a payload shaped by the
// buffer variant that was submitted, plus the OS-signalled status.
type Completion struct {
	Payload any
	Status  TransferStatus
	Actual  int
}

// platformControlBlock is the backend's opaque per-transfer handle. It is
// allocated separately from Transfer (§9 "Transfer control block aliasing")
// so the backend's completion dispatcher can hold a reference to it across
// the Pending state without aliasing the Transfer struct itself.
type platformControlBlock interface {
	// attachTransfer lets the backend's completion dispatcher resolve a
	// completed OS notification back to the Transfer that owns it.
	attachTransfer(t *Transfer)
	// submit hands buf to the OS as-is. setup, when non-nil, is the 8-byte
	// control setup packet to prepend ahead of buf before submission; when
	// nil, buf is submitted unmodified — used for control IN transfers,
	// where the setup packet is already the first 8 bytes of buf so the
	// kernel writes its response directly into the buffer the caller will
	// read back from.
	submit(buf []byte, setup *[setupPacketLen]byte) error
	// submitIso hands an isochronous buffer laid out as numPackets packets
	// of packetLen bytes each to the OS.
	submitIso(buf []byte, packetLen, numPackets int) error
	cancel() error
}

// Transfer is one in-flight USB I/O operation: submit once, cancel any
// number of times, reap exactly once. It is not itself generic; the typed
// buffer variants translate to and from the plain []byte this struct and its
// backend operate on.
type Transfer struct {
	mu    sync.Mutex
	state transferState

	// notify is closed exactly once, by onComplete, so a Future's Wait can
	// block on it instead of busy-polling (§4.2's "registers a waker").
	notify chan struct{}

	endpoint  EndpointAddress
	transType TransferType

	cb platformControlBlock

	// buffer holds the in-flight allocation; it is nil while the transfer is
	// Idle and set from submission until takeCompleted consumes the
	// completion, per the buffer handoff rule in §4.1.
	buffer   []byte
	capacity int
	setup    *[setupPacketLen]byte
	isStrip  bool // true for ControlIn: strip the setup prefix on reap

	isoPacketLen  int
	isoNumPackets int
	isoPackets    []IsoPacketDescriptor

	status TransferStatus
	actual int

	// device keeps the owning backend alive for the duration this transfer
	// can still be reaped, per §5 "Cancellation and dispatcher coupling".
	device *deviceBackendRef
}

func newTransfer(ep EndpointAddress, tt TransferType, cb platformControlBlock, dev *deviceBackendRef) *Transfer {
	t := &Transfer{endpoint: ep, transType: tt, cb: cb, device: dev, state: stateIdle, notify: make(chan struct{})}
	cb.attachTransfer(t)
	return t
}

// waitChan exposes the completion notification channel for Future.Wait; it
// is closed exactly once per submission, by onComplete.
func (t *Transfer) waitChan() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

// assertDirection checks the endpoint's direction bit against the buffer
// variant before any buffer is handed to the backend. It does not look at
// tt; the only endpoint-type checks are the isochronous ones in submitOut,
// submitIn and submitIso.
func assertDirection(ep EndpointAddress, tt TransferType, wantIn bool) error {
	if ep.IsIn() != wantIn {
		return fmt.Errorf("%w: endpoint 0x%02x direction does not match buffer variant", ErrInvalidData, uint8(ep))
	}
	return nil
}

// submitOut installs an OutBytes on a bulk, interrupt, or control OUT
// endpoint.
func (t *Transfer) submitOut(buf OutBytes) error {
	if t.transType == TransferTypeIsochronous {
		return fmt.Errorf("%w: isochronous OUT is not a supported buffer variant", ErrInvalidData)
	}
	if err := assertDirection(t.endpoint, t.transType, false); err != nil {
		return err
	}
	return t.submitRaw(buf.data, cap(buf.data))
}

// submitIn installs a RequestBuffer on a bulk or interrupt IN endpoint.
func (t *Transfer) submitIn(buf RequestBuffer) error {
	if t.transType == TransferTypeIsochronous {
		return fmt.Errorf("%w: use submitIso for isochronous endpoints", ErrInvalidData)
	}
	if err := assertDirection(t.endpoint, t.transType, true); err != nil {
		return err
	}
	return t.submitRaw(buf.buf[:buf.requested], cap(buf.buf))
}

// submitIso installs an IsoRequestBuffer on an isochronous IN endpoint,
// laying out the per-packet descriptors described in §4.1.
func (t *Transfer) submitIso(buf IsoRequestBuffer) error {
	if t.transType != TransferTypeIsochronous {
		return fmt.Errorf("%w: submitIso requires an isochronous endpoint", ErrInvalidData)
	}
	if err := assertDirection(t.endpoint, t.transType, true); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateIdle {
		return fmt.Errorf("%w: transfer is not idle", ErrBusy)
	}
	t.isoPacketLen = buf.packetLen
	t.isoNumPackets = buf.numPackets
	t.isoPackets = make([]IsoPacketDescriptor, buf.numPackets)
	for i := range t.isoPackets {
		t.isoPackets[i] = IsoPacketDescriptor{Length: uint32(buf.packetLen)}
	}
	t.buffer = buf.buf
	t.capacity = cap(buf.buf)
	t.state = statePending
	return t.cb.submitIso(t.buffer, buf.packetLen, buf.numPackets)
}

// submitControlIn allocates one buffer holding the 8-byte setup packet
// followed by the response area, and submits that single allocation so the
// kernel writes the IN payload directly into the buffer takeCompleted later
// returns from (rather than into a backend-owned copy nothing reads back).
func (t *Transfer) submitControlIn(c ControlIn) error {
	if t.transType != TransferTypeControl {
		return fmt.Errorf("%w: control buffer submitted to non-control endpoint", ErrInvalidData)
	}
	setup := c.Control.encode(dirIn, c.Length)
	buf := make([]byte, setupPacketLen+int(c.Length))
	copy(buf[:setupPacketLen], setup[:])
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateIdle {
		return fmt.Errorf("%w: transfer is not idle", ErrBusy)
	}
	t.setup = &setup
	t.isStrip = true
	t.buffer = buf
	t.capacity = cap(buf)
	t.state = statePending
	// setup is already embedded in t.buffer; nil tells the backend to submit
	// the allocation as-is instead of concatenating a separate copy.
	return t.cb.submit(t.buffer, nil)
}

// submitControlOut prepends the setup packet ahead of the caller's OUT data.
func (t *Transfer) submitControlOut(c ControlOut) error {
	if t.transType != TransferTypeControl {
		return fmt.Errorf("%w: control buffer submitted to non-control endpoint", ErrInvalidData)
	}
	setup := c.Control.encode(dirOut, uint16(len(c.Data)))
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateIdle {
		return fmt.Errorf("%w: transfer is not idle", ErrBusy)
	}
	t.setup = &setup
	t.isStrip = false
	t.buffer = c.Data
	t.capacity = cap(c.Data)
	t.state = statePending
	return t.cb.submit(t.buffer, t.setup)
}

func (t *Transfer) submitRaw(buf []byte, capacity int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateIdle {
		return fmt.Errorf("%w: transfer is not idle", ErrBusy)
	}
	t.buffer = buf
	t.capacity = capacity
	t.state = statePending
	return t.cb.submit(t.buffer, nil)
}

// cancel requests termination. Idempotent, callable from any goroutine, and
// never blocks for completion (§4.1).
func (t *Transfer) cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case stateIdle, stateCompleted:
		return nil
	case stateCancelling:
		return nil
	}
	t.state = stateCancelling
	return t.cb.cancel()
}

// pollComplete reports whether the OS has signalled completion. It is called
// by Future.Poll and never blocks; the platform dispatcher signals
// completion through onComplete.
func (t *Transfer) pollComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateCompleted
}

// onComplete is invoked exactly once by the platform completion dispatcher
// (§5) when the OS reports this transfer is done. It never runs concurrently
// with submit because the transfer only reaches Pending/Cancelling once.
func (t *Transfer) onComplete(status TransferStatus, actualLength int, isoResults []IsoPacketDescriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	t.actual = actualLength
	if isoResults != nil {
		t.isoPackets = isoResults
	}
	t.state = stateCompleted
	close(t.notify)
}

// takeCompleted consumes the completion, returning the transfer to Idle and
// recycling the buffer allocation. Precondition: state is Completed.
func (t *Transfer) takeCompleted() (Completion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateCompleted {
		return Completion{}, fmt.Errorf("%w: transfer has no completion to take", ErrBusy)
	}

	var payload any
	switch {
	case t.transType == TransferTypeIsochronous:
		payload = t.buildIsoResponse()
	case t.setup != nil && t.isStrip:
		// ControlIn: t.buffer is setup(8 bytes) + response area; actual is
		// the data-phase length the kernel reports (excluding the setup
		// bytes), clamped defensively against the response area's size.
		data := t.buffer[setupPacketLen:]
		n := t.actual
		if n > len(data) {
			n = len(data)
		}
		payload = append([]byte(nil), data[:n]...)
	case t.endpoint.IsIn():
		n := t.actual
		if n > len(t.buffer) {
			n = len(t.buffer)
		}
		payload = append([]byte(nil), t.buffer[:n]...)
	default:
		payload = newResponseBuffer(t.buffer[:0:t.capacity], t.actual)
	}

	completion := Completion{Payload: payload, Status: t.status, Actual: t.actual}

	t.buffer = nil
	t.setup = nil
	t.isoPackets = nil
	t.state = stateIdle
	t.notify = make(chan struct{})
	return completion, nil
}

func (t *Transfer) buildIsoResponse() IsoResponse {
	resp := IsoResponse{Packets: make([]IsoPacket, 0, len(t.isoPackets))}
	for i, p := range t.isoPackets {
		if p.Status != 0 {
			continue
		}
		start := i * t.isoPacketLen
		end := start + int(p.ActualLength)
		if end > len(t.buffer) {
			end = len(t.buffer)
		}
		resp.Packets = append(resp.Packets, IsoPacket{Data: append([]byte(nil), t.buffer[start:end]...)})
	}
	return resp
}

// IsoPacketDescriptor mirrors the per-packet status the kernel reports on
// reap for an isochronous URB.
type IsoPacketDescriptor struct {
	Length       uint32
	ActualLength uint32
	Status       int32
}

// deviceBackendRef is the strong reference every transfer, future, and queue
// holds to keep the owning device's backend alive while still reapable
// (§3 Ownership, §5 "Cancellation and dispatcher coupling").
type deviceBackendRef struct {
	backend platformDevice
}
