package usb

import "fmt"

// Interface is a claimed interface (C6): alt-setting selection, halt
// clearing, and minting of transfers/queues on its endpoints.
type Interface struct {
	backend platformInterface
	dev     *deviceBackendRef
	descs   []InterfaceDescriptor
}

func newInterface(backend platformInterface, dev *deviceBackendRef, descs []InterfaceDescriptor) *Interface {
	return &Interface{backend: backend, dev: dev, descs: descs}
}

// InterfaceNumber returns the interface number this handle was claimed with.
func (i *Interface) InterfaceNumber() uint8 { return i.backend.interfaceNumber() }

// Descriptors returns every alt setting of this interface (supplemented
// operation, SPEC_FULL §4.2).
func (i *Interface) Descriptors() []InterfaceDescriptor { return i.descs }

// Descriptor returns the alt setting currently selected (supplemented
// operation, SPEC_FULL §4.2).
func (i *Interface) Descriptor() (InterfaceDescriptor, error) {
	alt, err := i.backend.getAltSetting()
	if err != nil {
		return InterfaceDescriptor{}, err
	}
	for _, d := range i.descs {
		if d.AlternateSetting == alt {
			return d, nil
		}
	}
	return InterfaceDescriptor{}, fmt.Errorf("%w: no descriptor cached for alt setting %d", ErrNotFound, alt)
}

func (i *Interface) SetAltSetting(alt uint8) error { return i.backend.setAltSetting(alt) }
func (i *Interface) GetAltSetting() (uint8, error) { return i.backend.getAltSetting() }
func (i *Interface) ClearHalt(ep EndpointAddress) error { return i.backend.clearHalt(ep) }

// Release releases the claimed interface.
func (i *Interface) Release() error { return i.backend.release() }

func (i *Interface) newTransfer(ep EndpointAddress, tt TransferType) (*Transfer, error) {
	cb, err := i.backend.newControlBlock(ep, tt)
	if err != nil {
		return nil, err
	}
	return newTransfer(ep, tt, cb, i.dev), nil
}

// BulkOut submits data on a bulk OUT endpoint, returning a Future whose
// value is the recycled buffer allocation.
func (i *Interface) BulkOut(ep EndpointAddress, data []byte) (*Future[ResponseBuffer], error) {
	t, err := i.newTransfer(ep, TransferTypeBulk)
	if err != nil {
		return nil, err
	}
	if err := t.submitOut(NewOutBytes(data)); err != nil {
		return nil, err
	}
	return newFuture(t, decodeResponseBufferCompletion), nil
}

// BulkIn submits a read request on a bulk IN endpoint for up to requested
// bytes. requested must be a multiple of the endpoint's max packet size
// (§4.6); neither this method nor the Linux backend checks it.
func (i *Interface) BulkIn(ep EndpointAddress, requested int) (*Future[[]byte], error) {
	t, err := i.newTransfer(ep, TransferTypeBulk)
	if err != nil {
		return nil, err
	}
	if err := t.submitIn(NewRequestBuffer(requested, requested)); err != nil {
		return nil, err
	}
	return newFuture(t, decodeBytesCompletion), nil
}

// InterruptOut is the interrupt-endpoint counterpart of BulkOut.
func (i *Interface) InterruptOut(ep EndpointAddress, data []byte) (*Future[ResponseBuffer], error) {
	t, err := i.newTransfer(ep, TransferTypeInterrupt)
	if err != nil {
		return nil, err
	}
	if err := t.submitOut(NewOutBytes(data)); err != nil {
		return nil, err
	}
	return newFuture(t, decodeResponseBufferCompletion), nil
}

// InterruptIn is the interrupt-endpoint counterpart of BulkIn.
func (i *Interface) InterruptIn(ep EndpointAddress, requested int) (*Future[[]byte], error) {
	t, err := i.newTransfer(ep, TransferTypeInterrupt)
	if err != nil {
		return nil, err
	}
	if err := t.submitIn(NewRequestBuffer(requested, requested)); err != nil {
		return nil, err
	}
	return newFuture(t, decodeBytesCompletion), nil
}

// IsochronousIn submits an isochronous read of numPackets packets of
// packetLen bytes each (§4.1 isochronous layout).
func (i *Interface) IsochronousIn(ep EndpointAddress, packetLen, numPackets int) (*Future[IsoResponse], error) {
	t, err := i.newTransfer(ep, TransferTypeIsochronous)
	if err != nil {
		return nil, err
	}
	if err := t.submitIso(NewIsoRequestBuffer(packetLen, numPackets)); err != nil {
		return nil, err
	}
	return newFuture(t, decodeIsoResponseCompletion), nil
}

// BulkInQueue creates a queue that sustains multiple bulk IN reads of
// requested bytes each in flight on ep (C4, minted per §4.6).
func (i *Interface) BulkInQueue(ep EndpointAddress, requested int) *Queue[int, []byte] {
	return newQueue(ep, TransferTypeBulk, i.dev,
		func() (platformControlBlock, error) { return i.backend.newControlBlock(ep, TransferTypeBulk) },
		func(t *Transfer, req int) error { return t.submitIn(NewRequestBuffer(req, req)) },
		decodeBytesCompletion,
	)
}

// BulkOutQueue creates a queue that sustains multiple bulk OUT writes in
// flight on ep.
func (i *Interface) BulkOutQueue(ep EndpointAddress) *Queue[[]byte, ResponseBuffer] {
	return newQueue(ep, TransferTypeBulk, i.dev,
		func() (platformControlBlock, error) { return i.backend.newControlBlock(ep, TransferTypeBulk) },
		func(t *Transfer, req []byte) error { return t.submitOut(NewOutBytes(req)) },
		decodeResponseBufferCompletion,
	)
}

// InterruptInQueue is the interrupt-endpoint counterpart of BulkInQueue.
func (i *Interface) InterruptInQueue(ep EndpointAddress, requested int) *Queue[int, []byte] {
	return newQueue(ep, TransferTypeInterrupt, i.dev,
		func() (platformControlBlock, error) { return i.backend.newControlBlock(ep, TransferTypeInterrupt) },
		func(t *Transfer, req int) error { return t.submitIn(NewRequestBuffer(req, req)) },
		decodeBytesCompletion,
	)
}

// InterruptOutQueue is the interrupt-endpoint counterpart of BulkOutQueue.
func (i *Interface) InterruptOutQueue(ep EndpointAddress) *Queue[[]byte, ResponseBuffer] {
	return newQueue(ep, TransferTypeInterrupt, i.dev,
		func() (platformControlBlock, error) { return i.backend.newControlBlock(ep, TransferTypeInterrupt) },
		func(t *Transfer, req []byte) error { return t.submitOut(NewOutBytes(req)) },
		decodeResponseBufferCompletion,
	)
}

// isoQueueRequest is the per-submission parameter for an isochronous queue:
// each call to Submit can vary the packet layout.
type isoQueueRequest struct {
	PacketLen  int
	NumPackets int
}

// IsochronousInQueue creates a queue sustaining multiple isochronous reads in
// flight on ep.
func (i *Interface) IsochronousInQueue(ep EndpointAddress) *Queue[isoQueueRequest, IsoResponse] {
	return newQueue(ep, TransferTypeIsochronous, i.dev,
		func() (platformControlBlock, error) { return i.backend.newControlBlock(ep, TransferTypeIsochronous) },
		func(t *Transfer, req isoQueueRequest) error {
			return t.submitIso(NewIsoRequestBuffer(req.PacketLen, req.NumPackets))
		},
		decodeIsoResponseCompletion,
	)
}
