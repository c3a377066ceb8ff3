package usb

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DeviceHandle is an opened device (C5): immutable after construction except
// for the backend's own in-flight bookkeeping, which is guarded internally.
// It is shared (ref-counted via Go's ordinary GC) by every Interface, every
// Transfer, and every Queue minted from it, per §3 Ownership.
type DeviceHandle struct {
	mu      sync.Mutex
	backend platformDevice
	ref     *deviceBackendRef

	descriptor DeviceDescriptor
	configs    []ConfigurationDescriptor

	closed bool
}

func newDeviceHandle(backend platformDevice, desc DeviceDescriptor, configs []ConfigurationDescriptor) *DeviceHandle {
	return &DeviceHandle{backend: backend, ref: &deviceBackendRef{backend: backend}, descriptor: desc, configs: configs}
}

// Descriptor returns the cached device descriptor.
func (d *DeviceHandle) Descriptor() DeviceDescriptor { return d.descriptor }

// Configurations returns every cached configuration descriptor.
func (d *DeviceHandle) Configurations() []ConfigurationDescriptor { return d.configs }

// ActiveConfiguration looks up the configuration descriptor whose value
// equals the backend-reported active value (§4.5).
func (d *DeviceHandle) ActiveConfiguration() (ConfigurationDescriptor, error) {
	value, err := d.backend.activeConfigurationValue()
	if err != nil {
		return ConfigurationDescriptor{}, err
	}
	for _, c := range d.configs {
		if c.ConfigurationValue == value {
			return c, nil
		}
	}
	return ConfigurationDescriptor{}, ErrNoActiveConfiguration
}

// Speed is the supplemented operation described in SPEC_FULL §4.1: the
// negotiated link speed, or (SpeedUnknown, false) if the backend can't
// report it.
func (d *DeviceHandle) Speed() (Speed, bool) { return d.backend.speed() }

// SetConfiguration issues SET_CONFIGURATION. Unavailable on platforms whose
// driver doesn't support it (§6 platform carve-outs); such backends return
// ErrUnsupported.
func (d *DeviceHandle) SetConfiguration(value uint8) error {
	return d.backend.setConfiguration(value)
}

// Reset resets the device. Unavailable on some platforms (§6); such backends
// return ErrUnsupported.
func (d *DeviceHandle) Reset() error { return d.backend.reset() }

// ClaimInterface claims the numbered interface without touching any kernel
// driver currently bound to it.
func (d *DeviceHandle) ClaimInterface(num uint8) (*Interface, error) {
	pi, err := d.backend.claimInterface(num)
	if err != nil {
		return nil, err
	}
	return newInterface(pi, d.ref, d.configForInterface(num)), nil
}

// DetachAndClaimInterface is the supplemented operation (SPEC_FULL §4.3):
// detach any kernel driver bound to the interface and claim it in one
// backend call, matching nusb's detach_and_claim_interface.
func (d *DeviceHandle) DetachAndClaimInterface(num uint8) (*Interface, error) {
	pi, err := d.backend.detachAndClaimInterface(num)
	if err != nil {
		return nil, err
	}
	return newInterface(pi, d.ref, d.configForInterface(num)), nil
}

func (d *DeviceHandle) configForInterface(num uint8) []InterfaceDescriptor {
	active, err := d.ActiveConfiguration()
	if err != nil {
		return nil
	}
	return active.Interfaces[num]
}

// GetDescriptor issues GET_DESCRIPTOR(descType, index) with the given
// language ID and data length (§4.5).
func (d *DeviceHandle) GetDescriptor(descType, index uint8, lang uint16, length int, timeout time.Duration) ([]byte, error) {
	return d.backend.getDescriptor(descType, index, lang, length, timeout)
}

// GetStringDescriptorSupportedLanguages retrieves string descriptor index 0
// with language 0 and decodes it as a list of language IDs (§4.5).
func (d *DeviceHandle) GetStringDescriptorSupportedLanguages(timeout time.Duration) ([]uint16, error) {
	raw, err := d.backend.getDescriptor(descTypeString, 0, 0, 255, timeout)
	if err != nil {
		return nil, err
	}
	return decodeSupportedLanguages(raw)
}

// GetStringDescriptor retrieves, validates, and decodes a string descriptor
// as UTF-16LE, replacing unpaired surrogates with U+FFFD (§4.5, §6).
func (d *DeviceHandle) GetStringDescriptor(index uint8, lang uint16, timeout time.Duration) (string, error) {
	raw, err := d.backend.getDescriptor(descTypeString, index, lang, 255, timeout)
	if err != nil {
		return "", err
	}
	return decodeStringDescriptor(raw)
}

// ControlInBlocking issues a synchronous control IN transfer on the default
// control endpoint. Some backends cannot serve this (§4.4, §6) and return
// ErrUnsupported.
func (d *DeviceHandle) ControlInBlocking(ctx context.Context, req ControlIn, timeout time.Duration) ([]byte, error) {
	return d.backend.controlInBlocking(ctx, req, timeout)
}

// ControlOutBlocking is the OUT counterpart of ControlInBlocking.
func (d *DeviceHandle) ControlOutBlocking(ctx context.Context, req ControlOut, timeout time.Duration) error {
	return d.backend.controlOutBlocking(ctx, req, timeout)
}

// ControlIn issues an asynchronous control IN transfer on the default
// control endpoint, returning a Future that yields the payload with the
// setup packet stripped.
func (d *DeviceHandle) ControlIn(req ControlIn) (*Future[[]byte], error) {
	cb, err := d.backend.newControlBlock(0)
	if err != nil {
		return nil, err
	}
	t := newTransfer(0, TransferTypeControl, cb, d.ref)
	if err := t.submitControlIn(req); err != nil {
		return nil, err
	}
	return newFuture(t, decodeBytesCompletion), nil
}

// ControlOut issues an asynchronous control OUT transfer on the default
// control endpoint.
func (d *DeviceHandle) ControlOut(req ControlOut) (*Future[ResponseBuffer], error) {
	cb, err := d.backend.newControlBlock(0)
	if err != nil {
		return nil, err
	}
	t := newTransfer(0, TransferTypeControl, cb, d.ref)
	if err := t.submitControlOut(req); err != nil {
		return nil, err
	}
	return newFuture(t, decodeResponseBufferCompletion), nil
}

// Close releases the device backend. Safe to call more than once.
func (d *DeviceHandle) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.backend.close()
}

func decodeBytesCompletion(c Completion) ([]byte, error) {
	b, ok := c.Payload.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected completion payload type", ErrInvalidData)
	}
	return b, statusToErr(c.Status)
}

func decodeResponseBufferCompletion(c Completion) (ResponseBuffer, error) {
	rb, ok := c.Payload.(ResponseBuffer)
	if !ok {
		return ResponseBuffer{}, fmt.Errorf("%w: unexpected completion payload type", ErrInvalidData)
	}
	return rb, statusToErr(c.Status)
}

func decodeIsoResponseCompletion(c Completion) (IsoResponse, error) {
	r, ok := c.Payload.(IsoResponse)
	if !ok {
		return IsoResponse{}, fmt.Errorf("%w: unexpected completion payload type", ErrInvalidData)
	}
	return r, statusToErr(c.Status)
}

// statusToErr surfaces a non-Ok TransferStatus as an error on the typed
// Future/Queue decode paths that callers who only want Go's (value, error)
// idiom can use; callers who need the raw status still get it on Completion
// / QueueCompletion directly.
func statusToErr(s TransferStatus) error {
	if s == StatusOk {
		return nil
	}
	return fmt.Errorf("usb: transfer status %s", s)
}
