package usb

import (
	"context"
	"testing"
	"time"
)

// fakePlatformDevice is a platformDevice double driven directly by tests,
// without any real ioctl/usbfs plumbing underneath.
type fakePlatformDevice struct {
	activeConfig uint8
	descriptors  map[uint16][]byte // keyed by (descType<<8 | index)
	claimed      []uint8
	detached     []uint8
	closeCalls   int
	resetCalls   int
	speedVal     Speed
	speedOk      bool
}

func (f *fakePlatformDevice) close() error { f.closeCalls++; return nil }

func (f *fakePlatformDevice) claimInterface(num uint8) (platformInterface, error) {
	f.claimed = append(f.claimed, num)
	return &fakePlatformInterface{num: num}, nil
}

func (f *fakePlatformDevice) detachAndClaimInterface(num uint8) (platformInterface, error) {
	f.detached = append(f.detached, num)
	return &fakePlatformInterface{num: num}, nil
}

func (f *fakePlatformDevice) setConfiguration(value uint8) error {
	f.activeConfig = value
	return nil
}

func (f *fakePlatformDevice) reset() error { f.resetCalls++; return nil }

func (f *fakePlatformDevice) getDescriptor(descType, index uint8, lang uint16, length int, timeout time.Duration) ([]byte, error) {
	key := uint16(descType)<<8 | uint16(index)
	raw, ok := f.descriptors[key]
	if !ok {
		return nil, ErrNotFound
	}
	return raw, nil
}

func (f *fakePlatformDevice) controlInBlocking(ctx context.Context, req ControlIn, timeout time.Duration) ([]byte, error) {
	return make([]byte, req.Length), nil
}

func (f *fakePlatformDevice) controlOutBlocking(ctx context.Context, req ControlOut, timeout time.Duration) error {
	return nil
}

func (f *fakePlatformDevice) newControlBlock(ep EndpointAddress) (platformControlBlock, error) {
	return &fakeControlBlock{}, nil
}

func (f *fakePlatformDevice) speed() (Speed, bool) { return f.speedVal, f.speedOk }

func (f *fakePlatformDevice) activeConfigurationValue() (uint8, error) {
	if f.activeConfig == 0 {
		return 0, ErrNoActiveConfiguration
	}
	return f.activeConfig, nil
}

func newTestDeviceHandle() (*DeviceHandle, *fakePlatformDevice) {
	fd := &fakePlatformDevice{activeConfig: 1, descriptors: map[uint16][]byte{}}
	configs := []ConfigurationDescriptor{
		{
			ConfigurationValue: 1,
			Interfaces: map[uint8][]InterfaceDescriptor{
				0: {{InterfaceNumber: 0, AlternateSetting: 0}},
			},
		},
	}
	return newDeviceHandle(fd, DeviceDescriptor{VendorID: 0x1234, ProductID: 0x5678}, configs), fd
}

func TestDeviceHandleActiveConfiguration(t *testing.T) {
	d, _ := newTestDeviceHandle()
	cfg, err := d.ActiveConfiguration()
	if err != nil {
		t.Fatalf("ActiveConfiguration: %v", err)
	}
	if cfg.ConfigurationValue != 1 {
		t.Fatalf("ConfigurationValue = %d, want 1", cfg.ConfigurationValue)
	}
}

func TestDeviceHandleActiveConfigurationNoneActive(t *testing.T) {
	d, fd := newTestDeviceHandle()
	fd.activeConfig = 0
	if _, err := d.ActiveConfiguration(); err != ErrNoActiveConfiguration {
		t.Fatalf("err = %v, want ErrNoActiveConfiguration", err)
	}
}

func TestDeviceHandleClaimInterfaceCarriesDescriptors(t *testing.T) {
	d, fd := newTestDeviceHandle()
	iface, err := d.ClaimInterface(0)
	if err != nil {
		t.Fatalf("ClaimInterface: %v", err)
	}
	if len(fd.claimed) != 1 || fd.claimed[0] != 0 {
		t.Fatalf("claimed = %v, want [0]", fd.claimed)
	}
	if len(iface.Descriptors()) != 1 {
		t.Fatalf("len(Descriptors()) = %d, want 1", len(iface.Descriptors()))
	}
}

func TestDeviceHandleDetachAndClaimInterface(t *testing.T) {
	d, fd := newTestDeviceHandle()
	if _, err := d.DetachAndClaimInterface(0); err != nil {
		t.Fatalf("DetachAndClaimInterface: %v", err)
	}
	if len(fd.detached) != 1 || fd.detached[0] != 0 {
		t.Fatalf("detached = %v, want [0]", fd.detached)
	}
}

func TestDeviceHandleGetStringDescriptor(t *testing.T) {
	d, fd := newTestDeviceHandle()
	// "Hi" as UTF-16LE: length=2+2*2=6, type=0x03.
	fd.descriptors[uint16(descTypeString)<<8|1] = []byte{6, 0x03, 'H', 0, 'i', 0}
	s, err := d.GetStringDescriptor(1, 0x0409, time.Second)
	if err != nil {
		t.Fatalf("GetStringDescriptor: %v", err)
	}
	if s != "Hi" {
		t.Fatalf("GetStringDescriptor = %q, want %q", s, "Hi")
	}
}

func TestDeviceHandleSpeed(t *testing.T) {
	d, fd := newTestDeviceHandle()
	fd.speedVal, fd.speedOk = SpeedHigh, true
	speed, ok := d.Speed()
	if !ok || speed != SpeedHigh {
		t.Fatalf("Speed() = %v, %v, want SpeedHigh, true", speed, ok)
	}
}

func TestDeviceHandleControlInReturnsFuture(t *testing.T) {
	d, _ := newTestDeviceHandle()
	f, err := d.ControlIn(ControlIn{Control: Control{ControlType: ControlTypeStandard, Recipient: RecipientDevice, Request: 0x06}, Length: 18})
	if err != nil {
		t.Fatalf("ControlIn: %v", err)
	}
	if _, ready, _ := f.Poll(); ready {
		t.Fatal("Poll should not be ready before completion")
	}
}

func TestDeviceHandleCloseIdempotent(t *testing.T) {
	d, fd := newTestDeviceHandle()
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if fd.closeCalls != 1 {
		t.Fatalf("closeCalls = %d, want 1", fd.closeCalls)
	}
}
