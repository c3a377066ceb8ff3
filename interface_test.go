package usb

import (
	"context"
	"testing"
)

// fakePlatformInterface is a platformInterface double used by device_test.go
// and the Interface-level tests below.
type fakePlatformInterface struct {
	num         uint8
	alt         uint8
	releaseCall int
	haltCleared []EndpointAddress
}

func (f *fakePlatformInterface) release() error { f.releaseCall++; return nil }

func (f *fakePlatformInterface) setAltSetting(alt uint8) error {
	f.alt = alt
	return nil
}

func (f *fakePlatformInterface) getAltSetting() (uint8, error) { return f.alt, nil }

func (f *fakePlatformInterface) clearHalt(ep EndpointAddress) error {
	f.haltCleared = append(f.haltCleared, ep)
	return nil
}

func (f *fakePlatformInterface) newControlBlock(ep EndpointAddress, tt TransferType) (platformControlBlock, error) {
	return &fakeControlBlock{}, nil
}

func (f *fakePlatformInterface) interfaceNumber() uint8 { return f.num }

func newTestInterface() (*Interface, *fakePlatformInterface) {
	fi := &fakePlatformInterface{num: 2}
	descs := []InterfaceDescriptor{
		{InterfaceNumber: 2, AlternateSetting: 0},
		{InterfaceNumber: 2, AlternateSetting: 1},
	}
	return newInterface(fi, &deviceBackendRef{}, descs), fi
}

func TestInterfaceDescriptorTracksAltSetting(t *testing.T) {
	i, fi := newTestInterface()
	if err := i.SetAltSetting(1); err != nil {
		t.Fatalf("SetAltSetting: %v", err)
	}
	if fi.alt != 1 {
		t.Fatalf("backend alt = %d, want 1", fi.alt)
	}
	d, err := i.Descriptor()
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if d.AlternateSetting != 1 {
		t.Fatalf("Descriptor().AlternateSetting = %d, want 1", d.AlternateSetting)
	}
}

func TestInterfaceDescriptorUnknownAltSetting(t *testing.T) {
	i, fi := newTestInterface()
	fi.alt = 9
	if _, err := i.Descriptor(); err == nil {
		t.Fatal("expected error for alt setting with no cached descriptor")
	}
}

func TestInterfaceClearHalt(t *testing.T) {
	i, fi := newTestInterface()
	if err := i.ClearHalt(0x81); err != nil {
		t.Fatalf("ClearHalt: %v", err)
	}
	if len(fi.haltCleared) != 1 || fi.haltCleared[0] != 0x81 {
		t.Fatalf("haltCleared = %v, want [0x81]", fi.haltCleared)
	}
}

func TestInterfaceRelease(t *testing.T) {
	i, fi := newTestInterface()
	if err := i.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if fi.releaseCall != 1 {
		t.Fatalf("releaseCall = %d, want 1", fi.releaseCall)
	}
}

func TestInterfaceBulkOutFuture(t *testing.T) {
	i, _ := newTestInterface()
	f, err := i.BulkOut(0x02, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("BulkOut: %v", err)
	}
	if _, ready, _ := f.Poll(); ready {
		t.Fatal("Poll should not be ready before completion")
	}
}

func TestInterfaceBulkInQueueSubmit(t *testing.T) {
	i, _ := newTestInterface()
	q := i.BulkInQueue(0x81, 64)
	if err := q.Submit(64); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if q.PendingLen() != 1 {
		t.Fatalf("PendingLen() = %d, want 1", q.PendingLen())
	}
	_ = context.Background()
}

func TestInterfaceIsochronousInQueueSubmit(t *testing.T) {
	i, _ := newTestInterface()
	q := i.IsochronousInQueue(0x83)
	if err := q.Submit(isoQueueRequest{PacketLen: 188, NumPackets: 8}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if q.PendingLen() != 1 {
		t.Fatalf("PendingLen() = %d, want 1", q.PendingLen())
	}
}
