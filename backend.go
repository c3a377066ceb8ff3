package usb

import (
	"context"
	"time"
)

// platformDevice is the per-device half of the platform backend contract
// (C7): open a device, claim its interfaces, issue device-wide control
// operations. Every method returns ErrUnsupported, never a silent no-op,
// when the platform cannot perform the operation (§4.4).
type platformDevice interface {
	close() error

	claimInterface(num uint8) (platformInterface, error)
	detachAndClaimInterface(num uint8) (platformInterface, error)

	setConfiguration(value uint8) error
	reset() error

	// getDescriptor issues (or, on platforms that hand back cached
	// descriptors directly, simulates) a GET_DESCRIPTOR control transfer.
	// timeout is ignored by backends that do not need it.
	getDescriptor(descType uint8, index uint8, lang uint16, length int, timeout time.Duration) ([]byte, error)

	controlInBlocking(ctx context.Context, req ControlIn, timeout time.Duration) ([]byte, error)
	controlOutBlocking(ctx context.Context, req ControlOut, timeout time.Duration) error

	newControlBlock(ep EndpointAddress) (platformControlBlock, error)

	speed() (Speed, bool)
	activeConfigurationValue() (uint8, error)
}

// platformInterface is the per-interface half of the contract: alt-setting
// selection, halt clearing, and minting of control blocks for this
// interface's endpoints (C7, consumed by C6).
type platformInterface interface {
	release() error

	setAltSetting(alt uint8) error
	getAltSetting() (uint8, error)
	clearHalt(ep EndpointAddress) error

	newControlBlock(ep EndpointAddress, tt TransferType) (platformControlBlock, error)

	interfaceNumber() uint8
}

// Speed is the device's negotiated USB signalling rate (supplemented
// feature, SPEC_FULL §4.1; not named by the distilled spec).
type Speed uint8

const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
	SpeedHigh
	SpeedSuper
	SpeedSuperPlus
)
