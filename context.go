package usb

// DeviceID is an opaque device identifier, as produced by platform
// enumeration. The core treats it as opaque per §1's non-goals: device
// discovery and hot-plug enumeration are external collaborators.
type DeviceID struct {
	BusNumber     uint8
	DeviceAddress uint8
	path          string // platform-specific open path, e.g. /dev/bus/usb/NNN/MMM
}

// DeviceInfo is one entry returned by enumeration (§6 "Library surface").
type DeviceInfo struct {
	ID DeviceID

	VendorID  uint16
	ProductID uint16

	DeviceClass    uint8
	DeviceSubClass uint8
}

// Open opens the device this DeviceInfo describes, returning a device
// handle with cached descriptors (§4.5).
func (info DeviceInfo) Open() (*DeviceHandle, error) {
	return openDevice(info)
}

// List enumerates every USB device currently visible to the host. Errors
// encountered while filtering individual devices are logged and the
// offending device is skipped (§7 propagation policy), never surfaced as a
// List-wide failure.
func List(logger Logger) ([]DeviceInfo, error) {
	return platformList(logger)
}
