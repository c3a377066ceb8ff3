//go:build !linux

package usb

// Concrete non-Linux backends (macOS IOKit, Windows WinUSB) are explicitly
// out of scope (spec §1): "the core only requires that each backend
// implement the contracts in §4.4". Enumeration and open both report
// ErrUnsupported rather than silently no-opping (§4.4); there is nothing to
// claim an interface or mint a transfer on, so platformDevice/platformInterface
// have no concrete non-Linux implementation to instantiate.

func platformList(logger Logger) ([]DeviceInfo, error) {
	return nil, ErrUnsupported
}

func openDevice(info DeviceInfo) (*DeviceHandle, error) {
	return nil, ErrUnsupported
}
