//go:build linux

package usb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const sysfsUSBDevicesDir = "/sys/bus/usb/devices"

// platformList enumerates devices the way the teacher's SysfsEnumerator
// does: walk /sys/bus/usb/devices, skip interface entries (their name
// contains ':'), keep device entries (name contains '-') and root hubs
// ("usbN"). A device whose sysfs attributes can't be read is logged and
// skipped, per §7's enumeration-filtering propagation policy, never failing
// the whole call.
func platformList(logger Logger) ([]DeviceInfo, error) {
	entries, err := os.ReadDir(sysfsUSBDevicesDir)
	if err != nil {
		return nil, wrapIo("readdir "+sysfsUSBDevicesDir, err)
	}

	var infos []DeviceInfo
	for _, entry := range entries {
		name := entry.Name()
		if strings.Contains(name, ":") {
			continue
		}
		if !strings.Contains(name, "-") && !strings.HasPrefix(name, "usb") {
			continue
		}
		info, err := loadDeviceInfoFromSysfs(filepath.Join(sysfsUSBDevicesDir, name))
		if err != nil {
			logDebugf(logger, "usb: skipping sysfs entry %s: %v", name, err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func sysfsReadUint8(path string) (uint8, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 8)
	return uint8(v), err
}

func sysfsReadUint16Hex(path string) (uint16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 16, 16)
	return uint16(v), err
}

func loadDeviceInfoFromSysfs(sysfsPath string) (DeviceInfo, error) {
	busNum, err := sysfsReadUint8(filepath.Join(sysfsPath, "busnum"))
	if err != nil {
		return DeviceInfo{}, err
	}
	devNum, err := sysfsReadUint8(filepath.Join(sysfsPath, "devnum"))
	if err != nil {
		return DeviceInfo{}, err
	}
	vid, err := sysfsReadUint16Hex(filepath.Join(sysfsPath, "idVendor"))
	if err != nil {
		return DeviceInfo{}, err
	}
	pid, err := sysfsReadUint16Hex(filepath.Join(sysfsPath, "idProduct"))
	if err != nil {
		return DeviceInfo{}, err
	}

	class, _ := sysfsReadUint8(filepath.Join(sysfsPath, "bDeviceClass"))
	subClass, _ := sysfsReadUint8(filepath.Join(sysfsPath, "bDeviceSubClass"))

	devPath := fmt.Sprintf("/dev/bus/usb/%03d/%03d", busNum, devNum)

	return DeviceInfo{
		ID: DeviceID{
			BusNumber:     busNum,
			DeviceAddress: devNum,
			path:          devPath,
		},
		VendorID:       vid,
		ProductID:      pid,
		DeviceClass:    class,
		DeviceSubClass: subClass,
	}, nil
}

// readRawDescriptors reads the kernel-assembled device + configuration
// descriptor blob usbfs exposes as a device node's "descriptors" sysfs file
// (device descriptor followed by each configuration's descriptor set).
func readRawDescriptors(busNum, devNum uint8) ([]byte, error) {
	name := fmt.Sprintf("%03d-%03d", busNum, devNum)
	candidates := []string{
		filepath.Join(sysfsUSBDevicesDir, name, "descriptors"),
	}
	entries, err := os.ReadDir(sysfsUSBDevicesDir)
	if err == nil {
		for _, e := range entries {
			if strings.Contains(e.Name(), ":") {
				continue
			}
			bn, errB := sysfsReadUint8(filepath.Join(sysfsUSBDevicesDir, e.Name(), "busnum"))
			dn, errD := sysfsReadUint8(filepath.Join(sysfsUSBDevicesDir, e.Name(), "devnum"))
			if errB == nil && errD == nil && bn == busNum && dn == devNum {
				candidates = append(candidates, filepath.Join(sysfsUSBDevicesDir, e.Name(), "descriptors"))
			}
		}
	}
	var lastErr error
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, wrapIo("read descriptors", lastErr)
}

// parseRawDescriptors splits the blob from readRawDescriptors into its
// device descriptor and one ConfigurationDescriptor per configuration.
func parseRawDescriptors(raw []byte) (DeviceDescriptor, []ConfigurationDescriptor, error) {
	dev, err := parseDeviceDescriptor(raw)
	if err != nil {
		return DeviceDescriptor{}, nil, err
	}
	var configs []ConfigurationDescriptor
	pos := int(raw[0])
	for pos+2 <= len(raw) {
		length := int(raw[pos])
		descType := raw[pos+1]
		if length == 0 || pos+length > len(raw) {
			break
		}
		if descType == descTypeConfig {
			totalLen := int(raw[pos+2]) | int(raw[pos+3])<<8
			end := pos + totalLen
			if end > len(raw) {
				end = len(raw)
			}
			cfg, err := parseConfigurationDescriptor(raw[pos:end])
			if err != nil {
				return DeviceDescriptor{}, nil, err
			}
			configs = append(configs, cfg)
			pos = end
			continue
		}
		pos += length
	}
	return dev, configs, nil
}
