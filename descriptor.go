package usb

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	descTypeDevice    = 0x01
	descTypeConfig    = 0x02
	descTypeString    = 0x03
	descTypeInterface = 0x04
	descTypeEndpoint  = 0x05
)

// DeviceDescriptor is the cached, already-parsed device descriptor handed to
// callers by a device handle; descriptor byte-level parsing beyond this is
// explicitly out of scope for the core.
type DeviceDescriptor struct {
	USBVersion      uint16
	DeviceClass     uint8
	DeviceSubClass  uint8
	DeviceProtocol  uint8
	MaxPacketSize0  uint8
	VendorID        uint16
	ProductID       uint16
	DeviceVersion   uint16
	ManufacturerIdx uint8
	ProductIdx      uint8
	SerialNumberIdx uint8
	NumConfigurations uint8
}

func parseDeviceDescriptor(b []byte) (DeviceDescriptor, error) {
	if len(b) < 18 || b[1] != descTypeDevice {
		return DeviceDescriptor{}, fmt.Errorf("%w: device descriptor too short or malformed", ErrInvalidData)
	}
	return DeviceDescriptor{
		USBVersion:        binary.LittleEndian.Uint16(b[2:4]),
		DeviceClass:       b[4],
		DeviceSubClass:    b[5],
		DeviceProtocol:    b[6],
		MaxPacketSize0:    b[7],
		VendorID:          binary.LittleEndian.Uint16(b[8:10]),
		ProductID:         binary.LittleEndian.Uint16(b[10:12]),
		DeviceVersion:     binary.LittleEndian.Uint16(b[12:14]),
		ManufacturerIdx:   b[14],
		ProductIdx:        b[15],
		SerialNumberIdx:   b[16],
		NumConfigurations: b[17],
	}, nil
}

// EndpointDescriptor is a single endpoint within an alt setting.
type EndpointDescriptor struct {
	Address       EndpointAddress
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

func (e EndpointDescriptor) TransferType() TransferType { return TransferType(e.Attributes & 0x3) }

// InterfaceDescriptor is one alt setting of one interface number.
type InterfaceDescriptor struct {
	InterfaceNumber  uint8
	AlternateSetting uint8
	InterfaceClass   uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIdx     uint8
	Endpoints        []EndpointDescriptor
}

// ConfigurationDescriptor is a fully parsed configuration: its interfaces,
// indexed by interface number, each holding every alt setting seen.
type ConfigurationDescriptor struct {
	ConfigurationValue uint8
	ConfigurationIdx   uint8
	Attributes         uint8
	MaxPower           uint8
	Interfaces         map[uint8][]InterfaceDescriptor
}

// parseConfigurationDescriptor decodes a GET_DESCRIPTOR(CONFIGURATION) body
// (config header followed by interface/endpoint/class-specific descriptors)
// into the already-parsed view handed to device and interface handles.
func parseConfigurationDescriptor(b []byte) (ConfigurationDescriptor, error) {
	if len(b) < 9 || b[1] != descTypeConfig {
		return ConfigurationDescriptor{}, fmt.Errorf("%w: configuration descriptor too short or malformed", ErrInvalidData)
	}
	total := int(binary.LittleEndian.Uint16(b[2:4]))
	if total > len(b) {
		return ConfigurationDescriptor{}, fmt.Errorf("%w: declared length %d exceeds %d bytes read", ErrInvalidData, total, len(b))
	}
	cfg := ConfigurationDescriptor{
		ConfigurationValue: b[5],
		ConfigurationIdx:   b[6],
		Attributes:         b[7],
		MaxPower:           b[8],
		Interfaces:         make(map[uint8][]InterfaceDescriptor),
	}

	pos := 9
	var cur *InterfaceDescriptor
	for pos+2 <= total {
		length := int(b[pos])
		descType := b[pos+1]
		if length == 0 || pos+length > total {
			break
		}
		body := b[pos : pos+length]
		switch descType {
		case descTypeInterface:
			if len(body) < 9 {
				return ConfigurationDescriptor{}, fmt.Errorf("%w: interface descriptor too short", ErrInvalidData)
			}
			iface := InterfaceDescriptor{
				InterfaceNumber:   body[2],
				AlternateSetting:  body[3],
				InterfaceClass:    body[5],
				InterfaceSubClass: body[6],
				InterfaceProtocol: body[7],
				InterfaceIdx:      body[8],
			}
			cfg.Interfaces[iface.InterfaceNumber] = append(cfg.Interfaces[iface.InterfaceNumber], iface)
			cur = &cfg.Interfaces[iface.InterfaceNumber][len(cfg.Interfaces[iface.InterfaceNumber])-1]
		case descTypeEndpoint:
			if len(body) < 7 {
				return ConfigurationDescriptor{}, fmt.Errorf("%w: endpoint descriptor too short", ErrInvalidData)
			}
			if cur == nil {
				return ConfigurationDescriptor{}, fmt.Errorf("%w: endpoint descriptor before any interface", ErrInvalidData)
			}
			cur.Endpoints = append(cur.Endpoints, EndpointDescriptor{
				Address:       EndpointAddress(body[2]),
				Attributes:    body[3],
				MaxPacketSize: binary.LittleEndian.Uint16(body[4:6]),
				Interval:      body[6],
			})
		}
		pos += length
	}
	return cfg, nil
}

// validateStringDescriptor checks the two-byte header (length, type) against
// the actual slice length before any decoding proceeds.
func validateStringDescriptor(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("%w: string descriptor shorter than header", ErrInvalidData)
	}
	if int(b[0]) != len(b) {
		return fmt.Errorf("%w: string descriptor declared length %d, got %d bytes", ErrInvalidData, b[0], len(b))
	}
	if b[1] != descTypeString {
		return fmt.Errorf("%w: string descriptor type byte is 0x%02x, want 0x03", ErrInvalidData, b[1])
	}
	return nil
}

// decodeSupportedLanguages decodes the body of string descriptor index 0 as
// a list of little-endian 16-bit language IDs.
func decodeSupportedLanguages(b []byte) ([]uint16, error) {
	if err := validateStringDescriptor(b); err != nil {
		return nil, err
	}
	body := b[2:]
	if len(body)%2 != 0 {
		return nil, fmt.Errorf("%w: supported-languages body has odd length %d", ErrInvalidData, len(body))
	}
	langs := make([]uint16, 0, len(body)/2)
	for i := 0; i < len(body); i += 2 {
		langs = append(langs, binary.LittleEndian.Uint16(body[i:i+2]))
	}
	return langs, nil
}

// decodeStringDescriptor decodes the body of a string descriptor as UTF-16LE,
// replacing unpaired surrogates with U+FFFD (§6).
func decodeStringDescriptor(b []byte) (string, error) {
	if err := validateStringDescriptor(b); err != nil {
		return "", err
	}
	body := b[2:]
	if len(body)%2 != 0 {
		return "", fmt.Errorf("%w: string descriptor body has odd length %d", ErrInvalidData, len(body))
	}
	units := make([]uint16, len(body)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(body[i*2 : i*2+2])
	}
	runes := utf16.Decode(units)
	out := make([]byte, 0, len(runes)*utf8.UTFMax)
	var buf [utf8.UTFMax]byte
	for _, r := range runes {
		n := utf8.EncodeRune(buf[:], r)
		out = append(out, buf[:n]...)
	}
	return string(out), nil
}
