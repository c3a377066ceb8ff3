package usb

import "testing"

func TestDecodeSupportedLanguages(t *testing.T) {
	// §8 round-trip law: [len, 0x03, 0x09, 0x04] -> [0x0409].
	raw := []byte{0x04, 0x03, 0x09, 0x04}
	langs, err := decodeSupportedLanguages(raw)
	if err != nil {
		t.Fatalf("decodeSupportedLanguages: %v", err)
	}
	if len(langs) != 1 || langs[0] != 0x0409 {
		t.Fatalf("got %v, want [0x0409]", langs)
	}
}

func TestDecodeStringDescriptor(t *testing.T) {
	// §8 end-to-end scenario 6: header [0x0C,0x03] + UTF-16LE "Hello".
	raw := []byte{0x0C, 0x03, 'H', 0, 'e', 0, 'l', 0, 'l', 0, 'o', 0}
	got, err := decodeStringDescriptor(raw)
	if err != nil {
		t.Fatalf("decodeStringDescriptor: %v", err)
	}
	if got != "Hello" {
		t.Fatalf("got %q, want %q", got, "Hello")
	}
}

func TestDecodeStringDescriptorUnpairedSurrogate(t *testing.T) {
	// A lone high surrogate (0xD800) with no following low surrogate decodes
	// to U+FFFD per §6.
	raw := []byte{0x04, 0x03, 0x00, 0xD8}
	got, err := decodeStringDescriptor(raw)
	if err != nil {
		t.Fatalf("decodeStringDescriptor: %v", err)
	}
	if got != "�" {
		t.Fatalf("got %q, want U+FFFD", got)
	}
}

func TestValidateStringDescriptorLengthMismatch(t *testing.T) {
	raw := []byte{0x10, 0x03, 'H', 0}
	if _, err := decodeStringDescriptor(raw); err == nil {
		t.Fatal("expected error for declared length mismatch")
	}
}

func TestParseDeviceDescriptorTooShort(t *testing.T) {
	if _, err := parseDeviceDescriptor(make([]byte, 10)); err == nil {
		t.Fatal("expected error for short device descriptor")
	}
}

func TestParseConfigurationDescriptor(t *testing.T) {
	// config header (9 bytes) + one interface (9 bytes) + one endpoint (7 bytes)
	raw := []byte{
		9, 0x02, 25, 0, 1, 1, 0, 0x80, 50,
		9, 0x04, 0, 0, 1, 0xff, 0, 0, 0,
		7, 0x05, 0x81, 0x02, 0x40, 0x00, 0x01,
	}
	cfg, err := parseConfigurationDescriptor(raw)
	if err != nil {
		t.Fatalf("parseConfigurationDescriptor: %v", err)
	}
	if cfg.ConfigurationValue != 1 {
		t.Errorf("ConfigurationValue = %d, want 1", cfg.ConfigurationValue)
	}
	ifaces, ok := cfg.Interfaces[0]
	if !ok || len(ifaces) != 1 {
		t.Fatalf("Interfaces[0] = %v", ifaces)
	}
	if len(ifaces[0].Endpoints) != 1 || ifaces[0].Endpoints[0].Address != 0x81 {
		t.Fatalf("endpoints = %+v", ifaces[0].Endpoints)
	}
}
