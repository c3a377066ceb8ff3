package usb

import "testing"

func TestSetupPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		dir  controlDirection
		c    Control
		len  uint16
	}{
		{"vendor device in", dirIn, Control{ControlType: ControlTypeVendor, Recipient: RecipientDevice, Request: 0x30, Value: 0x1234, Index: 0x5678}, 64},
		{"standard interface out", dirOut, Control{ControlType: ControlTypeStandard, Recipient: RecipientInterface, Request: 0x0b, Value: 0, Index: 2}, 0},
		{"class endpoint in", dirIn, Control{ControlType: ControlTypeClass, Recipient: RecipientEndpoint, Request: 0x01, Value: 0, Index: 0x81}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := tt.c.encode(tt.dir, tt.len)
			gotDir, gotC, gotLen := decodeSetupPacket(pkt)
			if gotDir != tt.dir {
				t.Errorf("direction: got %v want %v", gotDir, tt.dir)
			}
			if gotC != tt.c {
				t.Errorf("control: got %+v want %+v", gotC, tt.c)
			}
			if gotLen != tt.len {
				t.Errorf("length: got %d want %d", gotLen, tt.len)
			}
		})
	}
}

func TestEndpointAddress(t *testing.T) {
	tests := []struct {
		addr   EndpointAddress
		isIn   bool
		number uint8
	}{
		{0x81, true, 1},
		{0x02, false, 2},
		{0x00, false, 0},
		{0x8f, true, 0xf},
	}
	for _, tt := range tests {
		if got := tt.addr.IsIn(); got != tt.isIn {
			t.Errorf("EndpointAddress(0x%02x).IsIn() = %v, want %v", tt.addr, got, tt.isIn)
		}
		if got := tt.addr.Number(); got != tt.number {
			t.Errorf("EndpointAddress(0x%02x).Number() = %d, want %d", tt.addr, got, tt.number)
		}
	}
}
