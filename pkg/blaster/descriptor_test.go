package blaster

import (
	"bytes"
	"testing"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/ftdi"
)

func TestDeviceDescriptor(t *testing.T) {
	d := NewDescriptors(ftdi.USBBlaster(), DefaultPacketSize)
	want := []byte{
		18, DescriptorTypeDevice,
		0x00, 0x02, // bcdUSB
		0, 0, 0, // vendor specific at interface level
		64,
		0xFB, 0x09, // idVendor
		0x01, 0x60, // idProduct
		0x00, 0x04, // bcdDevice
		1, 2, 3,
		1,
	}
	if !bytes.Equal(d.Device, want) {
		t.Fatalf("device descriptor = % X\nwant % X", d.Device, want)
	}
}

func TestConfigurationDescriptor(t *testing.T) {
	cfg := NewDescriptors(ftdi.USBBlaster(), DefaultPacketSize).Configuration
	if len(cfg) != 32 {
		t.Fatalf("configuration length = %d, want 32", len(cfg))
	}
	if cfg[2] != 32 || cfg[3] != 0 {
		t.Fatalf("wTotalLength = % X", cfg[2:4])
	}
	if cfg[7] != 0x80 || cfg[8] != 0xE1 {
		t.Fatalf("attributes/power = %#02x/%#02x", cfg[7], cfg[8])
	}

	iface := cfg[9:18]
	if iface[1] != DescriptorTypeInterface || iface[4] != 2 {
		t.Fatalf("interface descriptor = % X", iface)
	}
	if iface[5] != 0xFF || iface[6] != 0xFF || iface[7] != 0xFF {
		t.Fatalf("interface class = % X, want vendor specific", iface[5:8])
	}

	tests := []struct {
		off  int
		addr byte
	}{
		{18, EndpointIn},
		{25, EndpointOut},
	}
	for _, tt := range tests {
		ep := cfg[tt.off : tt.off+7]
		want := []byte{7, DescriptorTypeEndpoint, tt.addr, 0x02, 64, 0, 1}
		if !bytes.Equal(ep, want) {
			t.Fatalf("endpoint %#02x = % X, want % X", tt.addr, ep, want)
		}
	}
}

func TestConfigurationHonoursPacketSize(t *testing.T) {
	cfg := NewDescriptors(ftdi.USBBlaster(), 512).Configuration
	for _, off := range []int{18, 25} {
		if cfg[off+4] != 0x00 || cfg[off+5] != 0x02 {
			t.Fatalf("wMaxPacketSize at %d = % X, want 00 02", off, cfg[off+4:off+6])
		}
	}
}

func TestStringDescriptors(t *testing.T) {
	d := NewDescriptors(ftdi.USBBlaster(), DefaultPacketSize)
	if !bytes.Equal(d.StringAt(0), []byte{4, DescriptorTypeString, 0x09, 0x04}) {
		t.Fatalf("language table = % X", d.StringAt(0))
	}
	for i, want := range []string{"Altera", "USB-Blaster", "12345678"} {
		got, err := ftdi.ParseStringDescriptor(d.StringAt(uint8(i + 1)))
		if err != nil || got != want {
			t.Fatalf("string %d = %q, %v; want %q", i+1, got, err, want)
		}
	}
	if d.StringAt(4) != nil {
		t.Fatalf("string 4 should not exist")
	}
}
