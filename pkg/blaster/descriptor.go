package blaster

import (
	"encoding/binary"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/ftdi"
)

// USB descriptor types used by the adapter.
const (
	DescriptorTypeDevice        = 0x01
	DescriptorTypeConfiguration = 0x02
	DescriptorTypeString        = 0x03
	DescriptorTypeInterface     = 0x04
	DescriptorTypeEndpoint      = 0x05
)

// Endpoint addresses of the FT245 interface A.
const (
	EndpointIn  uint8 = 0x81
	EndpointOut uint8 = 0x02
)

const (
	classVendor       = 0xFF
	transferTypeBulk  = 0x02
	deviceDescSize    = 18
	configDescSize    = 9
	interfaceDescSize = 9
	endpointDescSize  = 7
	langEnglishUS     = 0x0409
)

// DeviceDescriptor is the 18-byte USB device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo serializes the descriptor to buf and returns the number of bytes
// written, or 0 if buf is too small.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < deviceDescSize {
		return 0
	}
	buf[0] = deviceDescSize
	buf[1] = DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:4], d.USBVersion)
	buf[4] = d.DeviceClass
	buf[5] = d.DeviceSubClass
	buf[6] = d.DeviceProtocol
	buf[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:10], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:12], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:14], d.DeviceVersion)
	buf[14] = d.ManufacturerIndex
	buf[15] = d.ProductIndex
	buf[16] = d.SerialNumberIndex
	buf[17] = d.NumConfigurations
	return deviceDescSize
}

// EndpointDescriptor is the 7-byte USB endpoint descriptor.
type EndpointDescriptor struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

// MarshalTo serializes the descriptor to buf.
func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < endpointDescSize {
		return 0
	}
	buf[0] = endpointDescSize
	buf[1] = DescriptorTypeEndpoint
	buf[2] = e.Address
	buf[3] = e.Attributes
	binary.LittleEndian.PutUint16(buf[4:6], e.MaxPacketSize)
	buf[6] = e.Interval
	return endpointDescSize
}

// Descriptors is the full descriptor set handed to the USB stack.
type Descriptors struct {
	Device        []byte
	Configuration []byte
	// Strings is indexed by string descriptor index; index 0 is the
	// language table.
	Strings [][]byte
}

// StringAt returns the string descriptor at index, or nil.
func (d *Descriptors) StringAt(index uint8) []byte {
	if int(index) >= len(d.Strings) {
		return nil
	}
	return d.Strings[index]
}

// Lookup returns the descriptor a GET_DESCRIPTOR request with wValue value
// asks for, or nil when there is none.
func (d *Descriptors) Lookup(value uint16) []byte {
	switch uint8(value >> 8) {
	case DescriptorTypeDevice:
		return d.Device
	case DescriptorTypeConfiguration:
		return d.Configuration
	case DescriptorTypeString:
		return d.StringAt(uint8(value))
	}
	return nil
}

// NewDescriptors builds the USB-Blaster descriptor set for id with bulk
// endpoints of packetSize bytes.
func NewDescriptors(id ftdi.EEPROM, packetSize int) *Descriptors {
	dev := DeviceDescriptor{
		USBVersion:        id.USBVersion,
		MaxPacketSize0:    64,
		VendorID:          id.VendorID,
		ProductID:         id.ProductID,
		DeviceVersion:     id.Release,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}
	d := &Descriptors{Device: make([]byte, deviceDescSize)}
	dev.MarshalTo(d.Device)

	total := configDescSize + interfaceDescSize + 2*endpointDescSize
	cfg := make([]byte, total)
	cfg[0] = configDescSize
	cfg[1] = DescriptorTypeConfiguration
	binary.LittleEndian.PutUint16(cfg[2:4], uint16(total))
	cfg[4] = 1 // bNumInterfaces
	cfg[5] = 1 // bConfigurationValue
	cfg[7] = id.Attributes
	cfg[8] = id.MaxPower

	iface := cfg[configDescSize:]
	iface[0] = interfaceDescSize
	iface[1] = DescriptorTypeInterface
	iface[4] = 2 // bNumEndpoints
	iface[5] = classVendor
	iface[6] = classVendor
	iface[7] = classVendor

	off := configDescSize + interfaceDescSize
	for _, ep := range []EndpointDescriptor{
		{Address: EndpointIn, Attributes: transferTypeBulk, MaxPacketSize: uint16(packetSize), Interval: 1},
		{Address: EndpointOut, Attributes: transferTypeBulk, MaxPacketSize: uint16(packetSize), Interval: 1},
	} {
		off += ep.MarshalTo(cfg[off:])
	}
	d.Configuration = cfg

	lang := []byte{4, DescriptorTypeString, 0, 0}
	binary.LittleEndian.PutUint16(lang[2:], langEnglishUS)
	d.Strings = [][]byte{
		lang,
		ftdi.StringDescriptor(id.Manufacturer),
		ftdi.StringDescriptor(id.Product),
		ftdi.StringDescriptor(id.Serial),
	}
	return d
}
