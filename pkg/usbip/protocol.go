package usbip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/blaster"
)

// Version is the USB/IP protocol version spoken by Linux usbip 2.x tools.
const Version = 0x0111

// Operation codes exchanged before a device is imported.
const (
	opReqDevlist = 0x8005
	opRepDevlist = 0x0005
	opReqImport  = 0x8003
	opRepImport  = 0x0003
)

// URB commands exchanged after import.
const (
	cmdSubmit = 0x0001
	cmdUnlink = 0x0002
	retSubmit = 0x0003
	retUnlink = 0x0004
)

const (
	dirOut = 0
	dirIn  = 1
)

// Device speeds as reported to the importing host.
const (
	SpeedFull = 2
	SpeedHigh = 3
)

// Linux errno values carried in URB status fields.
const (
	errnoPipe      = -32
	errnoOverflow  = -75
	errnoConnReset = -104
	errnoShutdown  = -108
)

const (
	statusOK    = 0
	statusError = 1
)

type opHeader struct {
	Version uint16
	Code    uint16
	Status  uint32
}

// deviceInfo is struct usbip_usb_device.
type deviceInfo struct {
	Path               [256]byte
	BusID              [32]byte
	BusNum             uint32
	DevNum             uint32
	Speed              uint32
	IDVendor           uint16
	IDProduct          uint16
	BCDDevice          uint16
	DeviceClass        uint8
	DeviceSubClass     uint8
	DeviceProtocol     uint8
	ConfigurationValue uint8
	NumConfigurations  uint8
	NumInterfaces      uint8
}

// interfaceInfo is struct usbip_usb_interface.
type interfaceInfo struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
	_        uint8
}

type urbHeader struct {
	Command   uint32
	SeqNum    uint32
	DevID     uint32
	Direction uint32
	EP        uint32
}

// urbBody is the fixed part following every URB header. CMD_SUBMIT,
// RET_SUBMIT, CMD_UNLINK and RET_UNLINK all pad it to the same size.
type urbBody [28]byte

type submit struct {
	TransferFlags uint32
	BufferLength  int32
	StartFrame    int32
	NumPackets    int32
	Interval      int32
	Setup         [8]byte
}

type submitReply struct {
	Status       int32
	ActualLength int32
	StartFrame   int32
	NumPackets   int32
	ErrorCount   int32
	_            [8]byte
}

type unlink struct {
	SeqNum uint32
	_      [24]byte
}

type unlinkReply struct {
	Status int32
	_      [24]byte
}

// decode unpacks a fixed body into v.
func (b *urbBody) decode(v any) error {
	return binary.Read(bytes.NewReader(b[:]), binary.BigEndian, v)
}

// setupRequest splits a SETUP packet into a control request.
func setupRequest(s [8]byte) *blaster.ControlRequest {
	return &blaster.ControlRequest{
		RequestType: s[0],
		Request:     s[1],
		Value:       binary.LittleEndian.Uint16(s[2:4]),
		Index:       binary.LittleEndian.Uint16(s[4:6]),
		Length:      binary.LittleEndian.Uint16(s[6:8]),
	}
}

// writeAll encodes each value big-endian into one write on w.
func writeAll(w io.Writer, values ...any) error {
	var buf bytes.Buffer
	for _, v := range values {
		if b, ok := v.([]byte); ok {
			buf.Write(b)
			continue
		}
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return err
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// describe fills the exported device record from the descriptor set.
func describe(d *blaster.Descriptors, busID string, busNum, devNum uint32) (deviceInfo, []interfaceInfo, error) {
	var info deviceInfo
	dev, cfg := d.Device, d.Configuration
	if len(dev) < 18 || len(cfg) < 9 {
		return info, nil, fmt.Errorf("usbip: incomplete descriptor set")
	}
	copy(info.Path[:], fmt.Sprintf("/sys/devices/platform/usb-blaster/usb%d/%s", busNum, busID))
	copy(info.BusID[:], busID)
	info.BusNum = busNum
	info.DevNum = devNum
	info.Speed = SpeedFull
	if maxPacket(cfg) > 64 {
		info.Speed = SpeedHigh
	}
	info.IDVendor = binary.LittleEndian.Uint16(dev[8:])
	info.IDProduct = binary.LittleEndian.Uint16(dev[10:])
	info.BCDDevice = binary.LittleEndian.Uint16(dev[12:])
	info.DeviceClass, info.DeviceSubClass, info.DeviceProtocol = dev[4], dev[5], dev[6]
	info.NumConfigurations = dev[17]
	info.ConfigurationValue = cfg[5]
	info.NumInterfaces = cfg[4]

	var ifaces []interfaceInfo
	for off := int(cfg[0]); off+1 < len(cfg) && cfg[off] > 0; off += int(cfg[off]) {
		if cfg[off+1] == blaster.DescriptorTypeInterface && off+8 <= len(cfg) {
			ifaces = append(ifaces, interfaceInfo{Class: cfg[off+5], SubClass: cfg[off+6], Protocol: cfg[off+7]})
		}
	}
	return info, ifaces, nil
}

// maxPacket returns the largest endpoint size in a configuration.
func maxPacket(cfg []byte) int {
	size := 0
	for off := int(cfg[0]); off+1 < len(cfg) && cfg[off] > 0; off += int(cfg[off]) {
		if cfg[off+1] == blaster.DescriptorTypeEndpoint && off+6 <= len(cfg) {
			size = max(size, int(binary.LittleEndian.Uint16(cfg[off+4:])))
		}
	}
	return size
}
