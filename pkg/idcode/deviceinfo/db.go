// Package deviceinfo names JTAG parts from their IDCODE.
package deviceinfo

import "github.com/OpenTraceLab/OpenTraceBlaster/pkg/idcode"

// partMask drops the version nibble; revisions of a part share an entry.
const partMask = 0x0FFFFFFE

var parts = map[uint32]DeviceInfo{}

func register(mfg, part uint16, info DeviceInfo) {
	parts[uint32(part)<<12|uint32(mfg)<<1] = info
}

// Lookup describes the device answering with rawID. Parts missing from the
// table come back named "Unknown device" with the manufacturer still filled
// in.
func Lookup(rawID uint32) DeviceInfo {
	id := idcode.ParseIDCode(rawID)
	m, _ := idcode.LookupManufacturer(id.ManufacturerCode)

	info, ok := parts[rawID&partMask]
	if !ok {
		info = DeviceInfo{Name: "Unknown device", Description: "No entry in device database"}
	}
	info.IDCode = id
	info.Manufacturer = m
	return info
}
