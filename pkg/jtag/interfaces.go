package jtag

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
)

// InterfaceKind tells cables from the built-in stand-ins.
type InterfaceKind string

const (
	InterfaceKindUSBBlaster InterfaceKind = "usb-blaster"
	InterfaceKindEmulator   InterfaceKind = "emulator"
)

// InterfaceInfo is one cable found on the bus.
type InterfaceInfo struct {
	Kind        InterfaceKind
	Description string
	VendorID    uint16
	ProductID   uint16
	// Path is bus:address, empty for the emulator.
	Path  string
	Speed string
}

// Label is the description, or the kind and IDs when there is none.
func (i InterfaceInfo) Label() string {
	if i.Description != "" {
		return i.Description
	}
	return fmt.Sprintf("%s (%04X:%04X)", i.Kind, i.VendorID, i.ProductID)
}

// blasterIDs lists the VID:PID pairs that speak the USB-Blaster protocol.
var blasterIDs = map[[2]uint16]string{
	{VendorIDAltera, ProductIDUSBBlaster}: "Altera USB-Blaster",
}

// classify reports whether vid:pid is a USB-Blaster.
func classify(vid, pid uint16, path string) (InterfaceInfo, bool) {
	name, ok := blasterIDs[[2]uint16{vid, pid}]
	if !ok {
		return InterfaceInfo{}, false
	}
	return InterfaceInfo{
		Kind:        InterfaceKindUSBBlaster,
		Description: name,
		VendorID:    vid,
		ProductID:   pid,
		Path:        path,
	}, true
}

// DiscoverInterfaces lists the USB-Blasters on the bus, emulated ones attached
// over USB/IP included, followed by the in-process emulator which is always
// available. Devices the process may not open are still listed.
func DiscoverInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	var found []InterfaceInfo
	usb := gousb.NewContext()
	defer usb.Close()

	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() != nil {
			return false
		}
		info, ok := classify(uint16(desc.Vendor), uint16(desc.Product), fmt.Sprintf("%d:%d", desc.Bus, desc.Address))
		if ok {
			info.Speed = desc.Speed.String()
			found = append(found, info)
		}
		// Never open: only the descriptor is needed.
		return false
	})
	if err != nil && !errors.Is(err, gousb.ErrorAccess) {
		return found, err
	}
	if err := ctx.Err(); err != nil {
		return found, err
	}

	found = append(found, InterfaceInfo{
		Kind:        InterfaceKindEmulator,
		Description: "In-process USB-Blaster emulator (no hardware)",
		VendorID:    VendorIDAltera,
		ProductID:   ProductIDUSBBlaster,
	})
	return found, nil
}
