package deviceinfo

import "github.com/OpenTraceLab/OpenTraceBlaster/pkg/idcode"

// DeviceInfo contains rich information about a JTAG device
type DeviceInfo struct {
	// Key fields
	IDCode       idcode.IDCode
	Manufacturer idcode.Manufacturer

	// Human-friendly
	Name        string // "EP4CE22"
	Family      string // "Cyclone IV E"
	Description string // "FPGA, 22320 LEs"

	// Capabilities / hints
	IsFPGA bool
	IsCPLD bool

	// JTAG specifics
	IRLength int
	// IDCodeOpcode selects the IDCODE register; zero when unknown.
	IDCodeOpcode uint32
}
