package deviceinfo

// Altera (Intel PSG) parts. All share a 10-bit IR with IDCODE at 0x006.
func init() {
	const altera = 0x06E // Altera JEP106 code

	fpga := func(part uint16, name, family, desc string) {
		register(altera, part, DeviceInfo{
			Name:         name,
			Family:       family,
			Description:  desc,
			IsFPGA:       true,
			IRLength:     10,
			IDCodeOpcode: 0x006,
		})
	}
	cpld := func(part uint16, name, family, desc string) {
		register(altera, part, DeviceInfo{
			Name:         name,
			Family:       family,
			Description:  desc,
			IsCPLD:       true,
			IRLength:     10,
			IDCodeOpcode: 0x006,
		})
	}

	// Cyclone II
	fpga(0x20B1, "EP2C5", "Cyclone II", "FPGA, 4608 LEs")
	fpga(0x20B2, "EP2C8", "Cyclone II", "FPGA, 8256 LEs")
	fpga(0x20B3, "EP2C20", "Cyclone II", "FPGA, 18752 LEs")

	// Cyclone IV E; Cyclone 10 LP parts report the same codes.
	fpga(0x20F1, "EP4CE6", "Cyclone IV E", "FPGA, 6272 LEs (also EP4CE10)")
	fpga(0x20F2, "EP4CE15", "Cyclone IV E", "FPGA, 15408 LEs")
	fpga(0x20F3, "EP4CE22", "Cyclone IV E", "FPGA, 22320 LEs")
	fpga(0x20F4, "EP4CE30", "Cyclone IV E", "FPGA, 28848 LEs (also EP4CE40)")
	fpga(0x20F5, "EP4CE55", "Cyclone IV E", "FPGA, 55856 LEs")
	fpga(0x20F6, "EP4CE75", "Cyclone IV E", "FPGA, 75408 LEs")
	fpga(0x20F7, "EP4CE115", "Cyclone IV E", "FPGA, 114480 LEs")

	// Cyclone V
	fpga(0x2B05, "5CEBA4", "Cyclone V E", "FPGA, 49K LEs")

	// MAX 10
	fpga(0x3181, "10M02", "MAX 10", "Non-volatile FPGA, 2K LEs")
	fpga(0x318A, "10M04", "MAX 10", "Non-volatile FPGA, 4K LEs")
	fpga(0x3182, "10M08", "MAX 10", "Non-volatile FPGA, 8K LEs")
	fpga(0x3183, "10M16", "MAX 10", "Non-volatile FPGA, 16K LEs")
	fpga(0x3184, "10M25", "MAX 10", "Non-volatile FPGA, 25K LEs")
	fpga(0x318D, "10M40", "MAX 10", "Non-volatile FPGA, 40K LEs")
	fpga(0x3185, "10M50", "MAX 10", "Non-volatile FPGA, 50K LEs")

	// MAX II
	cpld(0x20A1, "EPM240", "MAX II", "CPLD, 240 LEs")
	cpld(0x20A2, "EPM570", "MAX II", "CPLD, 570 LEs")
	cpld(0x20A3, "EPM1270", "MAX II", "CPLD, 1270 LEs")
	cpld(0x20A4, "EPM2210", "MAX II", "CPLD, 2210 LEs")
}
