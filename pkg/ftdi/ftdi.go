// Package ftdi holds the FT245 vendor protocol constants and the read-only
// identity ROM that USB-Blaster compatible drivers expect to find.
package ftdi

// SIO vendor requests understood by FTDI drivers (libftdi, ftdi_sio, ftd2xx).
const (
	RequestReset        uint8 = 0x00
	RequestSetBaudRate  uint8 = 0x01
	RequestSetDataChar  uint8 = 0x02
	RequestSetFlowCtrl  uint8 = 0x03
	RequestSetModemCtrl uint8 = 0x04
	RequestGetModemStat uint8 = 0x05
	RequestSetEventChar uint8 = 0x06
	RequestSetErrorChar uint8 = 0x07
	RequestSetLatency   uint8 = 0x09
	RequestGetLatency   uint8 = 0x0A
	RequestSetBitMode   uint8 = 0x0B
	RequestReadPins     uint8 = 0x0C
	RequestReadEEPROM   uint8 = 0x90
	RequestWriteEEPROM  uint8 = 0x91
	RequestEraseEEPROM  uint8 = 0x92
)

// wValue sub-codes of RequestReset.
const (
	ResetSIO     uint16 = 0
	ResetPurgeRX uint16 = 1
	ResetPurgeTX uint16 = 2
)

// Modem status bits. Byte 0 carries the data-ready flag, byte 1 the line
// signals.
const (
	StatusDataReady     uint8 = 0x01
	StatusClearToSend   uint8 = 0x10
	StatusDataSetReady  uint8 = 0x20
	StatusRingIndicator uint8 = 0x40
	StatusLineSignalDet uint8 = 0x80
)

// ModemStatus is the status pair prefixed to every bulk-IN packet.
var ModemStatus = [2]byte{StatusDataReady, StatusLineSignalDet | StatusRingIndicator}

// DefaultLatency is the latency timer value reported to GET_LAT_TIMER.
const DefaultLatency byte = '6'

// RequestName returns a short label for logs and the CLI.
func RequestName(req uint8) string {
	switch req {
	case RequestReset:
		return "RESET"
	case RequestSetBaudRate:
		return "SET_BAUDRATE"
	case RequestSetDataChar:
		return "SET_DATA"
	case RequestSetFlowCtrl:
		return "SET_FLOW_CTRL"
	case RequestSetModemCtrl:
		return "SET_MODEM_CTRL"
	case RequestGetModemStat:
		return "GET_MODEM_STATUS"
	case RequestSetEventChar:
		return "SET_EVENT_CHAR"
	case RequestSetErrorChar:
		return "SET_ERROR_CHAR"
	case RequestSetLatency:
		return "SET_LATENCY_TIMER"
	case RequestGetLatency:
		return "GET_LATENCY_TIMER"
	case RequestSetBitMode:
		return "SET_BITMODE"
	case RequestReadPins:
		return "READ_PINS"
	case RequestReadEEPROM:
		return "READ_EEPROM"
	case RequestWriteEEPROM:
		return "WRITE_EEPROM"
	case RequestEraseEEPROM:
		return "ERASE_EEPROM"
	}
	return "UNKNOWN"
}
