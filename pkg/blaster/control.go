package blaster

import (
	"errors"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/ftdi"
)

// bmRequestType fields.
const (
	RequestDirectionIn = 0x80
	RequestTypeMask    = 0x60
	RequestTypeVendor  = 0x40
)

// ControlRequest is the setup stage of a control transfer.
type ControlRequest struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// IsVendor reports whether the request is vendor specific.
func (r *ControlRequest) IsVendor() bool {
	return r.RequestType&RequestTypeMask == RequestTypeVendor
}

// IsIn reports whether the data stage flows device to host.
func (r *ControlRequest) IsIn() bool {
	return r.RequestType&RequestDirectionIn != 0
}

// HandleControl answers the FTDI vendor requests. It returns false for
// requests the surrounding USB stack must handle itself. Unknown vendor
// requests are accepted so drivers that query them keep working.
func (b *Blaster) HandleControl(req *ControlRequest, resp ControlResponder) (bool, error) {
	if !req.IsVendor() {
		return false, nil
	}
	b.stats.ControlHandled++

	switch req.Request {
	case ftdi.RequestWriteEEPROM, ftdi.RequestEraseEEPROM:
		return true, resp.Reject()
	}

	if req.IsIn() {
		switch req.Request {
		case ftdi.RequestReadEEPROM:
			w := b.identity.EEPROMWord(req.Index)
			return true, resp.Accept(clip(w[:], req.Length))
		case ftdi.RequestGetModemStat:
			s := b.identity.ModemStatus()
			return true, resp.Accept(clip(s[:], req.Length))
		case ftdi.RequestGetLatency:
			return true, resp.Accept(clip([]byte{b.identity.LatencyTimer()}, req.Length))
		}
		return true, resp.Accept(clip(make([]byte, 2), req.Length))
	}

	if req.Request == ftdi.RequestReset {
		switch req.Value {
		case ftdi.ResetSIO:
			if err := b.Reset(); err != nil {
				return true, errors.Join(err, resp.Accept(nil))
			}
		case ftdi.ResetPurgeRX:
			b.PurgeInbound()
		case ftdi.ResetPurgeTX:
			b.PurgeOutbound()
		}
	}
	return true, resp.Accept(nil)
}

func clip(data []byte, length uint16) []byte {
	if int(length) < len(data) {
		return data[:length]
	}
	return data
}
