package blaster

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock reports a transient condition: a full buffer or an
	// endpoint that is not ready. Callers retry on the next poll.
	ErrWouldBlock = errors.New("blaster: would block")

	// ErrPinFault is matched by every *PinError. The TAP is left in
	// tap.StateFault and the device must be reset.
	ErrPinFault = errors.New("blaster: pin fault")

	// ErrFraming reports a transport that accepted exactly one of the two
	// modem status bytes. The half-sent header cannot be resumed.
	ErrFraming = errors.New("blaster: half-sent modem status")
)

// PinError wraps a failed pin operation.
type PinError struct {
	Pin string // TDI, TCK, TMS or TDO
	Op  string // set-high, set-low or read
	Err error
}

func (e *PinError) Error() string {
	return fmt.Sprintf("blaster: %s %s: %v", e.Pin, e.Op, e.Err)
}

func (e *PinError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPinFault) match any pin failure.
func (e *PinError) Is(target error) bool { return target == ErrPinFault }

// IsFatal reports whether err requires a full reset of the device object.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPinFault) || errors.Is(err, ErrFraming)
}
