package blaster

// OutputPin drives one JTAG output signal.
type OutputPin interface {
	SetHigh() error
	SetLow() error
}

// InputPin samples one JTAG input signal.
type InputPin interface {
	IsHigh() (bool, error)
}

// Pins groups the four JTAG signals owned by a Port. Nothing else may drive
// them while the Port is alive.
type Pins struct {
	TDI OutputPin
	TCK OutputPin
	TMS OutputPin
	TDO InputPin
}

func (p Pins) validate() bool {
	return p.TDI != nil && p.TCK != nil && p.TMS != nil && p.TDO != nil
}

func drive(pin OutputPin, name string, high bool) error {
	if high {
		if err := pin.SetHigh(); err != nil {
			return &PinError{Pin: name, Op: "set-high", Err: err}
		}
		return nil
	}
	if err := pin.SetLow(); err != nil {
		return &PinError{Pin: name, Op: "set-low", Err: err}
	}
	return nil
}

func sample(pin InputPin, name string) (bool, error) {
	high, err := pin.IsHigh()
	if err != nil {
		return false, &PinError{Pin: name, Op: "read", Err: err}
	}
	return high, nil
}
