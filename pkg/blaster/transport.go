package blaster

// Transport is the bulk side of the USB device stack. Both calls must return
// immediately; ErrWouldBlock signals that the endpoint is not ready.
type Transport interface {
	// ReadPacket copies at most len(buf) bytes of pending bulk-OUT data into
	// buf. Bytes that do not fit stay pending for the next call.
	ReadPacket(buf []byte) (int, error)
	// WritePacket queues data on the bulk-IN endpoint and reports how many
	// bytes the endpoint accepted.
	WritePacket(data []byte) (int, error)
}

// ControlResponder completes one control transfer.
type ControlResponder interface {
	// Accept completes the transfer. For device-to-host requests data is
	// the response; for host-to-device requests it is ignored.
	Accept(data []byte) error
	// Reject stalls the transfer.
	Reject() error
}

// Registrar is implemented by transports that need the descriptor set before
// enumeration. It is called once from New.
type Registrar interface {
	RegisterDescriptors(d *Descriptors) error
}

// BusResetter is implemented by transports that can make the device drop off
// the bus and re-enumerate. Fatal faults are surfaced to the host this way.
type BusResetter interface {
	BusReset() error
}
