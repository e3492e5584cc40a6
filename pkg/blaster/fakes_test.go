package blaster

import (
	"errors"
)

var errInjected = errors.New("injected failure")

// pinEvent records one pin operation for ordering checks.
type pinEvent struct {
	pin  string
	high bool
}

type bench struct {
	events []pinEvent
	levels map[string]bool

	// tdo supplies successive TDO samples; when exhausted tdoLevel is used.
	tdo      []bool
	tdoLevel bool
	tdoReads int

	failPin string
}

func newBench() *bench {
	return &bench{levels: map[string]bool{}}
}

func (b *bench) pins() Pins {
	return Pins{
		TDI: &fakeOut{bench: b, name: "TDI"},
		TCK: &fakeOut{bench: b, name: "TCK"},
		TMS: &fakeOut{bench: b, name: "TMS"},
		TDO: &fakeIn{bench: b},
	}
}

// rising returns the TDI level seen at every TCK rising edge.
func (b *bench) rising() []bool {
	var out []bool
	tck, tdi := false, false
	for _, ev := range b.events {
		switch ev.pin {
		case "TDI":
			tdi = ev.high
		case "TCK":
			if ev.high && !tck {
				out = append(out, tdi)
			}
			tck = ev.high
		}
	}
	return out
}

type fakeOut struct {
	bench *bench
	name  string
}

func (p *fakeOut) set(high bool) error {
	if p.bench.failPin == p.name {
		return errInjected
	}
	p.bench.levels[p.name] = high
	p.bench.events = append(p.bench.events, pinEvent{pin: p.name, high: high})
	return nil
}

func (p *fakeOut) SetHigh() error { return p.set(true) }
func (p *fakeOut) SetLow() error  { return p.set(false) }

type fakeIn struct {
	bench *bench
}

func (p *fakeIn) IsHigh() (bool, error) {
	if p.bench.failPin == "TDO" {
		return false, errInjected
	}
	p.bench.tdoReads++
	if len(p.bench.tdo) > 0 {
		v := p.bench.tdo[0]
		p.bench.tdo = p.bench.tdo[1:]
		return v, nil
	}
	return p.bench.tdoLevel, nil
}

// fakeTransport queues inbound packets and captures outbound ones.
type fakeTransport struct {
	inbound  [][]byte
	written  [][]byte
	accept   int // accept at most this many bytes per write; 0 means all
	writeErr error
	desc     *Descriptors
}

func (t *fakeTransport) ReadPacket(buf []byte) (int, error) {
	if len(t.inbound) == 0 {
		return 0, ErrWouldBlock
	}
	n := copy(buf, t.inbound[0])
	if n < len(t.inbound[0]) {
		t.inbound[0] = t.inbound[0][n:]
	} else {
		t.inbound = t.inbound[1:]
	}
	return n, nil
}

func (t *fakeTransport) WritePacket(data []byte) (int, error) {
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	n := len(data)
	if t.accept > 0 && n > t.accept {
		n = t.accept
	}
	t.written = append(t.written, append([]byte(nil), data[:n]...))
	return n, nil
}

func (t *fakeTransport) RegisterDescriptors(d *Descriptors) error {
	t.desc = d
	return nil
}

type fakeResponder struct {
	accepted bool
	rejected bool
	data     []byte

	// err is returned by Accept.
	err error
}

func (r *fakeResponder) Accept(data []byte) error {
	r.accepted = true
	r.data = append([]byte(nil), data...)
	return r.err
}

func (r *fakeResponder) Reject() error {
	r.rejected = true
	return nil
}
