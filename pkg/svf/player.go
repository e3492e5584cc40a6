package svf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/tap"
)

// idleChunk bounds the TMS buffer of a single RUNTEST adapter call.
const idleChunk = 4096

// MismatchError reports captured TDO bits that differ from the expected
// vector under MASK. Vectors are printed the way SVF writes them.
type MismatchError struct {
	Line     int
	Command  string
	Length   int
	Expected string
	Actual   string
	Mask     string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("svf: line %d: %s %d: TDO mismatch: got %s, want %s, mask %s",
		e.Line, e.Command, e.Length, e.Actual, e.Expected, e.Mask)
}

// Stats counts what a Player did.
type Stats struct {
	Commands   int
	Scans      int
	Verified   int
	Mismatches int
	Clocks     int
}

// register is the sticky state SVF keeps per scan kind between commands.
type register struct {
	length int
	tdi    []byte
	mask   []byte
	smask  []byte
	// tdo is only retained for header and trailer kinds.
	tdo []byte
}

func (r *register) update(length int, fields map[string]string, sticky bool) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("negative length %d", length)
	}
	if length != r.length {
		if _, ok := fields["TDI"]; !ok && length > 0 {
			return nil, fmt.Errorf("TDI required when length changes from %d to %d", r.length, length)
		}
		r.length = length
		r.tdi = make([]byte, (length+7)/8)
		r.mask = ones(length)
		r.smask = ones(length)
		r.tdo = nil
	}

	var tdo []byte
	for name, value := range fields {
		bits, err := parseHex(value, length)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		switch name {
		case "TDI":
			r.tdi = bits
		case "MASK":
			r.mask = bits
		case "SMASK":
			r.smask = bits
		case "TDO":
			tdo = bits
		}
	}
	if sticky {
		if tdo != nil {
			r.tdo = tdo
		}
		return r.tdo, nil
	}
	return tdo, nil
}

func (r *register) part(tdo []byte) (tdi, expected, mask vector) {
	tdi = vector{length: r.length, bits: r.tdi}
	expected = vector{length: r.length, bits: make([]byte, (r.length+7)/8)}
	mask = vector{length: r.length, bits: make([]byte, (r.length+7)/8)}
	if tdo != nil {
		expected.bits = tdo
		mask.bits = r.mask
	}
	return tdi, expected, mask
}

// Player executes parsed SVF on a JTAG adapter, tracking the TAP state on
// the host side.
type Player struct {
	adapter jtag.Adapter
	tap     *tap.StateMachine
	logger  *slog.Logger

	// ContinueOnMismatch keeps playing after a TDO mismatch. Run then
	// returns the first mismatch once the file is done.
	ContinueOnMismatch bool

	endIR, endDR     tap.State
	runState, runEnd tap.State
	regs             map[string]*register
	frequency        float64
	stats            Stats
	firstMismatch    error

	sleep func(context.Context, time.Duration) error
}

// NewPlayer prepares a player for adapter. A nil logger discards output.
func NewPlayer(adapter jtag.Adapter, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Player{
		adapter: adapter,
		logger:  logger.With("component", "svf"),
		sleep:   sleepContext,
	}
	p.init()
	return p
}

func (p *Player) init() {
	p.tap = tap.NewStateMachine()
	p.endIR, p.endDR = tap.StateRunTestIdle, tap.StateRunTestIdle
	p.runState, p.runEnd = tap.StateRunTestIdle, tap.StateRunTestIdle
	p.regs = map[string]*register{}
	for _, k := range []string{"SIR", "SDR", "HIR", "HDR", "TIR", "TDR"} {
		p.regs[k] = &register{}
	}
	p.frequency = 0
	if info, err := p.adapter.Info(); err == nil && info.MaxFrequency > 0 {
		p.frequency = float64(info.MaxFrequency)
	}
	p.stats = Stats{}
	p.firstMismatch = nil
}

// Stats reports counters of the last Run.
func (p *Player) Stats() Stats {
	return p.stats
}

// State is the TAP state the player believes the target is in.
func (p *Player) State() tap.State {
	return p.tap.State()
}

// Run resets the TAP and executes every command of f in order.
func (p *Player) Run(ctx context.Context, f *File) error {
	p.init()
	if err := p.reset(); err != nil {
		return err
	}
	for _, cmd := range f.Commands {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.stats.Commands++
		p.logger.Debug("command", "line", cmd.Pos.Line, "name", cmd.Name())
		if err := p.execute(ctx, cmd); err != nil {
			var mm *MismatchError
			if errors.As(err, &mm) && p.ContinueOnMismatch {
				p.logger.Warn("tdo mismatch", "line", mm.Line, "got", mm.Actual, "want", mm.Expected)
				if p.firstMismatch == nil {
					p.firstMismatch = err
				}
				continue
			}
			return err
		}
	}
	p.logger.Debug("done", "commands", p.stats.Commands, "scans", p.stats.Scans,
		"verified", p.stats.Verified, "mismatches", p.stats.Mismatches)
	return p.firstMismatch
}

func (p *Player) execute(ctx context.Context, cmd *Command) error {
	var err error
	switch {
	case cmd.Scan != nil:
		err = p.scan(cmd)
	case cmd.End != nil:
		err = p.endState(cmd.End)
	case cmd.State != nil:
		err = p.walk(cmd.State.States)
	case cmd.RunTest != nil:
		err = p.runTest(ctx, cmd.RunTest)
	case cmd.Frequency != nil:
		err = p.setFrequency(cmd.Frequency)
	case cmd.TRST != nil:
		err = p.trst(cmd.TRST)
	}
	var mm *MismatchError
	if err == nil || errors.As(err, &mm) {
		return err
	}
	return fmt.Errorf("svf: line %d: %s: %w", cmd.Pos.Line, cmd.Name(), err)
}

func (p *Player) scan(cmd *Command) error {
	s := cmd.Scan
	kind := strings.ToUpper(s.Kind)
	fields := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		fields[strings.ToUpper(f.Name)] = f.Value
	}

	var header, trailer *register
	shiftState, end := tap.StateShiftDR, p.endDR
	switch kind {
	case "SIR":
		header, trailer = p.regs["HIR"], p.regs["TIR"]
		shiftState, end = tap.StateShiftIR, p.endIR
	case "SDR":
		header, trailer = p.regs["HDR"], p.regs["TDR"]
	default:
		_, err := p.regs[kind].update(s.Length, fields, true)
		return err
	}
	body := p.regs[kind]
	tdo, err := body.update(s.Length, fields, false)
	if err != nil {
		return err
	}

	// Trailer bits are shifted first, so they reach the devices nearest TDO.
	tTDI, tExp, tMask := trailer.part(trailer.tdo)
	bTDI, bExp, bMask := body.part(tdo)
	hTDI, hExp, hMask := header.part(header.tdo)
	tdi := concat(tTDI, bTDI, hTDI)
	expected := concat(tExp, bExp, hExp)
	mask := concat(tMask, bMask, hMask)
	check := tdo != nil || trailer.tdo != nil || header.tdo != nil

	p.stats.Scans++
	if tdi.length == 0 {
		return p.goTo(end)
	}
	got, err := p.shift(shiftState, tdi)
	if err != nil {
		return err
	}
	if err := p.goTo(end); err != nil {
		return err
	}
	if !check {
		return nil
	}

	p.stats.Verified++
	for i := 0; i < tdi.length; i++ {
		if getBit(mask.bits, i) && getBit(got, i) != getBit(expected.bits, i) {
			p.stats.Mismatches++
			return &MismatchError{
				Line:     cmd.Pos.Line,
				Command:  kind,
				Length:   tdi.length,
				Expected: formatHex(expected.bits, tdi.length),
				Actual:   formatHex(got, tdi.length),
				Mask:     formatHex(mask.bits, tdi.length),
			}
		}
	}
	return nil
}

// shift moves to state, clocks v through leaving on the last bit and returns
// the captured TDO.
func (p *Player) shift(state tap.State, v vector) ([]byte, error) {
	if err := p.goTo(state); err != nil {
		return nil, err
	}
	tms := make([]byte, (v.length+7)/8)
	setBit(tms, v.length-1, true)
	for i := 0; i < v.length; i++ {
		p.tap.Clock(i == v.length-1)
	}
	if state.IsIR() {
		return p.adapter.ShiftIR(tms, v.bits, v.length)
	}
	return p.adapter.ShiftDR(tms, v.bits, v.length)
}

func (p *Player) endState(e *EndState) error {
	st, err := stableState(e.State)
	if err != nil {
		return err
	}
	if strings.EqualFold(e.Kind, "ENDIR") {
		p.endIR = st
	} else {
		p.endDR = st
	}
	return nil
}

func (p *Player) walk(names []string) error {
	for i, name := range names {
		st, err := tap.ParseState(name)
		if err != nil {
			return err
		}
		if i == len(names)-1 && !st.IsStable() {
			return fmt.Errorf("final state %s is not stable", st)
		}
		if st == tap.StateTestLogicReset {
			if err := p.clock(p.tap.Reset().TMS); err != nil {
				return err
			}
			continue
		}
		if err := p.goTo(st); err != nil {
			return err
		}
	}
	return nil
}

func (p *Player) runTest(ctx context.Context, rt *RunTest) error {
	end := p.runEnd
	if rt.RunState != "" {
		st, err := stableState(rt.RunState)
		if err != nil {
			return err
		}
		p.runState = st
		end = st
	}
	if rt.EndState != "" {
		st, err := stableState(rt.EndState)
		if err != nil {
			return err
		}
		end = st
	}
	p.runEnd = end

	clocks := 0
	var minTime time.Duration
	for _, d := range rt.Times {
		switch strings.ToUpper(d.Unit) {
		case "TCK":
			clocks = int(d.Value)
		case "SEC":
			minTime = time.Duration(d.Value * float64(time.Second))
		case "SCK":
			p.logger.Debug("ignoring SCK count; no system clock on this adapter", "count", d.Value)
		}
	}

	if err := p.goTo(p.runState); err != nil {
		return err
	}
	if minTime > 0 && p.frequency > 0 {
		// Spend the wait on the wire when the TCK rate is known.
		need := int(math.Ceil(minTime.Seconds() * p.frequency))
		if need > clocks {
			clocks = need
		}
		minTime = 0
	}
	if err := p.idle(clocks); err != nil {
		return err
	}
	if minTime > 0 {
		if err := p.sleep(ctx, minTime); err != nil {
			return err
		}
	}
	return p.goTo(end)
}

// idle clocks n cycles holding TMS at the current state's self-loop level.
func (p *Player) idle(n int) error {
	level := p.tap.State() == tap.StateTestLogicReset
	for n > 0 {
		chunk := n
		if chunk > idleChunk {
			chunk = idleChunk
		}
		tms := make([]bool, chunk)
		for i := range tms {
			tms[i] = level
		}
		if err := p.clock(tms); err != nil {
			return err
		}
		p.stats.Clocks += chunk
		n -= chunk
	}
	return nil
}

func (p *Player) setFrequency(f *Frequency) error {
	info, _ := p.adapter.Info()
	if f.Hz == nil {
		p.frequency = float64(info.MaxFrequency)
		return nil
	}
	hz := *f.Hz
	if hz <= 0 {
		return fmt.Errorf("invalid frequency %g", hz)
	}
	if info.MaxFrequency > 0 && hz > float64(info.MaxFrequency) {
		hz = float64(info.MaxFrequency)
	}
	if err := p.adapter.SetSpeed(int(hz)); err != nil && !errors.Is(err, jtag.ErrNotImplemented) {
		return err
	}
	p.frequency = hz
	return nil
}

func (p *Player) trst(t *TRST) error {
	if strings.EqualFold(t.Mode, "ON") {
		p.logger.Warn("adapter has no TRST line; resetting through TMS instead")
		return p.clock(p.tap.Reset().TMS)
	}
	return nil
}

func (p *Player) reset() error {
	if err := p.adapter.ResetTAP(false); err != nil && !errors.Is(err, jtag.ErrNotImplemented) {
		return err
	}
	return p.clock(p.tap.Reset().TMS)
}

func (p *Player) goTo(target tap.State) error {
	seq, err := p.tap.GoTo(target)
	if err != nil {
		return err
	}
	return p.clock(seq.TMS)
}

// clock sends a TMS pattern whose state changes the caller has already
// applied to p.tap.
func (p *Player) clock(tms []bool) error {
	if len(tms) == 0 {
		return nil
	}
	buf := make([]byte, (len(tms)+7)/8)
	for i, bit := range tms {
		setBit(buf, i, bit)
	}
	_, err := p.adapter.ShiftDR(buf, nil, len(tms))
	return err
}

func stableState(name string) (tap.State, error) {
	st, err := tap.ParseState(name)
	if err != nil {
		return st, err
	}
	if !st.IsStable() {
		return st, fmt.Errorf("%s is not a stable state", st)
	}
	return st, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
