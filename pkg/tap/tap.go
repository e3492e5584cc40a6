package tap

import (
	"fmt"
	"strings"
)

// State represents one of the 16 defined IEEE 1149.1 TAP controller states,
// plus StateFault.
type State uint8

const (
	StateTestLogicReset State = iota
	StateRunTestIdle
	StateSelectDRScan
	StateCaptureDR
	StateShiftDR
	StateExit1DR
	StatePauseDR
	StateExit2DR
	StateUpdateDR
	StateSelectIRScan
	StateCaptureIR
	StateShiftIR
	StateExit1IR
	StatePauseIR
	StateExit2IR
	StateUpdateIR

	// StateFault marks a controller whose pins can no longer be trusted. It is
	// never produced by the transition table from one of the 16 real states;
	// only a pin failure puts a tracker here, and only a reset leaves it.
	StateFault
)

// NumStates is the number of states in the transition table, Fault included.
const NumStates = int(StateFault) + 1

var stateNames = [NumStates]string{
	StateTestLogicReset: "TestLogicReset",
	StateRunTestIdle:    "RunTestIdle",
	StateSelectDRScan:   "SelectDRScan",
	StateCaptureDR:      "CaptureDR",
	StateShiftDR:        "ShiftDR",
	StateExit1DR:        "Exit1DR",
	StatePauseDR:        "PauseDR",
	StateExit2DR:        "Exit2DR",
	StateUpdateDR:       "UpdateDR",
	StateSelectIRScan:   "SelectIRScan",
	StateCaptureIR:      "CaptureIR",
	StateShiftIR:        "ShiftIR",
	StateExit1IR:        "Exit1IR",
	StatePauseIR:        "PauseIR",
	StateExit2IR:        "Exit2IR",
	StateUpdateIR:       "UpdateIR",
	StateFault:          "Fault",
}

func (s State) String() string {
	if int(s) < NumStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Valid reports whether s is one of the 16 controller states.
func (s State) Valid() bool {
	return s < StateFault
}

// IsStable reports whether the controller can idle in s with TMS held at its
// self-loop level. These are the only legal end states for SVF commands.
func (s State) IsStable() bool {
	switch s {
	case StateTestLogicReset, StateRunTestIdle, StatePauseDR, StatePauseIR:
		return true
	}
	return false
}

// IsIR reports whether s belongs to the instruction register column.
func (s State) IsIR() bool {
	return s >= StateSelectIRScan && s <= StateUpdateIR
}

// svfNames maps the state names used by SVF and most vendor tools.
var svfNames = map[string]State{
	"RESET":     StateTestLogicReset,
	"IDLE":      StateRunTestIdle,
	"DRSELECT":  StateSelectDRScan,
	"DRCAPTURE": StateCaptureDR,
	"DRSHIFT":   StateShiftDR,
	"DREXIT1":   StateExit1DR,
	"DRPAUSE":   StatePauseDR,
	"DREXIT2":   StateExit2DR,
	"DRUPDATE":  StateUpdateDR,
	"IRSELECT":  StateSelectIRScan,
	"IRCAPTURE": StateCaptureIR,
	"IRSHIFT":   StateShiftIR,
	"IREXIT1":   StateExit1IR,
	"IRPAUSE":   StatePauseIR,
	"IREXIT2":   StateExit2IR,
	"IRUPDATE":  StateUpdateIR,
}

// ParseState accepts either the SVF spelling (IDLE, DRPAUSE, ...) or the
// name returned by String, case-insensitively.
func ParseState(name string) (State, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if s, ok := svfNames[upper]; ok {
		return s, nil
	}
	for i, n := range stateNames {
		if strings.ToUpper(n) == upper {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("tap: unknown state %q", name)
}

// SVFName returns the SVF spelling of s.
func (s State) SVFName() string {
	for name, st := range svfNames {
		if st == s {
			return name
		}
	}
	return s.String()
}

// Sequence captures the TMS drive pattern and the sequence of states that result
// from applying that pattern to the TAP controller.
type Sequence struct {
	TMS    []bool
	States []State
}

// transitions is indexed by [state][tms].
var transitions = [NumStates][2]State{
	StateTestLogicReset: {StateRunTestIdle, StateTestLogicReset},
	StateRunTestIdle:    {StateRunTestIdle, StateSelectDRScan},
	StateSelectDRScan:   {StateCaptureDR, StateSelectIRScan},
	StateCaptureDR:      {StateShiftDR, StateExit1DR},
	StateShiftDR:        {StateShiftDR, StateExit1DR},
	StateExit1DR:        {StatePauseDR, StateUpdateDR},
	StatePauseDR:        {StatePauseDR, StateExit2DR},
	StateExit2DR:        {StateShiftDR, StateUpdateDR},
	StateUpdateDR:       {StateRunTestIdle, StateSelectDRScan},
	StateSelectIRScan:   {StateCaptureIR, StateTestLogicReset},
	StateCaptureIR:      {StateShiftIR, StateExit1IR},
	StateShiftIR:        {StateShiftIR, StateExit1IR},
	StateExit1IR:        {StatePauseIR, StateUpdateIR},
	StatePauseIR:        {StatePauseIR, StateExit2IR},
	StateExit2IR:        {StateShiftIR, StateUpdateIR},
	StateUpdateIR:       {StateRunTestIdle, StateSelectDRScan},
	StateFault:          {StateFault, StateFault},
}

// NextState returns the next TAP state after clocking TCK with the provided TMS
// value. Values outside the table are treated as StateFault.
func NextState(current State, tms bool) State {
	if int(current) >= NumStates {
		return StateFault
	}
	if tms {
		return transitions[current][1]
	}
	return transitions[current][0]
}

// StateMachine tracks the TAP controller state locally. It does not perform any
// I/O; instead it produces the sequences of TMS bits needed so a hardware
// adapter can be instructed separately.
type StateMachine struct {
	state State
}

// NewStateMachine creates a TAP state machine initialized to Test-Logic-Reset.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateTestLogicReset}
}

// State reports the current TAP state tracked by the machine.
func (m *StateMachine) State() State {
	return m.state
}

// Clock advances the machine one TCK cycle with the provided TMS bit and
// returns the new state.
func (m *StateMachine) Clock(tms bool) State {
	m.state = NextState(m.state, tms)
	return m.state
}

// Fault parks the machine in StateFault until the next Reset.
func (m *StateMachine) Fault() {
	m.state = StateFault
}

// Reset applies the IEEE recommendation of clocking five consecutive TMS=1
// cycles. It returns the sequence for convenience so it can be forwarded to a
// hardware adapter. Reset also recovers a machine parked in StateFault.
func (m *StateMachine) Reset() Sequence {
	seq := Sequence{
		TMS:    make([]bool, 5),
		States: make([]State, 6),
	}
	seq.States[0] = m.state
	if m.state == StateFault {
		m.state = StateTestLogicReset
	}
	for i := 0; i < 5; i++ {
		seq.TMS[i] = true
		seq.States[i+1] = m.Clock(true)
	}
	return seq
}

// GoTo computes the minimal sequence of TMS values needed to reach the target
// state from the current state. It updates the machine as a side effect and
// returns the generated sequence.
func (m *StateMachine) GoTo(target State) (Sequence, error) {
	path, err := computePath(m.state, target)
	if err != nil {
		return Sequence{}, err
	}
	for _, bit := range path.TMS {
		m.Clock(bit)
	}
	return path, nil
}

// Path returns the shortest TMS sequence from one state to another without
// touching any machine.
func Path(from, to State) (Sequence, error) {
	return computePath(from, to)
}

// computePath uses BFS across the TAP state diagram to find the shortest set of
// transitions between two states.
func computePath(from, to State) (Sequence, error) {
	if !from.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid start state %s", from)
	}
	if !to.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid target state %s", to)
	}
	if from == to {
		return Sequence{States: []State{from}}, nil
	}

	type node struct {
		state  State
		tms    []bool
		states []State
	}

	queue := []node{{
		state:  from,
		states: []State{from},
	}}
	var visited [NumStates]bool
	visited[from] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, bit := range [2]bool{false, true} {
			next := NextState(current.state, bit)
			if visited[next] {
				continue
			}

			newTMS := append(append([]bool{}, current.tms...), bit)
			newStates := append(append([]State{}, current.states...), next)

			if next == to {
				return Sequence{
					TMS:    newTMS,
					States: newStates,
				}, nil
			}

			visited[next] = true
			queue = append(queue, node{
				state:  next,
				tms:    newTMS,
				states: newStates,
			})
		}
	}

	return Sequence{}, fmt.Errorf("tap: no path from %s to %s", from, to)
}
