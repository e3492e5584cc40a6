package svf

import "github.com/alecthomas/participle/v2/lexer"

// File is a parsed SVF file.
type File struct {
	Commands []*Command `@@*`
}

// Command is one semicolon-terminated SVF statement.
type Command struct {
	Pos lexer.Position

	Scan      *Scan      `(  @@`
	End       *EndState  ` | @@`
	State     *StateCmd  ` | @@`
	RunTest   *RunTest   ` | @@`
	Frequency *Frequency ` | @@`
	TRST      *TRST      ` | @@ ) Semicolon`
}

// Name returns the SVF keyword of the command.
func (c *Command) Name() string {
	switch {
	case c.Scan != nil:
		return c.Scan.Kind
	case c.End != nil:
		return c.End.Kind
	case c.State != nil:
		return "STATE"
	case c.RunTest != nil:
		return "RUNTEST"
	case c.Frequency != nil:
		return "FREQUENCY"
	case c.TRST != nil:
		return "TRST"
	}
	return ""
}

// Scan covers SIR, SDR and their header and trailer variants.
// Example: SDR 32 TDI (00000000) TDO (020F30DD) MASK (0FFFFFFF);
type Scan struct {
	Kind   string   `@("SIR" | "SDR" | "HIR" | "HDR" | "TIR" | "TDR")`
	Length int      `@Number`
	Fields []*Field `@@*`
}

// Field is one TDI, TDO, MASK or SMASK vector of a scan.
type Field struct {
	Name  string `@("TDI" | "TDO" | "MASK" | "SMASK")`
	Value string `@Hex`
}

// EndState is ENDIR or ENDDR.
type EndState struct {
	Kind  string `@("ENDIR" | "ENDDR")`
	State string `@Ident`
}

// StateCmd walks through the listed states in order.
type StateCmd struct {
	States []string `"STATE" @Ident+`
}

// RunTest idles the TAP for a number of clocks, a time, or both.
// Example: RUNTEST IDLE 1000 TCK 1.0E-3 SEC MAXIMUM 2.0E-3 SEC ENDSTATE IDLE;
type RunTest struct {
	RunState string      `"RUNTEST" @Ident?`
	Times    []*Duration `@@+`
	Max      *Duration   `( "MAXIMUM" @@ )?`
	EndState string      `( "ENDSTATE" @Ident )?`
}

// Duration is a count with its unit: TCK, SCK or SEC.
type Duration struct {
	Value float64 `@Number`
	Unit  string  `@("TCK" | "SCK" | "SEC")`
}

// Frequency caps the TCK rate; without a value it restores full speed.
type Frequency struct {
	Hz *float64 `"FREQUENCY" ( @Number "HZ" )?`
}

// TRST drives the optional test reset line.
type TRST struct {
	Mode string `"TRST" @("ON" | "OFF" | "Z" | "ABSENT")`
}
