package svf

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// SVFLexer splits Serial Vector Format files into tokens. Keywords are plain
// identifiers matched case-insensitively by the grammar.
var SVFLexer = lexer.MustSimple([]lexer.SimpleRule{
	// Comments run to end of line and start with ! or //
	{Name: "Comment", Pattern: `(?:!|//)[^\n]*`},

	{Name: "Whitespace", Pattern: `[\s\t\n\r]+`},

	// Hex vectors, which may span lines: TDI (0A1F)
	{Name: "Hex", Pattern: `\([\s0-9A-Fa-f]*\)`},

	{Name: "Number", Pattern: `[0-9]+(?:\.[0-9]+)?(?:[eE][-+]?[0-9]+)?`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Semicolon", Pattern: `;`},
})
