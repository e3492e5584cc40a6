package svf

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/participle/v2"
)

// SyntaxError reports where an SVF file stopped making sense.
type SyntaxError struct {
	File   string
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	name := e.File
	if name == "" {
		name = "<svf>"
	}
	return fmt.Sprintf("svf: %s:%d:%d: %s", name, e.Line, e.Column, e.Msg)
}

// Parser represents an SVF file parser
type Parser struct {
	parser *participle.Parser[File]
}

// NewParser creates a new SVF parser instance
func NewParser() (*Parser, error) {
	parser, err := participle.Build[File](
		participle.Lexer(SVFLexer),
		participle.Elide("Comment", "Whitespace"),
		participle.CaseInsensitive("Ident"),
		participle.UseLookahead(2),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build parser: %w", err)
	}
	return &Parser{parser: parser}, nil
}

// Parse parses SVF from a reader. name is used in error positions.
func (p *Parser) Parse(name string, r io.Reader) (*File, error) {
	f, err := p.parser.Parse(name, r)
	if err != nil {
		return nil, syntaxError(name, err)
	}
	return f, nil
}

// ParseString parses SVF held in a string.
func (p *Parser) ParseString(input string) (*File, error) {
	f, err := p.parser.ParseString("", input)
	if err != nil {
		return nil, syntaxError("", err)
	}
	return f, nil
}

// ParseFile parses the SVF file at path.
func (p *Parser) ParseFile(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(path, file)
}

func syntaxError(name string, err error) error {
	var perr participle.Error
	if errors.As(err, &perr) {
		pos := perr.Position()
		return &SyntaxError{File: name, Line: pos.Line, Column: pos.Column, Msg: perr.Message()}
	}
	return fmt.Errorf("svf: %w", err)
}
