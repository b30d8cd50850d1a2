// Package manifest is the build-file front-end: a hand-written lexer
// and a recursive-descent parser that builds a *graph.Graph directly,
// per spec.md §6's "manifest front-end delivers a fully populated
// graph". Grounded in the teacher's ninja-go/lexer.go and ninja.go, and
// original_source/src/manifest_parser.cc for the grammar itself.
package manifest

import (
	"fmt"
	"strings"

	"github.com/kiln-build/kiln/internal/graph"
)

// Token is the set of significant tokens the lexer recognizes at
// statement boundaries. Path and variable-value content is scanned by
// dedicated methods (ReadPath, ReadVarValue) rather than tokenized
// generically, matching the original lexer's split between
// ReadToken and ReadEvalString.
type Token int8

const (
	TEOF Token = iota
	Newline
	Ident
	Indent
	Build
	Rule
	Pool
	Default
	Include
	Subninja
	Equals
	Colon
	Pipe
	Pipe2
	PipeAt
)

func (t Token) String() string {
	switch t {
	case TEOF:
		return "eof"
	case Newline:
		return "newline"
	case Ident:
		return "identifier"
	case Indent:
		return "indent"
	case Build:
		return "'build'"
	case Rule:
		return "'rule'"
	case Pool:
		return "'pool'"
	case Default:
		return "'default'"
	case Include:
		return "'include'"
	case Subninja:
		return "'subninja'"
	case Equals:
		return "'='"
	case Colon:
		return "':'"
	case Pipe:
		return "'|'"
	case Pipe2:
		return "'||'"
	case PipeAt:
		return "'|@'"
	}
	return "unknown token"
}

var keywords = map[string]Token{
	"build":    Build,
	"rule":     Rule,
	"pool":     Pool,
	"default":  Default,
	"include":  Include,
	"subninja": Subninja,
}

// Lexer scans a .ninja-syntax manifest by hand, character by character,
// tracking line-start state so indented continuation lines (key = value
// under a build/rule/pool block) are distinguished from top-level
// statements.
type Lexer struct {
	filename string
	input    string
	pos      int
	line     int

	atLineStart bool
	lastStart   int // pos before the most recently returned token, for UnreadToken
	lastIdent   string
}

func NewLexer(filename, input string) *Lexer {
	return &Lexer{filename: filename, input: input, line: 1, atLineStart: true}
}

func (l *Lexer) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%s:%d: %s", l.filename, l.line, fmt.Sprintf(format, args...))
}

func (l *Lexer) peek() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) peekAt(off int) byte {
	if l.pos+off >= len(l.input) {
		return 0
	}
	return l.input[l.pos+off]
}

func (l *Lexer) advance() byte {
	c := l.input[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
	}
	return c
}

func (l *Lexer) atEOF() bool { return l.pos >= len(l.input) }

func (l *Lexer) skipComment() {
	for !l.atEOF() && l.peek() != '\n' {
		l.advance()
	}
}

// ReadToken consumes and returns the next significant token, per the
// line-start/indent rule described on Lexer.
func (l *Lexer) ReadToken() (Token, error) {
	if l.atLineStart {
		sawSpace := false
		for !l.atEOF() && (l.peek() == ' ' || l.peek() == '\t') {
			l.advance()
			sawSpace = true
		}
		if sawSpace && !l.atEOF() && l.peek() != '\n' && l.peek() != '#' {
			l.atLineStart = false
			return Indent, nil
		}
	} else {
		for !l.atEOF() && (l.peek() == ' ' || l.peek() == '\t') {
			l.advance()
		}
	}

	l.lastStart = l.pos

	if l.atEOF() {
		l.atLineStart = false
		return TEOF, nil
	}

	if l.peek() == '#' {
		l.skipComment()
		return l.ReadToken()
	}

	if l.peek() == '\n' {
		l.advance()
		l.atLineStart = true
		return Newline, nil
	}

	l.atLineStart = false

	switch l.peek() {
	case '=':
		l.advance()
		return Equals, nil
	case ':':
		l.advance()
		return Colon, nil
	case '|':
		l.advance()
		if l.peek() == '|' {
			l.advance()
			return Pipe2, nil
		}
		if l.peek() == '@' {
			l.advance()
			return PipeAt, nil
		}
		return Pipe, nil
	}

	if isIdentStart(l.peek()) {
		start := l.pos
		for !l.atEOF() && isIdentChar(l.peek()) {
			l.advance()
		}
		word := l.input[start:l.pos]
		if tok, ok := keywords[word]; ok {
			return tok, nil
		}
		l.lastIdent = word
		return Ident, nil
	}

	return TEOF, l.errorf("unexpected character %q", l.peek())
}

// UnreadToken rewinds the lexer to just before the last token returned
// by ReadToken, so the parser can switch strategies (e.g. ParseEdge's
// IDENT-vs-keyword dispatch falling through to ParseLet).
func (l *Lexer) UnreadToken() {
	l.pos = l.lastStart
	// atLineStart only matters for Indent detection, which is always
	// re-derived from scratch since the whitespace itself wasn't consumed
	// past lastStart.
}

// PeekToken reports whether the next token is expected, consuming it if
// so and leaving the lexer positioned after it; otherwise the lexer is
// left unchanged.
func (l *Lexer) PeekToken(expected Token) (bool, error) {
	tok, err := l.ReadToken()
	if err != nil {
		return false, err
	}
	if tok == expected {
		return true, nil
	}
	l.UnreadToken()
	return false, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || c == '.' || c == '-'
}

// ReadIdent reads a bare identifier (rule/pool/variable name), used
// after UnreadToken has put an Ident token back.
func (l *Lexer) ReadIdent() (string, error) {
	for !l.atEOF() && (l.peek() == ' ' || l.peek() == '\t') {
		l.advance()
	}
	start := l.pos
	for !l.atEOF() && isIdentChar(l.peek()) {
		l.advance()
	}
	if l.pos == start {
		return "", l.errorf("expected identifier")
	}
	l.atLineStart = false
	return l.input[start:l.pos], nil
}

// ReadVarValue reads the remainder of a "key = value" line into eval,
// honoring $-escapes and variable references but treating internal
// whitespace as literal content.
func (l *Lexer) ReadVarValue(eval *graph.EvalString) error {
	for !l.atEOF() && (l.peek() == ' ' || l.peek() == '\t') {
		l.advance()
	}
	return l.readEvalString(eval, false)
}

// ReadPath reads one whitespace-delimited path into eval. An empty
// (unconsumed) eval on return means the end of the path list was
// reached (a bare newline or punctuation token found instead).
func (l *Lexer) ReadPath(eval *graph.EvalString) error {
	for !l.atEOF() && (l.peek() == ' ' || l.peek() == '\t') {
		l.advance()
	}
	return l.readEvalString(eval, true)
}

// readEvalString is shared by ReadPath and ReadVarValue. When path is
// true, unescaped whitespace, ':' and '|' terminate the scan (path list
// syntax); when false, only a real newline does (value syntax), and a
// '#' is kept as part of the value.
func (l *Lexer) readEvalString(eval *graph.EvalString, path bool) error {
	var lit strings.Builder
	flush := func() { eval.AddText(lit.String()); lit.Reset() }

	for {
		if l.atEOF() {
			break
		}
		c := l.peek()

		if path && (c == ' ' || c == '\t' || c == ':' || c == '|' || c == '\n') {
			break
		}
		if !path && c == '\n' {
			break
		}

		if c == '$' {
			l.advance()
			if err := l.readDollarEscape(eval, &lit); err != nil {
				return err
			}
			continue
		}

		lit.WriteByte(c)
		l.advance()
	}
	flush()
	l.atLineStart = false
	return nil
}

// readDollarEscape handles the content following a '$' already
// consumed by the caller: a literal-newline continuation, "$$", "$ ",
// "$:", a braced "${name}" reference, or a bare "$name" reference.
func (l *Lexer) readDollarEscape(eval *graph.EvalString, lit *strings.Builder) error {
	if l.atEOF() {
		return l.errorf("unexpected EOF after '$'")
	}
	c := l.peek()

	switch {
	case c == '\n':
		l.advance()
		for !l.atEOF() && (l.peek() == ' ' || l.peek() == '\t') {
			l.advance()
		}
		return nil
	case c == '$' || c == ' ' || c == ':':
		l.advance()
		lit.WriteByte(c)
		return nil
	case c == '{':
		l.advance()
		start := l.pos
		for !l.atEOF() && l.peek() != '}' {
			l.advance()
		}
		if l.atEOF() {
			return l.errorf("expected '}'")
		}
		name := l.input[start:l.pos]
		l.advance() // consume '}'
		if lit.Len() > 0 {
			eval.AddText(lit.String())
			lit.Reset()
		}
		eval.AddSpecial(name)
		return nil
	case isIdentStart(c):
		start := l.pos
		for !l.atEOF() && isVarNameChar(l.peek()) {
			l.advance()
		}
		name := l.input[start:l.pos]
		if lit.Len() > 0 {
			eval.AddText(lit.String())
			lit.Reset()
		}
		eval.AddSpecial(name)
		return nil
	default:
		return l.errorf("bad $-escape (literal $ must be written as '$$')")
	}
}

func isVarNameChar(c byte) bool {
	return isIdentStart(c) || c == '.' || c == '-'
}
