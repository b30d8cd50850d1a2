package graph

import "strings"

// Env is a lexical variable scope: something an EvalString can resolve
// variable references against.
type Env interface {
	LookupVariable(name string) string
}

// tokenKind distinguishes a literal text run from a variable reference in
// an EvalString's parsed form.
type tokenKind int8

const (
	tokenRaw tokenKind = iota
	tokenSpecial
)

type token struct {
	text string
	kind tokenKind
}

// EvalString is a tokenized string with embedded variable references,
// lazily expanded against an Env. It is the "rope of text pieces" the spec
// describes for BindingEnv values and Rule bindings.
type EvalString struct {
	parsed []token
}

// AddText appends a literal run, coalescing with the previous raw token.
func (e *EvalString) AddText(text string) {
	if text == "" {
		return
	}
	if n := len(e.parsed); n > 0 && e.parsed[n-1].kind == tokenRaw {
		e.parsed[n-1].text += text
		return
	}
	e.parsed = append(e.parsed, token{text: text, kind: tokenRaw})
}

// AddSpecial appends a variable reference by name.
func (e *EvalString) AddSpecial(name string) {
	e.parsed = append(e.parsed, token{text: name, kind: tokenSpecial})
}

// Empty reports whether the string has no content at all.
func (e *EvalString) Empty() bool { return len(e.parsed) == 0 }

// Evaluate yields the concatenation of raw text and recursively-evaluated
// variables, looked up in env.
func (e *EvalString) Evaluate(env Env) string {
	if len(e.parsed) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range e.parsed {
		if t.kind == tokenRaw {
			b.WriteString(t.text)
		} else {
			b.WriteString(env.LookupVariable(t.text))
		}
	}
	return b.String()
}

// Unparse returns the string with variables left as "$name" references,
// for diagnostics.
func (e *EvalString) Unparse() string {
	var b strings.Builder
	for _, t := range e.parsed {
		if t.kind == tokenSpecial {
			b.WriteString("${")
			b.WriteString(t.text)
			b.WriteString("}")
		} else {
			b.WriteString(t.text)
		}
	}
	return b.String()
}
