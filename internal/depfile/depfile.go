// Package depfile parses the Makefile-style depfile a compiler writes
// alongside its output: a single "target: dep1 dep2 ..." rule, possibly
// continued across lines with a trailing backslash. Grounded in the
// teacher's ninja-go/depfile_parser.go, simplified to the single-target
// form spec.md §4.5 describes.
package depfile

import "strings"

// Parsed holds the target path and its declared dependencies, both still
// in their raw (not yet canonicalized) form.
type Parsed struct {
	Target string
	Deps   []string
}

// Parse parses a depfile's contents. It reports an error if no ':' is
// found, matching the teacher's "expected ':' in depfile" failure mode.
func Parse(content string) (*Parsed, error) {
	// Join backslash-newline continuations into one logical line before
	// tokenizing, then split on whitespace outside of escapes.
	var joined strings.Builder
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasSuffix(trimmed, "\\") {
			joined.WriteString(trimmed[:len(trimmed)-1])
			joined.WriteByte(' ')
		} else {
			joined.WriteString(trimmed)
			joined.WriteByte(' ')
		}
	}

	tokens := tokenize(joined.String())
	if len(tokens) == 0 {
		return nil, errColon
	}

	// The first token carries the target, up to and including its
	// trailing ':'.
	first := tokens[0]
	colon := strings.IndexByte(first, ':')
	if colon < 0 {
		return nil, errColon
	}
	p := &Parsed{Target: unescape(first[:colon])}
	if rest := first[colon+1:]; rest != "" {
		p.Deps = append(p.Deps, unescape(rest))
	}
	for _, t := range tokens[1:] {
		if t == "" {
			continue
		}
		p.Deps = append(p.Deps, unescape(t))
	}
	return p, nil
}

var errColon = depfileError("expected ':' in depfile")

type depfileError string

func (e depfileError) Error() string { return string(e) }

// tokenize splits on whitespace, respecting a backslash-escaped space as
// part of a token (make-style filenames-with-spaces escaping).
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
			cur.WriteByte(c)
		case c == ' ' || c == '\t':
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// unescape removes a backslash escaping the character that follows it
// (used for "\ " inside a make-style dependency path).
func unescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
