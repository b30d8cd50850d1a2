// Package clparser extracts implicit dependencies from the captured
// stdout of an MSVC-style compiler invoked with /showIncludes, per
// spec.md §4.7's "for msvc: scan the captured stdout for /showIncludes
// lines with a configured prefix". Grounded in the teacher's
// ninja-go/clparser.go.
package clparser

import "strings"

const defaultPrefix = "Note: including file:"

// Parse scans output line by line, returning the filtered output (with
// /showInclude lines removed) and the set of included paths, in the
// order first seen. prefix overrides the English default when the
// compiler was run with a localized /showIncludes message (the edge's
// msvc_deps_prefix binding).
func Parse(output, prefix string) (filtered string, includes []string) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	seen := map[string]bool{}
	var out strings.Builder
	for _, line := range splitLines(output) {
		if inc, ok := matchShowInclude(line, prefix); ok {
			if !seen[inc] {
				seen[inc] = true
				includes = append(includes, inc)
			}
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.String(), includes
}

func matchShowInclude(line, prefix string) (string, bool) {
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(line, prefix)
	return strings.TrimSpace(rest), true
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
