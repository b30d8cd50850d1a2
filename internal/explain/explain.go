// Package explain records the human-readable reasons behind each
// dirtying decision, surfaced by "kiln -d explain", per SPEC_FULL.md's
// explanations supplement. Grounded in the teacher's
// ninja-go/explanations.go, simplified from its item-keyed map to a flat
// ordered log, since every call site here already names the node or
// edge in the message text.
package explain

// Log collects explanation lines in the order they were recorded. A nil
// *Log is safe to use: Record does nothing and Lines returns nil.
type Log struct {
	Enabled bool
	lines   []string
}

func New(enabled bool) *Log {
	return &Log{Enabled: enabled}
}

// Record appends line if explanation logging is enabled.
func (l *Log) Record(line string) {
	if l == nil || !l.Enabled {
		return
	}
	l.lines = append(l.lines, line)
}

// Lines returns every recorded explanation, in recording order.
func (l *Log) Lines() []string {
	if l == nil {
		return nil
	}
	return l.lines
}
