package status

import (
	"strings"
	"testing"
)

func TestElideMiddleLeavesShortStringsAlone(t *testing.T) {
	if got := elideMiddle("short", 80); got != "short" {
		t.Fatalf("got %q, want unchanged", got)
	}
}

func TestElideMiddleTruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("x", 40) + strings.Repeat("y", 40)
	got := elideMiddle(long, 20)
	if len(got) > 20 {
		t.Fatalf("expected the elided string to fit within the width, got len=%d: %q", len(got), got)
	}
	if !strings.Contains(got, "...") {
		t.Fatalf("expected an ellipsis marker, got %q", got)
	}
	if !strings.HasPrefix(got, "x") || !strings.HasSuffix(got, "y") {
		t.Fatalf("expected the head and tail to survive elision, got %q", got)
	}
}

func TestFormatProgressStatusPlaceholders(t *testing.T) {
	p := New(Normal, nil)
	p.totalEdges = 10
	p.startedEdges = 4
	p.runningEdges = 2
	p.finishedEdges = 3

	cases := map[string]string{
		"%s":       "4",
		"%t":       "10",
		"%r":       "2",
		"%u":       "6",
		"%f":       "3",
		"%p":       " 30%",
		"literal%%": "literal%",
	}
	for format, want := range cases {
		if got := p.FormatProgressStatus(format, 0); got != want {
			t.Errorf("FormatProgressStatus(%q) = %q, want %q", format, got, want)
		}
	}
}

func TestFormatProgressStatusElapsedTime(t *testing.T) {
	p := New(Normal, nil)
	if got, want := p.FormatProgressStatus("%e", 1500), "1.500"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatProgressStatusUnknownVerbPassesThrough(t *testing.T) {
	p := New(Normal, nil)
	if got, want := p.FormatProgressStatus("%z", 0), "%z"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatProgressStatusZeroTotalAvoidsDivideByZero(t *testing.T) {
	p := New(Normal, nil)
	if got, want := p.FormatProgressStatus("%p", 0), "  0%"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEdgeCountersTrackPlanChanges(t *testing.T) {
	p := New(Quiet, nil)
	p.EdgeAddedToPlan()
	p.EdgeAddedToPlan()
	p.EdgeRemovedFromPlan()
	if p.totalEdges != 1 {
		t.Fatalf("expected totalEdges==1, got %d", p.totalEdges)
	}
}

func TestNewWithNonNormalVerbosityForcesPlainTerminal(t *testing.T) {
	p := New(Quiet, nil)
	if p.printer.IsSmartTerminal() {
		t.Fatal("expected Quiet verbosity to disable the smart terminal")
	}
}

func TestSetSmartTerminalOverride(t *testing.T) {
	lp := NewLinePrinter()
	lp.SetSmartTerminal(true)
	if !lp.IsSmartTerminal() {
		t.Fatal("expected SetSmartTerminal(true) to stick")
	}
	lp.SetSmartTerminal(false)
	if lp.IsSmartTerminal() {
		t.Fatal("expected SetSmartTerminal(false) to stick")
	}
}
