package depslog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kiln-build/kiln/internal/graph"
)

func nodeFactory(g *graph.Graph) func(path string, slashBits uint64) *graph.Node {
	return func(path string, slashBits uint64) *graph.Node { return g.GetNode(path, slashBits) }
}

func TestRecordAndGetDeps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiln_deps")
	g := graph.NewGraph()

	l := New()
	if err := l.OpenForWrite(path); err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}
	out := g.GetNode("out.o", 0)
	in1 := g.GetNode("in1.h", 0)
	in2 := g.GetNode("in2.h", 0)
	if err := l.RecordDeps(out, 100, []*graph.Node{in1, in2}); err != nil {
		t.Fatalf("RecordDeps: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	g2 := graph.NewGraph()
	loaded, ok, err := Load(path, nodeFactory(g2))
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	reOut := g2.GetNode("out.o", 0)
	deps := loaded.GetDeps(reOut)
	if deps == nil {
		t.Fatal("expected deps entry for out.o")
	}
	if deps.Mtime != 100 {
		t.Fatalf("expected mtime 100, got %d", deps.Mtime)
	}
	if len(deps.Inputs) != 2 || deps.Inputs[0].Path() != "in1.h" || deps.Inputs[1].Path() != "in2.h" {
		t.Fatalf("unexpected inputs: %v", deps.Inputs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	g := graph.NewGraph()
	_, ok, err := Load(filepath.Join(t.TempDir(), "nope"), nodeFactory(g))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing file")
	}
}

func TestLaterRecordReplacesEarlier(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiln_deps")
	g := graph.NewGraph()

	l := New()
	l.OpenForWrite(path)
	out := g.GetNode("out.o", 0)
	in1 := g.GetNode("in1.h", 0)
	in2 := g.GetNode("in2.h", 0)
	l.RecordDeps(out, 1, []*graph.Node{in1})
	l.RecordDeps(out, 2, []*graph.Node{in1, in2})
	l.Close()

	g2 := graph.NewGraph()
	loaded, _, err := Load(path, nodeFactory(g2))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	deps := loaded.GetDeps(g2.GetNode("out.o", 0))
	if deps.Mtime != 2 || len(deps.Inputs) != 2 {
		t.Fatalf("expected the latest record to win, got %+v", deps)
	}
}

func TestTruncatedTailIsToleratedAtLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiln_deps")
	g := graph.NewGraph()

	l := New()
	l.OpenForWrite(path)
	out := g.GetNode("out.o", 0)
	in1 := g.GetNode("in1.h", 0)
	l.RecordDeps(out, 1, []*graph.Node{in1})
	l.Close()

	// Truncate the file mid-record to simulate a crash during append.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-2); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	g2 := graph.NewGraph()
	loaded, ok, err := Load(path, nodeFactory(g2))
	if err != nil {
		t.Fatalf("expected truncated tail to be tolerated, got error: %v", err)
	}
	if !ok {
		t.Fatal("expected load to report ok even with a truncated tail")
	}
	_ = loaded
}

func TestRecompactKeepsOnlyLatestDeps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiln_deps")
	g := graph.NewGraph()

	l := New()
	l.OpenForWrite(path)
	out1 := g.GetNode("out1.o", 0)
	out2 := g.GetNode("out2.o", 0)
	in1 := g.GetNode("in1.h", 0)
	l.RecordDeps(out1, 1, []*graph.Node{in1})
	l.RecordDeps(out2, 2, []*graph.Node{in1})
	l.RecordDeps(out1, 3, []*graph.Node{in1})
	l.Close()

	if err := l.Recompact(path); err != nil {
		t.Fatalf("Recompact: %v", err)
	}

	g2 := graph.NewGraph()
	loaded, ok, err := Load(path, nodeFactory(g2))
	if err != nil || !ok {
		t.Fatalf("Load after recompact: ok=%v err=%v", ok, err)
	}
	d1 := loaded.GetDeps(g2.GetNode("out1.o", 0))
	d2 := loaded.GetDeps(g2.GetNode("out2.o", 0))
	if d1 == nil || d1.Mtime != 3 {
		t.Fatalf("expected out1.o's latest mtime 3 to survive, got %+v", d1)
	}
	if d2 == nil || d2.Mtime != 2 {
		t.Fatalf("expected out2.o's mtime 2 to survive, got %+v", d2)
	}
}
