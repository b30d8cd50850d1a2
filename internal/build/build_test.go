package build

import (
	"path/filepath"
	"testing"

	"github.com/kiln-build/kiln/internal/commandlog"
	"github.com/kiln-build/kiln/internal/depslog"
	"github.com/kiln-build/kiln/internal/diskutil"
	"github.com/kiln-build/kiln/internal/explain"
	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/hashutil"
	"github.com/kiln-build/kiln/internal/runner"
	"github.com/kiln-build/kiln/internal/scan"
	"github.com/kiln-build/kiln/internal/status"
)

func evalText(s string) *graph.EvalString {
	e := &graph.EvalString{}
	e.AddText(s)
	return e
}

// harness bundles everything Build needs, wired against in-memory fakes.
type harness struct {
	g       *graph.Graph
	disk    *diskutil.MemDiskInterface
	cr      *runner.FakeCommandRunner
	cmdLog  *commandlog.Log
	depsLog *depslog.Log
	scan    *scan.DependencyScan
	builder *Builder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	g := graph.NewGraph()
	disk := diskutil.NewMem()
	cr := runner.NewFake(4)

	cmdLog := commandlog.New()
	if err := cmdLog.OpenForWrite(filepath.Join(dir, "kiln_log")); err != nil {
		t.Fatalf("cmdLog.OpenForWrite: %v", err)
	}
	depsLog := depslog.New()
	if err := depsLog.OpenForWrite(filepath.Join(dir, "kiln_deps")); err != nil {
		t.Fatalf("depsLog.OpenForWrite: %v", err)
	}

	loader := &scan.ImplicitDepLoader{Graph: g, Disk: disk, DepsLog: depsLog}
	sc := scan.New(cmdLog, disk, loader, explain.New(false))

	st := status.New(status.Quiet, nil)
	b := New(g, Config{Parallelism: 4, FailuresAllowed: 1}, disk, cr, st, cmdLog, depsLog, sc)

	return &harness{g: g, disk: disk, cr: cr, cmdLog: cmdLog, depsLog: depsLog, scan: sc, builder: b}
}

func catRule(g *graph.Graph) *graph.Rule {
	r := graph.NewRule("cat")
	cmd := &graph.EvalString{}
	cmd.AddText("cat ")
	cmd.AddSpecial("in")
	cmd.AddText(" > ")
	cmd.AddSpecial("out")
	r.AddBinding("command", cmd)
	g.Bindings.AddRule(r)
	return r
}

func TestBuildBasicTwoStep(t *testing.T) {
	h := newHarness(t)
	rule := catRule(h.g)

	midEdge := h.g.AddEdge(rule)
	h.g.AddIn(midEdge, "in", 0)
	h.g.AddOut(midEdge, "mid", 0)

	outEdge := h.g.AddEdge(rule)
	h.g.AddIn(outEdge, "mid", 0)
	h.g.AddOut(outEdge, "out", 0)

	h.disk.WriteFileAt("in", []byte("hello"), 1)

	ok, err := h.builder.AddTarget(h.g.LookupNode("out"))
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if !ok {
		t.Fatal("expected work to do on a from-scratch build")
	}

	if err := h.builder.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !h.builder.AlreadyUpToDate() {
		t.Fatal("expected the plan to be exhausted after Build")
	}
	// The fake runner never touches the filesystem, so completion is
	// judged by the command log rather than the (still-missing) outputs.
	if h.cmdLog.LookupByOutput("mid") == nil {
		t.Fatal("expected a command-log entry for mid")
	}
	if h.cmdLog.LookupByOutput("out") == nil {
		t.Fatal("expected a command-log entry for out")
	}
}

func TestBuildIdempotentSecondAddTarget(t *testing.T) {
	h := newHarness(t)
	rule := catRule(h.g)

	edge := h.g.AddEdge(rule)
	h.g.AddIn(edge, "in", 0)
	h.g.AddOut(edge, "out", 0)
	h.disk.WriteFileAt("in", []byte("hello"), 1)

	if _, err := h.builder.AddTarget(h.g.LookupNode("out")); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := h.builder.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	// The fake runner never touches the filesystem; simulate the command's
	// effect so the second pass sees a real, up-to-date output.
	h.disk.WriteFileAt("out", []byte("hello"), 2)

	// Fresh builder over the same graph/disk/logs simulates the next
	// invocation of the tool.
	st := status.New(status.Quiet, nil)
	loader := &scan.ImplicitDepLoader{Graph: h.g, Disk: h.disk, DepsLog: h.depsLog}
	sc2 := scan.New(h.cmdLog, h.disk, loader, nil)
	b2 := New(h.g, Config{Parallelism: 4, FailuresAllowed: 1}, h.disk, runner.NewFake(4), st, h.cmdLog, h.depsLog, sc2)

	h.g.LookupNode("out").ResetState()
	h.g.LookupNode("in").ResetState()

	if _, err := b2.AddTarget(h.g.LookupNode("out")); err != nil {
		t.Fatalf("second AddTarget: %v", err)
	}
	if !b2.AlreadyUpToDate() {
		t.Fatal("expected the second build to already be up to date")
	}
	if err := b2.Build(); err == nil {
		t.Fatal("expected Build to refuse to run with nothing left to do")
	}
}

func TestBuildCommandChangeForcesRerun(t *testing.T) {
	h := newHarness(t)
	rule := catRule(h.g)

	edge := h.g.AddEdge(rule)
	h.g.AddIn(edge, "in", 0)
	h.g.AddOut(edge, "out", 0)
	h.disk.WriteFileAt("in", []byte("hello"), 1)

	if _, err := h.builder.AddTarget(h.g.LookupNode("out")); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := h.builder.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	// The fake runner never touches the filesystem; simulate the command's
	// effect so "out" is otherwise perfectly up to date on the second pass.
	h.disk.WriteFileAt("out", []byte("hello"), 2)
	firstHash := h.cmdLog.LookupByOutput("out").CommandHash
	if firstHash != hashutil.CommandHash("cat in > out") {
		t.Fatalf("unexpected first hash: %x", firstHash)
	}

	// Change the rule's command in place, as a manifest edit would.
	rule.AddBinding("command", evalText("cat $in > $out # v2"))
	h.g.LookupNode("out").ResetState()
	h.g.LookupNode("in").ResetState()

	st := status.New(status.Quiet, nil)
	loader := &scan.ImplicitDepLoader{Graph: h.g, Disk: h.disk, DepsLog: h.depsLog}
	sc2 := scan.New(h.cmdLog, h.disk, loader, nil)
	cr2 := runner.NewFake(4)
	b2 := New(h.g, Config{Parallelism: 4, FailuresAllowed: 1}, h.disk, cr2, st, h.cmdLog, h.depsLog, sc2)

	if _, err := b2.AddTarget(h.g.LookupNode("out")); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if b2.AlreadyUpToDate() {
		t.Fatal("expected a command-line change to force a rebuild despite an otherwise fresh output")
	}
	if err := b2.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	secondHash := h.cmdLog.LookupByOutput("out").CommandHash
	if secondHash == firstHash {
		t.Fatal("expected the recorded hash to change along with the command")
	}
}

func TestBuildRestatCleansDownstream(t *testing.T) {
	h := newHarness(t)

	touchRule := graph.NewRule("touch")
	touchRule.AddBinding("command", evalText("touch $out"))
	touchRule.AddBinding("restat", evalText("1"))
	h.g.Bindings.AddRule(touchRule)

	catR := catRule(h.g)

	stampEdge := h.g.AddEdge(touchRule)
	h.g.AddIn(stampEdge, "in", 0)
	h.g.AddOut(stampEdge, "stamp", 0)

	downstream := h.g.AddEdge(catR)
	h.g.AddIn(downstream, "stamp", 0)
	h.g.AddOut(downstream, "out", 0)

	h.disk.WriteFileAt("in", []byte("v1"), 1)

	// The fake runner never actually writes "stamp", so its mtime stays
	// whatever it started as — set it up front so the restat "unchanged
	// mtime" comparison after the touch has something concrete to compare
	// against.
	h.disk.WriteFileAt("stamp", []byte("stamp-v1"), 5)

	// "out" is already up to date for the current cat command: only
	// stampEdge (absent from the command log) should be forced to run.
	// downstream is still pulled into the plan up front, since a dirty
	// "stamp" is contagious until stampEdge actually finishes and restat
	// proves it unchanged.
	h.disk.WriteFileAt("out", []byte("cached"), 10)
	catHash := hashutil.CommandHashWithRspfile(downstream.EvaluateCommand(), downstream.GetBinding("rspfile_content"))
	if err := h.cmdLog.RecordCommand("out", catHash, 0, 0, 0); err != nil {
		t.Fatalf("seeding command log: %v", err)
	}

	if _, err := h.builder.AddTarget(h.g.LookupNode("out")); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	before := h.builder.plan.CommandEdgeCount()
	if before != 2 {
		t.Fatalf("expected 2 command edges wanted before restat pruning, got %d", before)
	}

	if err := h.builder.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}

	// downstream must never have been asked to run: restat pruning drops
	// it once stamp's mtime turns out unchanged, so its command-log entry
	// is still the one seeded above rather than a freshly recorded one.
	entry := h.cmdLog.LookupByOutput("out")
	if entry == nil || entry.CommandHash != catHash || entry.StartMS != 0 {
		t.Fatal("expected the restat-clean downstream edge to be pruned, not run")
	}
}
