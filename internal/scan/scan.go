// Package scan implements DependencyScan and ImplicitDepLoader, spec.md
// §4.4 and §4.5: given an edge, compute the dirtiness of its outputs from
// mtimes, the command log, and implicit deps loaded from a depfile or the
// deps log. Grounded in the teacher's original C++ source
// (_examples/original_source/src/scan.cc), translated into Go with
// explicit error returns instead of exceptions.
package scan

import (
	"fmt"

	"github.com/kiln-build/kiln/internal/commandlog"
	"github.com/kiln-build/kiln/internal/depfile"
	"github.com/kiln-build/kiln/internal/depslog"
	"github.com/kiln-build/kiln/internal/diskutil"
	"github.com/kiln-build/kiln/internal/explain"
	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/hashutil"
)

// ImplicitDepLoader populates an edge's implicit inputs from a depfile or
// from the DepsLog, per spec.md §4.5.
type ImplicitDepLoader struct {
	Graph   *graph.Graph
	Disk    diskutil.DiskInterface
	DepsLog *depslog.Log
	Explain *explain.Log // optional; nil disables "-d explain" recording
}

// LoadDeps loads implicit deps for edge from whichever source its
// bindings name. Returns an error only for a genuine failure (bad
// depfile syntax, target mismatch); a missing depfile or stale deps-log
// entry returns ok=false with err=nil, per spec.md §4.5.
func (l *ImplicitDepLoader) LoadDeps(e *graph.Edge) (ok bool, err error) {
	if depsType := e.GetBinding("deps"); depsType != "" {
		return l.loadDepsFromLog(e)
	}
	if path := e.GetUnescapedDepfile(); path != "" {
		return l.loadDepFile(e, path)
	}
	return true, nil
}

func (l *ImplicitDepLoader) loadDepFile(e *graph.Edge, path string) (bool, error) {
	content, missing, err := l.Disk.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("loading '%s': %w", path, err)
	}
	if missing {
		l.explain("depfile '%s' is missing", path)
		return false, nil
	}

	parsed, err := depfile.Parse(string(content))
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}

	target, _, err := graph.Canonicalize(parsed.Target)
	if err != nil {
		return false, err
	}
	firstOutput := e.Outputs()[0]
	if target != firstOutput.Path() {
		return false, fmt.Errorf("expected depfile '%s' to mention '%s', got '%s'", path, firstOutput.Path(), target)
	}

	for _, raw := range parsed.Deps {
		canon, slashBits, err := graph.Canonicalize(raw)
		if err != nil {
			return false, err
		}
		node := l.Graph.GetNode(canon, slashBits)
		e.InsertImplicitInput(node)
		l.createPhonyInEdge(node)
	}
	return true, nil
}

func (l *ImplicitDepLoader) loadDepsFromLog(e *graph.Edge) (bool, error) {
	output := e.Outputs()[0]
	deps := l.DepsLog.GetDeps(output)
	if deps == nil {
		l.explain("deps for '%s' are missing", output.Path())
		return false, nil
	}
	if output.Mtime().State == graph.MtimePresent && output.Mtime().Time > deps.Mtime {
		l.explain("stored deps info out of date for '%s'", output.Path())
		return false, nil
	}
	for _, node := range deps.Inputs {
		e.InsertImplicitInput(node)
		l.createPhonyInEdge(node)
	}
	return true, nil
}

// createPhonyInEdge synthesizes a producing phony edge for node if it has
// none, so a missing implicit dependency triggers a rebuild instead of
// the "missing and no known rule" abort. outputs_ready is set true up
// front per spec.md §4.5, matching the original's rationale: earlier scan
// calls may have already stat'd this node as a dirty leaf before we get
// here to correct its outputs_ready state.
func (l *ImplicitDepLoader) createPhonyInEdge(node *graph.Node) {
	if node.InEdge() != nil {
		return
	}
	phony := l.Graph.AddEdge(graph.PhonyRule)
	phony.AddOutput(node)
	phony.SetOutputsReady(true)
	node.SetGeneratedByDepLoader(true)
}

func (l *ImplicitDepLoader) explain(format string, args ...interface{}) {
	if l.Explain != nil {
		l.Explain.Record(fmt.Sprintf(format, args...))
	}
}

// DependencyScan computes the dirty/outputs_ready state of an edge and
// everything it transitively depends on, per spec.md §4.4.
type DependencyScan struct {
	CommandLog *commandlog.Log // may be nil: treated as "no prior entry"
	Disk       diskutil.DiskInterface
	Loader     *ImplicitDepLoader
	Explain    *explain.Log

	visiting map[*graph.Edge]bool // set up by New; RecomputeDirty does not consult it
}

func New(cmdLog *commandlog.Log, disk diskutil.DiskInterface, loader *ImplicitDepLoader, exp *explain.Log) *DependencyScan {
	return &DependencyScan{CommandLog: cmdLog, Disk: disk, Loader: loader, Explain: exp, visiting: map[*graph.Edge]bool{}}
}

// RecomputeDirty implements spec.md §4.4's algorithm: post-order DFS over
// edge's inputs, memoized implicitly by the fact that a node's in-edge is
// only visited once its own inputs are already dirty-resolved (ninja's
// RecomputeDirty recurses per-edge; a shared input edge is simply
// recomputed again, which is idempotent since Stat results are cached on
// the node).
func (s *DependencyScan) RecomputeDirty(e *graph.Edge) error {
	dirty := false
	e.SetOutputsReady(true)
	e.SetDepsMissing(false)

	ok, err := s.Loader.LoadDeps(e)
	if err != nil {
		return err
	}
	if !ok {
		dirty = true
		e.SetDepsMissing(true)
	}

	var mostRecentInput *graph.Node
	for idx, in := range e.Inputs() {
		if !in.StatusKnown() {
			if err := in.Stat(s.stat); err != nil {
				return err
			}
			if inEdge := in.InEdge(); inEdge != nil {
				if err := s.RecomputeDirty(inEdge); err != nil {
					return err
				}
			} else {
				if !in.Exists() {
					s.explain("%s has no in-edge and is missing", in.Path())
				}
				in.SetDirty(!in.Exists())
			}
		}

		if inEdge := in.InEdge(); inEdge != nil && !inEdge.OutputsReady() {
			e.SetOutputsReady(false)
		}

		if !e.IsOrderOnly(idx) {
			if in.Dirty() {
				s.explain("%s is dirty", in.Path())
				dirty = true
			} else if mostRecentInput == nil || in.Mtime().Time > mostRecentInput.Mtime().Time {
				mostRecentInput = in
			}
		}
	}

	if !dirty {
		dirty = s.RecomputeOutputsDirty(e, mostRecentInput)
	}

	for _, out := range e.Outputs() {
		if !out.StatusKnown() {
			if err := out.Stat(s.stat); err != nil {
				return err
			}
		}
		if dirty {
			out.MarkDirty()
		}
	}

	if dirty && !(e.IsPhony() && len(e.Inputs()) == 0) {
		e.SetOutputsReady(false)
	}
	return nil
}

func (s *DependencyScan) stat(path string) (bool, int64, error) {
	return s.Disk.Stat(path)
}

// RecomputeOutputsDirty reports whether any output of e is dirty,
// matching spec.md §4.4 step 3.
func (s *DependencyScan) RecomputeOutputsDirty(e *graph.Edge, mostRecentInput *graph.Node) bool {
	command := e.EvaluateCommand()
	for _, out := range e.Outputs() {
		if !out.StatusKnown() {
			out.Stat(s.stat)
		}
		if s.recomputeOutputDirty(e, mostRecentInput, command, out) {
			return true
		}
	}
	return false
}

func (s *DependencyScan) recomputeOutputDirty(e *graph.Edge, mostRecentInput *graph.Node, command string, out *graph.Node) bool {
	if e.IsPhony() {
		return len(e.Inputs()) == 0 && !out.Exists()
	}

	if !out.Exists() {
		s.explain("output %s doesn't exist", out.Path())
		return true
	}

	var entry *commandlog.Entry
	if s.CommandLog != nil {
		entry = s.CommandLog.LookupByOutput(out.Path())
	}

	if entry != nil && e.PrevElapsedMillis() < 0 {
		e.SetPrevElapsedMillis(entry.EndMS - entry.StartMS)
	}

	if mostRecentInput != nil && out.Mtime().Time < mostRecentInput.Mtime().Time {
		outputMtime := out.Mtime().Time
		usedRestat := false
		if e.GetBindingBool("restat") && entry != nil {
			outputMtime = entry.RestatMtime
			usedRestat = true
		}
		if outputMtime < mostRecentInput.Mtime().Time {
			prefix := ""
			if usedRestat {
				prefix = "restat of "
			}
			s.explain("%soutput %s older than most recent input %s", prefix, out.Path(), mostRecentInput.Path())
			return true
		}
	}

	if !e.GetBindingBool("generator") {
		if entry == nil {
			s.explain("command line not found in log for %s", out.Path())
			return true
		}
		if hashutil.CommandHashWithRspfile(command, e.GetBinding("rspfile_content")) != entry.CommandHash {
			s.explain("command line changed for %s", out.Path())
			return true
		}
	}

	return false
}

func (s *DependencyScan) explain(format string, args ...interface{}) {
	if s.Explain != nil {
		s.Explain.Record(fmt.Sprintf(format, args...))
	}
}
