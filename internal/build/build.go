// Package build implements Builder, the single-threaded dispatcher that
// drives a Plan against a CommandRunner, per spec.md §4.7. Grounded in
// the teacher's original C++ source
// (_examples/original_source/src/build.cc/.h), translated with explicit
// error returns and an abool-guarded interrupt flag in place of a
// signal handler.
package build

import (
	"fmt"
	"strings"
	"time"

	"github.com/tevino/abool/v2"

	"github.com/kiln-build/kiln/internal/clparser"
	"github.com/kiln-build/kiln/internal/commandlog"
	"github.com/kiln-build/kiln/internal/depfile"
	"github.com/kiln-build/kiln/internal/depslog"
	"github.com/kiln-build/kiln/internal/diskutil"
	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/hashutil"
	"github.com/kiln-build/kiln/internal/history"
	"github.com/kiln-build/kiln/internal/plan"
	"github.com/kiln-build/kiln/internal/runner"
	"github.com/kiln-build/kiln/internal/scan"
	"github.com/kiln-build/kiln/internal/status"
)

// Config holds the options spec.md §6 lists for a build: verbosity,
// dry-run, parallelism and the failure allowance.
type Config struct {
	Verbosity       status.Verbosity
	DryRun          bool
	Parallelism     int
	FailuresAllowed int
}

// Builder wraps the build process: starting commands, updating status,
// writing logs.
type Builder struct {
	graph      *graph.Graph
	config     Config
	plan       *plan.Plan
	disk       diskutil.DiskInterface
	runner     runner.CommandRunner
	status     *status.Printer
	cmdLog     *commandlog.Log
	depsLog    *depslog.Log
	scan       *scan.DependencyScan

	interrupted *abool.AtomicBool
	started     map[*graph.Edge]startInfo

	history  *history.Store
	instance string
}

type startInfo struct {
	outputMtimes map[*graph.Node]int64
	startMS      int64
}

func New(g *graph.Graph, cfg Config, disk diskutil.DiskInterface, cr runner.CommandRunner, st *status.Printer, cmdLog *commandlog.Log, depsLog *depslog.Log, sc *scan.DependencyScan) *Builder {
	return &Builder{
		graph:       g,
		config:      cfg,
		plan:        plan.New(),
		disk:        disk,
		runner:      cr,
		status:      st,
		cmdLog:      cmdLog,
		depsLog:     depsLog,
		scan:        sc,
		interrupted: abool.New(),
		started:     make(map[*graph.Edge]startInfo),
	}
}

// AddTarget scans node's dependencies and, if it's not already up to
// date, adds it (and its producing edge's subtree) to the plan.
func (b *Builder) AddTarget(node *graph.Node) (bool, error) {
	if err := node.StatIfNecessary(b.disk.Stat); err != nil {
		return false, err
	}
	if inEdge := node.InEdge(); inEdge != nil {
		if err := b.scan.RecomputeDirty(inEdge); err != nil {
			return false, err
		}
		if inEdge.OutputsReady() {
			return false, nil
		}
	}
	return b.plan.AddTarget(node)
}

// AlreadyUpToDate reports whether the plan has nothing left to build.
func (b *Builder) AlreadyUpToDate() bool { return !b.plan.MoreToDo() }

// Interrupt requests that Build stop at the next opportunity and clean
// up any partially-written outputs.
func (b *Builder) Interrupt() { b.interrupted.Set() }

// Build runs the main dispatch loop until the plan is exhausted, a
// command fails past the failure allowance, or the build is
// interrupted.
func (b *Builder) Build() error {
	if b.AlreadyUpToDate() {
		return fmt.Errorf("kiln: nothing to do")
	}

	b.plan.PrepareQueue()

	pendingCommands := 0
	failuresAllowed := b.config.FailuresAllowed

	for b.plan.MoreToDo() {
		if b.interrupted.IsSet() {
			b.runner.Abort()
			b.cleanupAfterInterrupt()
			return fmt.Errorf("interrupted by user")
		}

		if b.runner.CanRunMore() {
			if edge := b.plan.FindWork(); edge != nil {
				if err := b.startEdge(edge); err != nil {
					return err
				}
				if edge.IsPhony() {
					b.finishEdge(edge, true, "")
				} else {
					pendingCommands++
				}
				continue
			}
		}

		if pendingCommands > 0 {
			res := b.runner.WaitForCommand()
			if res != nil {
				pendingCommands--
				b.finishEdge(res.Edge, res.Success, res.Output)
				if !res.Success {
					failuresAllowed--
					if failuresAllowed <= 0 {
						return fmt.Errorf("subcommand failed")
					}
				}
				continue
			}
		}

		if pendingCommands > 0 {
			return fmt.Errorf("stuck: pending commands but none to wait for")
		}
		return fmt.Errorf("stuck [build]")
	}

	return nil
}

func (b *Builder) startEdge(e *graph.Edge) error {
	if e.IsPhony() {
		return nil
	}

	b.status.BuildEdgeStarted(e, b.nowMillis())

	for _, out := range e.Outputs() {
		if err := b.disk.MakeDirs(out.Path()); err != nil {
			return err
		}
	}

	mtimes := make(map[*graph.Node]int64)
	for _, out := range e.Outputs() {
		_, mt, err := b.disk.Stat(out.Path())
		if err != nil {
			return err
		}
		mtimes[out] = mt
	}

	command := e.EvaluateCommand()

	if rsp := e.GetUnescapedRspfile(); rsp != "" {
		content := e.GetBinding("rspfile_content")
		if err := b.disk.WriteFile(rsp, []byte(content)); err != nil {
			return err
		}
	}

	if b.config.DryRun {
		b.started[e] = startInfo{outputMtimes: mtimes, startMS: b.nowMillis()}
		return nil
	}

	if !b.runner.StartCommand(e, command, e.UseConsole()) {
		return fmt.Errorf("command '%s' failed to start", command)
	}
	b.started[e] = startInfo{outputMtimes: mtimes, startMS: b.nowMillis()}
	return nil
}

func (b *Builder) finishEdge(e *graph.Edge, success bool, output string) {
	info := b.started[e]
	delete(b.started, e)
	endMS := b.nowMillis()

	restatMtimes := make(map[*graph.Node]int64, len(e.Outputs()))

	if success {
		if err := b.extractDeps(e, output); err != nil {
			success = false
		}
	}

	if success {
		if e.GetBindingBool("restat") && !b.config.DryRun {
			// Record the mtime each output actually has right after the
			// command ran, so a later scan can compare against this instead
			// of a possibly-unchanged on-disk timestamp. Tracked per output,
			// since a multi-output rule's outputs don't all land on the
			// same mtime.
			for _, out := range e.Outputs() {
				_, newMtime, _ := b.disk.Stat(out.Path())
				if err := out.Stat(b.disk.Stat); err == nil && newMtime == info.outputMtimes[out] {
					b.plan.CleanNode(b.scan, out)
				}
				restatMtimes[out] = newMtime
			}
		} else if !b.config.DryRun {
			for _, out := range e.Outputs() {
				out.Stat(b.disk.Stat)
			}
		}
		if rsp := e.GetUnescapedRspfile(); rsp != "" && !b.config.DryRun {
			b.disk.RemoveFile(rsp)
		}
		b.plan.EdgeFinished(e)
	} else {
		b.cleanFailedOutputs(e, info)
	}

	b.status.BuildEdgeFinished(e, info.startMS, endMS, success, output)

	if e.IsPhony() {
		return
	}
	if success && b.cmdLog != nil && !b.config.DryRun {
		hash := hashutil.CommandHashWithRspfile(e.EvaluateCommand(), e.GetBinding("rspfile_content"))
		for _, out := range e.Outputs() {
			b.cmdLog.RecordCommand(out.Path(), hash, info.startMS, endMS, restatMtimes[out])
		}
	}
	b.recordHistory(e, success, info.startMS, endMS)
}

// recordHistory writes a best-effort observability row for e. A
// failure to write never fails the build, since history carries no
// correctness weight.
func (b *Builder) recordHistory(e *graph.Edge, success bool, startMS, endMS int64) {
	if b.history == nil || b.config.DryRun {
		return
	}
	var digest string
	if content := e.GetBinding("rspfile_content"); content != "" {
		digest = hashutil.ContentDigestString(content)
	}
	var outs strings.Builder
	for i, out := range e.Outputs() {
		if i > 0 {
			outs.WriteByte(' ')
		}
		outs.WriteString(out.Path())
	}
	var inputs []string
	for _, in := range e.Inputs() {
		inputs = append(inputs, in.Path())
	}
	hashHex := hashutil.HashHex(hashutil.CommandHashWithRspfile(e.EvaluateCommand(), e.GetBinding("rspfile_content")))
	if err := b.history.RecordEdge(outs.String(), hashHex, success, startMS, endMS, digest, inputs, b.instance); err != nil {
		b.status.Error("writing history: %v", err)
	}
}

// SetHistory wires an optional observability store into the builder.
// Never consulted for dirtiness; see SPEC_FULL.md's history section.
func (b *Builder) SetHistory(h *history.Store, instance string) {
	b.history = h
	b.instance = instance
}

// extractDeps parses the command's captured output into implicit
// inputs when the rule names deps=gcc|msvc, and records them in the
// deps log. Per spec.md §4.7's finish_command step.
func (b *Builder) extractDeps(e *graph.Edge, output string) error {
	depsType := e.GetBinding("deps")
	if depsType == "" || b.depsLog == nil || b.config.DryRun {
		return nil
	}

	var inputs []*graph.Node
	switch depsType {
	case "gcc":
		path := e.GetUnescapedDepfile()
		if path == "" {
			return nil
		}
		content, missing, err := b.disk.ReadFile(path)
		if err != nil {
			return err
		}
		if missing {
			return nil
		}
		parsed, err := depfile.Parse(string(content))
		if err != nil {
			return err
		}
		for _, raw := range parsed.Deps {
			canon, slashBits, err := graph.Canonicalize(raw)
			if err != nil {
				return err
			}
			inputs = append(inputs, b.graph.GetNode(canon, slashBits))
		}
		b.disk.RemoveFile(path)
	case "msvc":
		prefix := e.GetBinding("msvc_deps_prefix")
		_, includes := clparser.Parse(output, prefix)
		for _, raw := range includes {
			canon, slashBits, err := graph.Canonicalize(raw)
			if err != nil {
				return err
			}
			inputs = append(inputs, b.graph.GetNode(canon, slashBits))
		}
	default:
		return nil
	}

	out := e.Outputs()[0]
	_, mtime, err := b.disk.Stat(out.Path())
	if err != nil {
		return err
	}
	return b.depsLog.RecordDeps(out, mtime, inputs)
}

// cleanFailedOutputs removes the outputs of a failed or interrupted
// command, per spec.md §4.7's interrupt/cleanup semantics, and its
// rspfile. Every output is removed whether or not the command changed
// it, except that a generator or restat rule keeps an output that
// already existed before the command started.
func (b *Builder) cleanFailedOutputs(e *graph.Edge, info startInfo) {
	generatorOrRestat := e.GetBindingBool("generator") || e.GetBindingBool("restat")
	for _, out := range e.Outputs() {
		existedBefore := info.outputMtimes[out] != 0
		if generatorOrRestat && existedBefore {
			continue
		}
		b.disk.RemoveFile(out.Path())
	}
	if rsp := e.GetUnescapedRspfile(); rsp != "" {
		b.disk.RemoveFile(rsp)
	}
}

// cleanupAfterInterrupt removes outputs for every edge that started but
// never finished, then flushes (without rewriting) the logs.
func (b *Builder) cleanupAfterInterrupt() {
	for e, info := range b.started {
		b.cleanFailedOutputs(e, info)
	}
	if b.cmdLog != nil {
		b.cmdLog.Close()
	}
	if b.depsLog != nil {
		b.depsLog.Close()
	}
}

var buildEpoch = time.Now()

func (b *Builder) nowMillis() int64 { return time.Since(buildEpoch).Milliseconds() }
