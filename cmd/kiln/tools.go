package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tevino/abool/v2"

	"github.com/kiln-build/kiln/internal/browseweb"
	"github.com/kiln-build/kiln/internal/build"
	"github.com/kiln-build/kiln/internal/commandlog"
	"github.com/kiln-build/kiln/internal/depslog"
	"github.com/kiln-build/kiln/internal/diskutil"
	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/history"
	"github.com/kiln-build/kiln/internal/manifest"
	"github.com/kiln-build/kiln/internal/watcher"
)

const historyDBPath = ".kiln_history.db"

// runTool dispatches "-t TOOL", grounded in the teacher's
// ninja-go/ninja.go ChooseTool switch.
func runTool(opts *options, cfg *build.Config, interrupted *abool.AtomicBool) error {
	switch opts.tool {
	case "clean":
		return toolClean(opts)
	case "deps":
		return toolDeps(opts)
	case "browse":
		return toolBrowse(opts)
	case "recompact":
		return toolRecompact(opts)
	case "history":
		return toolHistory(opts)
	case "graph":
		return toolGraph(opts)
	case "watch":
		return toolWatch(opts, cfg, interrupted)
	default:
		return fmt.Errorf("unknown tool '%s'", opts.tool)
	}
}

// toolWatch runs a build, then rebuilds every time one of the build's
// source files (a node with no producing edge) changes on disk. The
// polling side lives in internal/watcher; this loop is the "kiln -t watch"
// consumer SPEC_FULL.md's watcher section names.
func toolWatch(opts *options, cfg *build.Config, interrupted *abool.AtomicBool) error {
	for {
		if err := runBuild(opts, cfg, false, interrupted); err != nil {
			fmt.Fprintln(os.Stderr, "kiln:", err)
		}
		if interrupted.IsSet() {
			return fmt.Errorf("interrupted by user")
		}

		g, err := loadGraphOnly(opts)
		if err != nil {
			return err
		}
		targets, err := resolveTargets(g, opts.targets)
		if err != nil {
			return err
		}
		sources := collectSources(targets)
		if len(sources) == 0 {
			return fmt.Errorf("kiln: nothing to watch")
		}

		w := watcher.New(diskutil.NewReal(), sources, 2*time.Second)
		if err := w.Start(); err != nil {
			return err
		}
		changed, err := watcher.WaitForChange(context.Background(), w)
		w.Stop()
		if err != nil {
			return err
		}
		fmt.Printf("kiln: %s changed, rebuilding\n", changed)
	}
}

// collectSources walks every edge reachable from targets and returns the
// leaf nodes: paths with no producing edge, i.e. the on-disk source
// files whose changes should trigger a rebuild.
func collectSources(targets []*graph.Node) []string {
	seen := map[*graph.Node]bool{}
	var sources []string
	var walk func(n *graph.Node)
	walk = func(n *graph.Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		e := n.InEdge()
		if e == nil {
			sources = append(sources, n.Path())
			return
		}
		for _, in := range e.Inputs() {
			walk(in)
		}
	}
	for _, t := range targets {
		walk(t)
	}
	return sources
}

func toolClean(opts *options) error {
	g, cmdLog, dLog, err := loadGraphAndLogs(opts)
	if err != nil {
		return err
	}
	defer cmdLog.Close()
	defer dLog.Close()

	removed := 0
	for _, e := range g.Edges() {
		if e.IsPhony() {
			continue
		}
		for _, out := range e.Outputs() {
			if err := os.Remove(out.Path()); err == nil {
				removed++
			}
		}
	}
	fmt.Printf("kiln: cleaned %d files\n", removed)
	return nil
}

func toolDeps(opts *options) error {
	g, cmdLog, dLog, err := loadGraphAndLogs(opts)
	if err != nil {
		return err
	}
	defer cmdLog.Close()
	defer dLog.Close()

	targets, err := resolveTargets(g, opts.targets)
	if err != nil {
		return err
	}
	for _, n := range targets {
		deps := dLog.GetDeps(n)
		if deps == nil {
			fmt.Printf("%s: deps not found\n", n.Path())
			continue
		}
		fmt.Printf("%s: #deps %d, deps mtime %d\n", n.Path(), len(deps.Inputs), deps.Mtime)
		for _, in := range deps.Inputs {
			fmt.Printf("    %s\n", in.Path())
		}
	}
	return nil
}

func toolBrowse(opts *options) error {
	g, cmdLog, dLog, err := loadGraphAndLogs(opts)
	if err != nil {
		return err
	}
	defer cmdLog.Close()
	defer dLog.Close()

	addr := ":8000"
	if len(opts.targets) > 0 {
		addr = opts.targets[0]
	}
	return browseweb.New(g).ListenAndServe(addr)
}

func toolRecompact(opts *options) error {
	logPath, depsPath := buildPaths()

	cmdLog, _, err := commandlog.Load(logPath)
	if err != nil {
		return err
	}
	if err := cmdLog.Recompact(logPath); err != nil {
		return err
	}

	g, err := loadGraphOnly(opts)
	if err != nil {
		return err
	}
	dLog, _, err := depslog.Load(depsPath, g.GetNode)
	if err != nil {
		return err
	}
	if err := dLog.Recompact(depsPath); err != nil {
		return err
	}

	if _, statErr := os.Stat(historyDBPath); statErr == nil {
		h, err := history.Open(historyDBPath)
		if err != nil {
			return err
		}
		defer h.Close()
		if err := h.Recompact(); err != nil {
			return err
		}
	}

	fmt.Println("kiln: recompaction complete")
	return nil
}

func toolHistory(opts *options) error {
	h, err := history.Open(historyDBPath)
	if err != nil {
		return err
	}
	defer h.Close()

	if len(opts.targets) == 0 {
		return fmt.Errorf("usage: kiln -t history <output>")
	}
	rows, err := h.RecentForOutput(opts.targets[0], 10)
	if err != nil {
		return err
	}
	for _, row := range rows {
		fmt.Printf("%s  success=%v  %dms..%dms  hash=%s\n", row.Output, row.Success, row.StartMS, row.EndMS, row.CommandHash)
	}
	return nil
}

func toolGraph(opts *options) error {
	g, err := loadGraphOnly(opts)
	if err != nil {
		return err
	}
	targets, err := resolveTargets(g, opts.targets)
	if err != nil {
		return err
	}
	fmt.Println("digraph kiln {")
	for _, t := range targets {
		printGraphviz(t, map[*graph.Node]bool{})
	}
	fmt.Println("}")
	return nil
}

func printGraphviz(n *graph.Node, seen map[*graph.Node]bool) {
	if seen[n] {
		return
	}
	seen[n] = true
	e := n.InEdge()
	if e == nil {
		return
	}
	for _, in := range e.Inputs() {
		fmt.Printf("  \"%s\" -> \"%s\"\n", in.Path(), n.Path())
		printGraphviz(in, seen)
	}
}

func loadGraphOnly(opts *options) (*graph.Graph, error) {
	return manifest.Parse(opts.inputFile)
}
