// Command kiln is the CLI front-end for the build engine: flag
// parsing, manifest loading, log bookkeeping and the top-level build
// loop. Grounded in the teacher's ninja-go/ninja.go real_main /
// ReadFlags, reworked from its os.Exit-everywhere style into explicit
// error returns so defers (closing logs) actually run.
package main

import (
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"git.sr.ht/~sircmpwn/getopt"
	"github.com/tevino/abool/v2"

	"github.com/kiln-build/kiln/internal/build"
	"github.com/kiln-build/kiln/internal/commandlog"
	"github.com/kiln-build/kiln/internal/depslog"
	"github.com/kiln-build/kiln/internal/diskutil"
	"github.com/kiln-build/kiln/internal/explain"
	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/history"
	"github.com/kiln-build/kiln/internal/manifest"
	"github.com/kiln-build/kiln/internal/runner"
	"github.com/kiln-build/kiln/internal/scan"
	"github.com/kiln-build/kiln/internal/status"
)

const version = "1.0.0"

// options holds the parsed command line, mirroring the teacher's
// Options struct.
type options struct {
	inputFile  string
	workingDir string
	tool       string
	targets    []string
}

func main() {
	interrupted := abool.New()
	go terminateHandler(interrupted)

	if err := realMain(os.Args, interrupted); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func terminateHandler(flag *abool.AtomicBool) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	flag.Set()
}

func realMain(args []string, interrupted *abool.AtomicBool) error {
	opts := &options{inputFile: "build.kiln"}
	cfg := build.Config{Parallelism: guessParallelism(), FailuresAllowed: 1}
	debugExplain := false

	rest, err := readFlags(args, opts, &cfg, &debugExplain)
	if err != nil {
		return err
	}
	opts.targets = rest

	if opts.workingDir != "" {
		if err := os.Chdir(opts.workingDir); err != nil {
			return fmt.Errorf("chdir to '%s': %w", opts.workingDir, err)
		}
	}

	if opts.tool != "" {
		return runTool(opts, &cfg, interrupted)
	}

	return runBuild(opts, &cfg, debugExplain, interrupted)
}

func readFlags(args []string, opts *options, cfg *build.Config, debugExplain *bool) ([]string, error) {
	parsed, optind, err := getopt.Getopts(args, "d:f:j:k:nt:vC:h")
	if err != nil {
		return nil, err
	}
	for _, o := range parsed {
		switch o.Option {
		case 'd':
			if o.Value == "explain" {
				*debugExplain = true
			} else if o.Value != "" {
				return nil, fmt.Errorf("unknown debug mode '%s'", o.Value)
			}
		case 'f':
			opts.inputFile = o.Value
		case 'j':
			n, err := strconv.Atoi(o.Value)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid -j parameter")
			}
			if n > 0 {
				cfg.Parallelism = n
			} else {
				cfg.Parallelism = math.MaxInt32
			}
		case 'k':
			n, err := strconv.Atoi(o.Value)
			if err != nil {
				return nil, fmt.Errorf("-k parameter not numeric; did you mean -k 0?")
			}
			if n > 0 {
				cfg.FailuresAllowed = n
			} else {
				cfg.FailuresAllowed = math.MaxInt32
			}
		case 'n':
			cfg.DryRun = true
		case 't':
			opts.tool = o.Value
		case 'v':
			cfg.Verbosity = status.Verbose
		case 'C':
			opts.workingDir = o.Value
		case 'h':
			usage(cfg.Parallelism)
			return nil, fmt.Errorf("usage requested")
		}
	}
	return args[optind:], nil
}

func usage(parallelism int) {
	fmt.Fprintf(os.Stderr,
		"usage: kiln [options] [targets...]\n\n"+
			"options:\n"+
			"  -C DIR   change to DIR before doing anything else\n"+
			"  -f FILE  specify input build file [default=build.kiln]\n"+
			"  -j N     run N jobs in parallel (0 means infinity) [default=%d]\n"+
			"  -k N     keep going until N jobs fail (0 means infinity) [default=1]\n"+
			"  -n       dry run\n"+
			"  -v       verbose\n"+
			"  -d MODE  enable debugging (explain)\n"+
			"  -t TOOL  run a subtool: clean, deps, browse, recompact, history, graph, watch\n",
		parallelism)
}

// guessParallelism mirrors the teacher's GuessParallelism, reduced when
// the current load average already meets or exceeds the CPU count.
func guessParallelism() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	if load, ok := currentLoad1(); ok && load >= float64(n) {
		if n > 2 {
			return n - 1
		}
		return 1
	}
	switch n {
	case 0, 1:
		return 2
	case 2:
		return 3
	default:
		return n + 2
	}
}

func buildPaths() (logPath, depsPath string) {
	return ".kiln_log", ".kiln_deps"
}

func instanceName() string {
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "local"
}

func loadGraphAndLogs(opts *options) (*graph.Graph, *commandlog.Log, *depslog.Log, error) {
	g, err := manifest.Parse(opts.inputFile)
	if err != nil {
		return nil, nil, nil, err
	}

	logPath, depsPath := buildPaths()

	cmdLog, _, err := commandlog.Load(logPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading %s: %w", logPath, err)
	}
	if err := cmdLog.OpenForWrite(logPath); err != nil {
		return nil, nil, nil, fmt.Errorf("opening %s: %w", logPath, err)
	}

	dLog, _, err := depslog.Load(depsPath, g.GetNode)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading %s: %w", depsPath, err)
	}
	if err := dLog.OpenForWrite(depsPath); err != nil {
		return nil, nil, nil, fmt.Errorf("opening %s: %w", depsPath, err)
	}

	return g, cmdLog, dLog, nil
}

func runBuild(opts *options, cfg *build.Config, debugExplain bool, interrupted *abool.AtomicBool) error {
	g, cmdLog, dLog, err := loadGraphAndLogs(opts)
	if err != nil {
		return err
	}
	defer cmdLog.Close()
	defer dLog.Close()

	exp := explain.New(debugExplain)
	disk := diskutil.NewReal()
	loader := &scan.ImplicitDepLoader{Graph: g, Disk: disk, DepsLog: dLog, Explain: exp}
	sc := scan.New(cmdLog, disk, loader, exp)
	st := status.New(cfg.Verbosity, exp)
	cr := runner.New(cfg.Parallelism)

	b := build.New(g, *cfg, disk, cr, st, cmdLog, dLog, sc)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sig:
			b.Interrupt()
		case <-done:
		}
	}()
	if h, err := history.Open(historyDBPath); err == nil {
		defer h.Close()
		b.SetHistory(h, instanceName())
	}

	targets, err := resolveTargets(g, opts.targets)
	if err != nil {
		return err
	}

	anyNeeded := false
	for _, t := range targets {
		needed, err := b.AddTarget(t)
		if err != nil {
			return err
		}
		if needed {
			anyNeeded = true
		}
	}
	if !anyNeeded {
		fmt.Println("kiln: no work to do.")
		return nil
	}

	st.BuildStarted()
	buildErr := b.Build()
	st.BuildFinished()
	if debugExplain {
		st.Explain()
	}
	if buildErr != nil {
		return buildErr
	}
	if interrupted.IsSet() {
		return fmt.Errorf("interrupted by user")
	}
	return nil
}

func resolveTargets(g *graph.Graph, names []string) ([]*graph.Node, error) {
	if len(names) > 0 {
		nodes := make([]*graph.Node, 0, len(names))
		for _, name := range names {
			canon, slashBits, err := graph.Canonicalize(name)
			if err != nil {
				return nil, err
			}
			n := g.GetNode(canon, slashBits)
			nodes = append(nodes, n)
		}
		return nodes, nil
	}
	if defaults := g.Defaults(); len(defaults) > 0 {
		return defaults, nil
	}
	return g.RootNodes(), nil
}
